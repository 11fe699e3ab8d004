package commands

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/store"
)

const (
	NoticeFailed    = "❌ Something went wrong while running that command."
	NoticeOwnerOnly = "❌ This command is for the bot owner only."
	NoticeGroupOnly = "❌ This command only works in groups."
	NoticeAdminOnly = "❌ Only group admins can use this command."
)

// Messenger is the session capability commands need from the manager
type Messenger interface {
	Relay(ctx context.Context, sessionID string, to string, msg *waE2E.Message) (string, error)
	GroupAdmins(ctx context.Context, sessionID string, chat string) ([]types.JID, error)
}

type Config struct {
	Prefix string
	// Owners and Sudo hold phone numbers or user JIDs
	Owners []string
	Sudo   []string
}

func ConfigFromEnv() Config {
	return Config{
		Prefix: env.GetEnvStringOrDefault("PREFIX", "!"),
		Owners: env.GetEnvListOrDefault("OWNER_NUMBER", nil),
		Sudo:   env.GetEnvListOrDefault("SUDO_NUMBERS", nil),
	}
}

type Dispatcher struct {
	prefix    string
	owners    map[string]struct{}
	sudo      map[string]struct{}
	registry  *Registry
	messenger Messenger
	settings  store.Settings
}

// NewDispatcher builds a dispatcher. settings may be nil, which disables
// per-chat command toggles.
func NewDispatcher(cfg Config, registry *Registry, messenger Messenger, settings store.Settings) *Dispatcher {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "!"
	}
	return &Dispatcher{
		prefix:    prefix,
		owners:    numberSet(cfg.Owners),
		sudo:      numberSet(cfg.Sudo),
		registry:  registry,
		messenger: messenger,
		settings:  settings,
	}
}

func (d *Dispatcher) Prefix() string {
	return d.prefix
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Parse splits prefixed text into a lower-cased command token and the raw
// argument string. ok is false when text is not a command.
func Parse(prefix string, text string) (name string, raw string, ok bool) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", "", false
	}
	body := strings.TrimSpace(text[len(prefix):])
	if body == "" {
		return "", "", false
	}
	name = body
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, raw = body[:i], body[i:]
	}
	return strings.ToLower(name), strings.TrimSpace(raw), true
}

// Handle runs the plugin named by a prefixed message. Unknown commands are
// ignored without a reply. Plugin errors and panics never escape.
func (d *Dispatcher) Handle(ctx context.Context, e message.Envelope) {
	if e.Payload == nil {
		return
	}
	name, raw, ok := Parse(d.prefix, e.Text())
	if !ok {
		return
	}
	plugin, ok := d.registry.Lookup(name)
	if !ok {
		return
	}

	c := &Context{
		SessionID: e.SessionID,
		Chat:      e.SourceID,
		Envelope:  e,
		Command:   plugin.Name,
		Prefix:    d.prefix,
		RawArgs:   raw,
		Args:      strings.Fields(raw),
		IsGroup:   e.IsGroup,
		Registry:  d.registry,
		Settings:  d.settings,
		messenger: d.messenger,
	}
	d.resolvePermissions(ctx, c)

	entry := log.Session(e.SessionID, "command").WithField("command", plugin.Name).WithField("chat", log.MaskJID(e.SourceID))

	if d.settings != nil && plugin.Name != "toggle" {
		settings, err := d.settings.GetGroupSettings(ctx, e.SessionID, e.SourceID)
		if err != nil {
			entry.WithError(err).Warn("Failed to Load Chat Settings")
		} else if settings.IsCommandDisabled(plugin.Name) {
			entry.Debug("Command Disabled in Chat")
			return
		}
	}

	if notice := denied(plugin, c); notice != "" {
		d.notify(ctx, c, notice)
		return
	}

	if err := d.run(ctx, plugin, c); err != nil {
		entry.WithError(err).Error("Command Failed")
		d.notify(ctx, c, NoticeFailed)
		return
	}
	entry.Debug("Command Executed")
}

func (d *Dispatcher) run(ctx context.Context, plugin *Plugin, c *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in command %s: %v", plugin.Name, r)
		}
	}()
	return plugin.Handler(ctx, c)
}

func (d *Dispatcher) notify(ctx context.Context, c *Context, text string) {
	if err := c.Reply(ctx, text); err != nil {
		log.Session(c.SessionID, "command").WithError(err).Warn("Failed to Send Command Notice")
	}
}

func denied(p *Plugin, c *Context) string {
	switch {
	case p.OwnerOnly && !c.IsOwner && !c.IsSudo:
		return NoticeOwnerOnly
	case p.GroupOnly && !c.IsGroup:
		return NoticeGroupOnly
	case p.AdminOnly && !c.IsAdmin && !c.IsOwner && !c.IsSudo:
		return NoticeAdminOnly
	}
	return ""
}

func (d *Dispatcher) resolvePermissions(ctx context.Context, c *Context) {
	sender := c.Envelope.Sender
	number := userPart(sender.User)

	// the linked account itself counts as owner
	c.IsOwner = c.Envelope.IsSelfOriginated || d.has(d.owners, number)
	c.IsSudo = c.IsOwner || d.has(d.sudo, number)

	if !c.IsGroup || d.messenger == nil {
		return
	}
	admins, err := d.messenger.GroupAdmins(ctx, c.SessionID, c.Chat)
	if err != nil {
		log.Session(c.SessionID, "command").WithError(err).Debug("Failed to Resolve Group Admins")
		return
	}
	for _, admin := range admins {
		if admin.User == sender.User {
			c.IsAdmin = true
			return
		}
	}
}

func (d *Dispatcher) has(set map[string]struct{}, number string) bool {
	if number == "" {
		return false
	}
	_, ok := set[number]
	return ok
}

func numberSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		user, _, _ := strings.Cut(strings.TrimSpace(item), "@")
		if n := userPart(user); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// userPart drops a device suffix and any non digit characters
func userPart(user string) string {
	user, _, _ = strings.Cut(user, ":")
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, user)
}

// Context is handed to a plugin handler
type Context struct {
	SessionID string
	Chat      string
	Envelope  message.Envelope
	Command   string
	Prefix    string
	Args      []string
	RawArgs   string

	IsAdmin bool
	IsOwner bool
	IsSudo  bool
	IsGroup bool

	Registry *Registry
	Settings store.Settings

	messenger Messenger
}

// Send posts a plain text message to the chat the command came from
func (c *Context) Send(ctx context.Context, text string) error {
	return c.SendMessage(ctx, &waE2E.Message{Conversation: proto.String(text)})
}

// Reply posts text quoting the command message
func (c *Context) Reply(ctx context.Context, text string) error {
	e := c.Envelope
	if e.MessageID == "" {
		return c.Send(ctx, text)
	}
	info := &waE2E.ContextInfo{
		StanzaID:      proto.String(e.MessageID),
		QuotedMessage: message.Unwrap(e.Payload),
	}
	if !e.Sender.IsEmpty() {
		info.Participant = proto.String(e.Sender.ToNonAD().String())
	}
	return c.SendMessage(ctx, &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(text),
		ContextInfo: info,
	}})
}

func (c *Context) SendMessage(ctx context.Context, msg *waE2E.Message) error {
	return c.SendTo(ctx, c.Chat, msg)
}

func (c *Context) SendTo(ctx context.Context, to string, msg *waE2E.Message) error {
	if c.messenger == nil {
		return fmt.Errorf("no messenger for session %s", c.SessionID)
	}
	_, err := c.messenger.Relay(ctx, c.SessionID, to, msg)
	return err
}
