// Package commands holds the chat command plugins shipped with the bot.
package commands

import (
	"context"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/commands"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

// WhatsApp is the slice of the session manager the plugins use
type WhatsApp interface {
	Relay(ctx context.Context, sessionID string, to string, msg *waE2E.Message) (string, error)
	JoinedGroups(ctx context.Context, sessionID string) ([]*types.GroupInfo, error)
	Download(ctx context.Context, sessionID string, msg whatsmeow.DownloadableMessage) ([]byte, error)
	SendMedia(ctx context.Context, sessionID string, to string, media whatsapp.Media) (string, error)
}

type Deps struct {
	WhatsApp  WhatsApp
	StartedAt time.Time
	// ForwardInterval paces the forward command between targets
	ForwardInterval time.Duration
	BotName         string
}

const defaultForwardInterval = 800 * time.Millisecond

// Register adds every built-in plugin to r
func Register(r *commands.Registry, d Deps) error {
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	if d.ForwardInterval <= 0 {
		d.ForwardInterval = defaultForwardInterval
	}
	if d.BotName == "" {
		d.BotName = "Forward Bot"
	}

	plugins := []commands.Plugin{
		pingPlugin(d),
		alivePlugin(d),
		jidPlugin(),
		gjidPlugin(d),
		forwardPlugin(d),
		autoForwardPlugin(),
		togglePlugin(),
		menuPlugin(d),
		toImagePlugin(d),
	}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// parseTargets splits a comma separated list and turns bare numbers into
// user JIDs
func parseTargets(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		jid := whatsapp.NormalizeJID(item)
		if _, ok := seen[jid]; ok {
			continue
		}
		seen[jid] = struct{}{}
		out = append(out, jid)
	}
	return out
}
