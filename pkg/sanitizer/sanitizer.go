// Package sanitizer strips forwarding provenance, newsletter branding,
// links and phone numbers from WhatsApp payloads before they are relayed.
package sanitizer

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
)

type Options struct {
	Substitution Substitution
	// PhonePatterns replaces the default regional + international patterns
	// when non-empty
	PhonePatterns []*regexp.Regexp
}

// OptionsFromEnv reads CAPTION_SUBSTITUTE_PATTERNS,
// CAPTION_SUBSTITUTE_REPLACEMENT and SANITIZER_PHONE_PATTERN
func OptionsFromEnv() (Options, error) {
	sub, err := NewSubstitution(
		env.GetEnvListOrDefault("CAPTION_SUBSTITUTE_PATTERNS", nil),
		env.GetEnvStringOrDefault("CAPTION_SUBSTITUTE_REPLACEMENT", ""),
	)
	if err != nil {
		return Options{}, fmt.Errorf("invalid CAPTION_SUBSTITUTE_PATTERNS: %w", err)
	}
	opts := Options{Substitution: sub}
	if raw := env.GetEnvStringOrDefault("SANITIZER_PHONE_PATTERN", ""); raw != "" {
		re, err := regexp.Compile(raw)
		if err != nil {
			return Options{}, fmt.Errorf("invalid SANITIZER_PHONE_PATTERN: %w", err)
		}
		opts.PhonePatterns = []*regexp.Regexp{re, internationalPhonePattern}
	}
	return opts, nil
}

type Sanitizer struct {
	sub    Substitution
	phones []*regexp.Regexp
}

func New(opts Options) *Sanitizer {
	phones := opts.PhonePatterns
	if len(phones) == 0 {
		phones = []*regexp.Regexp{regionalPhonePattern, internationalPhonePattern}
	}
	return &Sanitizer{sub: opts.Substitution, phones: phones}
}

// Cleaned is a sanitized copy of an inbound payload
type Cleaned struct {
	Message *waE2E.Message
	// Substituted is set once caption substitution has run on the caption
	Substituted bool
	// FailedOpen marks a payload returned unsanitized after an internal error.
	// Message then aliases the caller's payload.
	FailedOpen bool
}

// Kind is the variant of the payload after looking through wrappers
func (c *Cleaned) Kind() message.Kind {
	return message.KindOf(message.Unwrap(c.Message))
}

func (c *Cleaned) Text() string {
	return message.Text(c.Message)
}

// EligibleForForward is true for any media, or for text made only of emoji
func (c *Cleaned) EligibleForForward() bool {
	kind := c.Kind()
	switch kind {
	case message.KindImage, message.KindVideo, message.KindAudio, message.KindDocument, message.KindSticker:
		return true
	case message.KindText:
		return IsPureEmoji(c.Text())
	case message.KindUnknown, message.KindProtocol, message.KindViewOnce:
		return false
	}
	return false
}

// UnwrapViewOnce replaces the payload with its innermost message
func (c *Cleaned) UnwrapViewOnce() {
	if inner := message.Unwrap(c.Message); inner != nil {
		c.Message = inner
	}
}

// ApplySubstitution runs sub over the caption of a media payload. It is a
// no-op when the caption was already substituted.
func (c *Cleaned) ApplySubstitution(sub Substitution) {
	if c.Substituted || !sub.Enabled() {
		return
	}
	if c.FailedOpen {
		cloned, ok := cloneMessage(c.Message)
		if !ok {
			return
		}
		c.Message = cloned
		c.FailedOpen = false
	}
	inner := message.Unwrap(c.Message)
	field, text := primaryText(inner)
	if !field.isCaption() || text == "" {
		return
	}
	setText(inner, field, sub.Apply(text))
	c.Substituted = true
}

// Sanitize returns a cleaned deep copy of the envelope payload, or nil when
// nothing worth forwarding remains. Internal failures return the original
// payload unsanitized.
func (s *Sanitizer) Sanitize(e message.Envelope) (out *Cleaned) {
	if e.Payload == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Session(e.SessionID, "sanitize").WithField("panic", fmt.Sprint(r)).Warn("Sanitizer failed, forwarding original payload")
			out = &Cleaned{Message: e.Payload, FailedOpen: true}
		}
	}()

	cloned, ok := cloneMessage(e.Payload)
	if !ok {
		return &Cleaned{Message: e.Payload, FailedOpen: true}
	}
	return s.clean(cloned)
}

func cloneMessage(m *waE2E.Message) (*waE2E.Message, bool) {
	cloned, ok := proto.Clone(m).(*waE2E.Message)
	return cloned, ok && cloned != nil
}

func (s *Sanitizer) clean(m *waE2E.Message) *Cleaned {
	for _, level := range levels(m) {
		level.ProtocolMessage = nil
		for _, ci := range contextInfos(level) {
			resetProvenance(ci)
			stripNewsletterOrigin(ci)
		}
	}

	inner := message.Unwrap(m)
	if inner == nil {
		return nil
	}

	field, text := primaryText(inner)
	cleanedText := CollapseWhitespace(removeLinksAndNumbers(RemoveMarkers(text), s.phones))

	if cleanedText == "" && !message.KindOf(inner).IsMedia() {
		return nil
	}

	out := &Cleaned{Message: m}
	if field != fieldNone {
		if field.isCaption() && cleanedText != "" && s.sub.Enabled() {
			cleanedText = s.sub.Apply(cleanedText)
			out.Substituted = true
		}
		setText(inner, field, cleanedText)
	}

	if ext := inner.GetExtendedTextMessage(); ext != nil {
		if ext.ContextInfo == nil {
			ext.ContextInfo = &waE2E.ContextInfo{}
		}
		ext.ContextInfo.IsForwarded = proto.Bool(false)
		ext.ContextInfo.ForwardingScore = proto.Uint32(0)
	}
	return out
}

// levels lists the payload and every message nested inside its wrappers
func levels(m *waE2E.Message) []*waE2E.Message {
	out := []*waE2E.Message{m}
	for cur := m; cur != nil && len(out) <= 4; {
		next := message.Unwrap(cur)
		if next == cur || next == nil {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func contextInfos(m *waE2E.Message) []*waE2E.ContextInfo {
	var out []*waE2E.ContextInfo
	add := func(ci *waE2E.ContextInfo) {
		if ci != nil {
			out = append(out, ci)
		}
	}
	add(m.GetExtendedTextMessage().GetContextInfo())
	add(m.GetImageMessage().GetContextInfo())
	add(m.GetVideoMessage().GetContextInfo())
	add(m.GetAudioMessage().GetContextInfo())
	add(m.GetDocumentMessage().GetContextInfo())
	add(m.GetStickerMessage().GetContextInfo())
	return out
}

func resetProvenance(ci *waE2E.ContextInfo) {
	ci.IsForwarded = proto.Bool(false)
	ci.ForwardingScore = proto.Uint32(0)
	ci.ForwardedNewsletterMessageInfo = nil
}

func stripNewsletterOrigin(ci *waE2E.ContextInfo) {
	participant := strings.ToLower(ci.GetParticipant())
	if !strings.Contains(participant, "newsletter") && !strings.Contains(participant, "broadcast") {
		return
	}
	ci.Participant = nil
	ci.StanzaID = nil
	ci.RemoteJID = nil
}

type textField int

const (
	fieldNone textField = iota
	fieldConversation
	fieldExtendedText
	fieldImageCaption
	fieldVideoCaption
	fieldDocumentCaption
)

func (f textField) isCaption() bool {
	return f == fieldImageCaption || f == fieldVideoCaption || f == fieldDocumentCaption
}

func primaryText(m *waE2E.Message) (textField, string) {
	switch message.KindOf(m) {
	case message.KindText:
		if m.Conversation != nil {
			return fieldConversation, m.GetConversation()
		}
		return fieldExtendedText, m.GetExtendedTextMessage().GetText()
	case message.KindImage:
		if m.GetImageMessage().Caption != nil {
			return fieldImageCaption, m.GetImageMessage().GetCaption()
		}
	case message.KindVideo:
		if m.GetVideoMessage().Caption != nil {
			return fieldVideoCaption, m.GetVideoMessage().GetCaption()
		}
	case message.KindDocument:
		if m.GetDocumentMessage().Caption != nil {
			return fieldDocumentCaption, m.GetDocumentMessage().GetCaption()
		}
	case message.KindAudio, message.KindSticker, message.KindProtocol, message.KindViewOnce, message.KindUnknown:
	}
	return fieldNone, ""
}

func setText(m *waE2E.Message, field textField, text string) {
	var value *string
	if text != "" {
		value = proto.String(text)
	}
	switch field {
	case fieldConversation:
		m.Conversation = proto.String(text)
	case fieldExtendedText:
		m.ExtendedTextMessage.Text = proto.String(text)
	case fieldImageCaption:
		m.ImageMessage.Caption = value
	case fieldVideoCaption:
		m.VideoMessage.Caption = value
	case fieldDocumentCaption:
		m.DocumentMessage.Caption = value
	case fieldNone:
	}
}
