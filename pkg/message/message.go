// Package message holds the inbound envelope handed from a session to the
// forwarding and command pipelines, plus helpers for walking the nested
// WhatsApp payload union.
package message

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Kind is the closed set of payload variants the pipelines care about.
// Every switch over Kind in this module is exhaustive.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindImage
	KindVideo
	KindAudio
	KindDocument
	KindSticker
	KindProtocol
	KindViewOnce
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindDocument:
		return "document"
	case KindSticker:
		return "sticker"
	case KindProtocol:
		return "protocol"
	case KindViewOnce:
		return "view_once"
	case KindUnknown:
		return "unknown"
	}
	return "unknown"
}

// IsMedia reports whether the kind carries an attachment
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		return true
	case KindUnknown, KindText, KindProtocol, KindViewOnce:
		return false
	}
	return false
}

// KindOf inspects which variant of the payload is populated. Wrappers are
// reported as KindViewOnce and are not looked through.
func KindOf(m *waE2E.Message) Kind {
	switch {
	case m == nil:
		return KindUnknown
	case wrapped(m) != nil:
		return KindViewOnce
	case m.GetImageMessage() != nil:
		return KindImage
	case m.GetVideoMessage() != nil:
		return KindVideo
	case m.GetAudioMessage() != nil:
		return KindAudio
	case m.GetDocumentMessage() != nil:
		return KindDocument
	case m.GetStickerMessage() != nil:
		return KindSticker
	case m.Conversation != nil || m.GetExtendedTextMessage() != nil:
		return KindText
	case m.GetProtocolMessage() != nil:
		return KindProtocol
	}
	return KindUnknown
}

const maxWrapperDepth = 4

func wrapped(m *waE2E.Message) *waE2E.FutureProofMessage {
	switch {
	case m.GetViewOnceMessageV2() != nil:
		return m.GetViewOnceMessageV2()
	case m.GetViewOnceMessage() != nil:
		return m.GetViewOnceMessage()
	case m.GetViewOnceMessageV2Extension() != nil:
		return m.GetViewOnceMessageV2Extension()
	case m.GetEphemeralMessage() != nil:
		return m.GetEphemeralMessage()
	case m.GetDocumentWithCaptionMessage() != nil:
		return m.GetDocumentWithCaptionMessage()
	}
	return nil
}

// Unwrap strips view-once, ephemeral and document-with-caption wrappers and
// returns the innermost payload. A wrapper with no inner message yields nil.
func Unwrap(m *waE2E.Message) *waE2E.Message {
	for depth := 0; m != nil && depth < maxWrapperDepth; depth++ {
		w := wrapped(m)
		if w == nil {
			return m
		}
		m = w.GetMessage()
	}
	return m
}

// IsViewOnce reports whether any wrapper level marks the payload as view-once
func IsViewOnce(m *waE2E.Message) bool {
	for depth := 0; m != nil && depth < maxWrapperDepth; depth++ {
		if m.GetViewOnceMessage() != nil || m.GetViewOnceMessageV2() != nil || m.GetViewOnceMessageV2Extension() != nil {
			return true
		}
		w := wrapped(m)
		if w == nil {
			return false
		}
		m = w.GetMessage()
	}
	return false
}

// Text returns the user-visible text of a payload: conversation, extended
// text, or an image/video/document caption
func Text(m *waE2E.Message) string {
	m = Unwrap(m)
	switch {
	case m == nil:
		return ""
	case m.Conversation != nil:
		return m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

// ContextInfo returns the context info of whichever sub-message is populated
func ContextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	m = Unwrap(m)
	switch KindOf(m) {
	case KindText:
		return m.GetExtendedTextMessage().GetContextInfo()
	case KindImage:
		return m.GetImageMessage().GetContextInfo()
	case KindVideo:
		return m.GetVideoMessage().GetContextInfo()
	case KindAudio:
		return m.GetAudioMessage().GetContextInfo()
	case KindDocument:
		return m.GetDocumentMessage().GetContextInfo()
	case KindSticker:
		return m.GetStickerMessage().GetContextInfo()
	case KindUnknown, KindProtocol, KindViewOnce:
		return nil
	}
	return nil
}

// Envelope is one inbound message event as seen by the pipelines
type Envelope struct {
	SessionID        string
	MessageID        string
	SourceID         string
	Sender           types.JID
	PushName         string
	IsSelfOriginated bool
	IsGroup          bool
	Timestamp        time.Time
	Payload          *waE2E.Message
}

// FromEvent builds an envelope from a whatsmeow message event. The raw,
// still-wrapped payload is kept so view-once handling stays explicit.
func FromEvent(sessionID string, evt *events.Message) Envelope {
	payload := evt.RawMessage
	if payload == nil {
		payload = evt.Message
	}
	return Envelope{
		SessionID:        sessionID,
		MessageID:        evt.Info.ID,
		SourceID:         evt.Info.Chat.String(),
		Sender:           evt.Info.Sender,
		PushName:         evt.Info.PushName,
		IsSelfOriginated: evt.Info.IsFromMe,
		IsGroup:          evt.Info.IsGroup,
		Timestamp:        evt.Info.Timestamp,
		Payload:          payload,
	}
}

func (e Envelope) Text() string {
	return Text(e.Payload)
}

// Quoted returns the message this envelope replies to, if any
func (e Envelope) Quoted() *waE2E.Message {
	return ContextInfo(e.Payload).GetQuotedMessage()
}
