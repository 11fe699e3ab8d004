package whatsapp

import (
	"time"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
)

// State is the lifecycle state of one session
type State int

const (
	StateDisconnected State = iota
	StateAwaitingScan
	StateConnected
	StateClosing
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingScan:
		return "awaiting_scan"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateRemoved:
		return "removed"
	}
	return "unknown"
}

// Session is owned by the Manager. Every field is guarded by Manager.mu.
type Session struct {
	ID                string
	State             State
	QR                string
	ReconnectAttempts int
	ConnectedAt       time.Time

	transport      Transport
	reconnectTimer *time.Timer
	inbound        chan message.Envelope
	done           chan struct{}
}

// SessionInfo is a read-only snapshot of a Session
type SessionInfo struct {
	ID                string    `json:"sessionId"`
	State             string    `json:"state"`
	Connected         bool      `json:"connected"`
	LoggedIn          bool      `json:"loggedIn"`
	QR                string    `json:"qr,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	JID               string    `json:"jid,omitempty"`
	ConnectedAt       time.Time `json:"connectedAt,omitempty"`
}

func (s *Session) snapshot() SessionInfo {
	info := SessionInfo{
		ID:                s.ID,
		State:             s.State.String(),
		Connected:         s.State == StateConnected,
		QR:                s.QR,
		ReconnectAttempts: s.ReconnectAttempts,
		ConnectedAt:       s.ConnectedAt,
	}
	if s.transport != nil {
		info.LoggedIn = s.transport.IsLoggedIn()
		if jid := s.transport.OwnJID(); !jid.IsEmpty() {
			info.JID = jid.ToNonAD().String()
		}
	}
	return info
}

func (s *Session) stopTimer() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}
