package whatsapp

import (
	"context"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// Transport is one live WhatsApp Web connection. Events are delivered to
// the handler given to the TransportFactory.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	OwnJID() types.JID

	SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) (string, error)
	Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	JoinedGroups(ctx context.Context) ([]*types.GroupInfo, error)
	GroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error)

	// SaveCredentials flushes the paired device identity to durable storage
	SaveCredentials(ctx context.Context) error
	// ClearCredentials deletes the device identity and its routing entry
	ClearCredentials(ctx context.Context) error
	Logout(ctx context.Context) error
}

// EventHandler receives whatsmeow events (from go.mau.fi/whatsmeow/types/events)
// and the QR events defined in this package
type EventHandler func(evt interface{})

type TransportFactory func(ctx context.Context, sessionID string, handler EventHandler) (Transport, error)

// QRCode is emitted for every pairing code the server hands out while the
// session is not paired
type QRCode struct {
	Code string
}

// QRTimeout is emitted when every pairing code expired without a scan
type QRTimeout struct{}
