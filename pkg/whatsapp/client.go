package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
)

// DeviceRouting maps a session id to the device JID its credentials are
// stored under
type DeviceRouting interface {
	GetDeviceJID(ctx context.Context, sessionID string) (string, error)
	SaveDeviceJID(ctx context.Context, sessionID string, deviceJID string) error
	DeleteDeviceJID(ctx context.Context, sessionID string) error
}

type ClientConfig struct {
	Container *sqlstore.Container
	Routing   DeviceRouting
	ProxyURL  string
}

var devicePropsOnce sync.Once

func configureDeviceProps() {
	devicePropsOnce.Do(func() {
		store.DeviceProps.Os = proto.String(runtime.GOOS)
		store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
		store.DeviceProps.RequireFullSync = proto.Bool(false)
	})
}

// NewClientFactory returns a TransportFactory backed by whatsmeow clients
// whose credentials live in cfg.Container
func NewClientFactory(cfg ClientConfig) TransportFactory {
	return func(ctx context.Context, sessionID string, handler EventHandler) (Transport, error) {
		if cfg.Container == nil {
			return nil, errors.New("whatsapp datastore not initialized")
		}
		configureDeviceProps()

		device, err := loadDevice(ctx, cfg, sessionID)
		if err != nil {
			return nil, err
		}

		client := whatsmeow.NewClient(device, nil)
		if len(cfg.ProxyURL) > 0 {
			client.SetProxyAddress(cfg.ProxyURL)
		}
		// reconnects are scheduled by the Manager
		client.EnableAutoReconnect = false
		client.AutoTrustIdentity = true

		t := &clientTransport{
			sessionID: sessionID,
			client:    client,
			routing:   cfg.Routing,
			handler:   handler,
		}
		client.AddEventHandler(func(evt interface{}) { handler(evt) })
		return t, nil
	}
}

func loadDevice(ctx context.Context, cfg ClientConfig, sessionID string) (*store.Device, error) {
	if cfg.Routing != nil {
		raw, err := cfg.Routing.GetDeviceJID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to read device routing: %w", err)
		}
		if raw != "" {
			jid, err := types.ParseJID(raw)
			if err == nil {
				device, err := cfg.Container.GetDevice(ctx, jid)
				if err != nil {
					return nil, fmt.Errorf("failed to load device: %w", err)
				}
				if device != nil {
					return device, nil
				}
			}
			log.Session(sessionID, "load_device").Warn("Stored device not found, pairing a new one")
		}
	}
	return cfg.Container.NewDevice(), nil
}

const (
	qrEventCode  = "code"
	qrEventError = "error"
)

type clientTransport struct {
	sessionID string
	client    *whatsmeow.Client
	routing   DeviceRouting
	handler   EventHandler

	mu       sync.Mutex
	qrCancel context.CancelFunc
}

func (t *clientTransport) Connect(ctx context.Context) error {
	if t.client.Store.ID != nil {
		return t.client.Connect()
	}

	qrCtx, cancel := context.WithCancel(ctx)
	qrChan, err := t.client.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		return err
	}
	t.mu.Lock()
	t.qrCancel = cancel
	t.mu.Unlock()

	if err := t.client.Connect(); err != nil {
		cancel()
		return err
	}
	go t.pumpQR(qrChan)
	return nil
}

func (t *clientTransport) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case qrEventCode:
			t.handler(&QRCode{Code: item.Code})
		case whatsmeow.QRChannelTimeout.Event:
			t.handler(&QRTimeout{})
		case whatsmeow.QRChannelSuccess.Event:
			return
		case whatsmeow.QRChannelClientOutdated.Event:
			log.Session(t.sessionID, "qr").Error(ErrWAVersionOutdatedForQR.Error())
			t.handler(&QRTimeout{})
		case qrEventError:
			log.Session(t.sessionID, "qr").WithError(item.Error).Error("Pairing failed")
		default:
			log.Session(t.sessionID, "qr").Warn("Unexpected pairing event: " + item.Event)
		}
	}
}

func (t *clientTransport) Disconnect() {
	t.mu.Lock()
	if t.qrCancel != nil {
		t.qrCancel()
		t.qrCancel = nil
	}
	t.mu.Unlock()
	t.client.Disconnect()
}

func (t *clientTransport) IsConnected() bool {
	return t.client.IsConnected()
}

func (t *clientTransport) IsLoggedIn() bool {
	return t.client.IsLoggedIn()
}

func (t *clientTransport) OwnJID() types.JID {
	if t.client.Store.ID == nil {
		return types.EmptyJID
	}
	return *t.client.Store.ID
}

func (t *clientTransport) SendMessage(ctx context.Context, to types.JID, msg *waE2E.Message) (string, error) {
	msgExtra := whatsmeow.SendRequestExtra{ID: t.client.GenerateMessageID()}
	if _, err := t.client.SendMessage(ctx, to, msg, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func (t *clientTransport) Upload(ctx context.Context, data []byte, mediaType whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return t.client.Upload(ctx, data, mediaType)
}

func (t *clientTransport) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	return t.client.Download(ctx, msg)
}

func (t *clientTransport) JoinedGroups(ctx context.Context) ([]*types.GroupInfo, error) {
	return t.client.GetJoinedGroups(ctx)
}

func (t *clientTransport) GroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error) {
	return t.client.GetGroupInfo(ctx, jid)
}

func (t *clientTransport) SaveCredentials(ctx context.Context) error {
	if t.client.Store.ID == nil {
		return nil
	}
	if err := t.client.Store.Save(ctx); err != nil {
		return err
	}
	if t.routing == nil {
		return nil
	}
	return t.routing.SaveDeviceJID(ctx, t.sessionID, t.client.Store.ID.String())
}

func (t *clientTransport) ClearCredentials(ctx context.Context) error {
	var errs []error
	if t.client.Store.ID != nil {
		if err := t.client.Store.Delete(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.routing != nil {
		if err := t.routing.DeleteDeviceJID(ctx, t.sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *clientTransport) Logout(ctx context.Context) error {
	if t.client.Store.ID == nil {
		return errors.New("WhatsApp Client Store ID is Empty, Please Re-Login and Scan QR Code Again")
	}
	return t.client.Logout(ctx)
}
