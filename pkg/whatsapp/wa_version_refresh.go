package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"golang.org/x/sync/singleflight"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
)

var ErrWAVersionOutdatedForQR = errors.New("whatsapp client version is outdated for QR pairing")

type WAVersionRefreshStatus struct {
	CurrentVersion store.WAVersionContainer `json:"current_version"`
	LastRefreshed  *time.Time               `json:"last_refreshed,omitempty"`
	LastError      string                   `json:"last_error,omitempty"`
}

// VersionRefresher keeps the advertised WhatsApp Web version current.
// Concurrent refreshes collapse into one request.
type VersionRefresher struct {
	MinInterval time.Duration
	Fetch       func(ctx context.Context) (*store.WAVersionContainer, error)
	Current     func() store.WAVersionContainer
	Apply       func(store.WAVersionContainer)

	group singleflight.Group

	mu            sync.RWMutex
	lastRefreshed *time.Time
	lastError     string
}

func NewVersionRefresher() *VersionRefresher {
	httpClient := &http.Client{Timeout: 15 * time.Second}
	return &VersionRefresher{
		MinInterval: env.GetEnvDurationOrDefault("WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL", 10*time.Minute),
		Fetch: func(ctx context.Context) (*store.WAVersionContainer, error) {
			return whatsmeow.GetLatestVersion(ctx, httpClient)
		},
		Current: store.GetWAVersion,
		Apply:   store.SetWAVersion,
	}
}

// ApplyVersionFromEnv pins the advertised version from
// WHATSAPP_VERSION_MAJOR/MINOR/PATCH when set
func ApplyVersionFromEnv() {
	if major, err := env.GetEnvInt("WHATSAPP_VERSION_MAJOR"); err == nil {
		store.DeviceProps.Version.Primary = proto.Uint32(uint32(major))
	}
	if minor, err := env.GetEnvInt("WHATSAPP_VERSION_MINOR"); err == nil {
		store.DeviceProps.Version.Secondary = proto.Uint32(uint32(minor))
	}
	if patch, err := env.GetEnvInt("WHATSAPP_VERSION_PATCH"); err == nil {
		store.DeviceProps.Version.Tertiary = proto.Uint32(uint32(patch))
	}
}

func (r *VersionRefresher) Status() WAVersionRefreshStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *time.Time
	if r.lastRefreshed != nil {
		t := *r.lastRefreshed
		last = &t
	}
	return WAVersionRefreshStatus{
		CurrentVersion: r.Current(),
		LastRefreshed:  last,
		LastError:      r.lastError,
	}
}

// Refresh fetches the latest WhatsApp Web version and applies it globally.
// Without force it is throttled by MinInterval. The bool result reports
// whether a fetch was attempted.
func (r *VersionRefresher) Refresh(ctx context.Context, force bool) (WAVersionRefreshStatus, bool, error) {
	if !force && r.MinInterval > 0 {
		r.mu.RLock()
		last := r.lastRefreshed
		r.mu.RUnlock()
		if last != nil && time.Since(*last) < r.MinInterval {
			return r.Status(), false, nil
		}
	}

	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		latest, err := r.Fetch(ctx)
		if err == nil && latest == nil {
			err = errors.New("latest WhatsApp Web version is nil")
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		now := time.Now()
		r.lastRefreshed = &now
		if err != nil {
			r.lastError = err.Error()
			return nil, err
		}
		r.Apply(*latest)
		r.lastError = ""
		return nil, nil
	})
	return r.Status(), true, err
}
