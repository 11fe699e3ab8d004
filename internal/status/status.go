// Package status serves the read-only session and forwarding report.
package status

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-forward-bot/internal/bridge"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/forwarder"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/routing"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

type Sessions interface {
	Session(sessionID string) (whatsapp.SessionInfo, bool)
}

type Forwarding interface {
	Stats() forwarder.Stats
	Table() *routing.Table
}

type Telegram interface {
	Status() bridge.Status
}

type Controller struct {
	DefaultSession string
	Sessions       Sessions
	Forwarding     Forwarding
	Telegram       Telegram
}

type Routing struct {
	Groups    []routing.Group        `json:"groups"`
	Received  uint64                 `json:"received"`
	Skipped   uint64                 `json:"skipped"`
	Forwarded uint64                 `json:"forwarded"`
	Failed    uint64                 `json:"failed"`
	PerGroup  []forwarder.GroupStats `json:"perGroup"`
}

type Report struct {
	SessionID         string         `json:"sessionId"`
	Connected         bool           `json:"connected"`
	State             string         `json:"state"`
	QR                *string        `json:"qr"`
	ReconnectAttempts int            `json:"reconnectAttempts"`
	Routing           Routing        `json:"routing"`
	Telegram          *bridge.Status `json:"telegram,omitempty"`
}

// Status reports one session, the routing table and the bridge. The body is
// the bare report so pairing pages can poll it directly.
func (ctl *Controller) Status(c *fiber.Ctx) error {
	sessionID := c.Query("sessionId", ctl.DefaultSession)

	report := Report{SessionID: sessionID, State: "not_found"}
	if info, ok := ctl.Sessions.Session(sessionID); ok {
		report.Connected = info.Connected
		report.State = info.State
		report.ReconnectAttempts = info.ReconnectAttempts
		if info.QR != "" {
			qr, err := whatsapp.QRDataURL(info.QR)
			if err != nil {
				log.Print(c).WithError(err).Warn("Failed to Render QR Code")
			} else {
				report.QR = &qr
			}
		}
	}

	if ctl.Forwarding != nil {
		stats := ctl.Forwarding.Stats()
		report.Routing = Routing{
			Groups:    ctl.Forwarding.Table().Groups(),
			Received:  stats.Received,
			Skipped:   stats.Skipped,
			Forwarded: stats.Forwarded,
			Failed:    stats.Failed,
			PerGroup:  stats.PerGroup,
		}
	}
	if report.Routing.Groups == nil {
		report.Routing.Groups = []routing.Group{}
	}
	if report.Routing.PerGroup == nil {
		report.Routing.PerGroup = []forwarder.GroupStats{}
	}
	if ctl.Telegram != nil {
		tg := ctl.Telegram.Status()
		report.Telegram = &tg
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(fiber.StatusOK).JSON(report)
}
