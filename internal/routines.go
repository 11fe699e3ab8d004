package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

const healthCheckSpec = "0 */5 * * * *"

type SessionSupervisor interface {
	Sessions() []whatsapp.SessionInfo
	Start(ctx context.Context, sessionID string) error
}

type VersionRefresher interface {
	Refresh(ctx context.Context, force bool) (whatsapp.WAVersionRefreshStatus, bool, error)
}

type RoutineConfig struct {
	HealthCheck        bool
	VersionRefresh     bool
	VersionRefreshSpec string
	VersionForce       bool
}

func RoutineConfigFromEnv() RoutineConfig {
	return RoutineConfig{
		HealthCheck:        env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_HEALTH_CHECK_CRON", true),
		VersionRefresh:     env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON", false),
		VersionRefreshSpec: env.GetEnvStringOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_SPEC", "0 0 3 * * *"),
		VersionForce:       env.GetEnvBoolOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_FORCE", false),
	}
}

// Routines registers the cron jobs. Jobs use ctx so they stop issuing work
// once shutdown begins.
func Routines(ctx context.Context, c *cron.Cron, cfg RoutineConfig, sessions SessionSupervisor, versions VersionRefresher) error {
	log.Print(nil).Info("Running Routine Tasks")

	if cfg.HealthCheck {
		if _, err := c.AddFunc(healthCheckSpec, func() { CheckSessions(ctx, sessions) }); err != nil {
			return fmt.Errorf("add health check job: %w", err)
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on session events")
	}

	if cfg.VersionRefresh && versions != nil {
		_, err := c.AddFunc(cfg.VersionRefreshSpec, func() {
			refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			status, refreshed, err := versions.Refresh(refreshCtx, cfg.VersionForce)
			entry := log.Print(nil).WithField("version", status.CurrentVersion.String()).WithField("force", cfg.VersionForce)
			if err != nil {
				entry.WithError(err).Error("WA Web version refresh failed")
				return
			}
			entry.WithField("refreshed", refreshed).Info("WA Web version refresh completed")
		})
		if err != nil {
			return fmt.Errorf("add version refresh job %q: %w", cfg.VersionRefreshSpec, err)
		}
		log.Print(nil).WithField("spec", cfg.VersionRefreshSpec).Info("WA Web version refresh cron enabled")
	}
	return nil
}

// CheckSessions logs the health of every session and starts the ones that
// sit disconnected with no transport activity
func CheckSessions(ctx context.Context, sessions SessionSupervisor) {
	if ctx.Err() != nil {
		return
	}
	for _, info := range sessions.Sessions() {
		entry := log.Session(info.ID, "health").WithField("state", info.State)
		if info.JID != "" {
			entry = entry.WithField("jid", log.MaskJID(info.JID))
		}
		switch {
		case info.Connected && info.LoggedIn:
			entry.Info("Client healthy")
		case info.State == whatsapp.StateDisconnected.String():
			entry.Warn("Client idle, starting")
			if err := sessions.Start(ctx, info.ID); err != nil {
				entry.WithError(err).Warn("Failed to start idle client")
			}
		default:
			entry.WithField("logged_in", info.LoggedIn).Warn("Client unhealthy")
		}
	}
}
