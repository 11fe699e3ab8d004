package internal

import (
	"context"
	mathrand "math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
)

const defaultSessionID = "wasi_session"

type SessionStarter interface {
	Start(ctx context.Context, sessionID string) error
}

type StartupConfig struct {
	SessionIDs  []string
	Concurrency int
	JitterMax   time.Duration
}

func StartupConfigFromEnv() StartupConfig {
	return StartupConfig{
		SessionIDs:  SessionIDsFromEnv(),
		Concurrency: env.GetEnvIntOrDefault("WHATSAPP_STARTUP_RECONNECT_CONCURRENCY", 10),
		JitterMax:   env.GetEnvDurationOrDefault("WHATSAPP_STARTUP_RECONNECT_JITTER_MAX", 2*time.Second),
	}
}

// SessionIDsFromEnv returns SESSION_ID followed by SESSION_IDS, deduplicated
func SessionIDsFromEnv() []string {
	ids := append([]string{env.GetEnvStringOrDefault("SESSION_ID", defaultSessionID)}, env.GetEnvListOrDefault("SESSION_IDS", nil)...)
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func jitterSleep(ctx context.Context, max time.Duration) {
	if max <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(mathrand.Int64N(int64(max) + 1)))
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Startup starts every configured session with bounded concurrency. A
// failed start is retried by the manager's own reconnect timer.
func Startup(ctx context.Context, starter SessionStarter, cfg StartupConfig) {
	log.Print(nil).Info("Running Startup Tasks")

	limit := cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	var started, failed int64
	var g errgroup.Group
	g.SetLimit(limit)

	for _, sessionID := range cfg.SessionIDs {
		g.Go(func() error {
			if len(cfg.SessionIDs) > 1 {
				jitterSleep(ctx, cfg.JitterMax)
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Session(sessionID, "startup").Info("Starting WhatsApp Client")
			if err := starter.Start(ctx, sessionID); err != nil {
				log.Session(sessionID, "startup").WithError(err).Warn("Failed to start WhatsApp Client")
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&started, 1)
			return nil
		})
	}
	_ = g.Wait()

	log.Print(nil).
		WithField("started", started).
		WithField("failed", failed).
		WithField("concurrency", limit).
		Info("Startup pass complete")
}
