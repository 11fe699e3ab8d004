// Package forwarder relays sanitized media and emoji messages from routed
// source chats to their target chats.
package forwarder

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/routing"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/sanitizer"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/store"
)

// OverrideGroup is the stats bucket for targets added through per-chat
// auto-forward settings
const OverrideGroup = "autoforward"

// Sender relays an already built payload through a session
type Sender interface {
	Relay(ctx context.Context, sessionID string, to string, msg *waE2E.Message) (string, error)
}

type Config struct {
	Table     *routing.Table
	Sanitizer *sanitizer.Sanitizer
	Sender    Sender
	// Overrides is optional. Chats with auto-forward on contribute their
	// stored targets.
	Overrides    store.Settings
	Substitution sanitizer.Substitution
	// Interval paces consecutive target sends. Zero disables pacing.
	Interval time.Duration
}

func IntervalFromEnv() time.Duration {
	return env.GetEnvDurationOrDefault("FORWARD_TARGET_INTERVAL", 0)
}

type Forwarder struct {
	table     *routing.Table
	sanitizer *sanitizer.Sanitizer
	sender    Sender
	overrides store.Settings
	sub       sanitizer.Substitution
	limiter   *rate.Limiter

	mu    sync.Mutex
	stats Stats
	group map[string]*GroupStats
}

type GroupStats struct {
	Name            string     `json:"name"`
	Matched         uint64     `json:"matched"`
	Forwarded       uint64     `json:"forwarded"`
	LastForwardedAt *time.Time `json:"lastForwardedAt,omitempty"`
}

type Stats struct {
	Received  uint64       `json:"received"`
	Skipped   uint64       `json:"skipped"`
	Forwarded uint64       `json:"forwarded"`
	Failed    uint64       `json:"failed"`
	PerGroup  []GroupStats `json:"perGroup"`
}

func New(cfg Config) *Forwarder {
	san := cfg.Sanitizer
	if san == nil {
		san = sanitizer.New(sanitizer.Options{Substitution: cfg.Substitution})
	}
	f := &Forwarder{
		table:     cfg.Table,
		sanitizer: san,
		sender:    cfg.Sender,
		overrides: cfg.Overrides,
		sub:       cfg.Substitution,
		group:     make(map[string]*GroupStats),
	}
	if cfg.Interval > 0 {
		f.limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	for _, g := range cfg.Table.Groups() {
		f.group[g.Name] = &GroupStats{Name: g.Name}
	}
	return f
}

// Handle runs one inbound envelope through the forwarding pipeline. Each
// target gets at most one attempt; a failure never stops the others.
func (f *Forwarder) Handle(ctx context.Context, e message.Envelope) {
	if e.Payload == nil || e.IsSelfOriginated {
		return
	}

	targets, groups := f.resolve(ctx, e)
	if len(targets) == 0 {
		return
	}
	f.count(func(s *Stats) { s.Received++ })
	f.matched(groups)

	cleaned := f.sanitizer.Sanitize(e)
	if cleaned == nil {
		f.count(func(s *Stats) { s.Skipped++ })
		return
	}
	if cleaned.FailedOpen {
		log.Forward(e.SessionID, e.SourceID).Debug("Forwarding Unsanitized Payload")
	}
	cleaned.UnwrapViewOnce()
	if !cleaned.EligibleForForward() {
		f.count(func(s *Stats) { s.Skipped++ })
		return
	}
	cleaned.ApplySubstitution(f.sub)

	sent := 0
	for i, target := range targets {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				skipped := uint64(len(targets) - i)
				f.count(func(s *Stats) { s.Failed += skipped })
				log.Forward(e.SessionID, e.SourceID).WithError(err).WithField("skipped", skipped).Warn("Forwarding Stopped Before All Targets")
				break
			}
		}
		id, err := f.sender.Relay(ctx, e.SessionID, target, cleaned.Message)
		if err != nil {
			f.count(func(s *Stats) { s.Failed++ })
			log.Forward(e.SessionID, e.SourceID).WithError(err).WithField("target", log.MaskJID(target)).Error("Failed to Forward Message")
			continue
		}
		sent++
		f.count(func(s *Stats) { s.Forwarded++ })
		log.Forward(e.SessionID, e.SourceID).WithField("target", log.MaskJID(target)).WithField("message_id", id).Debug("Message Forwarded")
	}
	if sent > 0 {
		f.delivered(groups)
	}
}

func (f *Forwarder) resolve(ctx context.Context, e message.Envelope) ([]string, []string) {
	targets := f.table.ResolveTargets(e.SourceID)
	groups := f.table.MatchingGroups(e.SourceID)
	if f.overrides == nil {
		return targets, groups
	}

	settings, err := f.overrides.GetGroupSettings(ctx, e.SessionID, e.SourceID)
	if err != nil {
		log.Forward(e.SessionID, e.SourceID).WithError(err).Warn("Failed to Load Chat Settings")
		return targets, groups
	}
	if !settings.AutoForward || len(settings.AutoForwardTargets) == 0 {
		return targets, groups
	}

	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		seen[t] = struct{}{}
	}
	for _, t := range settings.AutoForwardTargets {
		if t == e.SourceID {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets, append(groups, OverrideGroup)
}

func (f *Forwarder) count(fn func(*Stats)) {
	f.mu.Lock()
	fn(&f.stats)
	f.mu.Unlock()
}

func (f *Forwarder) bucket(name string) *GroupStats {
	g, ok := f.group[name]
	if !ok {
		g = &GroupStats{Name: name}
		f.group[name] = g
	}
	return g
}

func (f *Forwarder) matched(groups []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range groups {
		f.bucket(name).Matched++
	}
}

func (f *Forwarder) delivered(groups []string) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range groups {
		g := f.bucket(name)
		g.Forwarded++
		g.LastForwardedAt = &now
	}
}

// Stats returns a snapshot of activity counters
func (f *Forwarder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.stats
	out.PerGroup = make([]GroupStats, 0, len(f.group))
	for _, g := range f.group {
		out.PerGroup = append(out.PerGroup, *g)
	}
	sort.Slice(out.PerGroup, func(i, j int) bool { return out.PerGroup[i].Name < out.PerGroup[j].Name })
	return out
}

func (f *Forwarder) Table() *routing.Table {
	return f.table
}
