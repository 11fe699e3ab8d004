// Package store persists per-chat bot settings and the session to device
// routing used to find stored WhatsApp credentials.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// GroupSettings are the per-chat toggles managed through chat commands
type GroupSettings struct {
	SessionID          string    `json:"sessionId"`
	ChatID             string    `json:"chatId"`
	AutoForward        bool      `json:"autoForward"`
	AutoForwardTargets []string  `json:"autoForwardTargets"`
	DisabledCommands   []string  `json:"disabledCommands"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// IsCommandDisabled matches case-insensitively
func (g GroupSettings) IsCommandDisabled(name string) bool {
	for _, c := range g.DisabledCommands {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

type Settings interface {
	GetGroupSettings(ctx context.Context, sessionID string, chatID string) (GroupSettings, error)
	// UpdateGroupSettings loads the current settings, applies fn and writes
	// the result back
	UpdateGroupSettings(ctx context.Context, sessionID string, chatID string, fn func(*GroupSettings)) (GroupSettings, error)
}

func defaultSettings(sessionID string, chatID string) GroupSettings {
	return GroupSettings{SessionID: sessionID, ChatID: chatID}
}

func normalize(g *GroupSettings) {
	g.AutoForwardTargets = uniqueSorted(g.AutoForwardTargets, false)
	g.DisabledCommands = uniqueSorted(g.DisabledCommands, true)
}

func uniqueSorted(items []string, lower bool) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if lower {
			item = strings.ToLower(item)
		}
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

type settingsKey struct {
	sessionID string
	chatID    string
}

// Memory keeps settings in process memory. Contents are lost on restart.
type Memory struct {
	mu       sync.Mutex
	settings map[settingsKey]GroupSettings
	routing  map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		settings: make(map[settingsKey]GroupSettings),
		routing:  make(map[string]string),
	}
}

func (m *Memory) GetGroupSettings(ctx context.Context, sessionID string, chatID string) (GroupSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.settings[settingsKey{sessionID, chatID}]
	if !ok {
		return defaultSettings(sessionID, chatID), nil
	}
	return cloneSettings(g), nil
}

func (m *Memory) UpdateGroupSettings(ctx context.Context, sessionID string, chatID string, fn func(*GroupSettings)) (GroupSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := settingsKey{sessionID, chatID}
	g, ok := m.settings[key]
	if !ok {
		g = defaultSettings(sessionID, chatID)
	}
	g = cloneSettings(g)
	fn(&g)
	g.SessionID, g.ChatID = sessionID, chatID
	normalize(&g)
	g.UpdatedAt = time.Now()
	m.settings[key] = g
	return cloneSettings(g), nil
}

func (m *Memory) GetDeviceJID(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routing[sessionID], nil
}

func (m *Memory) SaveDeviceJID(ctx context.Context, sessionID string, deviceJID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routing[sessionID] = deviceJID
	return nil
}

func (m *Memory) DeleteDeviceJID(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routing, sessionID)
	return nil
}

func cloneSettings(g GroupSettings) GroupSettings {
	g.AutoForwardTargets = append([]string(nil), g.AutoForwardTargets...)
	g.DisabledCommands = append([]string(nil), g.DisabledCommands...)
	return g
}
