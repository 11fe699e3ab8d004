package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySettingsDefaults(t *testing.T) {
	m := NewMemory()
	g, err := m.GetGroupSettings(context.Background(), "s1", "c1@g.us")
	require.NoError(t, err)
	assert.Equal(t, "s1", g.SessionID)
	assert.Equal(t, "c1@g.us", g.ChatID)
	assert.False(t, g.AutoForward)
	assert.Empty(t, g.AutoForwardTargets)
}

func TestMemoryUpdateNormalizes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	g, err := m.UpdateGroupSettings(ctx, "s1", "c1@g.us", func(g *GroupSettings) {
		g.AutoForward = true
		g.AutoForwardTargets = []string{"b@g.us", "a@g.us", "b@g.us", " "}
		g.DisabledCommands = []string{"Ping", "ping", "JID"}
		g.ChatID = "ignored"
	})
	require.NoError(t, err)
	assert.Equal(t, "c1@g.us", g.ChatID)
	assert.Equal(t, []string{"a@g.us", "b@g.us"}, g.AutoForwardTargets)
	assert.Equal(t, []string{"jid", "ping"}, g.DisabledCommands)
	assert.True(t, g.IsCommandDisabled("PING"))
	assert.False(t, g.IsCommandDisabled("menu"))

	// returned values are copies
	g.AutoForwardTargets[0] = "mutated"
	again, err := m.GetGroupSettings(ctx, "s1", "c1@g.us")
	require.NoError(t, err)
	assert.Equal(t, "a@g.us", again.AutoForwardTargets[0])

	other, err := m.GetGroupSettings(ctx, "s2", "c1@g.us")
	require.NoError(t, err)
	assert.False(t, other.AutoForward)
}

func TestMemoryDeviceRouting(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	jid, err := m.GetDeviceJID(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, jid)

	require.NoError(t, m.SaveDeviceJID(ctx, "s1", "923001234567:3@s.whatsapp.net"))
	jid, _ = m.GetDeviceJID(ctx, "s1")
	assert.Equal(t, "923001234567:3@s.whatsapp.net", jid)

	require.NoError(t, m.DeleteDeviceJID(ctx, "s1"))
	jid, _ = m.GetDeviceJID(ctx, "s1")
	assert.Empty(t, jid)
}

func TestTTLCache(t *testing.T) {
	c := newTTLCache(30 * time.Millisecond)
	key := settingsKey{"s1", "c1"}
	c.set(key, GroupSettings{AutoForward: true, AutoForwardTargets: []string{"x"}})

	got, ok := c.get(key)
	require.True(t, ok)
	assert.True(t, got.AutoForward)
	got.AutoForwardTargets[0] = "mutated"
	got, _ = c.get(key)
	assert.Equal(t, "x", got.AutoForwardTargets[0])

	c.invalidate(key)
	_, ok = c.get(key)
	assert.False(t, ok)

	c.set(key, GroupSettings{})
	time.Sleep(50 * time.Millisecond)
	_, ok = c.get(key)
	assert.False(t, ok)

	disabled := newTTLCache(0)
	disabled.set(key, GroupSettings{})
	_, ok = disabled.get(key)
	assert.False(t, ok)
}
