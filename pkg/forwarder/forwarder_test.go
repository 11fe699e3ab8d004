package forwarder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/routing"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/sanitizer"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/store"
)

type relayed struct {
	to  string
	msg *waE2E.Message
}

type fakeSender struct {
	mu   sync.Mutex
	sent []relayed
	fail map[string]bool
}

func (s *fakeSender) Relay(ctx context.Context, sessionID string, to string, msg *waE2E.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[to] {
		return "", errors.New("send failed")
	}
	s.sent = append(s.sent, relayed{to: to, msg: msg})
	return "MSGID", nil
}

func (s *fakeSender) targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, r := range s.sent {
		out = append(out, r.to)
	}
	return out
}

func newForwarder(t *testing.T, sender *fakeSender, overrides store.Settings) *Forwarder {
	t.Helper()
	sub, err := sanitizer.NewSubstitution([]string{"OLD"}, "NEW")
	require.NoError(t, err)
	table := routing.NewTable(
		routing.Group{Name: "news", Sources: []string{"A@g.us"}, Targets: []string{"T1@g.us", "T2@g.us"}},
		routing.Group{Name: "deals", Sources: []string{"A@g.us"}, Targets: []string{"T2@g.us", "T3@g.us"}},
	)
	return New(Config{
		Table:        table,
		Sanitizer:    sanitizer.New(sanitizer.Options{Substitution: sub}),
		Sender:       sender,
		Overrides:    overrides,
		Substitution: sub,
	})
}

func image(caption string) *waE2E.Message {
	return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:     proto.String(caption),
		Mimetype:    proto.String("image/jpeg"),
		ContextInfo: &waE2E.ContextInfo{IsForwarded: proto.Bool(true), ForwardingScore: proto.Uint32(3)},
	}}
}

func envelope(source string, m *waE2E.Message) message.Envelope {
	return message.Envelope{SessionID: "s1", SourceID: source, IsGroup: true, Payload: m}
}

func TestHandleSubstitutesCaptionForEveryTarget(t *testing.T) {
	sender := &fakeSender{}
	f := newForwarder(t, sender, nil)

	f.Handle(context.Background(), envelope("A@g.us", image("OLD price today")))

	require.Equal(t, []string{"T1@g.us", "T2@g.us", "T3@g.us"}, sender.targets())
	for _, r := range sender.sent {
		caption := r.msg.GetImageMessage().GetCaption()
		assert.Contains(t, caption, "NEW")
		assert.NotContains(t, caption, "OLD")
		assert.False(t, r.msg.GetImageMessage().GetContextInfo().GetIsForwarded())
	}
}

func TestHandleSkipsSelfOriginated(t *testing.T) {
	sender := &fakeSender{}
	f := newForwarder(t, sender, nil)

	e := envelope("A@g.us", image("hello"))
	e.IsSelfOriginated = true
	f.Handle(context.Background(), e)
	f.Handle(context.Background(), envelope("A@g.us", nil))

	assert.Empty(t, sender.targets())
	assert.Zero(t, f.Stats().Received)
}

func TestHandleUnknownSource(t *testing.T) {
	sender := &fakeSender{}
	f := newForwarder(t, sender, nil)

	f.Handle(context.Background(), envelope("other@g.us", image("hello")))

	assert.Empty(t, sender.targets())
}

func TestHandleIsolatesTargetFailures(t *testing.T) {
	sender := &fakeSender{fail: map[string]bool{"T2@g.us": true}}
	f := newForwarder(t, sender, nil)

	f.Handle(context.Background(), envelope("A@g.us", image("pic")))

	assert.Equal(t, []string{"T1@g.us", "T3@g.us"}, sender.targets())
	stats := f.Stats()
	assert.Equal(t, uint64(2), stats.Forwarded)
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestHandleCountsTargetsLeftWhenPacingIsCut(t *testing.T) {
	sender := &fakeSender{}
	f := New(Config{
		Table:    routing.NewTable(routing.Group{Name: "news", Sources: []string{"A@g.us"}, Targets: []string{"T1@g.us", "T2@g.us", "T3@g.us"}}),
		Sender:   sender,
		Interval: time.Hour,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f.Handle(ctx, envelope("A@g.us", image("pic")))

	assert.Equal(t, []string{"T1@g.us"}, sender.targets())
	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.Forwarded)
	assert.Equal(t, uint64(2), stats.Failed)
	require.Len(t, stats.PerGroup, 1)
	assert.NotNil(t, stats.PerGroup[0].LastForwardedAt)
}

func TestHandleTextEligibility(t *testing.T) {
	sender := &fakeSender{}
	f := newForwarder(t, sender, nil)
	ctx := context.Background()

	f.Handle(ctx, envelope("A@g.us", &waE2E.Message{Conversation: proto.String("see you at 5")}))
	assert.Empty(t, sender.targets())

	f.Handle(ctx, envelope("A@g.us", &waE2E.Message{Conversation: proto.String("🔥 🎉")}))
	require.Len(t, sender.targets(), 3)
	assert.Equal(t, "🔥 🎉", sender.sent[0].msg.GetConversation())

	stats := f.Stats()
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, uint64(1), stats.Skipped)
}

func TestHandleUnwrapsViewOnce(t *testing.T) {
	sender := &fakeSender{}
	f := newForwarder(t, sender, nil)

	wrapped := &waE2E.Message{ViewOnceMessageV2: &waE2E.FutureProofMessage{Message: image("secret OLD")}}
	f.Handle(context.Background(), envelope("A@g.us", wrapped))

	require.Len(t, sender.sent, 3)
	for _, r := range sender.sent {
		assert.Nil(t, r.msg.GetViewOnceMessageV2())
		assert.Equal(t, "secret NEW", r.msg.GetImageMessage().GetCaption())
	}
}

func TestHandleAddsChatOverrides(t *testing.T) {
	sender := &fakeSender{}
	settings := store.NewMemory()
	ctx := context.Background()
	_, err := settings.UpdateGroupSettings(ctx, "s1", "B@g.us", func(g *store.GroupSettings) {
		g.AutoForward = true
		g.AutoForwardTargets = []string{"X@g.us", "B@g.us"}
	})
	require.NoError(t, err)
	f := newForwarder(t, sender, settings)

	f.Handle(ctx, envelope("B@g.us", image("pic")))
	assert.Equal(t, []string{"X@g.us"}, sender.targets())

	var override GroupStats
	for _, g := range f.Stats().PerGroup {
		if g.Name == OverrideGroup {
			override = g
		}
	}
	assert.Equal(t, uint64(1), override.Forwarded)

	_, err = settings.UpdateGroupSettings(ctx, "s1", "B@g.us", func(g *store.GroupSettings) { g.AutoForward = false })
	require.NoError(t, err)
	f.Handle(ctx, envelope("B@g.us", image("pic")))
	assert.Len(t, sender.targets(), 1)
}

func TestStatsPerGroup(t *testing.T) {
	sender := &fakeSender{}
	f := newForwarder(t, sender, nil)

	f.Handle(context.Background(), envelope("A@g.us", image("pic")))

	stats := f.Stats()
	require.Len(t, stats.PerGroup, 2)
	assert.Equal(t, "deals", stats.PerGroup[0].Name)
	assert.Equal(t, uint64(1), stats.PerGroup[0].Matched)
	assert.Equal(t, uint64(1), stats.PerGroup[1].Forwarded)
	assert.NotNil(t, stats.PerGroup[1].LastForwardedAt)
}
