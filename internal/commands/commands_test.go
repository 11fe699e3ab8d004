package commands

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunshineplan/imgconv"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/classifier"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/commands"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/store"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

const chat = "120363000000000001@g.us"

type sent struct {
	to  string
	msg *waE2E.Message
}

type fakeWhatsApp struct {
	mu       sync.Mutex
	sent     []sent
	fail     map[string]bool
	groups   []*types.GroupInfo
	admins   []types.JID
	download []byte
	media    []whatsapp.Media
}

func (f *fakeWhatsApp) Relay(ctx context.Context, sessionID string, to string, msg *waE2E.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return "", errors.New("unreachable")
	}
	f.sent = append(f.sent, sent{to: to, msg: msg})
	return "ID", nil
}

func (f *fakeWhatsApp) GroupAdmins(ctx context.Context, sessionID string, chat string) ([]types.JID, error) {
	return f.admins, nil
}

func (f *fakeWhatsApp) JoinedGroups(ctx context.Context, sessionID string) ([]*types.GroupInfo, error) {
	return f.groups, nil
}

func (f *fakeWhatsApp) Download(ctx context.Context, sessionID string, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	if f.download == nil {
		return nil, errors.New("media expired")
	}
	return f.download, nil
}

func (f *fakeWhatsApp) SendMedia(ctx context.Context, sessionID string, to string, media whatsapp.Media) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, media)
	return "ID", nil
}

// chatTexts returns the text of every message sent back to the command chat
func (f *fakeWhatsApp) chatTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.to != chat {
			continue
		}
		text := s.msg.GetConversation()
		if text == "" {
			text = s.msg.GetExtendedTextMessage().GetText()
		}
		out = append(out, text)
	}
	return out
}

func (f *fakeWhatsApp) relayedTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.to != chat {
			out = append(out, s.to)
		}
	}
	return out
}

var owner = types.NewJID("923000000000", types.DefaultUserServer)

func setup(t *testing.T, wa *fakeWhatsApp) (*commands.Dispatcher, *store.Memory) {
	t.Helper()
	r := commands.NewRegistry()
	require.NoError(t, Register(r, Deps{WhatsApp: wa, ForwardInterval: time.Millisecond}))
	settings := store.NewMemory()
	cfg := commands.Config{Prefix: ".", Owners: []string{owner.User}}
	return commands.NewDispatcher(cfg, r, wa, settings), settings
}

func command(text string, quoted *waE2E.Message) message.Envelope {
	payload := &waE2E.Message{Conversation: proto.String(text)}
	if quoted != nil {
		payload = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: &waE2E.ContextInfo{QuotedMessage: quoted},
		}}
	}
	return message.Envelope{
		SessionID: "s1",
		SourceID:  chat,
		Sender:    owner,
		IsGroup:   true,
		Payload:   payload,
	}
}

func TestForwardRelaysQuotedMessage(t *testing.T) {
	wa := &fakeWhatsApp{fail: map[string]bool{"bad@g.us": true}}
	d, _ := setup(t, wa)

	quoted := &waE2E.Message{ViewOnceMessageV2: &waE2E.FutureProofMessage{Message: &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{Caption: proto.String("hi")},
	}}}
	d.Handle(context.Background(), command(".f 923001234567, a@g.us, bad@g.us", quoted))

	assert.Equal(t, []string{"923001234567@s.whatsapp.net", "a@g.us"}, wa.relayedTo())
	for _, s := range wa.sent {
		if s.to != chat {
			assert.Nil(t, s.msg.GetViewOnceMessageV2())
			assert.Equal(t, "hi", s.msg.GetImageMessage().GetCaption())
		}
	}
	texts := wa.chatTexts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "3 targets")
	assert.Equal(t, ForwardReport(2, []string{"bad@g.us"}), texts[1])
}

func TestForwardNeedsQuote(t *testing.T) {
	wa := &fakeWhatsApp{}
	d, _ := setup(t, wa)

	d.Handle(context.Background(), command(".forward a@g.us", nil))
	assert.Equal(t, []string{"❌ Please reply to a message you want to forward."}, wa.chatTexts())
	assert.Empty(t, wa.relayedTo())
}

func TestAutoForwardLifecycle(t *testing.T) {
	wa := &fakeWhatsApp{}
	d, settings := setup(t, wa)
	ctx := context.Background()

	d.Handle(ctx, command(".af on", nil))
	d.Handle(ctx, command(".af set 923001234567, b@g.us", nil))
	d.Handle(ctx, command(".af add c@g.us", nil))
	d.Handle(ctx, command(".af add c@g.us", nil))
	d.Handle(ctx, command(".autoforward ON", nil))

	g, err := settings.GetGroupSettings(ctx, "s1", chat)
	require.NoError(t, err)
	assert.True(t, g.AutoForward)
	assert.Equal(t, []string{"923001234567@s.whatsapp.net", "b@g.us", "c@g.us"}, g.AutoForwardTargets)

	d.Handle(ctx, command(".af clear", nil))
	g, _ = settings.GetGroupSettings(ctx, "s1", chat)
	assert.False(t, g.AutoForward)
	assert.Empty(t, g.AutoForwardTargets)

	texts := wa.chatTexts()
	require.Len(t, texts, 6)
	assert.Contains(t, texts[0], "Set target JIDs first")
	assert.Equal(t, "✅ 2 target JIDs saved.", texts[1])
	assert.Equal(t, "⚠️ This JID is already a target.", texts[3])
}

func TestAutoForwardRequiresAdmin(t *testing.T) {
	wa := &fakeWhatsApp{}
	d, settings := setup(t, wa)

	e := command(".af set a@g.us", nil)
	e.Sender = types.NewJID("923005555555", types.DefaultUserServer)
	d.Handle(context.Background(), e)
	assert.Equal(t, []string{commands.NoticeAdminOnly}, wa.chatTexts())

	wa.admins = []types.JID{e.Sender}
	d.Handle(context.Background(), e)
	g, _ := settings.GetGroupSettings(context.Background(), "s1", chat)
	assert.Equal(t, []string{"a@g.us"}, g.AutoForwardTargets)
}

func TestToggleDisablesCommand(t *testing.T) {
	wa := &fakeWhatsApp{}
	d, _ := setup(t, wa)
	ctx := context.Background()

	d.Handle(ctx, command(".toggle jid off", nil))
	d.Handle(ctx, command(".jid", nil))
	d.Handle(ctx, command(".toggle toggle off", nil))
	d.Handle(ctx, command(".toggle jid on", nil))
	d.Handle(ctx, command(".jid", nil))

	assert.Equal(t, []string{
		"✅ Command *jid* has been disabled in this chat.",
		"❌ You cannot toggle the toggle command.",
		"✅ Command *jid* has been enabled in this chat.",
		"🆔 *JID:* " + chat,
	}, wa.chatTexts())
}

func TestGroupJIDs(t *testing.T) {
	wa := &fakeWhatsApp{groups: []*types.GroupInfo{
		{JID: types.NewJID("1203630001", types.GroupServer), GroupName: types.GroupName{Name: "News"}},
	}}
	d, _ := setup(t, wa)

	d.Handle(context.Background(), command(".gjid", nil))
	texts := wa.chatTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "1. News: 1203630001@g.us")
}

func TestMenuListsCommands(t *testing.T) {
	wa := &fakeWhatsApp{}
	d, _ := setup(t, wa)

	d.Handle(context.Background(), command(".help", nil))
	texts := wa.chatTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "• .forward (f)")
	assert.Contains(t, texts[0], "*ADMIN*")
	assert.Contains(t, texts[0], "• .toimg")
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0s", FormatUptime(0))
	assert.Equal(t, "1d 1h 1s", FormatUptime(25*time.Hour+time.Second))
	assert.Equal(t, "2m 5s", FormatUptime(125*time.Second))
}

func webpSticker(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 0xAA
	}
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imgconv.Write(&buf, img, &imgconv.FormatOption{Format: imgconv.WEBP}))
	return buf.Bytes()
}

func TestToImageConvertsSticker(t *testing.T) {
	wa := &fakeWhatsApp{download: webpSticker(t)}
	d, _ := setup(t, wa)

	d.Handle(context.Background(), command(".toimg", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}))

	require.Len(t, wa.media, 1)
	assert.Equal(t, classifier.CategoryImage, wa.media[0].Category)
	assert.Equal(t, "image/png", wa.media[0].Mime)
	cfg, err := png.DecodeConfig(bytes.NewReader(wa.media[0].Data))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Empty(t, wa.chatTexts())
}

func TestToImageRejects(t *testing.T) {
	wa := &fakeWhatsApp{download: []byte("RIFF\x00\x00\x00\x00WEBPbroken")}
	d, _ := setup(t, wa)
	ctx := context.Background()

	d.Handle(ctx, command(".toimg", nil))
	d.Handle(ctx, command(".toimg", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}))

	assert.Equal(t, []string{"❌ Reply to a sticker.", "❌ Animated or unsupported sticker."}, wa.chatTexts())
	assert.Empty(t, wa.media)
}
