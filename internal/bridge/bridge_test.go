package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/classifier"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

type fakeWhatsApp struct {
	mu        sync.Mutex
	connected bool
	fail      map[string]bool
	texts     map[string]string
	media     map[string]whatsapp.Media
}

func newFakeWhatsApp() *fakeWhatsApp {
	return &fakeWhatsApp{connected: true, fail: map[string]bool{}, texts: map[string]string{}, media: map[string]whatsapp.Media{}}
}

func (f *fakeWhatsApp) IsConnected(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeWhatsApp) SendText(ctx context.Context, sessionID string, to string, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return "", errors.New("send failed")
	}
	f.texts[to] = text
	return "ID", nil
}

func (f *fakeWhatsApp) SendMedia(ctx context.Context, sessionID string, to string, media whatsapp.Media) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return "", errors.New("send failed")
	}
	f.media[to] = media
	return "ID", nil
}

type fakeTelegram struct {
	mu       sync.Mutex
	replies  []string
	chats    []int64
	filePath string
}

func (f *fakeTelegram) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, params.Text)
	if id, ok := params.ChatID.(int64); ok {
		f.chats = append(f.chats, id)
	}
	return &models.Message{}, nil
}

func (f *fakeTelegram) GetFile(ctx context.Context, params *tgbot.GetFileParams) (*models.File, error) {
	return &models.File{FileID: params.FileID, FilePath: f.filePath}, nil
}

func (f *fakeTelegram) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

func newBridge(cfg Config, wa WhatsApp, api telegramAPI) *Bridge {
	b := New(cfg, wa)
	b.sessionID = "s1"
	b.api = api
	return b
}

func textUpdate(userID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		Text: text,
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: 42},
	}}
}

func TestAuthorization(t *testing.T) {
	b := New(Config{AllowedUserIDs: []int64{7}}, newFakeWhatsApp())
	assert.True(t, b.isAuthorized(textUpdate(7, "hi")))
	assert.False(t, b.isAuthorized(textUpdate(8, "hi")))
	assert.False(t, b.isAuthorized(&models.Update{Message: &models.Message{Text: "anon"}}))
	assert.True(t, b.isAuthorized(&models.Update{}))

	public := New(Config{PublicAccess: true}, newFakeWhatsApp())
	assert.True(t, public.isAuthorized(textUpdate(8, "hi")))
}

func TestTextIsSentToEveryTarget(t *testing.T) {
	wa := newFakeWhatsApp()
	wa.fail["b@g.us"] = true
	tg := &fakeTelegram{}
	b := newBridge(Config{TargetJIDs: []string{"a@g.us", "b@g.us", "c@g.us"}}, wa, tg)

	b.process(context.Background(), tg, textUpdate(7, "hello there"))

	assert.Equal(t, map[string]string{"a@g.us": "hello there", "c@g.us": "hello there"}, wa.texts)
	assert.Equal(t, []string{"⚠️ Message sent to 2 of 3 WhatsApp chats"}, tg.all())
}

func TestNotConnectedAndNoTargets(t *testing.T) {
	wa := newFakeWhatsApp()
	wa.connected = false
	tg := &fakeTelegram{}

	newBridge(Config{TargetJIDs: []string{"a@g.us"}}, wa, tg).process(context.Background(), tg, textUpdate(7, "hi"))
	newBridge(Config{}, wa, tg).process(context.Background(), tg, textUpdate(7, "hi"))

	assert.Equal(t, []string{noticeNotConnected, noticeNoTargets}, tg.all())
	assert.Empty(t, wa.texts)
}

func TestPhotoIsDownloadedAndClassified(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	wa := newFakeWhatsApp()
	tg := &fakeTelegram{filePath: "photos/file_1.png"}
	b := newBridge(Config{Token: "TOKEN", TargetJIDs: []string{"a@g.us"}, FileBaseURL: srv.URL + "/file/bot"}, wa, tg)

	update := &models.Update{Message: &models.Message{
		From:    &models.User{ID: 7},
		Chat:    models.Chat{ID: 42},
		Caption: "look",
		Photo:   []models.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}}
	b.process(context.Background(), tg, update)

	assert.Equal(t, "/file/botTOKEN/photos/file_1.png", requested)
	media, ok := wa.media["a@g.us"]
	require.True(t, ok)
	assert.Equal(t, classifier.CategoryImage, media.Category)
	assert.Equal(t, "image/png", media.Mime)
	assert.Equal(t, "look", media.Caption)
	assert.Equal(t, []string{"📥 Downloading photo...", "✅ Photo sent to WhatsApp"}, tg.all())
}

func TestAnimatedStickerRejected(t *testing.T) {
	wa := newFakeWhatsApp()
	tg := &fakeTelegram{}
	b := newBridge(Config{TargetJIDs: []string{"a@g.us"}}, wa, tg)

	b.process(context.Background(), tg, &models.Update{Message: &models.Message{
		From:    &models.User{ID: 7},
		Chat:    models.Chat{ID: 42},
		Sticker: &models.Sticker{FileID: "st", IsAnimated: true},
	}})

	assert.Equal(t, []string{"❌ Animated stickers are not supported"}, tg.all())
	assert.Empty(t, wa.media)
}

func TestMediaForFallsBackToCategoryMime(t *testing.T) {
	m := mediaFor(attachment{category: classifier.CategoryAudio, ext: "ogg"}, []byte{0x01, 0x02, 0x03})
	assert.Equal(t, "audio/ogg; codecs=opus", m.Mime)
	assert.Contains(t, m.FileName, "telegram-")
	assert.Contains(t, m.FileName, ".ogg")
}

func TestStartDisabledIsNoop(t *testing.T) {
	b := New(Config{Enabled: false}, newFakeWhatsApp())
	require.NoError(t, b.Start(context.Background(), "s1"))
	assert.False(t, b.Status().BotRunning)

	noToken := New(Config{Enabled: true}, newFakeWhatsApp())
	assert.ErrorIs(t, noToken.Start(context.Background(), "s1"), ErrNoToken)
}

func TestMirror(t *testing.T) {
	tg := &fakeTelegram{}
	b := newBridge(Config{MirrorChatID: 99, MirrorSourceJIDs: []string{"src@g.us"}}, newFakeWhatsApp(), tg)
	env := message.Envelope{
		SessionID: "s1",
		SourceID:  "src@g.us",
		PushName:  "Ali",
		Sender:    types.NewJID("923001234567", types.DefaultUserServer),
		Payload:   &waE2E.Message{Conversation: proto.String("  market   update ")},
	}

	b.Mirror(context.Background(), env)
	env.SourceID = "other@g.us"
	b.Mirror(context.Background(), env)

	assert.Equal(t, []string{"📩 Ali\n\nmarket update"}, tg.all())
	assert.Equal(t, []int64{99}, tg.chats)
}

func TestVoiceIsSentAsVoiceNote(t *testing.T) {
	ogg := append([]byte("OggS"), make([]byte, 28)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(ogg)
	}))
	defer srv.Close()

	wa := newFakeWhatsApp()
	tg := &fakeTelegram{filePath: "voice/file_2.oga"}
	b := newBridge(Config{Token: "TOKEN", TargetJIDs: []string{"a@g.us"}, FileBaseURL: srv.URL + "/file/bot"}, wa, tg)

	b.process(context.Background(), tg, &models.Update{Message: &models.Message{
		From:  &models.User{ID: 7},
		Chat:  models.Chat{ID: 42},
		Voice: &models.Voice{FileID: "v1"},
	}})

	media, ok := wa.media["a@g.us"]
	require.True(t, ok)
	assert.True(t, media.PTT)
	assert.Equal(t, classifier.CategoryAudio, media.Category)
	assert.Equal(t, "audio/ogg; codecs=opus", media.Mime)
	assert.Equal(t, []string{"📥 Downloading voice message...", "✅ Voice message sent to WhatsApp"}, tg.all())
}

func TestAudioFileIsNotVoiceNote(t *testing.T) {
	att, ok := attachmentOf(&models.Message{Audio: &models.Audio{FileID: "a1", FileName: "song.mp3"}})
	require.True(t, ok)
	assert.False(t, mediaFor(att, []byte("ID3\x03\x00\x00\x00")).PTT)
}
