package bridge

import (
	"context"
	"fmt"
	"path"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/classifier"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

const (
	startText = "✅ WhatsApp Bot Connected!\n\n" +
		"Send me any media or message and it will be forwarded to WhatsApp.\n\n" +
		"Supported formats:\n" +
		"• Photos 📸\n" +
		"• Videos 🎥\n" +
		"• Documents 📄\n" +
		"• Audio 🎵\n" +
		"• Voice Messages 🎤\n" +
		"• Stickers 🖼️\n" +
		"• Text Messages 💬"
	helpText = "Just send me any media or message!\n\nI will forward it to the configured WhatsApp chats."

	noticeNoTargets    = "❌ No WhatsApp targets configured"
	noticeNotConnected = "❌ WhatsApp not connected"
	noticeFailed       = "❌ Failed to send to WhatsApp"
)

// attachment is one Telegram file to relay
type attachment struct {
	label    string
	fileID   string
	fileName string
	ext      string
	category classifier.Category
	caption  string
	voice    bool
}

func (b *Bridge) handleStart(ctx context.Context, tg *tgbot.Bot, update *models.Update) {
	b.reply(ctx, tg, update.Message.Chat.ID, startText)
}

func (b *Bridge) handleHelp(ctx context.Context, tg *tgbot.Bot, update *models.Update) {
	b.reply(ctx, tg, update.Message.Chat.ID, helpText)
}

func (b *Bridge) handleStatus(ctx context.Context, tg *tgbot.Bot, update *models.Update) {
	b.reply(ctx, tg, update.Message.Chat.ID, b.statusText())
}

func (b *Bridge) statusText() string {
	sessionID, _ := b.session()
	state := "🔴 Disconnected"
	if b.wa.IsConnected(sessionID) {
		state = "🟢 Connected"
	}
	targets := "none"
	if len(b.cfg.TargetJIDs) > 0 {
		targets = strings.Join(b.cfg.TargetJIDs, ", ")
	}
	return fmt.Sprintf("📊 Status\n\nWhatsApp: %s\nSession: %s\nTargets: %s", state, sessionID, targets)
}

func (b *Bridge) handleUpdate(ctx context.Context, tg *tgbot.Bot, update *models.Update) {
	b.process(ctx, tg, update)
}

func (b *Bridge) process(ctx context.Context, api telegramAPI, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Print(nil).WithField("panic", fmt.Sprint(r)).Error("Telegram Handler Panicked")
			b.reply(ctx, api, msg.Chat.ID, "❌ An error occurred")
		}
	}()

	att, isMedia := attachmentOf(msg)
	if !isMedia && msg.Text == "" {
		return
	}
	if len(b.cfg.TargetJIDs) == 0 {
		b.reply(ctx, api, msg.Chat.ID, noticeNoTargets)
		return
	}
	sessionID, _ := b.session()
	if !b.wa.IsConnected(sessionID) {
		b.reply(ctx, api, msg.Chat.ID, noticeNotConnected)
		return
	}

	if !isMedia {
		sent := b.fanOut(func(to string) error {
			_, err := b.wa.SendText(ctx, sessionID, to, msg.Text)
			return err
		})
		b.reply(ctx, api, msg.Chat.ID, b.result("Message", sent))
		return
	}

	if att.category == classifier.CategoryUnknown {
		b.reply(ctx, api, msg.Chat.ID, "❌ Animated stickers are not supported")
		return
	}
	b.reply(ctx, api, msg.Chat.ID, "📥 Downloading "+strings.ToLower(att.label)+"...")
	data, err := b.download(ctx, api, att.fileID)
	if err != nil {
		log.Session(sessionID, "telegram").WithError(err).Error("Failed to Download Telegram File")
		b.reply(ctx, api, msg.Chat.ID, noticeFailed)
		return
	}

	media := mediaFor(att, data)
	sent := b.fanOut(func(to string) error {
		_, err := b.wa.SendMedia(ctx, sessionID, to, media)
		return err
	})
	b.reply(ctx, api, msg.Chat.ID, b.result(att.label, sent))
}

// fanOut sends to every target independently and returns the success count
func (b *Bridge) fanOut(send func(to string) error) int {
	sent := 0
	for _, target := range b.cfg.TargetJIDs {
		if err := send(target); err != nil {
			log.Print(nil).WithError(err).WithField("target", log.MaskJID(target)).Error("Failed to Send Bridged Message")
			continue
		}
		sent++
	}
	return sent
}

func (b *Bridge) result(label string, sent int) string {
	switch {
	case sent == 0:
		return noticeFailed
	case sent < len(b.cfg.TargetJIDs):
		return fmt.Sprintf("⚠️ %s sent to %d of %d WhatsApp chats", label, sent, len(b.cfg.TargetJIDs))
	}
	return "✅ " + label + " sent to WhatsApp"
}

func (b *Bridge) download(ctx context.Context, api telegramAPI, fileID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	file, err := api.GetFile(ctx, &tgbot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("empty file path for file %s", fileID)
	}
	url := b.cfg.FileBaseURL + b.cfg.Token + "/" + strings.TrimLeft(file.FilePath, "/")
	data, err := classifier.Fetch(ctx, b.http, url)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file %s", fileID)
	}
	return data, nil
}

func attachmentOf(msg *models.Message) (attachment, bool) {
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return attachment{label: "Photo", fileID: largest.FileID, ext: "jpg", category: classifier.CategoryImage, caption: msg.Caption}, true
	case msg.Video != nil:
		return attachment{label: "Video", fileID: msg.Video.FileID, fileName: msg.Video.FileName, ext: "mp4", category: classifier.CategoryVideo, caption: msg.Caption}, true
	case msg.Document != nil:
		return attachment{label: "Document", fileID: msg.Document.FileID, fileName: msg.Document.FileName, ext: extOf(msg.Document.FileName, "bin"), category: classifier.CategoryDocument, caption: msg.Caption}, true
	case msg.Audio != nil:
		return attachment{label: "Audio", fileID: msg.Audio.FileID, fileName: msg.Audio.FileName, ext: "mp3", category: classifier.CategoryAudio, caption: msg.Caption}, true
	case msg.Voice != nil:
		return attachment{label: "Voice message", fileID: msg.Voice.FileID, ext: "ogg", category: classifier.CategoryAudio, voice: true}, true
	case msg.Sticker != nil:
		if msg.Sticker.IsAnimated || msg.Sticker.IsVideo {
			return attachment{label: "Sticker", category: classifier.CategoryUnknown}, true
		}
		return attachment{label: "Sticker", fileID: msg.Sticker.FileID, ext: "webp", category: classifier.CategorySticker}, true
	}
	return attachment{}, false
}

// mediaFor builds the outgoing media. The Telegram message type decides the
// category; the classifier supplies the mime type.
func mediaFor(att attachment, data []byte) whatsapp.Media {
	detected := classifier.Classify(data)
	mime := detected.Mime
	switch att.category {
	case classifier.CategoryImage, classifier.CategoryVideo, classifier.CategoryAudio, classifier.CategorySticker:
		if detected.Category != att.category && !(att.category == classifier.CategorySticker && detected.Category == classifier.CategoryImage) {
			mime = defaultMime(att.category)
		}
	}
	if att.voice {
		mime = defaultMime(classifier.CategoryAudio)
	}
	name := att.fileName
	if name == "" {
		name = "telegram-" + uuid.NewString() + "." + att.ext
	}
	return whatsapp.Media{
		Data:     data,
		Mime:     mime,
		Category: att.category,
		FileName: name,
		Caption:  att.caption,
		PTT:      att.voice,
	}
}

func defaultMime(c classifier.Category) string {
	switch c {
	case classifier.CategoryImage:
		return "image/jpeg"
	case classifier.CategoryVideo:
		return "video/mp4"
	case classifier.CategoryAudio:
		return "audio/ogg; codecs=opus"
	case classifier.CategorySticker:
		return "image/webp"
	}
	return "application/octet-stream"
}

func extOf(name string, fallback string) string {
	if ext := strings.TrimPrefix(path.Ext(name), "."); ext != "" {
		return ext
	}
	return fallback
}
