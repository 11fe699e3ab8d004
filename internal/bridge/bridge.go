// Package bridge relays Telegram messages into WhatsApp chats and mirrors
// selected WhatsApp chats back to Telegram.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

var ErrNoToken = errors.New("telegram bot token is not configured")

const (
	defaultFileBaseURL = "https://api.telegram.org/file/bot"
	downloadTimeout    = 60 * time.Second
	sendTimeout        = 30 * time.Second
)

type Config struct {
	Enabled          bool
	Token            string
	TargetJIDs       []string
	PublicAccess     bool
	AllowedUserIDs   []int64
	MirrorSourceJIDs []string
	MirrorChatID     int64
	// FileBaseURL is the Telegram file download prefix, the token and file
	// path are appended to it
	FileBaseURL string
}

func ConfigFromEnv() Config {
	mirrorChat, _ := strconv.ParseInt(env.GetEnvStringOrDefault("TELEGRAM_MIRROR_CHAT_ID", "0"), 10, 64)
	targets := env.GetEnvListOrDefault("TELEGRAM_TARGET_JIDS", nil)
	for i, t := range targets {
		targets[i] = whatsapp.NormalizeJID(t)
	}
	return Config{
		Enabled:          env.GetEnvBoolOrDefault("TELEGRAM_ENABLED", false),
		Token:            env.GetEnvStringOrDefault("TELEGRAM_BOT_TOKEN", ""),
		TargetJIDs:       targets,
		PublicAccess:     env.GetEnvBoolOrDefault("TELEGRAM_PUBLIC_ACCESS", false),
		AllowedUserIDs:   env.GetEnvInt64List("TELEGRAM_ALLOWED_USER_IDS"),
		MirrorSourceJIDs: env.GetEnvListOrDefault("TELEGRAM_MIRROR_SOURCE_JIDS", nil),
		MirrorChatID:     mirrorChat,
		FileBaseURL:      env.GetEnvStringOrDefault("TELEGRAM_FILE_BASE_URL", defaultFileBaseURL),
	}
}

// WhatsApp is the send capability the bridge uses on the linked session
type WhatsApp interface {
	IsConnected(sessionID string) bool
	SendText(ctx context.Context, sessionID string, to string, text string) (string, error)
	SendMedia(ctx context.Context, sessionID string, to string, media whatsapp.Media) (string, error)
}

// telegramAPI is the part of *tgbot.Bot the handlers call
type telegramAPI interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
	GetFile(ctx context.Context, params *tgbot.GetFileParams) (*models.File, error)
}

type Bridge struct {
	cfg      Config
	wa       WhatsApp
	http     *http.Client
	allowed  map[int64]struct{}
	mirrored map[string]struct{}

	mu        sync.RWMutex
	started   bool
	running   bool
	sessionID string
	api       telegramAPI
}

type Status struct {
	Enabled      bool     `json:"enabled"`
	BotRunning   bool     `json:"botRunning"`
	PublicAccess bool     `json:"publicAccess"`
	TargetJIDs   []string `json:"targetJids"`
}

func New(cfg Config, wa WhatsApp) *Bridge {
	if cfg.FileBaseURL == "" {
		cfg.FileBaseURL = defaultFileBaseURL
	}
	b := &Bridge{
		cfg:      cfg,
		wa:       wa,
		http:     &http.Client{Timeout: downloadTimeout},
		allowed:  make(map[int64]struct{}, len(cfg.AllowedUserIDs)),
		mirrored: make(map[string]struct{}, len(cfg.MirrorSourceJIDs)),
	}
	for _, id := range cfg.AllowedUserIDs {
		b.allowed[id] = struct{}{}
	}
	for _, jid := range cfg.MirrorSourceJIDs {
		b.mirrored[whatsapp.NormalizeJID(jid)] = struct{}{}
	}
	return b
}

// Start launches the Telegram long poll for sessionID. Only the first call
// has any effect. Polling stops when ctx is cancelled.
func (b *Bridge) Start(ctx context.Context, sessionID string) error {
	if !b.cfg.Enabled {
		return nil
	}
	if b.cfg.Token == "" {
		return ErrNoToken
	}

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.sessionID = sessionID
	b.mu.Unlock()

	tg, err := tgbot.New(b.cfg.Token,
		tgbot.WithMiddlewares(b.authorize),
		tgbot.WithDefaultHandler(b.handleUpdate),
	)
	if err != nil {
		b.mu.Lock()
		b.started = false
		b.mu.Unlock()
		return err
	}
	tg.RegisterHandler(tgbot.HandlerTypeMessageText, "start", tgbot.MatchTypeCommandStartOnly, b.handleStart)
	tg.RegisterHandler(tgbot.HandlerTypeMessageText, "help", tgbot.MatchTypeCommandStartOnly, b.handleHelp)
	tg.RegisterHandler(tgbot.HandlerTypeMessageText, "status", tgbot.MatchTypeCommandStartOnly, b.handleStatus)

	b.mu.Lock()
	b.api = tg
	b.running = true
	b.mu.Unlock()

	go func() {
		log.Session(sessionID, "telegram").WithField("targets", len(b.cfg.TargetJIDs)).Info("Telegram Bridge Started")
		tg.Start(ctx)
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		log.Session(sessionID, "telegram").Info("Telegram Bridge Stopped")
	}()
	return nil
}

func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{
		Enabled:      b.cfg.Enabled,
		BotRunning:   b.running,
		PublicAccess: b.cfg.PublicAccess,
		TargetJIDs:   append([]string(nil), b.cfg.TargetJIDs...),
	}
}

func (b *Bridge) session() (string, telegramAPI) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID, b.api
}

// authorize rejects users outside the allowlist unless public access is on
func (b *Bridge) authorize(next tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, tg *tgbot.Bot, update *models.Update) {
		if b.isAuthorized(update) {
			next(ctx, tg, update)
			return
		}
		msg := update.Message
		entry := log.Print(nil).WithField("chat_id", msg.Chat.ID)
		if msg.From != nil {
			entry = entry.WithField("user_id", msg.From.ID)
		}
		entry.Warn("Unauthorized Telegram User")
		b.reply(ctx, tg, msg.Chat.ID, "⛔ You are not allowed to use this bot.")
	}
}

// isAuthorized lets non-message updates through; they are ignored later
func (b *Bridge) isAuthorized(update *models.Update) bool {
	msg := update.Message
	if msg == nil {
		return true
	}
	if msg.From == nil {
		return false
	}
	if b.cfg.PublicAccess {
		return true
	}
	_, ok := b.allowed[msg.From.ID]
	return ok
}

func (b *Bridge) reply(ctx context.Context, api telegramAPI, chatID int64, text string) {
	if api == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := api.SendMessage(sendCtx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.Print(nil).WithError(err).WithField("chat_id", chatID).Warn("Failed to Send Telegram Message")
	}
}
