package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
)

// Postgres stores settings in the same database as the WhatsApp credentials
type Postgres struct {
	db    *sql.DB
	cache *ttlCache
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_routing (
		session_id TEXT PRIMARY KEY,
		device_jid TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS group_settings (
		session_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		auto_forward BOOLEAN NOT NULL DEFAULT FALSE,
		auto_forward_targets TEXT[] NOT NULL DEFAULT '{}',
		disabled_commands TEXT[] NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, chat_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_settings_auto_forward ON group_settings(session_id) WHERE auto_forward`,
}

// OpenPostgres opens a pgx backed pool and creates the tables when missing
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	p := NewPostgres(db)
	if err := p.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(db *sql.DB) *Postgres {
	ttlSeconds := env.GetEnvIntOrDefault("SETTINGS_CACHE_TTL_SECONDS", 15)
	if ttlSeconds < 0 {
		ttlSeconds = 0
	}
	return &Postgres{db: db, cache: newTTLCache(time.Duration(ttlSeconds) * time.Second)}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("settings schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) GetGroupSettings(ctx context.Context, sessionID string, chatID string) (GroupSettings, error) {
	key := settingsKey{sessionID, chatID}
	if cached, ok := p.cache.get(key); ok {
		return cached, nil
	}
	g, err := p.load(ctx, p.db, sessionID, chatID, false)
	if err != nil {
		return GroupSettings{}, err
	}
	p.cache.set(key, g)
	return cloneSettings(g), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) load(ctx context.Context, q queryer, sessionID string, chatID string, forUpdate bool) (GroupSettings, error) {
	query := `
		SELECT auto_forward, auto_forward_targets, disabled_commands, updated_at
		FROM group_settings
		WHERE session_id = $1 AND chat_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	g := defaultSettings(sessionID, chatID)
	var updatedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, sessionID, chatID).Scan(
		&g.AutoForward,
		pq.Array(&g.AutoForwardTargets),
		pq.Array(&g.DisabledCommands),
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return g, nil
	}
	if err != nil {
		return GroupSettings{}, err
	}
	if updatedAt.Valid {
		g.UpdatedAt = updatedAt.Time
	}
	return g, nil
}

func (p *Postgres) UpdateGroupSettings(ctx context.Context, sessionID string, chatID string, fn func(*GroupSettings)) (GroupSettings, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return GroupSettings{}, err
	}
	defer func() { _ = tx.Rollback() }()

	g, err := p.load(ctx, tx, sessionID, chatID, true)
	if err != nil {
		return GroupSettings{}, err
	}
	fn(&g)
	g.SessionID, g.ChatID = sessionID, chatID
	normalize(&g)
	g.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_settings (session_id, chat_id, auto_forward, auto_forward_targets, disabled_commands, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, chat_id) DO UPDATE
		SET auto_forward = EXCLUDED.auto_forward,
		    auto_forward_targets = EXCLUDED.auto_forward_targets,
		    disabled_commands = EXCLUDED.disabled_commands,
		    updated_at = EXCLUDED.updated_at
	`, sessionID, chatID, g.AutoForward, pq.Array(g.AutoForwardTargets), pq.Array(g.DisabledCommands), g.UpdatedAt)
	if err != nil {
		return GroupSettings{}, err
	}
	if err := tx.Commit(); err != nil {
		return GroupSettings{}, err
	}
	p.cache.invalidate(settingsKey{sessionID, chatID})
	return cloneSettings(g), nil
}

func (p *Postgres) GetDeviceJID(ctx context.Context, sessionID string) (string, error) {
	var jid string
	err := p.db.QueryRowContext(ctx, `SELECT device_jid FROM session_routing WHERE session_id = $1`, sessionID).Scan(&jid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return jid, err
}

func (p *Postgres) SaveDeviceJID(ctx context.Context, sessionID string, deviceJID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO session_routing (session_id, device_jid, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE
		SET device_jid = EXCLUDED.device_jid, updated_at = NOW()
	`, sessionID, deviceJID)
	return err
}

func (p *Postgres) DeleteDeviceJID(ctx context.Context, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM session_routing WHERE session_id = $1`, sessionID)
	return err
}

type ttlCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[settingsKey]cacheEntry
}

type cacheEntry struct {
	settings  GroupSettings
	expiresAt time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: make(map[settingsKey]cacheEntry)}
}

func (c *ttlCache) get(key settingsKey) (GroupSettings, bool) {
	if c.ttl <= 0 {
		return GroupSettings{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return GroupSettings{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return GroupSettings{}, false
	}
	return cloneSettings(entry.settings), true
}

func (c *ttlCache) set(key settingsKey, g GroupSettings) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{settings: cloneSettings(g), expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache) invalidate(key settingsKey) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
