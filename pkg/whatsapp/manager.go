// Package whatsapp owns the WhatsApp Web sessions: connection lifecycle,
// reconnect scheduling, credential persistence and the send capability the
// rest of the bot uses.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/message"
)

var (
	ErrSessionNotFound     = errors.New("WhatsApp Session is not Found")
	ErrSessionNotConnected = errors.New("WhatsApp Client is not Connected")
	ErrEmptyPayload        = errors.New("WhatsApp Message Payload is Empty")
	ErrManagerClosed       = errors.New("WhatsApp Session Manager is Closed")
)

type Config struct {
	ReconnectDelay     time.Duration
	InboundBuffer      int
	CredentialsTimeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		ReconnectDelay:     env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_DELAY", 3*time.Second),
		InboundBuffer:      env.GetEnvIntOrDefault("WHATSAPP_INBOUND_BUFFER", 256),
		CredentialsTimeout: 10 * time.Second,
	}
}

// MessageHandler consumes inbound envelopes. Handlers of one session run on a
// single goroutine, in arrival order.
type MessageHandler func(ctx context.Context, env message.Envelope)

// ConnectedHook runs on every transition into StateConnected
type ConnectedHook func(ctx context.Context, sessionID string)

type Manager struct {
	cfg     Config
	factory TransportFactory

	mu       sync.Mutex
	sessions map[string]*Session
	gens     map[*Session]uint64

	hooksMu        sync.RWMutex
	handlers       []MessageHandler
	connectedHooks []ConnectedHook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config, factory TransportFactory) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = 256
	}
	if cfg.CredentialsTimeout <= 0 {
		cfg.CredentialsTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		sessions: make(map[string]*Session),
		gens:     make(map[*Session]uint64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *Manager) OnMessage(h MessageHandler) {
	m.hooksMu.Lock()
	m.handlers = append(m.handlers, h)
	m.hooksMu.Unlock()
}

func (m *Manager) OnConnected(h ConnectedHook) {
	m.hooksMu.Lock()
	m.connectedHooks = append(m.connectedHooks, h)
	m.hooksMu.Unlock()
}

// Start connects a session, creating its registry entry on first use. It is
// a no-op when the session already has a live connected transport.
func (m *Manager) Start(ctx context.Context, sessionID string) error {
	return m.start(ctx, sessionID, nil, false)
}

// Reconnect tears down the current transport and connects a new one
func (m *Manager) Reconnect(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return m.start(ctx, sessionID, sess, true)
}

// start replaces the transport of a session. When expect is set the session
// must still be that registry entry, so a stale caller never resurrects a
// removed session.
func (m *Manager) start(ctx context.Context, sessionID string, expect *Session, force bool) error {
	if m.ctx.Err() != nil {
		return ErrManagerClosed
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if expect != nil && (!ok || sess != expect) {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if ok && !force && sess.transport != nil && sess.transport.IsConnected() {
		m.mu.Unlock()
		log.Session(sessionID, "start").Info("WhatsApp Client is already connected")
		return nil
	}
	if !ok {
		sess = m.register(sessionID)
	}
	old := sess.transport
	sess.transport = nil
	sess.stopTimer()
	sess.State = StateDisconnected
	m.gens[sess]++
	gen := m.gens[sess]
	m.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	t, err := m.factory(ctx, sessionID, func(evt interface{}) {
		m.handleEvent(sess, gen, evt)
	})
	if err != nil {
		m.closeRetryable(sess, gen, "client_error")
		return fmt.Errorf("failed to create WhatsApp client: %w", err)
	}

	m.mu.Lock()
	if !m.owns(sess, gen) {
		m.mu.Unlock()
		t.Disconnect()
		return ErrSessionNotFound
	}
	sess.transport = t
	m.mu.Unlock()

	if err := t.Connect(m.ctx); err != nil {
		log.Session(sessionID, "start").WithError(err).Warn("Failed to connect")
		m.closeRetryable(sess, gen, "connect_error")
		return err
	}
	return nil
}

// register must be called with m.mu held
func (m *Manager) register(sessionID string) *Session {
	sess := &Session{
		ID:      sessionID,
		State:   StateDisconnected,
		inbound: make(chan message.Envelope, m.cfg.InboundBuffer),
		done:    make(chan struct{}),
	}
	m.sessions[sessionID] = sess
	m.wg.Add(1)
	go m.consume(sess)
	return sess
}

// owns must be called with m.mu held
func (m *Manager) owns(sess *Session, gen uint64) bool {
	cur, ok := m.sessions[sess.ID]
	return ok && cur == sess && m.gens[sess] == gen
}

func (m *Manager) handleEvent(sess *Session, gen uint64, evt interface{}) {
	switch e := evt.(type) {
	case *QRCode:
		m.mu.Lock()
		if m.owns(sess, gen) {
			sess.State = StateAwaitingScan
			sess.QR = e.Code
		}
		m.mu.Unlock()
		log.Session(sess.ID, "qr").Info("Waiting for QR code scan")
	case *QRTimeout:
		m.closeRetryable(sess, gen, "qr_timeout")
	case *events.PairSuccess:
		log.Session(sess.ID, "pair").Info("Paired as " + log.MaskJID(e.ID.String()))
		m.saveCredentials(sess, gen)
	case *events.Connected:
		m.markConnected(sess, gen)
	case *events.Disconnected:
		m.closeRetryable(sess, gen, "disconnected")
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			m.closeTerminal(sess, gen, fmt.Sprintf("connect_failure_%d", int(e.Reason)))
			return
		}
		log.Session(sess.ID, "connect").Error(fmt.Sprintf("Client connection failure: reason=%s, message=%s", e.Reason, e.Message))
		m.closeRetryable(sess, gen, "connect_failure")
	case *events.LoggedOut:
		m.closeTerminal(sess, gen, "logged_out")
	case *events.StreamReplaced:
		m.closeTerminal(sess, gen, "replaced")
	case *events.KeepAliveTimeout:
		log.Session(sess.ID, "keepalive").Warn(fmt.Sprintf("Client keepalive timeout: errors=%d, lastSuccess=%s", e.ErrorCount, e.LastSuccess.Format(time.RFC3339)))
	case *events.TemporaryBan:
		log.Session(sess.ID, "ban").Error(fmt.Sprintf("Client temporarily banned: reason=%s, expires=%s", e.Code, e.Expire))
	case *events.ClientOutdated:
		log.Session(sess.ID, "connect").Error(ErrWAVersionOutdatedForQR.Error())
	case *events.Message:
		m.enqueue(sess, gen, message.FromEvent(sess.ID, e))
	}
}

func (m *Manager) markConnected(sess *Session, gen uint64) {
	m.mu.Lock()
	if !m.owns(sess, gen) {
		m.mu.Unlock()
		return
	}
	wasConnected := sess.State == StateConnected
	sess.State = StateConnected
	sess.QR = ""
	sess.ReconnectAttempts = 0
	sess.ConnectedAt = time.Now()
	sess.stopTimer()
	m.mu.Unlock()

	log.Session(sess.ID, "connect").Info("WhatsApp Client connected")
	m.saveCredentials(sess, gen)

	if wasConnected {
		return
	}
	m.hooksMu.RLock()
	hooks := append([]ConnectedHook(nil), m.connectedHooks...)
	m.hooksMu.RUnlock()
	for _, hook := range hooks {
		m.safely(sess.ID, "connected_hook", func() { hook(m.ctx, sess.ID) })
	}
}

// saveCredentials runs inside the event handler so the update is durable
// before whatsmeow processes the next protocol message
func (m *Manager) saveCredentials(sess *Session, gen uint64) {
	m.mu.Lock()
	var t Transport
	if m.owns(sess, gen) {
		t = sess.transport
	}
	m.mu.Unlock()
	if t == nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.CredentialsTimeout)
	defer cancel()
	if err := t.SaveCredentials(ctx); err != nil {
		log.Session(sess.ID, "credentials").WithError(err).Error("Failed to persist credentials")
	}
}

// closeRetryable drops the transport and schedules exactly one reconnect
func (m *Manager) closeRetryable(sess *Session, gen uint64, reason string) {
	m.mu.Lock()
	if !m.owns(sess, gen) || sess.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}
	// the transport stays attached so a later terminal event can still purge
	// its credentials
	t := sess.transport
	sess.QR = ""
	sess.State = StateClosing
	if t == nil {
		sess.State = StateDisconnected
	}
	sess.ReconnectAttempts++
	attempt := sess.ReconnectAttempts
	sess.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.reconnect(sess, gen)
	})
	m.mu.Unlock()

	log.Session(sess.ID, "disconnect").WithField("reason", reason).WithField("attempt", attempt).
		Warn(fmt.Sprintf("WhatsApp Client disconnected, reconnecting in %s", m.cfg.ReconnectDelay))
	if t == nil {
		return
	}
	t.Disconnect()

	m.mu.Lock()
	if m.owns(sess, gen) && sess.State == StateClosing {
		sess.State = StateDisconnected
	}
	m.mu.Unlock()
}

func (m *Manager) reconnect(sess *Session, gen uint64) {
	m.mu.Lock()
	if !m.owns(sess, gen) || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	sess.reconnectTimer = nil
	m.mu.Unlock()

	if err := m.start(m.ctx, sess.ID, sess, false); err != nil && !errors.Is(err, ErrSessionNotFound) {
		log.Session(sess.ID, "reconnect").WithError(err).Warn("Reconnect attempt failed")
	}
}

// closeTerminal removes the session for good and purges its credentials
func (m *Manager) closeTerminal(sess *Session, gen uint64, reason string) {
	m.mu.Lock()
	if !m.owns(sess, gen) {
		m.mu.Unlock()
		return
	}
	t := m.remove(sess)
	m.mu.Unlock()

	log.Session(sess.ID, "disconnect").WithField("reason", reason).Warn("WhatsApp session ended, credentials removed")
	m.purge(sess.ID, t)
}

// remove must be called with m.mu held
func (m *Manager) remove(sess *Session) Transport {
	sess.stopTimer()
	t := sess.transport
	sess.transport = nil
	sess.QR = ""
	delete(m.sessions, sess.ID)
	delete(m.gens, sess)
	sess.State = StateRemoved
	close(sess.done)
	return t
}

func (m *Manager) purge(sessionID string, t Transport) {
	if t == nil {
		return
	}
	t.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CredentialsTimeout)
	defer cancel()
	if err := t.ClearCredentials(ctx); err != nil {
		log.Session(sessionID, "credentials").WithError(err).Error("Failed to clear credentials")
	}
}

// Logout unlinks the device from the phone and removes the session
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	t := sess.transport
	m.mu.Unlock()

	if t != nil {
		if err := t.Logout(ctx); err != nil {
			log.Session(sessionID, "logout").WithError(err).Warn("Logout request failed, removing local credentials")
		}
	}

	m.mu.Lock()
	if cur, ok := m.sessions[sessionID]; !ok || cur != sess {
		m.mu.Unlock()
		return nil
	}
	t = m.remove(sess)
	m.mu.Unlock()

	m.purge(sessionID, t)
	return nil
}

func (m *Manager) enqueue(sess *Session, gen uint64, env message.Envelope) {
	m.mu.Lock()
	owned := m.owns(sess, gen)
	m.mu.Unlock()
	if !owned {
		return
	}
	select {
	case sess.inbound <- env:
	case <-sess.done:
	case <-m.ctx.Done():
	}
}

func (m *Manager) consume(sess *Session) {
	defer m.wg.Done()
	for {
		select {
		case <-sess.done:
			return
		case <-m.ctx.Done():
			return
		case env := <-sess.inbound:
			m.dispatch(env)
		}
	}
}

func (m *Manager) dispatch(env message.Envelope) {
	m.hooksMu.RLock()
	handlers := append([]MessageHandler(nil), m.handlers...)
	m.hooksMu.RUnlock()
	for _, h := range handlers {
		m.safely(env.SessionID, "message_handler", func() { h(m.ctx, env) })
	}
}

func (m *Manager) safely(sessionID string, op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Session(sessionID, op).WithField("panic", fmt.Sprint(r)).Error("Recovered from panic")
		}
	}()
	fn()
}

// Close disconnects every session without touching credentials
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	var transports []Transport
	for _, sess := range m.sessions {
		sess.stopTimer()
		if sess.transport != nil {
			transports = append(transports, sess.transport)
			sess.transport = nil
		}
		sess.State = StateDisconnected
	}
	m.mu.Unlock()
	for _, t := range transports {
		t.Disconnect()
	}
	m.wg.Wait()
}

func (m *Manager) Session(sessionID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return sess.snapshot(), true
}

func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsConnected reports whether the session is connected and logged in
func (m *Manager) IsConnected(sessionID string) bool {
	_, err := m.transport(sessionID)
	return err == nil
}

func (m *Manager) transport(sessionID string) (Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.State != StateConnected || sess.transport == nil {
		return nil, ErrSessionNotConnected
	}
	return sess.transport, nil
}

// Relay sends msg unchanged to the chat identified by to
func (m *Manager) Relay(ctx context.Context, sessionID string, to string, msg *waE2E.Message) (string, error) {
	if msg == nil {
		return "", ErrEmptyPayload
	}
	t, err := m.transport(sessionID)
	if err != nil {
		return "", err
	}
	jid, err := ParseJID(to)
	if err != nil {
		return "", err
	}
	return t.SendMessage(ctx, jid, msg)
}

func (m *Manager) SendText(ctx context.Context, sessionID string, to string, text string) (string, error) {
	return m.Relay(ctx, sessionID, to, &waE2E.Message{Conversation: proto.String(text)})
}

func (m *Manager) Download(ctx context.Context, sessionID string, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	t, err := m.transport(sessionID)
	if err != nil {
		return nil, err
	}
	return t.Download(ctx, msg)
}

func (m *Manager) JoinedGroups(ctx context.Context, sessionID string) ([]*types.GroupInfo, error) {
	t, err := m.transport(sessionID)
	if err != nil {
		return nil, err
	}
	return t.JoinedGroups(ctx)
}

// GroupAdmins returns the admin and super admin identifiers of a group, in
// both the LID and phone number forms when known
func (m *Manager) GroupAdmins(ctx context.Context, sessionID string, chat string) ([]types.JID, error) {
	t, err := m.transport(sessionID)
	if err != nil {
		return nil, err
	}
	jid, err := ParseJID(chat)
	if err != nil {
		return nil, err
	}
	info, err := t.GroupInfo(ctx, jid)
	if err != nil {
		return nil, err
	}
	var admins []types.JID
	for _, p := range info.Participants {
		if !p.IsAdmin && !p.IsSuperAdmin {
			continue
		}
		admins = append(admins, p.JID)
		if !p.PhoneNumber.IsEmpty() {
			admins = append(admins, p.PhoneNumber)
		}
	}
	return admins, nil
}

// OwnJID returns the account identifier of a connected session
func (m *Manager) OwnJID(sessionID string) (types.JID, error) {
	t, err := m.transport(sessionID)
	if err != nil {
		return types.EmptyJID, err
	}
	return t.OwnJID(), nil
}
