package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/store"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/router"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

const (
	adminSecret = "admin-secret"
	jwtSecret   = "0123456789abcdef0123456789abcdef"
)

type fakeSessions struct {
	sent       map[string]string
	reconnects []string
	logouts    []string
}

func (f *fakeSessions) Sessions() []whatsapp.SessionInfo {
	return []whatsapp.SessionInfo{{ID: "main", State: "connected", Connected: true}}
}

func (f *fakeSessions) Session(id string) (whatsapp.SessionInfo, bool) {
	if id != "main" {
		return whatsapp.SessionInfo{}, false
	}
	return whatsapp.SessionInfo{ID: "main", State: "connected", Connected: true}, true
}

func (f *fakeSessions) Reconnect(ctx context.Context, id string) error {
	if id != "main" {
		return whatsapp.ErrSessionNotFound
	}
	f.reconnects = append(f.reconnects, id)
	return nil
}

func (f *fakeSessions) Logout(ctx context.Context, id string) error {
	if id != "main" {
		return whatsapp.ErrSessionNotFound
	}
	f.logouts = append(f.logouts, id)
	return nil
}

func (f *fakeSessions) SendText(ctx context.Context, id string, to string, text string) (string, error) {
	if id == "offline" {
		return "", whatsapp.ErrSessionNotConnected
	}
	f.sent[to] = text
	return "MSG1", nil
}

type fakeVersions struct {
	err    error
	forced bool
}

func (f *fakeVersions) Status() whatsapp.WAVersionRefreshStatus {
	return whatsapp.WAVersionRefreshStatus{CurrentVersion: store.WAVersionContainer{2, 3000, 1}}
}

func (f *fakeVersions) Refresh(ctx context.Context, force bool) (whatsapp.WAVersionRefreshStatus, bool, error) {
	f.forced = force
	if f.err != nil {
		return f.Status(), true, f.err
	}
	return f.Status(), true, nil
}

func setup() (*fiber.App, *fakeSessions, *fakeVersions) {
	sessions := &fakeSessions{sent: map[string]string{}}
	versions := &fakeVersions{}
	ctl := &Controller{
		Auth:     auth.Config{AdminSecret: adminSecret, JWTSecret: jwtSecret, TokenTTL: time.Hour},
		Sessions: sessions,
		Versions: versions,
	}
	app := fiber.New(fiber.Config{ErrorHandler: router.HttpErrorHandler})
	ctl.Register(app, "")
	return app, sessions, versions
}

func do(t *testing.T, app *fiber.App, method string, path string, body string, headers map[string]string) (int, router.Response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out router.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func issueToken(t *testing.T, app *fiber.App) string {
	t.Helper()
	code, resp := do(t, app, fiber.MethodPost, "/admin/token", `{"subject":"ops"}`, map[string]string{"X-Admin-Secret": adminSecret})
	require.Equal(t, fiber.StatusCreated, code)
	data := resp.Data.(map[string]interface{})
	token, _ := data["token"].(string)
	require.NotEmpty(t, token)
	assert.NotNil(t, data["expiresAt"])
	return token
}

func TestTokenRequiresAdminSecret(t *testing.T) {
	app, _, _ := setup()
	code, _ := do(t, app, fiber.MethodPost, "/admin/token", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = do(t, app, fiber.MethodPost, "/admin/token", "", map[string]string{"X-Admin-Secret": adminSecret})
	assert.Equal(t, fiber.StatusCreated, code)
}

func TestSessionRoutesRequireBearer(t *testing.T) {
	app, _, _ := setup()
	code, _ := do(t, app, fiber.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	token := issueToken(t, app)
	code, resp := do(t, app, fiber.MethodGet, "/api/sessions", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, fiber.StatusOK, code)
	assert.Len(t, resp.Data, 1)
}

func TestReconnectAndLogout(t *testing.T) {
	app, sessions, _ := setup()
	bearer := map[string]string{"Authorization": "Bearer " + issueToken(t, app)}

	code, _ := do(t, app, fiber.MethodPost, "/api/sessions/main/reconnect", "", bearer)
	assert.Equal(t, fiber.StatusOK, code)
	code, _ = do(t, app, fiber.MethodPost, "/api/sessions/ghost/reconnect", "", bearer)
	assert.Equal(t, fiber.StatusNotFound, code)
	code, _ = do(t, app, fiber.MethodPost, "/api/sessions/main/logout", "", bearer)
	assert.Equal(t, fiber.StatusOK, code)

	assert.Equal(t, []string{"main"}, sessions.reconnects)
	assert.Equal(t, []string{"main"}, sessions.logouts)
}

func TestSendValidatesBody(t *testing.T) {
	app, sessions, _ := setup()
	bearer := map[string]string{"Authorization": "Bearer " + issueToken(t, app)}

	code, resp := do(t, app, fiber.MethodPost, "/api/sessions/main/send", `{"to":"","text":"hi"}`, bearer)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "to is required", resp.Message)

	code, _ = do(t, app, fiber.MethodPost, "/api/sessions/main/send", `{"to":"+923001234567","text":"hi"}`, bearer)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "hi", sessions.sent["923001234567@s.whatsapp.net"])

	code, _ = do(t, app, fiber.MethodPost, "/api/sessions/offline/send", `{"to":"a@g.us","text":"hi"}`, bearer)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
}

func TestVersionRefresh(t *testing.T) {
	app, _, versions := setup()
	admin := map[string]string{"X-Admin-Secret": adminSecret}

	code, _ := do(t, app, fiber.MethodGet, "/admin/whatsapp/version", "", admin)
	assert.Equal(t, fiber.StatusOK, code)

	code, _ = do(t, app, fiber.MethodPost, "/admin/whatsapp/version/refresh?force=true", "", admin)
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, versions.forced)

	versions.err = errors.New("upstream down")
	code, resp := do(t, app, fiber.MethodPost, "/admin/whatsapp/version/refresh", "", admin)
	assert.Equal(t, fiber.StatusBadGateway, code)
	assert.Equal(t, "upstream down", resp.Message)
}
