package router

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBodyLimit(t *testing.T) {
	assert.Equal(t, 512*1024, ParseBodyLimit("512k"))
	assert.Equal(t, 8*1024*1024, ParseBodyLimit("8M"))
	assert.Equal(t, 1024*1024*1024, ParseBodyLimit(" 1G "))
	assert.Equal(t, 100, ParseBodyLimit("100"))
	assert.Equal(t, defaultBodyLimit, ParseBodyLimit("lots"))
	assert.Equal(t, defaultBodyLimit, ParseBodyLimit(""))
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "", NormalizeBaseURL(""))
	assert.Equal(t, "", NormalizeBaseURL("/"))
	assert.Equal(t, "/bot", NormalizeBaseURL("bot/"))
	assert.Equal(t, "/api/v1", NormalizeBaseURL(" /api/v1/ "))
}

func decode(t *testing.T, body io.Reader) Response {
	t.Helper()
	var r Response
	require.NoError(t, json.NewDecoder(body).Decode(&r))
	return r
}

func TestRecoveryAndRequestID(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: HttpErrorHandler})
	app.Use(HttpRequestID(), RecoveryMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error { panic("kaboom") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
	body := decode(t, resp.Body)
	assert.False(t, body.Status)
	assert.Equal(t, "kaboom", body.Error)

	req := httptest.NewRequest(fiber.MethodGet, "/missing", nil)
	req.Header.Set(HeaderRequestID, "abc")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "abc", resp.Header.Get(HeaderRequestID))
	assert.Equal(t, "Not Found", decode(t, resp.Body).Message)
}

func TestRealIP(t *testing.T) {
	app := fiber.New()
	app.Use(HttpRealIP())
	app.Get("/", func(c *fiber.Ctx) error {
		ip, _ := c.Locals("remote_ip").(string)
		return c.SendString(ip)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	resp, err := app.Test(req)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "10.0.0.1", string(b))
}
