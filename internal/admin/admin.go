// Package admin serves the operator API: tokens, session control and the
// WhatsApp Web version.
package admin

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/router"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/validation"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

const versionRefreshTimeout = 30 * time.Second

type SessionManager interface {
	Sessions() []whatsapp.SessionInfo
	Session(sessionID string) (whatsapp.SessionInfo, bool)
	Reconnect(ctx context.Context, sessionID string) error
	Logout(ctx context.Context, sessionID string) error
	SendText(ctx context.Context, sessionID string, to string, text string) (string, error)
}

type VersionRefresher interface {
	Status() whatsapp.WAVersionRefreshStatus
	Refresh(ctx context.Context, force bool) (whatsapp.WAVersionRefreshStatus, bool, error)
}

type Controller struct {
	Auth     auth.Config
	Sessions SessionManager
	Versions VersionRefresher
}

type TokenRequest struct {
	Subject string `json:"subject" validate:"omitempty,max=64"`
}

type TokenResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type SendRequest struct {
	To   string `json:"to" validate:"required,jid"`
	Text string `json:"text" validate:"required,max=4096"`
}

type SendResponse struct {
	MessageID string `json:"messageId"`
	To        string `json:"to"`
}

// IssueToken exchanges the admin secret for an operator JWT
func (ctl *Controller) IssueToken(c *fiber.Ctx) error {
	var req TokenRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return router.ResponseBadRequest(c, "Failed parse body request")
		}
	}
	if err := validation.Struct(req); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if req.Subject == "" {
		req.Subject = "operator"
	}

	token, expires, err := auth.GenerateOperatorToken(ctl.Auth.JWTSecret, req.Subject, ctl.Auth.TokenTTL)
	if err != nil {
		log.Print(c).WithError(err).Error("Failed to Issue Operator Token")
		return router.ResponseInternalError(c, err.Error())
	}
	resp := TokenResponse{Token: token}
	if !expires.IsZero() {
		resp.ExpiresAt = &expires
	}
	return router.ResponseCreatedWithData(c, "Operator Token Issued", resp)
}

func (ctl *Controller) WhatsAppVersion(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "Success", ctl.Versions.Status())
}

// RefreshWhatsAppVersion fetches the latest WhatsApp Web version. ?force=true
// skips the minimum interval.
func (ctl *Controller) RefreshWhatsAppVersion(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), versionRefreshTimeout)
	defer cancel()

	status, refreshed, err := ctl.Versions.Refresh(ctx, c.QueryBool("force", false))
	if err != nil {
		log.Print(c).WithError(err).Error("Failed to Refresh WhatsApp Web Version")
		return router.ResponseBadGateway(c, err.Error())
	}
	return router.ResponseSuccessWithData(c, "Success", fiber.Map{
		"refreshed": refreshed,
		"status":    status,
	})
}

func (ctl *Controller) ListSessions(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "Success", ctl.Sessions.Sessions())
}

func (ctl *Controller) Reconnect(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if err := ctl.Sessions.Reconnect(c.UserContext(), sessionID); err != nil {
		return sessionError(c, sessionID, "reconnect", err)
	}
	info, _ := ctl.Sessions.Session(sessionID)
	return router.ResponseSuccessWithData(c, "Reconnect Requested", info)
}

func (ctl *Controller) Logout(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if err := ctl.Sessions.Logout(c.UserContext(), sessionID); err != nil {
		return sessionError(c, sessionID, "logout", err)
	}
	return router.ResponseSuccess(c, "Session Logged Out")
}

// Send delivers a text message from a session
func (ctl *Controller) Send(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	if err := validation.Struct(req); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	to := whatsapp.NormalizeJID(req.To)
	id, err := ctl.Sessions.SendText(c.UserContext(), sessionID, to, req.Text)
	if err != nil {
		return sessionError(c, sessionID, "send", err)
	}
	return router.ResponseSuccessWithData(c, "Message Sent", SendResponse{MessageID: id, To: to})
}

func sessionError(c *fiber.Ctx, sessionID string, op string, err error) error {
	log.Print(c).WithField("session_id", sessionID).WithField("op", op).WithError(err).Warn("Session Operation Failed")
	switch {
	case errors.Is(err, whatsapp.ErrSessionNotFound):
		return router.ResponseNotFound(c, err.Error())
	case errors.Is(err, whatsapp.ErrSessionNotConnected):
		return router.ResponseServiceUnavailable(c, err.Error())
	case errors.Is(err, whatsapp.ErrInvalidJID):
		return router.ResponseBadRequest(c, err.Error())
	case errors.Is(err, whatsapp.ErrManagerClosed):
		return router.ResponseServiceUnavailable(c, err.Error())
	}
	return router.ResponseBadGateway(c, err.Error())
}

// Register mounts the admin and operator routes under base
func (ctl *Controller) Register(app fiber.Router, base string) {
	adminAuth := auth.AdminAuth(ctl.Auth.AdminSecret)
	app.Post(base+"/admin/token", adminAuth, ctl.IssueToken)
	app.Get(base+"/admin/whatsapp/version", adminAuth, ctl.WhatsAppVersion)
	app.Post(base+"/admin/whatsapp/version/refresh", adminAuth, ctl.RefreshWhatsAppVersion)

	bearer := auth.BearerAuth(ctl.Auth.JWTSecret)
	app.Get(base+"/api/sessions", bearer, ctl.ListSessions)
	app.Post(base+"/api/sessions/:id/reconnect", bearer, ctl.Reconnect)
	app.Post(base+"/api/sessions/:id/logout", bearer, ctl.Logout)
	app.Post(base+"/api/sessions/:id/send", bearer, ctl.Send)
}
