package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/router"
)

// AdminAuth validates the X-Admin-Secret header
func AdminAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		given := c.Get(router.HeaderAdminSecret)
		if given == "" {
			return router.ResponseUnauthorized(c, "Missing X-Admin-Secret header")
		}
		if secret == "" {
			return router.ResponseInternalError(c, "Admin secret key not configured")
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			return router.ResponseUnauthorized(c, "Invalid admin secret")
		}
		return c.Next()
	}
}

// BearerAuth validates an operator JWT from "Authorization: Bearer <token>"
// and stores its subject as the "operator" local
func BearerAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return router.ResponseUnauthorized(c, "Missing Authorization header")
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return router.ResponseUnauthorized(c, "Missing token")
		}

		claims, err := ValidateOperatorToken(secret, token)
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}
		c.Locals("operator", claims.Subject)
		return c.Next()
	}
}
