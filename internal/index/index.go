package index

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/router"
)

// Index reports that the service is up
func Index(c *fiber.Ctx) error {
	return router.ResponseSuccess(c, "WhatsApp Forward Bot is running")
}

// Ping is the liveness probe
func Ping(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).SendString("pong")
}
