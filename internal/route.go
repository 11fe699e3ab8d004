package internal

import (
	"github.com/gofiber/fiber/v2"

	ctlAdmin "github.com/gdbrns/go-whatsapp-forward-bot/internal/admin"
	ctlIndex "github.com/gdbrns/go-whatsapp-forward-bot/internal/index"
	ctlStatus "github.com/gdbrns/go-whatsapp-forward-bot/internal/status"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/router"
)

type Controllers struct {
	Status *ctlStatus.Controller
	Admin  *ctlAdmin.Controller
}

// StatusPath is served uncached
const StatusPath = "/api/status"

func Routes(app *fiber.App, baseURL string, ctl Controllers) {
	if baseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(baseURL, ctlIndex.Index)
		app.Get(baseURL+"/", ctlIndex.Index)
	}
	app.Get(baseURL+"/ping", ctlIndex.Ping)
	app.Get("/favicon.ico", router.ResponseNoContent)

	if ctl.Status != nil {
		app.Get(baseURL+StatusPath, ctl.Status.Status)
	}
	if ctl.Admin != nil {
		ctl.Admin.Register(app, baseURL)
	}
}
