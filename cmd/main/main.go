package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	cron "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/gdbrns/go-whatsapp-forward-bot/internal"
	ctlAdmin "github.com/gdbrns/go-whatsapp-forward-bot/internal/admin"
	"github.com/gdbrns/go-whatsapp-forward-bot/internal/bridge"
	botCommands "github.com/gdbrns/go-whatsapp-forward-bot/internal/commands"
	ctlStatus "github.com/gdbrns/go-whatsapp-forward-bot/internal/status"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/auth"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/commands"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/forwarder"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/log"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/routing"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/router"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/sanitizer"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/store"
	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/whatsapp"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Print(nil).WithError(err).Fatal("WhatsApp Forward Bot stopped")
	}
}

func run(ctx context.Context) error {
	startedAt := time.Now()

	// Datastore
	driver := whatsapp.NormalizeDatastoreDriver(env.GetEnvStringOrDefault("WHATSAPP_DATASTORE_TYPE", "postgres"))
	dsn := whatsapp.NormalizeDatastoreDSN(driver, env.MustGetEnvString("WHATSAPP_DATASTORE_URI"))

	container, err := whatsapp.OpenDatastore(ctx, driver, dsn)
	if err != nil {
		return err
	}
	settings, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	defer settings.Close()

	// Sessions
	whatsapp.ApplyVersionFromEnv()
	versions := whatsapp.NewVersionRefresher()
	manager := whatsapp.NewManager(whatsapp.ConfigFromEnv(), whatsapp.NewClientFactory(whatsapp.ClientConfig{
		Container: container,
		Routing:   settings,
		ProxyURL:  env.GetEnvStringOrDefault("WHATSAPP_CLIENT_PROXY_URL", ""),
	}))
	defer manager.Close()

	// Forwarding
	sanitizerOpts, err := sanitizer.OptionsFromEnv()
	if err != nil {
		return err
	}
	table := routing.NewTable(routing.GroupsFromEnv()...)
	fwd := forwarder.New(forwarder.Config{
		Table:        table,
		Sanitizer:    sanitizer.New(sanitizerOpts),
		Sender:       manager,
		Overrides:    settings,
		Substitution: sanitizerOpts.Substitution,
		Interval:     forwarder.IntervalFromEnv(),
	})
	log.Print(nil).WithField("groups", len(table.Groups())).Info("Routing Table Loaded")

	// Commands
	registry := commands.NewRegistry()
	if err := botCommands.Register(registry, botCommands.Deps{
		WhatsApp:        manager,
		StartedAt:       startedAt,
		ForwardInterval: env.GetEnvDurationOrDefault("FORWARD_COMMAND_INTERVAL", 0),
		BotName:         env.GetEnvStringOrDefault("BOT_NAME", ""),
	}); err != nil {
		return err
	}
	dispatcher := commands.NewDispatcher(commands.ConfigFromEnv(), registry, manager, settings)

	// Telegram
	tg := bridge.New(bridge.ConfigFromEnv(), manager)

	manager.OnMessage(fwd.Handle)
	manager.OnMessage(dispatcher.Handle)
	manager.OnMessage(tg.Mirror)
	manager.OnConnected(func(ctx context.Context, sessionID string) {
		if err := tg.Start(ctx, sessionID); err != nil {
			log.Session(sessionID, "telegram").WithError(err).Error("Failed to Start Telegram Bridge")
		}
	})

	// HTTP
	httpCfg := router.ConfigFromEnv()
	authCfg := auth.ConfigFromEnv()
	startupCfg := internal.StartupConfigFromEnv()
	defaultSession := "wasi_session"
	if len(startupCfg.SessionIDs) > 0 {
		defaultSession = startupCfg.SessionIDs[0]
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          router.HttpErrorHandler,
		BodyLimit:             httpCfg.BodyLimit,
		ReadBufferSize:        8192,
		DisableStartupMessage: true,
	})
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())
	app.Use(compress.New(compress.Config{Level: compress.Level(httpCfg.GZipLevel)}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: httpCfg.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Secret",
		AllowMethods: "GET,POST",
	}))
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))
	app.Use(router.HttpCacheInMemory(httpCfg.CacheTTLSeconds, httpCfg.BaseURL+internal.StatusPath))
	app.Use(router.HttpRealIP())

	internal.Routes(app, httpCfg.BaseURL, internal.Controllers{
		Status: &ctlStatus.Controller{
			DefaultSession: defaultSession,
			Sessions:       manager,
			Forwarding:     fwd,
			Telegram:       tg,
		},
		Admin: &ctlAdmin.Controller{
			Auth:     authCfg,
			Sessions: manager,
			Versions: versions,
		},
	})

	// Routines
	scheduler := cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)), cron.WithSeconds())
	if err := internal.Routines(ctx, scheduler, internal.RoutineConfigFromEnv(), manager, versions); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Print(nil).WithField("addr", httpCfg.ListenAddr()).Info("HTTP Server Listening")
		return app.Listen(httpCfg.ListenAddr())
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})
	g.Go(func() error {
		internal.Startup(gctx, manager, startupCfg)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Print(nil).Info("Shutting Down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
