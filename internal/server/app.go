package server

import (
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apierr"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/config"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/routes"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

// NewApp builds the fiber app with the global middleware chain and all routes.
func NewApp(cfg *config.Config, logger *slog.Logger, opts routes.Options) *fiber.App {
	rec := opts.Deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	app := fiber.New(fiber.Config{
		AppName:      "todo-api",
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: apierr.Handler,
	})

	// Order matters: the request id must exist before anything logs, and the
	// logger must wrap recover so a panic is logged with its final status.
	// Inbound X-Request-ID is discarded so every request gets a fresh id.
	app.Use(middleware.StripClientRequestID())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(middleware.RequestLogger(logger, rec))
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !cfg.IsProduction(),
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(middleware.SecurityHeaders())
	if cfg.RequestTimeout > 0 {
		app.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	routes.Setup(app, opts)

	return app
}
