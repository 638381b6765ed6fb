package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apierr"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apps"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
)

// Options carries what Setup mounts besides the plugins.
type Options struct {
	Deps          apps.Deps
	Verifier      middleware.Verifier
	HealthHandler *handlers.HealthHandler
	// Gatherer serves /metrics; nil leaves the route unmounted.
	Gatherer prometheus.Gatherer
	Plugins  []apps.Plugin
}

func Setup(app *fiber.App, opts Options) {
	rec := opts.Deps.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	// Public
	app.Get("/", handlers.Root)
	app.Get("/health", opts.HealthHandler.Check)
	if opts.Gatherer != nil {
		app.Get("/metrics", metrics.Handler(opts.Gatherer))
	}

	api := app.Group("/api")
	api.Get("/health", opts.HealthHandler.Check)

	// Per-IP rate limit on the API surface
	if perMinute := opts.Deps.Config.RateLimitPerMinute; perMinute > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:               perMinute,
			Expiration:        1 * time.Minute,
			LimiterMiddleware: limiter.SlidingWindow{},
			KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
			LimitReached: func(c *fiber.Ctx) error {
				return apierr.New(fiber.StatusTooManyRequests, apierr.CodeRateLimited, "Too many requests")
			},
		}))
	}

	// Owner-scoped routes: the bearer token must verify and its subject must
	// equal :owner before any plugin handler runs.
	owner := api.Group("/:owner",
		middleware.Authenticate(opts.Verifier, rec),
		middleware.RequireOwner("owner", rec),
	)
	for _, p := range opts.Plugins {
		p.RegisterRoutes(owner, opts.Deps)
	}
}
