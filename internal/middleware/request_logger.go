package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apierr"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/identity"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/gofiber/fiber/v2"
)

// RequestLogger writes one structured line per request, carrying the same
// request_id that error bodies return. It is the only ERROR record a failed
// request produces.
func RequestLogger(logger *slog.Logger, rec metrics.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		chainErr := c.Next()
		if chainErr != nil {
			// Render now so the logged status is the one the client sees.
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		latency := time.Since(start)
		status := c.Response().StatusCode()
		rec.RecordRequest(c.Method(), status, latency)

		attrs := []any{
			"request_id", apierr.RequestID(c),
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency_ms", float64(latency.Microseconds()) / 1000,
			"ip", c.IP(),
		}
		if userID := identity.UserID(c); userID != "" {
			attrs = append(attrs, "user_id", userID)
		}
		if clientID := ClientRequestID(c); clientID != "" {
			attrs = append(attrs, "client_request_id", clientID)
		}
		if chainErr != nil && status >= 500 {
			var apiErr *apierr.Error
			if errors.As(chainErr, &apiErr) {
				attrs = append(attrs, "code", apiErr.Code)
			}
			attrs = append(attrs, "error", chainErr.Error())
		}

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "http_request", attrs...)
		return nil
	}
}
