package middleware

import (
	"net/url"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apierr"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/identity"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/gofiber/fiber/v2"
)

// RequireOwner rejects requests whose path owner differs from the verified
// subject. It runs before any storage access; the repository's owner filter
// is the second, independent check.
func RequireOwner(param string, rec metrics.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := identity.From(c)
		if !ok {
			rec.RecordAuthFailure("missing")
			return apierr.MissingToken()
		}
		// Params are raw path segments; subjects may need percent-encoding.
		owner, err := url.PathUnescape(c.Params(param))
		if err != nil || owner != id.Subject {
			rec.RecordAuthFailure("forbidden")
			return apierr.Forbidden()
		}
		return c.Next()
	}
}
