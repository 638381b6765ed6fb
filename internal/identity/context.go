package identity

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Identity is the verified caller of a single request.
type Identity struct {
	Subject   string
	Email     string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type localsKey struct{}

// Set stores the identity for the current request. It is called once, by the
// authentication middleware, right after the token verifies.
func Set(c *fiber.Ctx, id *Identity) {
	c.Locals(localsKey{}, *id)
}

// From returns the identity stored for the current request. The copy returned
// cannot be used to mutate what later handlers see.
func From(c *fiber.Ctx) (Identity, bool) {
	id, ok := c.Locals(localsKey{}).(Identity)
	if !ok || id.Subject == "" {
		return Identity{}, false
	}
	return id, true
}

// UserID returns the subject of the current request, or "" when the request is
// unauthenticated. Intended for logging.
func UserID(c *fiber.Ctx) string {
	id, _ := From(c)
	return id.Subject
}
