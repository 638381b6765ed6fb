package middleware

import (
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const clientRequestIDKey = "client_request_id"

// maxClientRequestID bounds what a caller can put in our logs.
const maxClientRequestID = 128

// StripClientRequestID removes an inbound X-Request-ID so the requestid
// middleware always generates a fresh id. The caller's value, cleaned of
// control characters, is kept for the request log only.
func StripClientRequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if raw := c.Get(fiber.HeaderXRequestID); raw != "" {
			// c.Get aliases the header buffer that Del is about to reuse.
			raw = utils.CopyString(raw)
			c.Request().Header.Del(fiber.HeaderXRequestID)
			if cleaned := sanitizeRequestID(raw); cleaned != "" {
				c.Locals(clientRequestIDKey, cleaned)
			}
		}
		return c.Next()
	}
}

// ClientRequestID returns the X-Request-ID the caller sent, if any.
func ClientRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(clientRequestIDKey).(string)
	return id
}

func sanitizeRequestID(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > maxClientRequestID {
		cleaned = cleaned[:maxClientRequestID]
	}
	return cleaned
}
