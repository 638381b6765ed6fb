package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apierr"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/identity"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/services"
	"github.com/gofiber/fiber/v2"
)

// Verifier is the part of services.TokenVerifier the middleware needs.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*identity.Identity, error)
}

// Authenticate verifies the bearer token and stores the caller's identity.
// No identity is stored when verification fails.
func Authenticate(verifier Verifier, rec metrics.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c.Get(fiber.HeaderAuthorization))
		if err == nil {
			var id *identity.Identity
			id, err = verifier.Verify(c.UserContext(), raw)
			if err == nil {
				identity.Set(c, id)
				return c.Next()
			}
		}

		apiErr, reason := authError(err)
		rec.RecordAuthFailure(reason)
		return apiErr.Wrap(err)
	}
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", services.ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", services.ErrMalformedToken
	}
	token = strings.TrimSpace(token)
	if !found || token == "" {
		return "", services.ErrMissingToken
	}
	return token, nil
}

func authError(err error) (*apierr.Error, string) {
	switch {
	case errors.Is(err, services.ErrMissingToken):
		return apierr.MissingToken(), "missing"
	case errors.Is(err, services.ErrExpiredToken):
		return apierr.ExpiredToken(), "expired"
	case errors.Is(err, services.ErrMalformedToken):
		return apierr.InvalidToken("Invalid token: malformed credential"), "malformed"
	case errors.Is(err, services.ErrInvalidSignature):
		return apierr.InvalidToken("Invalid token: signature verification failed"), "signature"
	case errors.Is(err, services.ErrInvalidClaims):
		return apierr.InvalidToken("Invalid token payload"), "claims"
	case errors.Is(err, services.ErrKeysUnavailable):
		return apierr.KeysUnavailable(), "keys_unavailable"
	}
	return apierr.InvalidToken("Invalid token"), "other"
}
