package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, handlerErr error) (*http.Response, dto.ErrorResponse) {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: Handler})
	app.Use(requestid.New())
	app.Get("/", func(c *fiber.Ctx) error { return handlerErr })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var body dto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestHandler_RendersAPIError(t *testing.T) {
	resp, body := render(t, Validation(map[string]string{"title": "title must not be empty"}))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, body.Code)
	assert.Equal(t, http.StatusBadRequest, body.StatusCode)
	assert.Equal(t, "title must not be empty", body.Errors["title"])
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, resp.Header.Get(fiber.HeaderXRequestID), body.RequestID)
}

func TestHandler_SetsBearerChallenge(t *testing.T) {
	resp, body := render(t, ExpiredToken())

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeTokenExpired, body.Code)
	assert.Contains(t, resp.Header.Get(fiber.HeaderWWWAuthenticate), `Bearer realm="api"`)
}

func TestHandler_HidesInternalCause(t *testing.T) {
	resp, body := render(t, errors.New("pq: password authentication failed for user postgres"))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, CodeInternal, body.Code)
	assert.Equal(t, "Internal server error", body.Detail)
}

func TestHandler_WrappedCauseIsNotRendered(t *testing.T) {
	_, body := render(t, StorageUnavailable().Wrap(errors.New("dial tcp 10.0.0.5:5432: connection refused")))

	assert.Equal(t, CodeStorageUnavailable, body.Code)
	assert.NotContains(t, body.Detail, "10.0.0.5")
}

func TestHandler_MapsFiberErrors(t *testing.T) {
	resp, body := render(t, fiber.ErrTooManyRequests)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, CodeRateLimited, body.Code)

	resp, body = render(t, fiber.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotFound, body.Code)
}
