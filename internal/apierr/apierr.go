// Package apierr defines the API's error values and the fiber error handler
// that renders them in the one error body shape every endpoint shares.
package apierr

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/dto"
	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
)

const (
	CodeMissingToken       = "MISSING_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeForbidden          = "FORBIDDEN"
	CodeTaskNotFound       = "TASK_NOT_FOUND"
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeRateLimited        = "RATE_LIMITED"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeKeysUnavailable    = "KEYS_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error is an HTTP-facing error. Handlers and middleware return it; Handler
// renders it.
type Error struct {
	Status    int
	Code      string
	Detail    string
	Fields    map[string]string
	Challenge string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %s: %v", e.Status, e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code, detail string) *Error {
	return &Error{Status: status, Code: code, Detail: detail}
}

// Wrap attaches the underlying cause. The cause is logged, never rendered.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func MissingToken() *Error {
	return &Error{
		Status:    fiber.StatusUnauthorized,
		Code:      CodeMissingToken,
		Detail:    "Not authenticated: bearer token is missing",
		Challenge: `Bearer realm="api"`,
	}
}

func InvalidToken(detail string) *Error {
	return &Error{
		Status:    fiber.StatusUnauthorized,
		Code:      CodeInvalidToken,
		Detail:    detail,
		Challenge: `Bearer realm="api", error="invalid_token"`,
	}
}

func ExpiredToken() *Error {
	return &Error{
		Status:    fiber.StatusUnauthorized,
		Code:      CodeTokenExpired,
		Detail:    "Token has expired",
		Challenge: `Bearer realm="api", error="invalid_token", error_description="token expired"`,
	}
}

func Forbidden() *Error {
	return New(fiber.StatusForbidden, CodeForbidden, "You can only access your own data")
}

func TaskNotFound() *Error {
	return New(fiber.StatusNotFound, CodeTaskNotFound, "Task not found")
}

func Validation(fields map[string]string) *Error {
	return &Error{
		Status: fiber.StatusBadRequest,
		Code:   CodeValidation,
		Detail: "Validation failed",
		Fields: fields,
	}
}

func BadRequest(detail string) *Error {
	return New(fiber.StatusBadRequest, CodeBadRequest, detail)
}

func StorageUnavailable() *Error {
	return New(fiber.StatusServiceUnavailable, CodeStorageUnavailable, "Storage temporarily unavailable, retry later")
}

func KeysUnavailable() *Error {
	return New(fiber.StatusServiceUnavailable, CodeKeysUnavailable, "Token verification temporarily unavailable, retry later")
}

func Internal() *Error {
	return New(fiber.StatusInternalServerError, CodeInternal, "Internal server error")
}

// RequestID returns the correlation id assigned by the requestid middleware.
func RequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}

// Handler is the application's fiber ErrorHandler.
func Handler(c *fiber.Ctx, err error) error {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		var fe *fiber.Error
		switch {
		case errors.As(err, &fe):
			apiErr = fromFiberError(fe)
		default:
			apiErr = Internal().Wrap(err)
		}
	}

	requestID := RequestID(c)

	// Only expose error details for client errors (4xx), not server errors (5xx).
	// The request logger records the failure at ERROR; this line is for debugging.
	if apiErr.Status >= 500 {
		slog.Debug("request failed",
			"request_id", requestID,
			"method", c.Method(),
			"path", c.Path(),
			"status", apiErr.Status,
			"code", apiErr.Code,
			"error", err.Error(),
		)
		if hub := sentryfiber.GetHubFromContext(c); hub != nil {
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("request_id", requestID)
				hub.CaptureException(err)
			})
		}
	}

	if apiErr.Challenge != "" {
		c.Set(fiber.HeaderWWWAuthenticate, apiErr.Challenge)
	}

	return c.Status(apiErr.Status).JSON(dto.ErrorResponse{
		Detail:     apiErr.Detail,
		StatusCode: apiErr.Status,
		RequestID:  requestID,
		Code:       apiErr.Code,
		Errors:     apiErr.Fields,
	})
}

func fromFiberError(fe *fiber.Error) *Error {
	switch fe.Code {
	case fiber.StatusNotFound:
		return New(fe.Code, CodeNotFound, "Not found")
	case fiber.StatusTooManyRequests:
		return New(fe.Code, CodeRateLimited, "Too many requests")
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity, fiber.StatusRequestEntityTooLarge:
		return New(fe.Code, CodeBadRequest, fe.Message)
	}
	if fe.Code >= 500 {
		return New(fe.Code, CodeInternal, "Internal server error").Wrap(fe)
	}
	return New(fe.Code, CodeBadRequest, fe.Message)
}
