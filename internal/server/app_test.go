package server

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apps"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apps/tasks"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/config"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/database"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/routes"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

type testServer struct {
	app  *fiber.App
	priv ed25519.PrivateKey
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := &config.Config{
		AppEnv:         "test",
		CORSOrigins:    "*",
		RequestTimeout: 5 * time.Second,
		DBMaxOpenConns: 1,
		DBMaxIdleConns: 1,
	}
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.Open(sqlite.Open(":memory:"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	plugins := []apps.Plugin{tasks.New()}
	for _, p := range plugins {
		require.NoError(t, database.MigrateModels(db, p.Models()))
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	verifier := services.NewTokenVerifier(services.VerifierOptions{
		Keys:           services.NewStaticKeys(services.StaticKey{KID: "test", Alg: "EdDSA", Key: pub}),
		Algorithms:     []string{"EdDSA"},
		VerifyIssuedAt: true,
	})

	registry := prometheus.NewRegistry()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	app := NewApp(cfg, logger, routes.Options{
		Deps: apps.Deps{
			DB:      db,
			Config:  cfg,
			Metrics: metrics.NewCollector(registry),
		},
		Verifier:      verifier,
		HealthHandler: handlers.NewHealthHandler(db, nil),
		Gatherer:      registry,
		Plugins:       plugins,
	})

	return &testServer{app: app, priv: priv}
}

func (s *testServer) token(t *testing.T, sub string, expiresIn time.Duration) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, services.TokenClaims{
		Email: sub + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	})
	tok.Header["kid"] = "test"
	signed, err := tok.SignedString(s.priv)
	require.NoError(t, err)
	return signed
}

type response struct {
	status int
	header http.Header
	body   map[string]any
	raw    []byte
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := response{status: resp.StatusCode, header: resp.Header, raw: raw}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), "body: %s", raw)
	}
	return out
}

func taskIDFrom(t *testing.T, r response) int {
	t.Helper()
	data, ok := r.body["data"].(map[string]any)
	require.True(t, ok, "body: %s", r.raw)
	return int(data["id"].(float64))
}

func TestApp_OwnerCreatesAndListsTasks(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.token(t, "alice", time.Hour)

	created := s.do(t, http.MethodPost, "/api/alice/tasks", alice, map[string]any{
		"title":       "Write report",
		"description": "quarterly",
		"user_id":     "mallory",
	})
	require.Equal(t, http.StatusCreated, created.status, "body: %s", created.raw)
	assert.Equal(t, true, created.body["success"])
	data := created.body["data"].(map[string]any)
	assert.NotContains(t, data, "user_id")
	assert.Equal(t, "Write report", data["title"])
	assert.Equal(t, false, data["completed"])

	list := s.do(t, http.MethodGet, "/api/alice/tasks", alice, nil)
	require.Equal(t, http.StatusOK, list.status)
	items := list.body["data"].([]any)
	require.Len(t, items, 1)

	// The owner comes from the token, not from the body.
	mallory := s.do(t, http.MethodGet, "/api/mallory/tasks", s.token(t, "mallory", time.Hour), nil)
	require.Equal(t, http.StatusOK, mallory.status)
	assert.Equal(t, []any{}, mallory.body["data"])

	id := taskIDFrom(t, created)
	path := "/api/alice/tasks/" + strconv.Itoa(id)

	toggled := s.do(t, http.MethodPatch, path+"/complete", alice, nil)
	require.Equal(t, http.StatusOK, toggled.status)
	assert.Equal(t, true, toggled.body["data"].(map[string]any)["completed"])

	updated := s.do(t, http.MethodPut, path, alice, map[string]any{"title": "Final report"})
	require.Equal(t, http.StatusOK, updated.status)
	assert.Equal(t, "Final report", updated.body["data"].(map[string]any)["title"])

	deleted := s.do(t, http.MethodDelete, path, alice, nil)
	assert.Equal(t, http.StatusNoContent, deleted.status)
	assert.Empty(t, deleted.raw)

	gone := s.do(t, http.MethodGet, path, alice, nil)
	assert.Equal(t, http.StatusNotFound, gone.status)
}

func TestApp_EmptyListIsNotAnError(t *testing.T) {
	s := newTestServer(t, nil)

	r := s.do(t, http.MethodGet, "/api/carol/tasks", s.token(t, "carol", time.Hour), nil)
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, []any{}, r.body["data"])
}

func TestApp_PathOwnerMismatchIsForbidden(t *testing.T) {
	s := newTestServer(t, nil)
	bob := s.token(t, "bob", time.Hour)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/alice/tasks"},
		{http.MethodPost, "/api/alice/tasks"},
		{http.MethodGet, "/api/alice/tasks/1"},
		{http.MethodDelete, "/api/alice/tasks/1"},
	} {
		r := s.do(t, tc.method, tc.path, bob, map[string]any{"title": "x"})
		assert.Equal(t, http.StatusForbidden, r.status, "%s %s", tc.method, tc.path)
		assert.Equal(t, "FORBIDDEN", r.body["code"])
	}
}

func TestApp_ForeignTaskIsIndistinguishableFromMissing(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.token(t, "alice", time.Hour)
	bob := s.token(t, "bob", time.Hour)

	created := s.do(t, http.MethodPost, "/api/alice/tasks", alice, map[string]any{"title": "secret"})
	require.Equal(t, http.StatusCreated, created.status)
	aliceTask := strconv.Itoa(taskIDFrom(t, created))

	for _, tc := range []struct {
		method string
		suffix string
		body   any
	}{
		{http.MethodGet, "", nil},
		{http.MethodPut, "", map[string]any{"title": "mine now"}},
		{http.MethodPatch, "/complete", nil},
		{http.MethodDelete, "", nil},
	} {
		foreign := s.do(t, tc.method, "/api/bob/tasks/"+aliceTask+tc.suffix, bob, tc.body)
		missing := s.do(t, tc.method, "/api/bob/tasks/424242"+tc.suffix, bob, tc.body)

		assert.Equal(t, http.StatusNotFound, foreign.status)
		assert.Equal(t, missing.status, foreign.status)

		// Only the per-request correlation id may differ.
		delete(foreign.body, "request_id")
		delete(missing.body, "request_id")
		assert.Equal(t, missing.body, foreign.body, "%s %s", tc.method, tc.suffix)
	}

	still := s.do(t, http.MethodGet, "/api/alice/tasks/"+aliceTask, alice, nil)
	require.Equal(t, http.StatusOK, still.status)
	data := still.body["data"].(map[string]any)
	assert.Equal(t, "secret", data["title"])
	assert.Equal(t, false, data["completed"])
}

func TestApp_AuthenticationFailures(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{name: "missing header", header: "", wantCode: "MISSING_TOKEN"},
		{name: "empty bearer", header: "Bearer ", wantCode: "MISSING_TOKEN"},
		{name: "wrong scheme", header: "Basic YWxpY2U6cHc=", wantCode: "INVALID_TOKEN"},
		{name: "garbage token", header: "Bearer not-a-jwt", wantCode: "INVALID_TOKEN"},
		{name: "expired token", header: "Bearer " + s.token(t, "alice", -time.Minute), wantCode: "TOKEN_EXPIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/alice/tasks", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := s.app.Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.True(t, strings.HasPrefix(resp.Header.Get(fiber.HeaderWWWAuthenticate), "Bearer"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body["code"])
			assert.EqualValues(t, http.StatusUnauthorized, body["status_code"])
			assert.NotEmpty(t, body["detail"])
			assert.Equal(t, resp.Header.Get(fiber.HeaderXRequestID), body["request_id"])
		})
	}
}

func TestApp_ValidationErrorsAreFieldLevel(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.token(t, "alice", time.Hour)

	r := s.do(t, http.MethodPost, "/api/alice/tasks", alice, map[string]any{"title": "   "})
	require.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "VALIDATION_ERROR", r.body["code"])
	fields := r.body["errors"].(map[string]any)
	assert.Contains(t, fields, "title")

	r = s.do(t, http.MethodGet, "/api/alice/tasks?completed=maybe", alice, nil)
	assert.Equal(t, http.StatusBadRequest, r.status)
	assert.Equal(t, "VALIDATION_ERROR", r.body["code"])
}

func TestApp_NonNumericTaskIDIsNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	r := s.do(t, http.MethodGet, "/api/alice/tasks/abc", s.token(t, "alice", time.Hour), nil)
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, "TASK_NOT_FOUND", r.body["code"])
}

func TestApp_PublicRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	root := s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, root.status)
	assert.Equal(t, "/health", root.body["health"])

	for _, path := range []string{"/health", "/api/health"} {
		health := s.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, health.status, path)
		assert.Equal(t, "healthy", health.body["status"])
		assert.Equal(t, "ok", health.body["db"])
		keys := health.body["keys"].(map[string]any)
		assert.Equal(t, "static", keys["source"])
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "todo_http_requests_total")
}

func TestApp_UnknownRouteUsesErrorShape(t *testing.T) {
	s := newTestServer(t, nil)

	r := s.do(t, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, r.status)
	assert.Equal(t, "NOT_FOUND", r.body["code"])
	assert.NotEmpty(t, r.body["request_id"])
}

func TestApp_RateLimitUsesErrorShape(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.RateLimitPerMinute = 1 })
	alice := s.token(t, "alice", time.Hour)

	first := s.do(t, http.MethodGet, "/api/alice/tasks", alice, nil)
	require.Equal(t, http.StatusOK, first.status)

	second := s.do(t, http.MethodGet, "/api/alice/tasks", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.status)
	assert.Equal(t, "RATE_LIMITED", second.body["code"])
}

func TestApp_RequestIDIsFreshPerRequest(t *testing.T) {
	s := newTestServer(t, nil)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/alice/tasks", nil)
		req.Header.Set(fiber.HeaderXRequestID, "caller-chosen-id")
		resp, err := s.app.Test(req, -1)
		require.NoError(t, err)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		headerID := resp.Header.Get(fiber.HeaderXRequestID)
		assert.NotEqual(t, "caller-chosen-id", headerID)
		_, err = uuid.Parse(headerID)
		assert.NoError(t, err, "request id %q", headerID)
		assert.Equal(t, headerID, body["request_id"])
		assert.False(t, seen[headerID], "request id reused")
		seen[headerID] = true
	}
}

func TestApp_PercentEncodedOwnerMatchesSubject(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.token(t, "user 1", time.Hour)

	created := s.do(t, http.MethodPost, "/api/user%201/tasks", token, map[string]any{"title": "spaced"})
	require.Equal(t, http.StatusCreated, created.status, "body: %s", created.raw)

	list := s.do(t, http.MethodGet, "/api/user%201/tasks", token, nil)
	require.Equal(t, http.StatusOK, list.status)
	assert.Len(t, list.body["data"].([]any), 1)

	other := s.do(t, http.MethodGet, "/api/user%202/tasks", token, nil)
	assert.Equal(t, http.StatusForbidden, other.status)
}

func TestApp_ExpiredRequestDeadlineIsUnavailable(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.RequestTimeout = time.Nanosecond })
	alice := s.token(t, "alice", time.Hour)

	list := s.do(t, http.MethodGet, "/api/alice/tasks", alice, nil)
	assert.Equal(t, http.StatusServiceUnavailable, list.status)
	assert.Equal(t, "STORAGE_UNAVAILABLE", list.body["code"])

	created := s.do(t, http.MethodPost, "/api/alice/tasks", alice, map[string]any{"title": "late"})
	assert.Equal(t, http.StatusServiceUnavailable, created.status)
	assert.Equal(t, "STORAGE_UNAVAILABLE", created.body["code"])
}
