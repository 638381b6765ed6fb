package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/dto"
	"github.com/stretchr/testify/assert"
)

func healthServer(t *testing.T, status int, body dto.HealthResponse) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/health"
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    dto.HealthResponse
		wantErr bool
	}{
		{name: "healthy", status: http.StatusOK, body: dto.HealthResponse{Status: "healthy", DB: "ok", Keys: dto.KeySetResponse{Loaded: true}}},
		{name: "degraded database", status: http.StatusOK, body: dto.HealthResponse{Status: "degraded", DB: "unhealthy: connection refused"}, wantErr: true},
		{name: "degraded keys", status: http.StatusOK, body: dto.HealthResponse{Status: "degraded", DB: "ok"}, wantErr: true},
		{name: "server error", status: http.StatusServiceUnavailable, body: dto.HealthResponse{Status: "healthy"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkHealth(context.Background(), healthServer(t, tt.status, tt.body), time.Second)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckHealth_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/health"
	srv.Close()

	assert.Error(t, checkHealth(context.Background(), url, time.Second))
}
