package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/config"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/dto"
	"github.com/spf13/cobra"
)

// newHealthcheckCommand checks the local /health endpoint. It lets container
// images without a shell run a HEALTHCHECK.
func newHealthcheckCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit non-zero unless the local server reports healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			return checkHealth(cmd.Context(), "http://127.0.0.1:"+cfg.Port+"/health", timeout)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "request timeout")
	return cmd
}

func checkHealth(parent context.Context, url string, timeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health dto.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("health check: decode body: %w", err)
	}
	if health.Status != "healthy" {
		return fmt.Errorf("health check reported %q (db: %s, keys loaded: %t)", health.Status, health.DB, health.Keys.Loaded)
	}
	return nil
}
