package handlers

import (
	"context"
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/database"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/dto"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// KeyStatuser reports the state of the verification key cache.
type KeyStatuser interface {
	Status() services.KeySetStatus
}

type HealthHandler struct {
	db   *gorm.DB
	keys KeyStatuser
}

// NewHealthHandler builds the handler. keys may be nil when tokens are
// verified with a static shared secret only.
func NewHealthHandler(db *gorm.DB, keys KeyStatuser) *HealthHandler {
	return &HealthHandler{db: db, keys: keys}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "healthy"

	dbStatus := "ok"
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := database.Ping(ctx, h.db); err != nil {
		dbStatus = "unhealthy: " + err.Error()
		status = "degraded"
	}

	keys := dto.KeySetResponse{Source: "static", Loaded: true}
	if h.keys != nil {
		st := h.keys.Status()
		keys = dto.KeySetResponse{
			Source: "jwks",
			Loaded: st.Loaded,
			Count:  st.Keys,
			AgeSec: int64(st.Age / time.Second),
			Stale:  st.Stale,
		}
		if !st.Loaded {
			status = "degraded"
		}
	}

	return c.JSON(dto.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		Keys:      keys,
	})
}

func Root(c *fiber.Ctx) error {
	return c.JSON(dto.RootResponse{
		Message: "Todo API",
		Health:  "/health",
		Metrics: "/metrics",
	})
}
