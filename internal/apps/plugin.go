package apps

import (
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/config"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Deps are the shared collaborators handed to every plugin.
type Deps struct {
	DB      *gorm.DB
	Config  *config.Config
	Metrics metrics.Recorder
}

// Plugin defines the interface every app module must implement.
type Plugin interface {
	// ID returns the unique module identifier.
	ID() string

	// Models returns the list of GORM model pointers for AutoMigrate.
	Models() []interface{}

	// RegisterRoutes mounts module routes on the given Fiber group.
	// The group is prefixed with /api/:owner, authenticated, and rejects
	// callers whose subject differs from :owner.
	RegisterRoutes(router fiber.Router, deps Deps)
}
