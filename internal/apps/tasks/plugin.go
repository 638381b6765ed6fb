package tasks

import (
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apps"
	"github.com/gofiber/fiber/v2"
)

type TasksPlugin struct{}

func New() *TasksPlugin {
	return &TasksPlugin{}
}

func (p *TasksPlugin) ID() string { return "tasks" }

func (p *TasksPlugin) Models() []interface{} {
	return []interface{}{
		&Task{},
	}
}

func (p *TasksPlugin) RegisterRoutes(router fiber.Router, deps apps.Deps) {
	repo := NewTaskRepository(deps.DB, deps.Metrics)
	handler := NewTaskHandler(repo)

	router.Get("/tasks", handler.List)
	router.Post("/tasks", handler.Create)
	router.Get("/tasks/:id", handler.Get)
	router.Put("/tasks/:id", handler.Update)
	router.Patch("/tasks/:id/complete", handler.Toggle)
	router.Delete("/tasks/:id", handler.Delete)
}
