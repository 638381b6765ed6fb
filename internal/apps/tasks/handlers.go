package tasks

import (
	"errors"
	"strconv"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apierr"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/dto"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/identity"
	"github.com/gofiber/fiber/v2"
)

type TaskHandler struct {
	repo *TaskRepository
}

func NewTaskHandler(repo *TaskRepository) *TaskHandler {
	return &TaskHandler{repo: repo}
}

func (h *TaskHandler) List(c *fiber.Ctx) error {
	caller, ok := identity.From(c)
	if !ok {
		return apierr.MissingToken()
	}

	var filter ListFilter
	if raw := c.Query("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			return apierr.Validation(map[string]string{"completed": "completed must be true or false"})
		}
		filter.Completed = &completed
	}

	list, err := h.repo.List(c.UserContext(), caller.Subject, filter)
	if err != nil {
		return taskError(err)
	}

	return c.JSON(dto.OK(list))
}

func (h *TaskHandler) Create(c *fiber.Ctx) error {
	caller, ok := identity.From(c)
	if !ok {
		return apierr.MissingToken()
	}

	var req CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest("Invalid request body").Wrap(err)
	}

	task, err := h.repo.Create(c.UserContext(), caller.Subject, req)
	if err != nil {
		return taskError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.OK(task))
}

func (h *TaskHandler) Get(c *fiber.Ctx) error {
	caller, ok := identity.From(c)
	if !ok {
		return apierr.MissingToken()
	}

	taskID, ok := parseTaskID(c)
	if !ok {
		return apierr.TaskNotFound()
	}

	task, err := h.repo.Get(c.UserContext(), caller.Subject, taskID)
	if err != nil {
		return taskError(err)
	}

	return c.JSON(dto.OK(task))
}

func (h *TaskHandler) Update(c *fiber.Ctx) error {
	caller, ok := identity.From(c)
	if !ok {
		return apierr.MissingToken()
	}

	taskID, ok := parseTaskID(c)
	if !ok {
		return apierr.TaskNotFound()
	}

	var req UpdateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.BadRequest("Invalid request body").Wrap(err)
	}

	task, err := h.repo.Update(c.UserContext(), caller.Subject, taskID, req)
	if err != nil {
		return taskError(err)
	}

	return c.JSON(dto.OK(task))
}

func (h *TaskHandler) Toggle(c *fiber.Ctx) error {
	caller, ok := identity.From(c)
	if !ok {
		return apierr.MissingToken()
	}

	taskID, ok := parseTaskID(c)
	if !ok {
		return apierr.TaskNotFound()
	}

	task, err := h.repo.Toggle(c.UserContext(), caller.Subject, taskID)
	if err != nil {
		return taskError(err)
	}

	return c.JSON(dto.OK(task))
}

func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	caller, ok := identity.From(c)
	if !ok {
		return apierr.MissingToken()
	}

	taskID, ok := parseTaskID(c)
	if !ok {
		return apierr.TaskNotFound()
	}

	if err := h.repo.Delete(c.UserContext(), caller.Subject, taskID); err != nil {
		return taskError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// parseTaskID treats an id that cannot exist like one that does not.
func parseTaskID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func taskError(err error) error {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		return apierr.Validation(vErr.Fields).Wrap(err)
	case errors.Is(err, ErrTaskNotFound):
		return apierr.TaskNotFound()
	case errors.Is(err, ErrStorageUnavailable):
		return apierr.StorageUnavailable().Wrap(err)
	}
	return apierr.Internal().Wrap(err)
}
