package tasks

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/identity"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrValidation         = errors.New("validation failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrOwnerRequired      = errors.New("owner is required")
)

// ValidationError lists the offending fields by their JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

var fieldMessages = map[string]string{
	"notblank": "must not be empty",
	"required": "is required",
	"max":      "must be at most %s characters",
}

// TaskRepository performs task CRUD. Every query is filtered by the owner it
// is given, so a row of another owner behaves exactly like a missing row.
type TaskRepository struct {
	db       *gorm.DB
	validate *validator.Validate
	metrics  metrics.Recorder
	now      func() time.Time
}

func NewTaskRepository(db *gorm.DB, rec metrics.Recorder) *TaskRepository {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	if rec == nil {
		rec = metrics.Nop{}
	}

	return &TaskRepository{
		db:       db,
		validate: v,
		metrics:  rec,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *TaskRepository) Create(ctx context.Context, owner string, req CreateTaskRequest) (task *Task, err error) {
	defer func() { r.record("create", err) }()

	if owner == "" {
		return nil, ErrOwnerRequired
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := r.validateRequest(&req); err != nil {
		return nil, err
	}

	now := r.now()
	task = &Task{
		UserID:      owner,
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, storageError("create task", err)
	}
	return task, nil
}

func (r *TaskRepository) List(ctx context.Context, owner string, filter ListFilter) (tasks []Task, err error) {
	defer func() { r.record("list", err) }()

	if owner == "" {
		return nil, ErrOwnerRequired
	}

	q := r.db.WithContext(ctx).Scopes(identity.ForOwner(owner))
	if filter.Completed != nil {
		q = q.Where("completed = ?", *filter.Completed)
	}

	tasks = make([]Task, 0)
	if err := q.Order("created_at DESC, id DESC").Find(&tasks).Error; err != nil {
		return nil, storageError("list tasks", err)
	}
	return tasks, nil
}

func (r *TaskRepository) Get(ctx context.Context, owner string, id uint) (task *Task, err error) {
	defer func() { r.record("get", err) }()

	if owner == "" {
		return nil, ErrOwnerRequired
	}

	task = &Task{}
	if err := r.db.WithContext(ctx).Scopes(identity.ForOwner(owner)).First(task, "id = ?", id).Error; err != nil {
		return nil, storageError("get task", err)
	}
	return task, nil
}

// Update overwrites the supplied fields only.
func (r *TaskRepository) Update(ctx context.Context, owner string, id uint, req UpdateTaskRequest) (task *Task, err error) {
	defer func() { r.record("update", err) }()

	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		req.Title = &title
	}
	if err := r.validateRequest(&req); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"updated_at": r.now()}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	return r.mutate(ctx, owner, id, "update task", updates)
}

// Toggle flips completed in a single UPDATE statement.
func (r *TaskRepository) Toggle(ctx context.Context, owner string, id uint) (task *Task, err error) {
	defer func() { r.record("toggle", err) }()

	if owner == "" {
		return nil, ErrOwnerRequired
	}

	return r.mutate(ctx, owner, id, "toggle task", map[string]interface{}{
		"completed":  gorm.Expr("NOT completed"),
		"updated_at": r.now(),
	})
}

func (r *TaskRepository) Delete(ctx context.Context, owner string, id uint) (err error) {
	defer func() { r.record("delete", err) }()

	if owner == "" {
		return ErrOwnerRequired
	}

	result := r.db.WithContext(ctx).
		Scopes(identity.ForOwner(owner)).
		Where("id = ?", id).
		Delete(&Task{})
	if result.Error != nil {
		return storageError("delete task", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepository) mutate(ctx context.Context, owner string, id uint, op string, updates map[string]interface{}) (*Task, error) {
	var task Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Task{}).
			Scopes(identity.ForOwner(owner)).
			Where("id = ?", id).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrTaskNotFound
		}
		return tx.Scopes(identity.ForOwner(owner)).First(&task, "id = ?", id).Error
	})
	if err != nil {
		return nil, storageError(op, err)
	}
	return &task, nil
}

func (r *TaskRepository) validateRequest(req interface{}) error {
	err := r.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate request: %w", err)
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg, ok := fieldMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, fe.Param())
		}
		fields[fe.Field()] = fe.Field() + " " + msg
	}
	return &ValidationError{Fields: fields}
}

func (r *TaskRepository) record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskNotFound):
		result = "not_found"
	case errors.Is(err, ErrValidation):
		result = "invalid"
	case errors.Is(err, ErrStorageUnavailable):
		result = "unavailable"
	default:
		result = "error"
	}
	r.metrics.RecordTaskOperation(op, result)
}

func storageError(op string, err error) error {
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return ErrTaskNotFound
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUnavailable reports connection-level failures: nothing was committed and
// the client may retry.
func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception, 53: insufficient resources,
		// 57P01-57P03: server shutting down or not accepting connections.
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
