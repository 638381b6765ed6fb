package tasks

import "time"

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
)

type Task struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"size:255;not null;index" json:"-"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Description *string   `gorm:"type:text" json:"description"`
	Completed   bool      `gorm:"not null;default:false;index" json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

// --- DTOs ---

// CreateTaskRequest carries no owner field: the owner always comes from the
// verified identity.
type CreateTaskRequest struct {
	Title       string  `json:"title" validate:"notblank,max=200"`
	Description *string `json:"description" validate:"omitnil,max=2000"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title" validate:"omitnil,notblank,max=200"`
	Description *string `json:"description" validate:"omitnil,max=2000"`
}

type ListFilter struct {
	Completed *bool
}
