package task

import "time"

const (
	StatusPending = "pending"
	StatusDone    = "done"
)

type Task struct {
	ID          int        `json:"id"`
	UserID      int        `json:"user_id"`
	SubjectID   *int       `json:"subject_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

type TaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	SubjectID   *int       `json:"subject_id"`
	DueDate     *time.Time `json:"due_date"`
	Status      string     `json:"status"`
}
