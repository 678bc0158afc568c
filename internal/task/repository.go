package task

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("task not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListByUser(ctx context.Context, userID int) ([]Task, error) {
	query := `
		SELECT id, user_id, subject_id, title, COALESCE(description, ''), due_date, status, created_at
		FROM tasks
		WHERE user_id = $1
		ORDER BY due_date NULLS LAST, created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.SubjectID, &t.Title, &t.Description, &t.DueDate, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *Repository) Create(ctx context.Context, t *Task) (*Task, error) {
	query := `
		INSERT INTO tasks (user_id, subject_id, title, description, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, t.UserID, t.SubjectID, t.Title, t.Description, t.DueDate, t.Status).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Update only touches rows owned by userID.
func (r *Repository) Update(ctx context.Context, userID, taskID int, t *TaskRequest) (*Task, error) {
	updated := &Task{ID: taskID, UserID: userID}
	query := `
		UPDATE tasks
		SET title = $1, description = $2, subject_id = $3, due_date = $4, status = $5
		WHERE id = $6 AND user_id = $7
		RETURNING id, user_id, subject_id, title, COALESCE(description, ''), due_date, status, created_at
	`
	err := r.db.QueryRowContext(ctx, query, t.Title, t.Description, t.SubjectID, t.DueDate, t.Status, taskID, userID).
		Scan(&updated.ID, &updated.UserID, &updated.SubjectID, &updated.Title, &updated.Description, &updated.DueDate, &updated.Status, &updated.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (r *Repository) Delete(ctx context.Context, userID, taskID int) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = $1 AND user_id = $2", taskID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
