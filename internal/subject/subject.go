package subject

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"studyhub/internal/middleware"
)

var ErrNotFound = errors.New("subject not found")

type Subject struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListByUser(ctx context.Context, userID int) ([]Subject, error) {
	query := `SELECT id, user_id, name, COALESCE(color, ''), created_at FROM subjects WHERE user_id = $1 ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		var s Subject
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Color, &s.CreatedAt); err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

func (r *Repository) Create(ctx context.Context, s *Subject) (*Subject, error) {
	query := `INSERT INTO subjects (user_id, name, color) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, s.UserID, s.Name, s.Color).Scan(&s.ID, &s.CreatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) Update(ctx context.Context, userID, subjectID int, name, color string) (*Subject, error) {
	s := &Subject{}
	query := `
		UPDATE subjects SET name = $1, color = $2
		WHERE id = $3 AND user_id = $4
		RETURNING id, user_id, name, COALESCE(color, ''), created_at
	`
	err := r.db.QueryRowContext(ctx, query, name, color, subjectID, userID).
		Scan(&s.ID, &s.UserID, &s.Name, &s.Color, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *Repository) Delete(ctx context.Context, userID, subjectID int) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM subjects WHERE id = $1 AND user_id = $2", subjectID, userID)
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

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type subjectRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	subjects, err := h.repo.ListByUser(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "list subjects failed", "user_id", userID, "error", err)
		http.Error(w, "could not list subjects", http.StatusInternalServerError)
		return
	}
	if subjects == nil {
		subjects = []Subject{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subjects)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	var req subjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	s := &Subject{UserID: userID, Name: req.Name, Color: req.Color}
	if _, err := h.repo.Create(r.Context(), s); err != nil {
		slog.ErrorContext(r.Context(), "create subject failed", "user_id", userID, "error", err)
		http.Error(w, "could not create subject", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(s)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	subjectID, err := strconv.Atoi(chi.URLParam(r, "subjectID"))
	if err != nil {
		http.Error(w, "invalid subject id", http.StatusBadRequest)
		return
	}

	var req subjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	s, err := h.repo.Update(r.Context(), userID, subjectID, req.Name, req.Color)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "subject not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "update subject failed", "user_id", userID, "subject_id", subjectID, "error", err)
		http.Error(w, "could not update subject", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	subjectID, err := strconv.Atoi(chi.URLParam(r, "subjectID"))
	if err != nil {
		http.Error(w, "invalid subject id", http.StatusBadRequest)
		return
	}

	if err := h.repo.Delete(r.Context(), userID, subjectID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "subject not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "delete subject failed", "user_id", userID, "subject_id", subjectID, "error", err)
		http.Error(w, "could not delete subject", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
