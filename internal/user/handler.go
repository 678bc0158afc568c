package user

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// Disconnector drops a user's live realtime connections. Implemented by the
// chat gateway; declared here so this package does not depend on it.
type Disconnector interface {
	DisconnectUser(userID int)
}

type Handler struct {
	Service      *Service
	Disconnector Disconnector
}

func NewHandler(s *Service, d Disconnector) *Handler {
	return &Handler{Service: s, Disconnector: d}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		slog.ErrorContext(r.Context(), "register failed", "error", err)
		http.Error(w, "could not register user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(res)
}

// Logout revokes the presented token and force-disconnects every websocket
// the user still holds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		http.Error(w, "missing authentication token", http.StatusUnauthorized)
		return
	}

	userID, err := h.Service.Logout(r.Context(), tokenString)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if h.Disconnector != nil {
		h.Disconnector.DisconnectUser(userID)
	}

	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		json.NewEncoder(w).Encode([]User{})
		return
	}

	users, err := h.Service.SearchUsers(r.Context(), query)
	if err != nil {
		slog.ErrorContext(r.Context(), "user search failed", "error", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []User{}
	}

	json.NewEncoder(w).Encode(users)
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}
