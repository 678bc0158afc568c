package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"studyhub/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev mode; lock down behind a reverse proxy in prod
	},
}

type Handler struct {
	service *Service
	gateway *Gateway
	hub     *Hub
	reg     *Registry
}

func NewHandler(service *Service, gateway *Gateway, hub *Hub, reg *Registry) *Handler {
	return &Handler{service: service, gateway: gateway, hub: hub, reg: reg}
}

// ServeWs upgrades the connection and runs the handshake. The token travels
// as a query parameter so the tagged auth_error can be delivered on the
// socket itself before it closes.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, h.reg, conn)
	go client.writePump()

	if !h.gateway.Authenticate(r.Context(), client, r.URL.Query().Get("token")) {
		client.Close()
		return
	}

	go client.readPump(h.service)
}

type createChatRequest struct {
	Name        string `json:"name"`
	OtherUserID int    `json:"other_user_id"`
	Members     []int  `json:"members"`
}

// CreateChat handles both creation flows: a group chat when name is set, a
// private chat when other_user_id is set.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "not authenticated")
		return
	}

	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidPayload, "malformed body")
		return
	}

	switch {
	case strings.TrimSpace(req.Name) != "":
		newChat, err := h.service.CreateGroupChat(r.Context(), userID, strings.TrimSpace(req.Name), req.Members)
		if err != nil {
			slog.ErrorContext(r.Context(), "create group chat failed", "error", err)
			writeError(w, http.StatusInternalServerError, CodeServerError, "could not create chat")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "chat_data": newChat})

	case req.OtherUserID > 0:
		if req.OtherUserID == userID {
			writeError(w, http.StatusBadRequest, CodeInvalidPayload, "cannot create a chat with yourself")
			return
		}
		newChat, created, err := h.service.CreatePrivateChat(r.Context(), userID, req.OtherUserID)
		if err != nil {
			slog.ErrorContext(r.Context(), "create private chat failed", "error", err)
			writeError(w, http.StatusInternalServerError, CodeServerError, "could not create chat")
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{"status": "ok", "chat_data": newChat})

	default:
		writeError(w, http.StatusBadRequest, CodeInvalidPayload, "name or other_user_id is required")
	}
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "not authenticated")
		return
	}

	chats, err := h.service.store.GetChatsOfUser(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "list chats failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "could not list chats")
		return
	}
	if chats == nil {
		chats = []Chat{}
	}

	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := h.memberScoped(w, r)
	if !ok {
		return
	}

	chatObj, err := h.service.store.GetChatByID(r.Context(), chatID)
	if err != nil {
		slog.ErrorContext(r.Context(), "get chat failed", "user_id", userID, "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "could not load chat")
		return
	}
	if chatObj == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "chat not found")
		return
	}

	writeJSON(w, http.StatusOK, chatObj)
}

// GetMessages pages a chat's history, oldest to newest within the page.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	_, chatID, ok := h.memberScoped(w, r)
	if !ok {
		return
	}

	page, perPage := pagination(r)
	msgs, err := h.service.store.GetMessagesOfChat(r.Context(), chatID, perPage, (page-1)*perPage)
	if err != nil {
		slog.ErrorContext(r.Context(), "list messages failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "could not load messages")
		return
	}

	// Repo returns newest-first; the API serves oldest-first.
	payload := make([]MessagePayload, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		payload = append(payload, msgs[i].wirePayload(""))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"page":     page,
		"per_page": perPage,
		"messages": payload,
	})
}

// JoinChat persists membership for the caller. Idempotent; the live room is
// joined via the websocket join_chat event.
func (h *Handler) JoinChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "not authenticated")
		return
	}
	chatID, err := strconv.Atoi(chi.URLParam(r, "chatID"))
	if err != nil || chatID <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidPayload, "invalid chat id")
		return
	}

	if h.service.IsMember(r.Context(), userID, chatID) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": "already a member"})
		return
	}

	if err := h.service.store.AddUserToChat(r.Context(), userID, chatID, false); err != nil {
		slog.ErrorContext(r.Context(), "join chat failed", "user_id", userID, "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "could not join chat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "chat_id": chatID})
}

func (h *Handler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "not authenticated")
		return
	}
	chatID, err := strconv.Atoi(chi.URLParam(r, "chatID"))
	if err != nil || chatID <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidPayload, "invalid chat id")
		return
	}

	if err := h.service.store.RemoveUserFromChat(r.Context(), userID, chatID); err != nil {
		slog.ErrorContext(r.Context(), "leave chat failed", "user_id", userID, "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "could not leave chat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "chat_id": chatID})
}

// memberScoped authorizes a chat-scoped request: authenticated and a
// persisted member of the chat in the URL.
func (h *Handler) memberScoped(w http.ResponseWriter, r *http.Request) (userID, chatID int, ok bool) {
	userID, authed := middleware.UserID(r.Context())
	if !authed {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "not authenticated")
		return 0, 0, false
	}
	chatID, err := strconv.Atoi(chi.URLParam(r, "chatID"))
	if err != nil || chatID <= 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidPayload, "invalid chat id")
		return 0, 0, false
	}
	if !h.service.IsMember(r.Context(), userID, chatID) {
		writeError(w, http.StatusForbidden, CodeNotMember, "you are not a member of this chat")
		return 0, 0, false
	}
	return userID, chatID, true
}

func pagination(r *http.Request) (page, perPage int) {
	page = 1
	perPage = 50

	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 {
		perPage = v
		if perPage > 200 {
			perPage = 200
		}
	}
	return page, perPage
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}
