package chat

import (
	"log/slog"
	"strconv"
	"sync"
)

// RoomName derives the broadcast group for a chat. The scheme lives only
// here; nothing else concatenates room names.
func RoomName(chatID int) string {
	return "chat:" + strconv.Itoa(chatID)
}

// Hub owns the room membership of live connections. Rooms are derived from
// chat ids and exist only while they have members. Room membership is
// connection-scoped: a user with three tabs open joins a room three times.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) JoinRoom(chatID int, c *Client) {
	room := RoomName(chatID)

	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// LeaveRoom is best-effort: leaving a room the connection never joined is
// not an error.
func (h *Hub) LeaveRoom(chatID int, c *Client) {
	room := RoomName(chatID)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.drop(room, c)
}

// RemoveClient takes a connection out of every room it joined. Called on
// disconnect regardless of how the connection died.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range c.rooms {
		h.drop(room, c)
	}
}

// drop expects h.mu held.
func (h *Hub) drop(room string, c *Client) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) InRoom(chatID int, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.rooms[RoomName(chatID)][c]
	return ok
}

// Broadcast delivers a frame to every member of the chat's room, optionally
// skipping one connection (the sender, which already holds the optimistic
// copy). Each delivery is attempted independently; a slow or dead member is
// dropped and never aborts the batch.
func (h *Hub) Broadcast(chatID int, frame []byte, except *Client) {
	if frame == nil {
		return
	}

	h.mu.Lock()
	members := make([]*Client, 0, len(h.rooms[RoomName(chatID)]))
	for c := range h.rooms[RoomName(chatID)] {
		if c != except {
			members = append(members, c)
		}
	}
	h.mu.Unlock()

	for _, c := range members {
		if !c.TrySend(frame) {
			slog.Warn("dropping slow connection", "conn_id", c.ID, "user_id", c.UserID)
			c.Close()
		}
	}
}
