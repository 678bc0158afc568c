package chat

import "sync"

// Registry is the bidirectional mapping between users and their live
// websocket connections. A user can hold several connections at once
// (multiple tabs or devices). Both maps mutate only under the one mutex so
// they are never observed half-updated: a connection id is in conns exactly
// when it is in some users entry, and no empty connection set survives.
type Registry struct {
	mu    sync.Mutex
	users map[int]map[string]*Client
	conns map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[int]map[string]*Client),
		conns: make(map[string]int),
	}
}

// Register records a connection for a user. Idempotent per connection id.
func (r *Registry) Register(userID int, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]*Client)
		r.users[userID] = set
	}
	set[c.ID] = c
	r.conns[c.ID] = userID
}

// Unregister removes a connection and returns its owning user. ok is false
// when the connection was never registered, e.g. a failed handshake.
func (r *Registry) Unregister(connID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.conns[connID]
	if !ok {
		return 0, false
	}
	delete(r.conns, connID)

	if set, ok := r.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
		}
	}

	return userID, true
}

// ConnectionsOf returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsOf(userID int) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.users[userID]
	clients := make([]*Client, 0, len(set))
	for _, c := range set {
		clients = append(clients, c)
	}
	return clients
}

// UserOf resolves a connection id to its authenticated user.
func (r *Registry) UserOf(connID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.conns[connID]
	return userID, ok
}
