package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Content tops out at 5000 characters; leave room for multibyte text
	// plus the envelope.
	maxMessageSize = 32 * 1024

	sendBuffer = 256
)

// Client is one live websocket connection. UserID and Username are set by
// the handshake before the read pump starts, so every frame the pump
// dispatches comes from an authenticated connection.
type Client struct {
	ID       string
	UserID   int
	Username string

	hub      *Hub
	registry *Registry
	conn     *websocket.Conn
	Send     chan []byte

	// rooms this connection joined; guarded by hub.mu.
	rooms map[string]struct{}

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, registry *Registry, conn *websocket.Conn) *Client {
	return &Client{
		ID:       uuid.NewString(),
		hub:      hub,
		registry: registry,
		conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		rooms:    make(map[string]struct{}),
	}
}

// TrySend queues a frame without blocking. Returns false when the
// connection is closed or its buffer is full.
func (c *Client) TrySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// Close shuts the send channel exactly once; the write pump drains what is
// queued, sends a close frame and tears down the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

func (c *Client) sendEvent(event string, data any) {
	if frame := marshalEvent(event, data); frame != nil {
		if !c.TrySend(frame) {
			slog.Warn("event dropped, connection closed or congested",
				"event", event, "conn_id", c.ID, "user_id", c.UserID)
		}
	}
}

// readPump pumps frames from the websocket into the service, one at a time.
// Per-connection ordering follows from this loop: a send is persisted and
// broadcast before the next frame of the same connection is read.
func (c *Client) readPump(service *Service) {
	defer func() {
		c.registry.Unregister(c.ID)
		c.hub.RemoveClient(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "conn_id", c.ID, "error", err)
			}
			break
		}
		service.Dispatch(context.Background(), c, frame)
	}
}

// writePump pumps queued frames to the websocket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
