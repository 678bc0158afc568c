package chat

import (
	"context"
	"errors"
	"log/slog"

	"studyhub/internal/user"
)

// Gateway runs the per-connection handshake and the out-of-band forced
// disconnect. A connection goes Connecting -> Authenticated or is rejected
// with exactly one tagged auth_error before the socket closes.
type Gateway struct {
	validator TokenValidator
	users     UserDirectory
	store     Store
	registry  *Registry
	hub       *Hub
}

func NewGateway(validator TokenValidator, users UserDirectory, store Store, registry *Registry, hub *Hub) *Gateway {
	return &Gateway{
		validator: validator,
		users:     users,
		store:     store,
		registry:  registry,
		hub:       hub,
	}
}

// Authenticate validates the credential presented at connect time,
// registers the connection and auto-joins the rooms of every chat the user
// already belongs to. Returns false when the connection must be dropped;
// the tagged auth_error has already been queued in that case.
func (g *Gateway) Authenticate(ctx context.Context, c *Client, tokenString string) bool {
	if tokenString == "" {
		g.reject(c, CodeNoToken, "missing token")
		return false
	}

	claims, err := g.validator.ValidateToken(ctx, tokenString)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrTokenExpired):
			g.reject(c, CodeTokenExpired, "token expired")
		case errors.Is(err, user.ErrTokenRevoked):
			g.reject(c, CodeTokenRevoked, "token revoked")
		case errors.Is(err, user.ErrTokenInvalid):
			g.reject(c, CodeInvalidToken, "invalid token")
		default:
			slog.ErrorContext(ctx, "handshake token validation failed", "error", err)
			g.reject(c, CodeServerError, "internal error")
		}
		return false
	}

	account, err := g.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			g.reject(c, CodeUserNotFound, "user does not exist")
		} else {
			slog.ErrorContext(ctx, "handshake user lookup failed", "user_id", claims.UserID, "error", err)
			g.reject(c, CodeServerError, "internal error")
		}
		return false
	}

	c.UserID = account.ID
	c.Username = account.Username
	g.registry.Register(account.ID, c)
	c.sendEvent(EventAuthSuccess, AuthSuccessPayload{UserID: account.ID})

	joined := g.autoJoin(ctx, c, account.ID)
	c.sendEvent(EventJoinedChats, JoinedChatsPayload{ChatIDs: joined})

	slog.InfoContext(ctx, "websocket authenticated", "conn_id", c.ID, "user_id", account.ID)
	return true
}

// autoJoin puts the fresh connection into the room of every chat the user
// is a member of. A failed chat listing degrades to an empty join list; the
// handshake itself stays successful.
func (g *Gateway) autoJoin(ctx context.Context, c *Client, userID int) []int {
	joined := []int{}

	chats, err := g.store.GetChatsOfUser(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "auto-join chat listing failed", "user_id", userID, "error", err)
		return joined
	}

	for _, ch := range chats {
		g.hub.JoinRoom(ch.ID, c)
		joined = append(joined, ch.ID)
	}
	return joined
}

func (g *Gateway) reject(c *Client, code, message string) {
	c.sendEvent(EventAuthError, ErrorPayload{Code: code, Message: message})
}

// DisconnectUser force-closes every live connection of a user. Called from
// the REST logout flow after the token's jti is revoked. Idempotent and a
// no-op for a user with no connections. Cleanup here overlaps with the read
// pump's deferred cleanup; both tolerate the other having run first.
func (g *Gateway) DisconnectUser(userID int) {
	conns := g.registry.ConnectionsOf(userID)
	for _, c := range conns {
		c.sendEvent(EventAuthError, ErrorPayload{Code: CodeTokenRevoked, Message: "token revoked"})
		g.registry.Unregister(c.ID)
		g.hub.RemoveClient(c)
		c.Close()
	}
	if len(conns) > 0 {
		slog.Info("disconnected user", "user_id", userID, "connections", len(conns))
	}
}
