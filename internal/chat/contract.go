package chat

import (
	"context"

	"studyhub/internal/user"
)

// Store is the persistence the chat layer consumes. The SQL repository
// implements it; tests substitute a fake.
type Store interface {
	GetChatByID(ctx context.Context, chatID int) (*Chat, error)
	GetChatsOfUser(ctx context.Context, userID int) ([]Chat, error)
	FindPrivateChat(ctx context.Context, userID, otherUserID int) (*Chat, error)
	CreateChat(ctx context.Context, name string, chatType ChatType) (*Chat, error)

	IsMember(ctx context.Context, userID, chatID int) (bool, error)
	IsAdmin(ctx context.Context, userID, chatID int) (bool, error)
	AddUserToChat(ctx context.Context, userID, chatID int, isAdmin bool) error
	RemoveUserFromChat(ctx context.Context, userID, chatID int) error

	CreateMessage(ctx context.Context, userID, chatID int, content, messageType string) (*Message, error)
	GetMessagesOfChat(ctx context.Context, chatID, limit, offset int) ([]Message, error)
}

// TokenValidator checks a bearer token's signature, expiry and revocation.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*user.Claims, error)
}

// UserDirectory resolves user ids to accounts.
type UserDirectory interface {
	GetByID(ctx context.Context, id int) (*user.User, error)
}
