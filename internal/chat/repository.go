package chat

import (
	"context"
	"database/sql"
	"errors"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetChatByID(ctx context.Context, chatID int) (*Chat, error) {
	c := &Chat{}
	var name sql.NullString
	query := "SELECT id, name, type, created_at FROM chats WHERE id = $1"

	err := r.db.QueryRowContext(ctx, query, chatID).Scan(&c.ID, &name, &c.Type, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Name = name.String
	return c, nil
}

func (r *Repository) GetChatsOfUser(ctx context.Context, userID int) ([]Chat, error) {
	query := `
		SELECT c.id, c.name, c.type, c.created_at
		FROM chats c
		JOIN chat_users cu ON cu.chat_id = c.id
		WHERE cu.user_id = $1
		ORDER BY c.created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var name sql.NullString
		if err := rows.Scan(&c.ID, &name, &c.Type, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Name = name.String
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// FindPrivateChat returns the 1:1 chat both users belong to, or nil.
func (r *Repository) FindPrivateChat(ctx context.Context, userID, otherUserID int) (*Chat, error) {
	c := &Chat{}
	var name sql.NullString
	query := `
		SELECT c.id, c.name, c.type, c.created_at
		FROM chats c
		JOIN chat_users a ON a.chat_id = c.id AND a.user_id = $1
		JOIN chat_users b ON b.chat_id = c.id AND b.user_id = $2
		WHERE c.type = 'private'
		LIMIT 1
	`
	err := r.db.QueryRowContext(ctx, query, userID, otherUserID).Scan(&c.ID, &name, &c.Type, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Name = name.String
	return c, nil
}

func (r *Repository) CreateChat(ctx context.Context, name string, chatType ChatType) (*Chat, error) {
	c := &Chat{Name: name, Type: chatType}
	query := "INSERT INTO chats (name, type) VALUES ($1, $2) RETURNING id, created_at"

	var dbName any
	if name != "" {
		dbName = name
	}
	if err := r.db.QueryRowContext(ctx, query, dbName, chatType).Scan(&c.ID, &c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Repository) IsMember(ctx context.Context, userID, chatID int) (bool, error) {
	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM chat_users WHERE user_id = $1 AND chat_id = $2)"

	if err := r.db.QueryRowContext(ctx, query, userID, chatID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Repository) IsAdmin(ctx context.Context, userID, chatID int) (bool, error) {
	var isAdmin bool
	query := "SELECT is_admin FROM chat_users WHERE user_id = $1 AND chat_id = $2"

	err := r.db.QueryRowContext(ctx, query, userID, chatID).Scan(&isAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return isAdmin, nil
}

func (r *Repository) AddUserToChat(ctx context.Context, userID, chatID int, isAdmin bool) error {
	query := "INSERT INTO chat_users (chat_id, user_id, is_admin) VALUES ($1, $2, $3)"
	_, err := r.db.ExecContext(ctx, query, chatID, userID, isAdmin)
	return err
}

func (r *Repository) RemoveUserFromChat(ctx context.Context, userID, chatID int) error {
	query := "DELETE FROM chat_users WHERE chat_id = $1 AND user_id = $2"
	_, err := r.db.ExecContext(ctx, query, chatID, userID)
	return err
}

func (r *Repository) CreateMessage(ctx context.Context, userID, chatID int, content, messageType string) (*Message, error) {
	m := &Message{ChatID: chatID, UserID: userID, Content: content, Type: messageType}
	query := `
		WITH ins AS (
			INSERT INTO messages (chat_id, user_id, content, type)
			VALUES ($1, $2, $3, $4)
			RETURNING id, user_id, created_at
		)
		SELECT ins.id, ins.created_at, u.username
		FROM ins
		JOIN users u ON u.id = ins.user_id
	`
	err := r.db.QueryRowContext(ctx, query, chatID, userID, content, messageType).
		Scan(&m.ID, &m.CreatedAt, &m.UserName)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessagesOfChat pages newest-first; callers reverse for display order.
func (r *Repository) GetMessagesOfChat(ctx context.Context, chatID, limit, offset int) ([]Message, error) {
	query := `
		SELECT m.id, m.chat_id, m.user_id, u.username, m.content, m.type, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.UserName, &m.Content, &m.Type, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
