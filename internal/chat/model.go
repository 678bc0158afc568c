package chat

import "time"

type ChatType string

const (
	TypePrivate ChatType = "private"
	TypeGroup   ChatType = "group"
)

// Default persisted message type; the schema reserves room for system
// messages later.
const MessageTypeDefault = "message"

type Chat struct {
	ID        int       `json:"id"`
	Name      string    `json:"name,omitempty"`
	Type      ChatType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	// Added lists members attached during a group-creation request.
	Added []int `json:"added,omitempty"`
}

type Message struct {
	ID        int       `json:"id"`
	ChatID    int       `json:"chat_id"`
	UserID    int       `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type Membership struct {
	ChatID   int       `json:"chat_id"`
	UserID   int       `json:"user_id"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}

func (m Message) wirePayload(tempID string) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		UserName:  m.UserName,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		TempID:    tempID,
	}
}
