package chat

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Inbound event names.
const (
	EventSendMessage = "send_message"
	EventAddMember   = "add_member"
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
)

// Outbound event names. These are wire contract; clients match on them.
const (
	EventAuthSuccess       = "auth_success"
	EventAuthError         = "auth_error"
	EventJoinedChats       = "joined_chats"
	EventNewMessage        = "new_message"
	EventMemberAdded       = "member_added"
	EventChatCreated       = "chat_created"
	EventInvitationPublic  = "invitation_public"
	EventInvitationPrivate = "invitation_private"
	EventPrivateChatSeen   = "private_chat_seen"
	EventSendError         = "send_error"
	EventError             = "error"
	EventAck               = "ack"
)

// Error codes. Stable; clients key UI behavior on them.
const (
	CodeNoToken         = "NO_TOKEN"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeTokenRevoked    = "TOKEN_REVOKED"
	CodeUserNotFound    = "USER_NOT_FOUND"
	CodeServerError     = "SERVER_ERROR"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInvalidPayload  = "INVALID_PAYLOAD"
	CodeInvalidContent  = "INVALID_CONTENT"
	CodeNotMember       = "NOT_MEMBER"
	CodeForbidden       = "FORBIDDEN"
	CodeAlreadyMember   = "ALREADY_MEMBER"
)

// Envelope is the framing for every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IntID accepts either a JSON number or a numeric string. Anything else
// decodes to zero so the handler can reject it without losing the rest of
// the payload (the temp_id in particular).
type IntID int

func (i *IntID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*i = 0
		return nil
	}
	*i = IntID(n)
	return nil
}

type SendMessagePayload struct {
	ChatID  IntID  `json:"chat_id"`
	Content string `json:"content"`
	TempID  string `json:"temp_id,omitempty"`
}

type AddMemberPayload struct {
	ChatID      IntID `json:"chat_id"`
	NewMemberID IntID `json:"new_member_id"`
}

type RoomPayload struct {
	ChatID IntID `json:"chat_id"`
}

type AuthSuccessPayload struct {
	UserID int `json:"user_id"`
}

type JoinedChatsPayload struct {
	ChatIDs []int `json:"chat_ids"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type SendErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	TempID  string `json:"temp_id,omitempty"`
}

// AckPayload is the reply to an inbound action. Action echoes the event the
// client sent so a single listener can correlate replies.
type AckPayload struct {
	Action  string `json:"action"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	ChatID  int    `json:"chat_id,omitempty"`
	Message any    `json:"message,omitempty"`
}

type MessagePayload struct {
	ID        int       `json:"id"`
	ChatID    int       `json:"chat_id"`
	UserID    int       `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	TempID    string    `json:"temp_id,omitempty"`
}

type MemberAddedPayload struct {
	ChatID  int `json:"chat_id"`
	UserID  int `json:"user_id"`
	AddedBy int `json:"added_by"`
}

type ChatCreatedPayload struct {
	Chat *Chat `json:"chat"`
}

type InvitationPayload struct {
	ChatID     int `json:"chat_id"`
	FromUserID int `json:"from_user_id"`
}

func marshalEvent(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("marshal event payload", "event", event, "error", err)
		return nil
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		slog.Error("marshal event envelope", "event", event, "error", err)
		return nil
	}
	return frame
}
