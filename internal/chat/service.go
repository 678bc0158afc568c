package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"unicode/utf8"
)

const maxContentLength = 5000

// Service implements the realtime protocol: it guards every room-scoped
// action behind the membership gate, persists through the store and fans out
// through the hub. Collaborator failures never escape as panics or
// connection faults; they become tagged wire errors.
type Service struct {
	store    Store
	hub      *Hub
	registry *Registry
}

func NewService(store Store, hub *Hub, registry *Registry) *Service {
	return &Service{store: store, hub: hub, registry: registry}
}

// IsMember fails closed: a store error reads as "not a member".
func (s *Service) IsMember(ctx context.Context, userID, chatID int) bool {
	ok, err := s.store.IsMember(ctx, userID, chatID)
	if err != nil {
		slog.ErrorContext(ctx, "membership lookup failed", "user_id", userID, "chat_id", chatID, "error", err)
		return false
	}
	return ok
}

// IsAdmin fails closed as well. Only add_member consults it.
func (s *Service) IsAdmin(ctx context.Context, userID, chatID int) bool {
	ok, err := s.store.IsAdmin(ctx, userID, chatID)
	if err != nil {
		slog.ErrorContext(ctx, "admin lookup failed", "user_id", userID, "chat_id", chatID, "error", err)
		return false
	}
	return ok
}

// Dispatch parses one inbound frame and routes it to its handler.
func (s *Service) Dispatch(ctx context.Context, c *Client, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.sendEvent(EventError, ErrorPayload{Code: CodeInvalidPayload, Message: "malformed frame"})
		return
	}

	switch env.Event {
	case EventSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.sendEvent(EventSendError, SendErrorPayload{Code: CodeInvalidPayload, Message: "malformed payload"})
			return
		}
		s.SendMessage(ctx, c, p)

	case EventAddMember:
		var p AddMemberPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.ackError(c, EventAddMember, CodeInvalidPayload, "malformed payload")
			return
		}
		s.AddMember(ctx, c, p)

	case EventJoinChat:
		var p RoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.ackError(c, EventJoinChat, CodeInvalidPayload, "malformed payload")
			return
		}
		s.JoinChat(ctx, c, p)

	case EventLeaveChat:
		var p RoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.ackError(c, EventLeaveChat, CodeInvalidPayload, "malformed payload")
			return
		}
		s.LeaveChat(ctx, c, p)

	default:
		c.sendEvent(EventError, ErrorPayload{Code: CodeInvalidPayload, Message: "unknown event"})
	}
}

// SendMessage validates, persists and fans out one chat message. The sender
// gets a direct ack with the persisted message; everyone else in the room
// gets new_message. The sender's own connection is excluded from the
// broadcast since it already rendered the optimistic copy.
func (s *Service) SendMessage(ctx context.Context, c *Client, p SendMessagePayload) {
	userID, ok := s.registry.UserOf(c.ID)
	if !ok {
		c.sendEvent(EventError, ErrorPayload{Code: CodeUnauthenticated, Message: "connection not authenticated"})
		c.Close()
		return
	}

	// Only a missing or unparseable chat_id is a payload error; any other
	// integer falls through to the membership gate.
	chatID := int(p.ChatID)
	if chatID == 0 {
		c.sendEvent(EventSendError, SendErrorPayload{Code: CodeInvalidPayload, Message: "invalid chat_id", TempID: p.TempID})
		return
	}
	if p.Content == "" {
		c.sendEvent(EventSendError, SendErrorPayload{Code: CodeInvalidPayload, Message: "chat_id and content are required", TempID: p.TempID})
		return
	}
	if utf8.RuneCountInString(p.Content) > maxContentLength {
		c.sendEvent(EventSendError, SendErrorPayload{Code: CodeInvalidContent, Message: "content too long", TempID: p.TempID})
		return
	}

	if !s.IsMember(ctx, userID, chatID) {
		c.sendEvent(EventSendError, SendErrorPayload{Code: CodeNotMember, Message: "you are not a member of this chat", TempID: p.TempID})
		return
	}

	msg, err := s.store.CreateMessage(ctx, userID, chatID, p.Content, MessageTypeDefault)
	if err != nil {
		slog.ErrorContext(ctx, "persist message failed", "user_id", userID, "chat_id", chatID, "error", err)
		c.sendEvent(EventSendError, SendErrorPayload{Code: CodeServerError, Message: "could not save message", TempID: p.TempID})
		return
	}

	payload := msg.wirePayload(p.TempID)
	s.hub.Broadcast(chatID, marshalEvent(EventNewMessage, payload), c)

	c.sendEvent(EventAck, AckPayload{Action: EventSendMessage, Status: "ok", Message: payload})
}

// AddMember is the group-chat admin action. On success every live
// connection of the new member joins the room before member_added goes out,
// so the new member's own tabs see the notification too.
func (s *Service) AddMember(ctx context.Context, c *Client, p AddMemberPayload) {
	adminID, ok := s.registry.UserOf(c.ID)
	if !ok {
		s.ackError(c, EventAddMember, CodeUnauthenticated, "connection not authenticated")
		return
	}

	chatID, newMemberID := int(p.ChatID), int(p.NewMemberID)
	if chatID <= 0 || newMemberID <= 0 {
		s.ackError(c, EventAddMember, CodeInvalidPayload, "chat_id and new_member_id must be integers")
		return
	}

	if !s.IsAdmin(ctx, adminID, chatID) {
		s.ackError(c, EventAddMember, CodeForbidden, "you are not an admin of this chat")
		return
	}

	if s.IsMember(ctx, newMemberID, chatID) {
		s.ackError(c, EventAddMember, CodeAlreadyMember, "user is already a member of this chat")
		return
	}

	if err := s.store.AddUserToChat(ctx, newMemberID, chatID, false); err != nil {
		slog.ErrorContext(ctx, "persist membership failed", "user_id", newMemberID, "chat_id", chatID, "error", err)
		s.ackError(c, EventAddMember, CodeServerError, "could not add member")
		return
	}

	for _, conn := range s.registry.ConnectionsOf(newMemberID) {
		s.hub.JoinRoom(chatID, conn)
	}

	s.hub.Broadcast(chatID, marshalEvent(EventMemberAdded, MemberAddedPayload{
		ChatID:  chatID,
		UserID:  newMemberID,
		AddedBy: adminID,
	}), nil)

	c.sendEvent(EventAck, AckPayload{Action: EventAddMember, Status: "ok", ChatID: chatID, Message: "member added"})
}

// JoinChat rejoins the live room for an existing membership, e.g. after a
// client reconnect. It never creates membership.
func (s *Service) JoinChat(ctx context.Context, c *Client, p RoomPayload) {
	userID, ok := s.registry.UserOf(c.ID)
	if !ok {
		s.ackError(c, EventJoinChat, CodeUnauthenticated, "connection not authenticated")
		return
	}

	chatID := int(p.ChatID)
	if chatID <= 0 {
		s.ackError(c, EventJoinChat, CodeInvalidPayload, "invalid chat_id")
		return
	}

	if !s.IsMember(ctx, userID, chatID) {
		s.ackError(c, EventJoinChat, CodeNotMember, "you are not a member of this chat")
		return
	}

	s.hub.JoinRoom(chatID, c)
	c.sendEvent(EventAck, AckPayload{Action: EventJoinChat, Status: "ok", ChatID: chatID})
}

// LeaveChat detaches this connection from the room. Best-effort; leaving an
// unjoined room is harmless, so no membership check.
func (s *Service) LeaveChat(ctx context.Context, c *Client, p RoomPayload) {
	if _, ok := s.registry.UserOf(c.ID); !ok {
		s.ackError(c, EventLeaveChat, CodeUnauthenticated, "connection not authenticated")
		return
	}

	chatID := int(p.ChatID)
	if chatID <= 0 {
		s.ackError(c, EventLeaveChat, CodeInvalidPayload, "invalid chat_id")
		return
	}

	s.hub.LeaveRoom(chatID, c)
	c.sendEvent(EventAck, AckPayload{Action: EventLeaveChat, Status: "ok", ChatID: chatID})
}

func (s *Service) ackError(c *Client, action, code, message string) {
	c.sendEvent(EventAck, AckPayload{Action: action, Status: "error", Code: code, Message: message})
}

// CreateGroupChat backs the REST creation endpoint. The creator becomes
// admin; every valid distinct member is attached, their live connections
// join the room and receive invitation_public, and the room gets
// chat_created. Users with no live connections simply see the chat on their
// next listing.
func (s *Service) CreateGroupChat(ctx context.Context, creatorID int, name string, members []int) (*Chat, error) {
	newChat, err := s.store.CreateChat(ctx, name, TypeGroup)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddUserToChat(ctx, creatorID, newChat.ID, true); err != nil {
		return nil, err
	}

	var added []int
	seen := map[int]struct{}{creatorID: {}}
	for _, memberID := range members {
		if memberID <= 0 {
			continue
		}
		if _, dup := seen[memberID]; dup {
			continue
		}
		seen[memberID] = struct{}{}

		if err := s.store.AddUserToChat(ctx, memberID, newChat.ID, false); err != nil {
			slog.ErrorContext(ctx, "attach member failed", "chat_id", newChat.ID, "user_id", memberID, "error", err)
			continue
		}
		added = append(added, memberID)
	}
	newChat.Added = added

	for _, memberID := range added {
		for _, conn := range s.registry.ConnectionsOf(memberID) {
			s.hub.JoinRoom(newChat.ID, conn)
			conn.sendEvent(EventInvitationPublic, InvitationPayload{ChatID: newChat.ID, FromUserID: creatorID})
		}
	}
	for _, conn := range s.registry.ConnectionsOf(creatorID) {
		s.hub.JoinRoom(newChat.ID, conn)
	}

	s.hub.Broadcast(newChat.ID, marshalEvent(EventChatCreated, ChatCreatedPayload{Chat: newChat}), nil)

	return newChat, nil
}

// CreatePrivateChat finds or creates the 1:1 chat between two users. The
// second return reports whether a chat was created; an existing chat only
// pings the other side with private_chat_seen.
func (s *Service) CreatePrivateChat(ctx context.Context, creatorID, otherUserID int) (*Chat, bool, error) {
	existing, err := s.store.FindPrivateChat(ctx, creatorID, otherUserID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		for _, conn := range s.registry.ConnectionsOf(otherUserID) {
			conn.sendEvent(EventPrivateChatSeen, InvitationPayload{ChatID: existing.ID, FromUserID: creatorID})
		}
		return existing, false, nil
	}

	newChat, err := s.store.CreateChat(ctx, "", TypePrivate)
	if err != nil {
		return nil, false, err
	}
	if err := s.store.AddUserToChat(ctx, creatorID, newChat.ID, false); err != nil {
		return nil, false, err
	}
	if err := s.store.AddUserToChat(ctx, otherUserID, newChat.ID, false); err != nil {
		return nil, false, err
	}

	for _, conn := range s.registry.ConnectionsOf(creatorID) {
		s.hub.JoinRoom(newChat.ID, conn)
	}
	for _, conn := range s.registry.ConnectionsOf(otherUserID) {
		s.hub.JoinRoom(newChat.ID, conn)
		conn.sendEvent(EventInvitationPrivate, InvitationPayload{ChatID: newChat.ID, FromUserID: creatorID})
	}

	s.hub.Broadcast(newChat.ID, marshalEvent(EventChatCreated, ChatCreatedPayload{Chat: newChat}), nil)

	return newChat, true, nil
}
