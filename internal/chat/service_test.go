package chat_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyhub/internal/chat"
)

type memberKey struct{ userID, chatID int }

// fakeStore is an in-memory Store for protocol tests.
type fakeStore struct {
	mu       sync.Mutex
	members  map[memberKey]bool
	admins   map[memberKey]bool
	chatsOf  map[int][]chat.Chat
	privates map[memberKey]*chat.Chat
	messages []chat.Message
	names    map[int]string
	nextChat int
	nextMsg  int

	memberErr    error
	createMsgErr error
	addErr       error
	chatsErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members:  make(map[memberKey]bool),
		admins:   make(map[memberKey]bool),
		chatsOf:  make(map[int][]chat.Chat),
		privates: make(map[memberKey]*chat.Chat),
		names:    make(map[int]string),
	}
}

func (f *fakeStore) addMember(userID, chatID int, admin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[memberKey{userID, chatID}] = true
	if admin {
		f.admins[memberKey{userID, chatID}] = true
	}
}

func (f *fakeStore) GetChatByID(ctx context.Context, chatID int) (*chat.Chat, error) {
	return &chat.Chat{ID: chatID, Type: chat.TypeGroup}, nil
}

func (f *fakeStore) GetChatsOfUser(ctx context.Context, userID int) ([]chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatsErr != nil {
		return nil, f.chatsErr
	}
	return f.chatsOf[userID], nil
}

func (f *fakeStore) FindPrivateChat(ctx context.Context, userID, otherUserID int) (*chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.privates[memberKey{userID, otherUserID}]; ok {
		return c, nil
	}
	if c, ok := f.privates[memberKey{otherUserID, userID}]; ok {
		return c, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateChat(ctx context.Context, name string, chatType chat.ChatType) (*chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextChat++
	return &chat.Chat{ID: f.nextChat, Name: name, Type: chatType, CreatedAt: time.Now()}, nil
}

func (f *fakeStore) IsMember(ctx context.Context, userID, chatID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberErr != nil {
		return false, f.memberErr
	}
	return f.members[memberKey{userID, chatID}], nil
}

func (f *fakeStore) IsAdmin(ctx context.Context, userID, chatID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[memberKey{userID, chatID}], nil
}

func (f *fakeStore) AddUserToChat(ctx context.Context, userID, chatID int, isAdmin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.members[memberKey{userID, chatID}] = true
	if isAdmin {
		f.admins[memberKey{userID, chatID}] = true
	}
	return nil
}

func (f *fakeStore) RemoveUserFromChat(ctx context.Context, userID, chatID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, memberKey{userID, chatID})
	delete(f.admins, memberKey{userID, chatID})
	return nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, userID, chatID int, content, messageType string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createMsgErr != nil {
		return nil, f.createMsgErr
	}
	f.nextMsg++
	m := chat.Message{
		ID:        f.nextMsg,
		ChatID:    chatID,
		UserID:    userID,
		UserName:  f.names[userID],
		Content:   content,
		Type:      messageType,
		CreatedAt: time.Now(),
	}
	f.messages = append(f.messages, m)
	return &m, nil
}

func (f *fakeStore) GetMessagesOfChat(ctx context.Context, chatID, limit, offset int) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Message
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fixture struct {
	store    *fakeStore
	hub      *chat.Hub
	registry *chat.Registry
	service  *chat.Service
}

func newFixture() *fixture {
	store := newFakeStore()
	hub := chat.NewHub()
	registry := chat.NewRegistry()
	return &fixture{
		store:    store,
		hub:      hub,
		registry: registry,
		service:  chat.NewService(store, hub, registry),
	}
}

// connect registers an authenticated client for userID.
func (f *fixture) connect(userID int) *chat.Client {
	c := chat.NewClient(f.hub, f.registry, nil)
	c.UserID = userID
	f.registry.Register(userID, c)
	return c
}

func sendFrame(event string, data string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":%s}`, event, data))
}

func TestService_SendMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("it disconnects unauthenticated senders", func(t *testing.T) {
		f := newFixture()
		c := chat.NewClient(f.hub, f.registry, nil) // never registered

		f.service.Dispatch(ctx, c, sendFrame("send_message", `{"chat_id":1,"content":"hi"}`))

		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, chat.EventError, frames[0].Event)
		require.Equal(t, chat.CodeUnauthenticated, payloadOf(t, frames[0])["code"])
		require.False(t, c.TrySend([]byte("x")), "connection must be closed")
	})

	t.Run("it rejects a non-integer chat id and echoes temp_id", func(t *testing.T) {
		f := newFixture()
		c := f.connect(1)

		f.service.Dispatch(ctx, c, sendFrame("send_message", `{"chat_id":"abc","content":"hi","temp_id":"t-1"}`))

		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, chat.EventSendError, frames[0].Event)
		p := payloadOf(t, frames[0])
		require.Equal(t, chat.CodeInvalidPayload, p["code"])
		require.Equal(t, "t-1", p["temp_id"])
	})

	t.Run("it treats a negative chat id as an unknown chat, not a payload error", func(t *testing.T) {
		f := newFixture()
		c := f.connect(1)

		f.service.Dispatch(ctx, c, sendFrame("send_message", `{"chat_id":-5,"content":"hi","temp_id":"t-9"}`))

		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, chat.EventSendError, frames[0].Event)
		p := payloadOf(t, frames[0])
		require.Equal(t, chat.CodeNotMember, p["code"])
		require.Equal(t, "t-9", p["temp_id"])
		require.Zero(t, f.store.messageCount())
	})

	t.Run("it rejects empty content", func(t *testing.T) {
		f := newFixture()
		c := f.connect(1)

		f.service.SendMessage(ctx, c, chat.SendMessagePayload{ChatID: 1, Content: ""})

		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, chat.CodeInvalidPayload, payloadOf(t, frames[0])["code"])
	})

	t.Run("it rejects content over 5000 characters without persisting", func(t *testing.T) {
		f := newFixture()
		f.store.addMember(1, 1, false)
		c := f.connect(1)

		f.service.SendMessage(ctx, c, chat.SendMessagePayload{ChatID: 1, Content: strings.Repeat("a", 5001), TempID: "t-2"})

		frames := drain(t, c)
		require.Len(t, frames, 1)
		p := payloadOf(t, frames[0])
		require.Equal(t, chat.CodeInvalidContent, p["code"])
		require.Equal(t, "t-2", p["temp_id"])
		require.Zero(t, f.store.messageCount())
	})

	t.Run("it rejects non-members without persisting or broadcasting", func(t *testing.T) {
		f := newFixture()
		sender := f.connect(1)
		member := f.connect(2)
		f.store.addMember(2, 42, false)
		f.hub.JoinRoom(42, member)

		f.service.SendMessage(ctx, sender, chat.SendMessagePayload{ChatID: 42, Content: "hi"})

		frames := drain(t, sender)
		require.Len(t, frames, 1)
		require.Equal(t, chat.EventSendError, frames[0].Event)
		require.Equal(t, chat.CodeNotMember, payloadOf(t, frames[0])["code"])
		require.Zero(t, f.store.messageCount())
		require.Empty(t, drain(t, member))
	})

	t.Run("it fails closed when the membership store errors", func(t *testing.T) {
		f := newFixture()
		f.store.memberErr = fmt.Errorf("db down")
		c := f.connect(1)

		f.service.SendMessage(ctx, c, chat.SendMessagePayload{ChatID: 1, Content: "hi"})

		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, chat.CodeNotMember, payloadOf(t, frames[0])["code"])
	})

	t.Run("it reports a persistence fault as SERVER_ERROR to the sender only", func(t *testing.T) {
		f := newFixture()
		f.store.addMember(1, 1, false)
		f.store.createMsgErr = fmt.Errorf("insert failed")
		c := f.connect(1)

		f.service.SendMessage(ctx, c, chat.SendMessagePayload{ChatID: 1, Content: "hi", TempID: "t-3"})

		frames := drain(t, c)
		require.Len(t, frames, 1)
		p := payloadOf(t, frames[0])
		require.Equal(t, chat.CodeServerError, p["code"])
		require.Equal(t, "t-3", p["temp_id"])
		require.True(t, c.TrySend([]byte("x")), "connection stays alive")
	})

	t.Run("it persists once, acks the sender and broadcasts to everyone else", func(t *testing.T) {
		f := newFixture()
		f.store.names[1] = "ana"
		f.store.addMember(1, 7, false)
		f.store.addMember(2, 7, false)

		sender := f.connect(1)
		senderOtherTab := f.connect(1)
		peer := f.connect(2)
		for _, c := range []*chat.Client{sender, senderOtherTab, peer} {
			f.hub.JoinRoom(7, c)
		}

		f.service.SendMessage(ctx, sender, chat.SendMessagePayload{ChatID: 7, Content: "hello", TempID: "t-9"})

		require.Equal(t, 1, f.store.messageCount())

		// sender: exactly one ack carrying the persisted id, no new_message
		senderFrames := drain(t, sender)
		require.Len(t, senderFrames, 1)
		require.Equal(t, chat.EventAck, senderFrames[0].Event)
		ack := payloadOf(t, senderFrames[0])
		require.Equal(t, "ok", ack["status"])
		msg := ack["message"].(map[string]any)
		require.Equal(t, float64(1), msg["id"])
		require.Equal(t, "ana", msg["user_name"])
		require.Equal(t, "t-9", msg["temp_id"])

		// every other connection in the room gets new_message, including the
		// sender's other tab
		for _, c := range []*chat.Client{senderOtherTab, peer} {
			frames := drain(t, c)
			require.Len(t, frames, 1)
			require.Equal(t, chat.EventNewMessage, frames[0].Event)
			p := payloadOf(t, frames[0])
			require.Equal(t, float64(1), p["id"])
			require.Equal(t, "hello", p["content"])
		}
	})
}

func TestService_AddMember(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newAdminFixture := func() (*fixture, *chat.Client) {
		f := newFixture()
		f.store.addMember(1, 7, true)
		admin := f.connect(1)
		f.hub.JoinRoom(7, admin)
		return f, admin
	}

	requireAckError := func(t *testing.T, c *chat.Client, code string) {
		t.Helper()
		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, chat.EventAck, frames[0].Event)
		p := payloadOf(t, frames[0])
		require.Equal(t, "error", p["status"])
		require.Equal(t, code, p["code"])
	}

	t.Run("it rejects unauthenticated callers", func(t *testing.T) {
		f := newFixture()
		c := chat.NewClient(f.hub, f.registry, nil)

		f.service.AddMember(ctx, c, chat.AddMemberPayload{ChatID: 7, NewMemberID: 2})
		requireAckError(t, c, chat.CodeUnauthenticated)
	})

	t.Run("it rejects non-integer ids", func(t *testing.T) {
		f, admin := newAdminFixture()
		f.service.Dispatch(ctx, admin, sendFrame("add_member", `{"chat_id":7,"new_member_id":"x"}`))
		requireAckError(t, admin, chat.CodeInvalidPayload)
	})

	t.Run("it forbids non-admins", func(t *testing.T) {
		f := newFixture()
		f.store.addMember(3, 7, false)
		member := f.connect(3)

		f.service.AddMember(ctx, member, chat.AddMemberPayload{ChatID: 7, NewMemberID: 2})
		requireAckError(t, member, chat.CodeForbidden)
	})

	t.Run("it rejects an existing member", func(t *testing.T) {
		f, admin := newAdminFixture()
		f.store.addMember(2, 7, false)

		f.service.AddMember(ctx, admin, chat.AddMemberPayload{ChatID: 7, NewMemberID: 2})
		requireAckError(t, admin, chat.CodeAlreadyMember)
	})

	t.Run("it surfaces persistence faults as SERVER_ERROR", func(t *testing.T) {
		f, admin := newAdminFixture()
		f.store.addErr = fmt.Errorf("insert failed")

		f.service.AddMember(ctx, admin, chat.AddMemberPayload{ChatID: 7, NewMemberID: 2})
		requireAckError(t, admin, chat.CodeServerError)
	})

	t.Run("it joins every live connection of the new member", func(t *testing.T) {
		f, admin := newAdminFixture()
		tabA := f.connect(2)
		tabB := f.connect(2)

		f.service.AddMember(ctx, admin, chat.AddMemberPayload{ChatID: 7, NewMemberID: 2})

		require.True(t, f.hub.InRoom(7, tabA))
		require.True(t, f.hub.InRoom(7, tabB))

		// both new tabs and the admin see member_added
		for _, c := range []*chat.Client{tabA, tabB} {
			frames := drain(t, c)
			require.Len(t, frames, 1)
			require.Equal(t, chat.EventMemberAdded, frames[0].Event)
			p := payloadOf(t, frames[0])
			require.Equal(t, float64(7), p["chat_id"])
			require.Equal(t, float64(2), p["user_id"])
			require.Equal(t, float64(1), p["added_by"])
		}

		adminFrames := drain(t, admin)
		require.Len(t, adminFrames, 2) // member_added + ack
		require.Equal(t, chat.EventMemberAdded, adminFrames[0].Event)
		require.Equal(t, chat.EventAck, adminFrames[1].Event)
		require.Equal(t, "ok", payloadOf(t, adminFrames[1])["status"])
	})

	t.Run("it tolerates a member with zero live connections", func(t *testing.T) {
		f, admin := newAdminFixture()

		f.service.AddMember(ctx, admin, chat.AddMemberPayload{ChatID: 7, NewMemberID: 9})

		frames := drain(t, admin)
		require.Len(t, frames, 2)
		require.Equal(t, "ok", payloadOf(t, frames[1])["status"])

		ok, err := f.store.IsMember(ctx, 9, 7)
		require.NoError(t, err)
		require.True(t, ok)
	})
}

func TestService_JoinLeaveChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("join requires persisted membership", func(t *testing.T) {
		f := newFixture()
		c := f.connect(1)

		f.service.JoinChat(ctx, c, chat.RoomPayload{ChatID: 4})

		frames := drain(t, c)
		require.Len(t, frames, 1)
		p := payloadOf(t, frames[0])
		require.Equal(t, "error", p["status"])
		require.Equal(t, chat.CodeNotMember, p["code"])
		require.False(t, f.hub.InRoom(4, c))
	})

	t.Run("join rejoins the live room for a member", func(t *testing.T) {
		f := newFixture()
		f.store.addMember(1, 4, false)
		c := f.connect(1)

		f.service.JoinChat(ctx, c, chat.RoomPayload{ChatID: 4})

		frames := drain(t, c)
		require.Len(t, frames, 1)
		p := payloadOf(t, frames[0])
		require.Equal(t, "ok", p["status"])
		require.Equal(t, float64(4), p["chat_id"])
		require.True(t, f.hub.InRoom(4, c))
	})

	t.Run("leave is best-effort even when unjoined", func(t *testing.T) {
		f := newFixture()
		c := f.connect(1)

		f.service.LeaveChat(ctx, c, chat.RoomPayload{ChatID: 4})

		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, "ok", payloadOf(t, frames[0])["status"])
	})
}

func TestService_Dispatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("it rejects malformed frames", func(t *testing.T) {
		f := newFixture()
		c := f.connect(1)

		f.service.Dispatch(ctx, c, []byte("not json"))

		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, chat.EventError, frames[0].Event)
		require.Equal(t, chat.CodeInvalidPayload, payloadOf(t, frames[0])["code"])
	})

	t.Run("it rejects unknown events", func(t *testing.T) {
		f := newFixture()
		c := f.connect(1)

		f.service.Dispatch(ctx, c, sendFrame("delete_everything", `{}`))

		frames := drain(t, c)
		require.Len(t, frames, 1)
		require.Equal(t, chat.EventError, frames[0].Event)
	})
}

func TestService_CreateGroupChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture()
	creator := f.connect(1)
	memberTab := f.connect(2)
	// user 3 has no live connections

	created, err := f.service.CreateGroupChat(ctx, 1, "study group", []int{2, 3, 2, 1, -4})
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, created.Added, "dedup, creator and invalid ids filtered")
	require.Equal(t, chat.TypeGroup, created.Type)

	ok, err := f.store.IsAdmin(ctx, 1, created.ID)
	require.NoError(t, err)
	require.True(t, ok, "creator is admin")

	require.True(t, f.hub.InRoom(created.ID, creator))
	require.True(t, f.hub.InRoom(created.ID, memberTab))

	memberFrames := drain(t, memberTab)
	require.Len(t, memberFrames, 2)
	require.Equal(t, chat.EventInvitationPublic, memberFrames[0].Event)
	require.Equal(t, float64(1), payloadOf(t, memberFrames[0])["from_user_id"])
	require.Equal(t, chat.EventChatCreated, memberFrames[1].Event)

	creatorFrames := drain(t, creator)
	require.Len(t, creatorFrames, 1)
	require.Equal(t, chat.EventChatCreated, creatorFrames[0].Event)
}

func TestService_CreatePrivateChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("it creates the chat and invites the other user", func(t *testing.T) {
		f := newFixture()
		creator := f.connect(1)
		other := f.connect(2)

		created, isNew, err := f.service.CreatePrivateChat(ctx, 1, 2)
		require.NoError(t, err)
		require.True(t, isNew)
		require.Equal(t, chat.TypePrivate, created.Type)

		require.True(t, f.hub.InRoom(created.ID, creator))
		require.True(t, f.hub.InRoom(created.ID, other))

		otherFrames := drain(t, other)
		require.Len(t, otherFrames, 2)
		require.Equal(t, chat.EventInvitationPrivate, otherFrames[0].Event)
		require.Equal(t, chat.EventChatCreated, otherFrames[1].Event)
	})

	t.Run("it surfaces an existing chat with private_chat_seen", func(t *testing.T) {
		f := newFixture()
		existing := &chat.Chat{ID: 33, Type: chat.TypePrivate}
		f.store.privates[memberKey{1, 2}] = existing
		other := f.connect(2)

		got, isNew, err := f.service.CreatePrivateChat(ctx, 1, 2)
		require.NoError(t, err)
		require.False(t, isNew)
		require.Equal(t, 33, got.ID)

		frames := drain(t, other)
		require.Len(t, frames, 1)
		require.Equal(t, chat.EventPrivateChatSeen, frames[0].Event)
		require.Equal(t, float64(33), payloadOf(t, frames[0])["chat_id"])
	})
}
