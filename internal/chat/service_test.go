package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/murmur/internal/sync"
)

// fakeRepo is an in-memory Repository for service tests
type fakeRepo struct {
	chats    map[string]*Chat
	messages map[string]*Message
	order    []string

	failChatCreate    error
	failMessageCreate error
	chatCreates       int
	messageCreates    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		chats:    make(map[string]*Chat),
		messages: make(map[string]*Message),
	}
}

func (r *fakeRepo) CreateChat(_ context.Context, chat *Chat) error {
	r.chatCreates++
	if r.failChatCreate != nil {
		return r.failChatCreate
	}
	cp := *chat
	r.chats[chat.ID] = &cp
	return nil
}

func (r *fakeRepo) GetChatByID(_ context.Context, id string) (*Chat, error) {
	chat, ok := r.chats[id]
	if !ok {
		return nil, ErrChatNotFound
	}
	cp := *chat
	return &cp, nil
}

func (r *fakeRepo) ListChats(_ context.Context, limit, offset int) ([]*Chat, error) {
	var out []*Chat
	for _, chat := range r.chats {
		cp := *chat
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) UpdateChat(_ context.Context, chat *Chat) error {
	if _, ok := r.chats[chat.ID]; !ok {
		return ErrChatNotFound
	}
	cp := *chat
	r.chats[chat.ID] = &cp
	return nil
}

func (r *fakeRepo) DeleteChat(_ context.Context, id string) error {
	if _, ok := r.chats[id]; !ok {
		return ErrChatNotFound
	}
	delete(r.chats, id)
	return nil
}

func (r *fakeRepo) MarkChatSynced(_ context.Context, id string, at time.Time) error {
	chat, ok := r.chats[id]
	if !ok {
		return ErrChatNotFound
	}
	chat.SyncedAt = &at
	return nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, msg *Message) error {
	r.messageCreates++
	if r.failMessageCreate != nil {
		return r.failMessageCreate
	}
	cp := *msg
	r.messages[msg.ID] = &cp
	r.order = append(r.order, msg.ID)
	return nil
}

func (r *fakeRepo) GetMessageByID(_ context.Context, id string) (*Message, error) {
	msg, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (r *fakeRepo) GetMessagesByChatID(_ context.Context, chatID string) ([]*Message, error) {
	var out []*Message
	for _, id := range r.order {
		if msg := r.messages[id]; msg != nil && msg.ChatID == chatID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateMessage(_ context.Context, msg *Message) error {
	if _, ok := r.messages[msg.ID]; !ok {
		return ErrMessageNotFound
	}
	cp := *msg
	r.messages[msg.ID] = &cp
	return nil
}

func (r *fakeRepo) DeleteMessage(_ context.Context, id string) error {
	if _, ok := r.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(r.messages, id)
	return nil
}

func (r *fakeRepo) MarkMessageSynced(_ context.Context, id string, revision int64, at time.Time) error {
	msg, ok := r.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	msg.Revision = revision
	msg.SyncedAt = &at
	return nil
}

func TestService_StartChat(t *testing.T) {
	t.Run("chat then first message", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewService(repo, nil, nil)

		chat, msg, err := svc.StartChat(context.Background(), "Trip planning", "", RoleUser, "Where should I go in June?")
		require.NoError(t, err)
		require.NotNil(t, chat)
		require.NotNil(t, msg)
		assert.Equal(t, chat.ID, msg.ChatID)
		assert.Equal(t, 1, repo.chatCreates)
		assert.Equal(t, 1, repo.messageCreates)
	})

	t.Run("failed chat create never touches the message", func(t *testing.T) {
		repo := newFakeRepo()
		repo.failChatCreate = errors.New("disk full")
		svc := NewService(repo, nil, nil)

		_, _, err := svc.StartChat(context.Background(), "Trip planning", "", RoleUser, "hello")
		assert.ErrorIs(t, err, sync.ErrOrphanPrevented)
		assert.Equal(t, 1, repo.chatCreates)
		assert.Equal(t, 0, repo.messageCreates, "message create must never run after a failed chat create")
	})

	t.Run("failed message create is not orphan prevention", func(t *testing.T) {
		repo := newFakeRepo()
		repo.failMessageCreate = errors.New("disk full")
		svc := NewService(repo, nil, nil)

		_, _, err := svc.StartChat(context.Background(), "Trip planning", "", RoleUser, "hello")
		require.Error(t, err)
		assert.NotErrorIs(t, err, sync.ErrOrphanPrevented)
		assert.Len(t, repo.chats, 1, "chat survives a failed first message")
	})
}

func TestService_SendMessage(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	chat, err := svc.CreateChat(context.Background(), "Notes", "")
	require.NoError(t, err)

	msg, err := svc.SendMessage(context.Background(), chat.ID, RoleUser, "remember the milk")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, msg.ChatID)

	_, err = svc.SendMessage(context.Background(), "chat_missing", RoleUser, "orphan")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestService_RenameChat(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	chat, err := svc.CreateChat(context.Background(), "Old title", "")
	require.NoError(t, err)

	renamed, err := svc.RenameChat(context.Background(), chat.ID, "New title")
	require.NoError(t, err)
	assert.Equal(t, "New title", renamed.Title)

	stored, err := svc.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "New title", stored.Title)
}

func TestService_Apply(t *testing.T) {
	mustJSON := func(v interface{}) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}

	t.Run("remote message create lands locally", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewService(repo, nil, nil)

		svc.Apply(sync.Event{
			GroupID:    "chat_1",
			EntityType: sync.EntityTypeMessage,
			EntityID:   "msg_remote",
			Op:         sync.WriteOpCreate,
			Revision:   7,
			Payload:    mustJSON(map[string]string{"role": "assistant", "content": "from another device"}),
		})

		msg, err := repo.GetMessageByID(context.Background(), "msg_remote")
		require.NoError(t, err)
		assert.Equal(t, "chat_1", msg.ChatID)
		assert.Equal(t, int64(7), msg.Revision)
		assert.Equal(t, "from another device", msg.Content)
	})

	t.Run("stale message event does not clobber newer revision", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewService(repo, nil, nil)

		require.NoError(t, repo.CreateMessage(context.Background(), &Message{
			ID: "msg_1", ChatID: "chat_1", Role: RoleUser, Content: "newer", Revision: 10,
		}))

		svc.Apply(sync.Event{
			GroupID:    "chat_1",
			EntityType: sync.EntityTypeMessage,
			EntityID:   "msg_1",
			Op:         sync.WriteOpUpdate,
			Revision:   4,
			Payload:    mustJSON(map[string]interface{}{"content": "older", "revision": 4}),
		})

		msg, err := repo.GetMessageByID(context.Background(), "msg_1")
		require.NoError(t, err)
		assert.Equal(t, "newer", msg.Content)
	})

	t.Run("remote delete of unknown entity is quiet", func(t *testing.T) {
		repo := newFakeRepo()
		svc := NewService(repo, nil, nil)

		svc.Apply(sync.Event{
			GroupID:    "chat_1",
			EntityType: sync.EntityTypeChat,
			EntityID:   "chat_gone",
			Op:         sync.WriteOpDelete,
		})
		// No panic, no residue
		assert.Empty(t, repo.chats)
	})
}

func TestService_WriteConfirmed(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	chat, err := svc.CreateChat(context.Background(), "Synced", "")
	require.NoError(t, err)
	msg, err := svc.SendMessage(context.Background(), chat.ID, RoleUser, "hello")
	require.NoError(t, err)

	now := time.Now()
	svc.WriteConfirmed(context.Background(),
		&sync.PendingWrite{EntityType: sync.EntityTypeChat, EntityID: chat.ID},
		&sync.RemoteEntity{ID: chat.ID, Revision: 1, UpdatedAt: now})
	svc.WriteConfirmed(context.Background(),
		&sync.PendingWrite{EntityType: sync.EntityTypeMessage, EntityID: msg.ID},
		&sync.RemoteEntity{ID: msg.ID, Revision: 5, UpdatedAt: now})

	storedChat, err := repo.GetChatByID(context.Background(), chat.ID)
	require.NoError(t, err)
	require.NotNil(t, storedChat.SyncedAt)

	storedMsg, err := repo.GetMessageByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), storedMsg.Revision)
	require.NotNil(t, storedMsg.SyncedAt)
}
