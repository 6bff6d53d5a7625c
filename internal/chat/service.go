package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/sync"
)

// Service manages chats and messages: local persistence first, then delivery
// to the remote store through the sync engine. The parent-before-child
// invariant (a message must never exist without its chat) is enforced at
// creation time, not repaired after the fact.
type Service struct {
	repo   Repository
	engine *sync.Engine
	logger *loggy.Logger
}

// NewService creates a chat service
func NewService(repo Repository, engine *sync.Engine, logger *loggy.Logger) *Service {
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &Service{
		repo:   repo,
		engine: engine,
		logger: logger,
	}
}

// CreateChat creates an empty chat and enqueues its remote create
func (s *Service) CreateChat(ctx context.Context, title, personaID string) (*Chat, error) {
	chat := NewChat(title, personaID)
	if err := s.repo.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	if err := s.enqueueCreate(ctx, chat.ID, sync.EntityTypeChat, chat.ID, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// StartChat creates a chat together with its first message. The message is
// written only after the chat row is durably persisted; a failed chat create
// aborts the whole operation with ErrOrphanPrevented before the message is
// touched.
func (s *Service) StartChat(ctx context.Context, title, personaID string, role Role, content string) (*Chat, *Message, error) {
	chat := NewChat(title, personaID)
	var msg *Message

	_, err := sync.CreateWithDependent(ctx,
		func(ctx context.Context) (string, error) {
			if err := s.repo.CreateChat(ctx, chat); err != nil {
				return "", err
			}
			return chat.ID, nil
		},
		func(ctx context.Context, chatID string) error {
			msg = NewMessage(chatID, role, content)
			return s.repo.CreateMessage(ctx, msg)
		})
	if err != nil {
		return nil, nil, fmt.Errorf("starting chat: %w", err)
	}

	if err := s.enqueueCreate(ctx, chat.ID, sync.EntityTypeChat, chat.ID, chat); err != nil {
		return nil, nil, err
	}
	if err := s.enqueueCreate(ctx, chat.ID, sync.EntityTypeMessage, msg.ID, msg); err != nil {
		return nil, nil, err
	}
	return chat, msg, nil
}

// SendMessage appends a message to an existing chat and enqueues its remote
// create
func (s *Service) SendMessage(ctx context.Context, chatID string, role Role, content string) (*Message, error) {
	if _, err := s.repo.GetChatByID(ctx, chatID); err != nil {
		return nil, fmt.Errorf("looking up chat: %w", err)
	}

	msg := NewMessage(chatID, role, content)
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	if err := s.enqueueCreate(ctx, chatID, sync.EntityTypeMessage, msg.ID, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetChat retrieves one chat
func (s *Service) GetChat(ctx context.Context, id string) (*Chat, error) {
	return s.repo.GetChatByID(ctx, id)
}

// ListChats returns chats ordered by recency
func (s *Service) ListChats(ctx context.Context, limit, offset int) ([]*Chat, error) {
	return s.repo.ListChats(ctx, limit, offset)
}

// History returns a chat's messages in order
func (s *Service) History(ctx context.Context, chatID string) ([]*Message, error) {
	return s.repo.GetMessagesByChatID(ctx, chatID)
}

// RenameChat updates a chat's title and enqueues the remote update
func (s *Service) RenameChat(ctx context.Context, id, title string) (*Chat, error) {
	chat, err := s.repo.GetChatByID(ctx, id)
	if err != nil {
		return nil, err
	}
	chat.Title = title
	if err := s.repo.UpdateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("updating chat: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return nil, fmt.Errorf("encoding title patch: %w", err)
	}
	if s.engine != nil {
		if err := s.engine.EnqueueUpdate(ctx, chat.ID, sync.EntityTypeChat, chat.ID, payload); err != nil {
			return nil, fmt.Errorf("enqueueing chat update: %w", err)
		}
	}
	return chat, nil
}

// DeleteChat removes a chat locally and enqueues the remote delete
func (s *Service) DeleteChat(ctx context.Context, id string) error {
	if err := s.repo.DeleteChat(ctx, id); err != nil {
		return err
	}
	if s.engine != nil {
		if err := s.engine.EnqueueDelete(ctx, id, sync.EntityTypeChat, id); err != nil {
			return fmt.Errorf("enqueueing chat delete: %w", err)
		}
	}
	return nil
}

// Focus tells the sync layer which chat the user is looking at, flushing
// any events queued for it
func (s *Service) Focus(chatID string) {
	if s.engine != nil {
		s.engine.SetFocus(chatID)
	}
}

func (s *Service) enqueueCreate(ctx context.Context, groupID string, entityType sync.EntityType, entityID string, entity interface{}) error {
	if s.engine == nil {
		return nil
	}
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", entityType, err)
	}
	if err := s.engine.EnqueueCreate(ctx, groupID, entityType, entityID, payload); err != nil {
		return fmt.Errorf("enqueueing %s create: %w", entityType, err)
	}
	return nil
}

// Apply consumes a routed remote event and folds it into local state.
// Implements the sync layer's Applier.
func (s *Service) Apply(event sync.Event) {
	ctx := context.Background()

	var err error
	switch event.EntityType {
	case sync.EntityTypeChat:
		err = s.applyChat(ctx, event)
	case sync.EntityTypeMessage:
		err = s.applyMessage(ctx, event)
	default:
		s.logger.Debug("event for unhandled entity type ignored", "entity_type", event.EntityType)
		return
	}
	if err != nil {
		s.logger.Warn("applying remote event",
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"op", event.Op,
			"error", err)
	}
}

func (s *Service) applyChat(ctx context.Context, event sync.Event) error {
	if event.Op == sync.WriteOpDelete {
		if err := s.repo.DeleteChat(ctx, event.EntityID); err != nil && !errors.Is(err, ErrChatNotFound) {
			return err
		}
		return nil
	}

	var chat Chat
	if err := json.Unmarshal(event.Payload, &chat); err != nil {
		return fmt.Errorf("decoding chat payload: %w", err)
	}
	chat.ID = event.EntityID

	existing, err := s.repo.GetChatByID(ctx, chat.ID)
	switch {
	case errors.Is(err, ErrChatNotFound):
		return s.repo.CreateChat(ctx, &chat)
	case err != nil:
		return err
	default:
		// Local edits newer than the event win; the remote will echo them
		// back once their pending writes confirm
		if existing.UpdatedAt.After(chat.UpdatedAt) {
			return nil
		}
		return s.repo.UpdateChat(ctx, &chat)
	}
}

func (s *Service) applyMessage(ctx context.Context, event sync.Event) error {
	if event.Op == sync.WriteOpDelete {
		if err := s.repo.DeleteMessage(ctx, event.EntityID); err != nil && !errors.Is(err, ErrMessageNotFound) {
			return err
		}
		return nil
	}

	var msg Message
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		return fmt.Errorf("decoding message payload: %w", err)
	}
	msg.ID = event.EntityID
	if msg.ChatID == "" {
		msg.ChatID = event.GroupID
	}
	if msg.Revision == 0 {
		msg.Revision = event.Revision
	}

	existing, err := s.repo.GetMessageByID(ctx, msg.ID)
	switch {
	case errors.Is(err, ErrMessageNotFound):
		return s.repo.CreateMessage(ctx, &msg)
	case err != nil:
		return err
	default:
		if existing.Revision >= msg.Revision && msg.Revision != 0 {
			return nil
		}
		return s.repo.UpdateMessage(ctx, &msg)
	}
}

// WriteConfirmed marks the local record as synced once the remote store
// accepts its write. Implements the sync layer's Confirmer.
func (s *Service) WriteConfirmed(ctx context.Context, write *sync.PendingWrite, remote *sync.RemoteEntity) {
	if remote == nil {
		return
	}

	var err error
	switch write.EntityType {
	case sync.EntityTypeChat:
		err = s.repo.MarkChatSynced(ctx, write.EntityID, remote.UpdatedAt)
	case sync.EntityTypeMessage:
		err = s.repo.MarkMessageSynced(ctx, write.EntityID, remote.Revision, remote.UpdatedAt)
	default:
		return
	}
	if err != nil && !errors.Is(err, ErrChatNotFound) && !errors.Is(err, ErrMessageNotFound) {
		s.logger.Warn("marking entity synced",
			"entity_type", write.EntityType,
			"entity_id", write.EntityID,
			"error", err)
	}
}
