package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/sync"
)

// Service manages vault snippets: local persistence first, then delivery to
// the remote store through the sync engine
type Service struct {
	repo   Repository
	engine *sync.Engine
	logger *loggy.Logger
}

// NewService creates a vault service
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

// Save stores a new snippet and enqueues its remote create
func (s *Service) Save(ctx context.Context, title, content string, tags []string, chatID, messageID string) (*Snippet, error) {
	snip := New(title, content, tags)
	snip.ChatID = chatID
	snip.MessageID = messageID

	if err := s.repo.Create(ctx, snip); err != nil {
		return nil, fmt.Errorf("saving snippet: %w", err)
	}
	if err := s.enqueue(ctx, snip, sync.WriteOpCreate); err != nil {
		return nil, err
	}
	return snip, nil
}

// Get retrieves one snippet
func (s *Service) Get(ctx context.Context, id string) (*Snippet, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns snippets newest first, optionally filtered by tag
func (s *Service) List(ctx context.Context, tag string, limit, offset int) ([]*Snippet, error) {
	return s.repo.List(ctx, tag, limit, offset)
}

// Retag replaces a snippet's tags and enqueues the remote update
func (s *Service) Retag(ctx context.Context, id string, tags []string) (*Snippet, error) {
	snip, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	snip.Tags = normalizeTags(tags)
	if err := s.repo.Update(ctx, snip); err != nil {
		return nil, fmt.Errorf("updating snippet: %w", err)
	}
	if err := s.enqueue(ctx, snip, sync.WriteOpUpdate); err != nil {
		return nil, err
	}
	return snip, nil
}

// Delete removes a snippet locally and enqueues the remote delete
func (s *Service) Delete(ctx context.Context, id string) error {
	snip, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.engine != nil {
		if err := s.engine.EnqueueDelete(ctx, snip.SyncGroup(), sync.EntityTypeVaultSnippet, id); err != nil {
			return fmt.Errorf("enqueueing snippet delete: %w", err)
		}
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, snip *Snippet, op sync.WriteOp) error {
	if s.engine == nil {
		return nil
	}
	payload, err := json.Marshal(snip)
	if err != nil {
		return fmt.Errorf("encoding snippet payload: %w", err)
	}

	switch op {
	case sync.WriteOpCreate:
		err = s.engine.EnqueueCreate(ctx, snip.SyncGroup(), sync.EntityTypeVaultSnippet, snip.ID, payload)
	case sync.WriteOpUpdate:
		err = s.engine.EnqueueUpdate(ctx, snip.SyncGroup(), sync.EntityTypeVaultSnippet, snip.ID, payload)
	}
	if err != nil {
		return fmt.Errorf("enqueueing snippet %s: %w", op, err)
	}
	return nil
}

// Apply folds a routed remote snippet event into the local store.
// Implements the sync layer's Applier for vault entities.
func (s *Service) Apply(event sync.Event) {
	if event.EntityType != sync.EntityTypeVaultSnippet {
		return
	}
	ctx := context.Background()

	if event.Op == sync.WriteOpDelete {
		if err := s.repo.Delete(ctx, event.EntityID); err != nil && !errors.Is(err, ErrSnippetNotFound) {
			s.logger.Warn("applying remote snippet delete", "snippet_id", event.EntityID, "error", err)
		}
		return
	}

	var incoming Snippet
	if err := json.Unmarshal(event.Payload, &incoming); err != nil {
		s.logger.Warn("decoding snippet payload", "snippet_id", event.EntityID, "error", err)
		return
	}
	incoming.ID = event.EntityID

	existing, err := s.repo.GetByID(ctx, event.EntityID)
	switch {
	case errors.Is(err, ErrSnippetNotFound):
		err = s.repo.Create(ctx, &incoming)
	case err != nil:
	case existing.UpdatedAt.After(incoming.UpdatedAt):
		// local copy is newer, the remote will echo it back on confirm
		return
	default:
		err = s.repo.Update(ctx, &incoming)
	}
	if err != nil {
		s.logger.Warn("applying remote snippet event", "snippet_id", event.EntityID, "op", event.Op, "error", err)
	}
}

// WriteConfirmed marks a snippet synced once its remote write is accepted.
// Implements the sync layer's Confirmer for vault entities.
func (s *Service) WriteConfirmed(ctx context.Context, write *sync.PendingWrite, remote *sync.RemoteEntity) {
	if write.EntityType != sync.EntityTypeVaultSnippet || remote == nil {
		return
	}
	if err := s.repo.MarkSynced(ctx, write.EntityID, remote.UpdatedAt); err != nil {
		s.logger.Warn("marking snippet synced", "snippet_id", write.EntityID, "error", err)
	}
}
