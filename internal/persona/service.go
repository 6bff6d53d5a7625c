package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/sync"
)

// Service manages personas: local persistence first, then delivery to the
// remote store through the sync engine. Each persona syncs under its own
// group since personas are not scoped to any chat.
type Service struct {
	repo   Repository
	engine *sync.Engine
	logger *loggy.Logger
}

// NewService creates a persona service
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

// Create stores a new persona and enqueues its remote create
func (s *Service) Create(ctx context.Context, name, systemPrompt string) (*Persona, error) {
	p := New(name, systemPrompt)
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("creating persona: %w", err)
	}
	if err := s.enqueue(ctx, p, sync.WriteOpCreate); err != nil {
		return nil, err
	}
	return p, nil
}

// Get retrieves one persona
func (s *Service) Get(ctx context.Context, id string) (*Persona, error) {
	return s.repo.GetByID(ctx, id)
}

// GetDefault returns the default persona
func (s *Service) GetDefault(ctx context.Context) (*Persona, error) {
	return s.repo.GetDefault(ctx)
}

// List returns all personas
func (s *Service) List(ctx context.Context) ([]*Persona, error) {
	return s.repo.List(ctx)
}

// Update persists persona edits and enqueues the remote update
func (s *Service) Update(ctx context.Context, p *Persona) error {
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("updating persona: %w", err)
	}
	return s.enqueue(ctx, p, sync.WriteOpUpdate)
}

// SetDefault marks one persona as the default. The default flag is a local
// preference and is not synced.
func (s *Service) SetDefault(ctx context.Context, id string) error {
	return s.repo.SetDefault(ctx, id)
}

// Delete removes a persona locally and enqueues the remote delete
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.engine != nil {
		if err := s.engine.EnqueueDelete(ctx, id, sync.EntityTypePersona, id); err != nil {
			return fmt.Errorf("enqueueing persona delete: %w", err)
		}
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, p *Persona, op sync.WriteOp) error {
	if s.engine == nil {
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding persona payload: %w", err)
	}

	switch op {
	case sync.WriteOpCreate:
		err = s.engine.EnqueueCreate(ctx, p.ID, sync.EntityTypePersona, p.ID, payload)
	case sync.WriteOpUpdate:
		err = s.engine.EnqueueUpdate(ctx, p.ID, sync.EntityTypePersona, p.ID, payload)
	}
	if err != nil {
		return fmt.Errorf("enqueueing persona %s: %w", op, err)
	}
	return nil
}

// Apply folds a routed remote persona event into the local store.
// Implements the sync layer's Applier for persona entities.
func (s *Service) Apply(event sync.Event) {
	if event.EntityType != sync.EntityTypePersona {
		return
	}
	ctx := context.Background()

	if event.Op == sync.WriteOpDelete {
		if err := s.repo.Delete(ctx, event.EntityID); err != nil && !errors.Is(err, ErrPersonaNotFound) {
			s.logger.Warn("applying remote persona delete", "persona_id", event.EntityID, "error", err)
		}
		return
	}

	var incoming Persona
	if err := json.Unmarshal(event.Payload, &incoming); err != nil {
		s.logger.Warn("decoding persona payload", "persona_id", event.EntityID, "error", err)
		return
	}
	incoming.ID = event.EntityID

	existing, err := s.repo.GetByID(ctx, event.EntityID)
	switch {
	case errors.Is(err, ErrPersonaNotFound):
		err = s.repo.Create(ctx, &incoming)
	case err != nil:
	case existing.UpdatedAt.After(incoming.UpdatedAt):
		// local copy is newer, the remote will echo it back on confirm
		return
	default:
		// the default flag stays a local preference
		incoming.IsDefault = existing.IsDefault
		err = s.repo.Update(ctx, &incoming)
	}
	if err != nil {
		s.logger.Warn("applying remote persona event", "persona_id", event.EntityID, "op", event.Op, "error", err)
	}
}

// WriteConfirmed marks a persona synced once its remote write is accepted.
// Implements the sync layer's Confirmer for persona entities.
func (s *Service) WriteConfirmed(ctx context.Context, write *sync.PendingWrite, remote *sync.RemoteEntity) {
	if write.EntityType != sync.EntityTypePersona || remote == nil {
		return
	}
	if err := s.repo.MarkSynced(ctx, write.EntityID, remote.UpdatedAt); err != nil {
		s.logger.Warn("marking persona synced", "persona_id", write.EntityID, "error", err)
	}
}
