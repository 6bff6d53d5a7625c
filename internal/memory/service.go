package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tildaslashalef/murmur/internal/config"
	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/sync"
)

// Embedder turns text into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service stores and recalls memory fragments. Context assembly is
// best-effort: a slow or unreachable embedder yields an empty context within
// the fetch deadline rather than an error, so a prompt is never blocked on
// recall.
type Service struct {
	repo     Repository
	embedder Embedder
	clock    sync.Clock
	cfg      config.MemoryConfig
	logger   *loggy.Logger
}

// NewService creates a memory service
func NewService(repo Repository, embedder Embedder, clock sync.Clock, cfg config.MemoryConfig, logger *loggy.Logger) *Service {
	if clock == nil {
		clock = sync.NewClock()
	}
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &Service{
		repo:     repo,
		embedder: embedder,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Remember embeds and stores one fragment of conversation
func (s *Service) Remember(ctx context.Context, chatID, content string) (*Fragment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("nothing to remember")
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embedding fragment: %w", err)
	}

	fragment := NewFragment(chatID, content)
	if err := s.repo.SaveFragment(ctx, fragment, embedding); err != nil {
		return nil, fmt.Errorf("saving fragment: %w", err)
	}
	return fragment, nil
}

// Recall returns the stored fragments most similar to query, filtered by
// the configured similarity floor
func (s *Service) Recall(ctx context.Context, query string, limit int) ([]*ScoredFragment, error) {
	if limit <= 0 {
		limit = s.cfg.NSimilarFragments
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := s.repo.FindSimilar(ctx, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("searching fragments: %w", err)
	}

	var kept []*ScoredFragment
	for _, sf := range scored {
		if sf.Similarity >= s.cfg.MinSimilarity {
			kept = append(kept, sf)
		}
	}
	return kept, nil
}

// BuildContext assembles a recall block for a prompt. The whole fetch races
// the configured deadline; on expiry the prompt proceeds with no remembered
// context instead of failing.
func (s *Service) BuildContext(ctx context.Context, query string) string {
	deadline := s.cfg.FetchDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}

	block, err := sync.WithDeadline(ctx, s.clock, deadline, "",
		func(ctx context.Context) (string, error) {
			scored, err := s.Recall(ctx, query, s.cfg.NSimilarFragments)
			if err != nil {
				return "", err
			}
			return formatContext(scored), nil
		})
	if err != nil {
		s.logger.Warn("memory recall failed, continuing without context", "error", err)
		return ""
	}
	if block == "" {
		s.logger.Debug("no remembered context for prompt")
	}
	return block
}

// Forget removes one fragment and its vector
func (s *Service) Forget(ctx context.Context, id string) error {
	return s.repo.DeleteFragment(ctx, id)
}

// Stats reports how many fragments are stored
func (s *Service) Stats(ctx context.Context) (int, error) {
	return s.repo.CountFragments(ctx)
}

func formatContext(scored []*ScoredFragment) string {
	if len(scored) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant things you remember from earlier conversations:\n")
	for _, sf := range scored {
		b.WriteString("- ")
		b.WriteString(sf.Fragment.Content)
		b.WriteString("\n")
	}
	return b.String()
}
