package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// ErrSnippetNotFound is returned when a snippet does not exist
var ErrSnippetNotFound = errors.New("snippet not found")

// Repository defines vault persistence operations
type Repository interface {
	Create(ctx context.Context, s *Snippet) error
	GetByID(ctx context.Context, id string) (*Snippet, error)
	List(ctx context.Context, tag string, limit, offset int) ([]*Snippet, error)
	Update(ctx context.Context, s *Snippet) error
	Delete(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// SQLRepository implements Repository using SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new vault SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Repository {
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

var snippetColumns = []string{"id", "title", "content", "tags", "chat_id", "message_id", "created_at", "updated_at", "synced_at"}

// Create saves a new snippet
func (r *SQLRepository) Create(ctx context.Context, s *Snippet) error {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}

	query, args, err := r.builder.
		Insert("vault_snippets").
		Columns(snippetColumns...).
		Values(s.ID, s.Title, s.Content, joinTags(s.Tags), nullString(s.ChatID), nullString(s.MessageID), s.CreatedAt, s.UpdatedAt, s.SyncedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert snippet query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting snippet: %w", err)
	}

	r.logger.Debug("Created vault snippet", "id", s.ID, "title", s.Title)
	return nil
}

// GetByID retrieves a snippet by its ID
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Snippet, error) {
	query, args, err := r.builder.
		Select(snippetColumns...).
		From("vault_snippets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select snippet query: %w", err)
	}

	s, err := scanSnippet(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnippetNotFound
		}
		return nil, fmt.Errorf("scanning snippet: %w", err)
	}
	return s, nil
}

// List retrieves snippets newest first, optionally filtered by tag
func (r *SQLRepository) List(ctx context.Context, tag string, limit, offset int) ([]*Snippet, error) {
	q := r.builder.
		Select(snippetColumns...).
		From("vault_snippets").
		OrderBy("created_at DESC")

	if tag != "" {
		// Tags are stored comma-joined; match whole tags, not substrings
		pattern := "%," + tag + ",%"
		q = q.Where(sq.Like{"',' || tags || ','": pattern})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list snippets query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list snippets query: %w", err)
	}
	defer rows.Close()

	var snippets []*Snippet
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snippet row: %w", err)
		}
		snippets = append(snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snippet rows: %w", err)
	}
	return snippets, nil
}

// Update updates an existing snippet
func (r *SQLRepository) Update(ctx context.Context, s *Snippet) error {
	s.UpdatedAt = time.Now()

	query, args, err := r.builder.
		Update("vault_snippets").
		Set("title", s.Title).
		Set("content", s.Content).
		Set("tags", joinTags(s.Tags)).
		Set("updated_at", s.UpdatedAt).
		Where(sq.Eq{"id": s.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update snippet query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating snippet: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSnippetNotFound
	}
	return nil
}

// Delete removes a snippet
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Delete("vault_snippets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete snippet query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting snippet: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSnippetNotFound
	}
	return nil
}

// MarkSynced records a confirmed remote write for a snippet
func (r *SQLRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	query, args, err := r.builder.
		Update("vault_snippets").
		Set("synced_at", at).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building mark snippet synced query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking snippet synced: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnippet(s scanner) (*Snippet, error) {
	var snip Snippet
	var tags string
	var chatID, messageID sql.NullString
	if err := s.Scan(
		&snip.ID,
		&snip.Title,
		&snip.Content,
		&tags,
		&chatID,
		&messageID,
		&snip.CreatedAt,
		&snip.UpdatedAt,
		&snip.SyncedAt,
	); err != nil {
		return nil, err
	}
	snip.Tags = splitTags(tags)
	if chatID.Valid {
		snip.ChatID = chatID.String
	}
	if messageID.Valid {
		snip.MessageID = messageID.String
	}
	return &snip, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
