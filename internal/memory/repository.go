package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// Repository defines memory persistence and vector search operations
type Repository interface {
	// SaveFragment stores a fragment together with its embedding
	SaveFragment(ctx context.Context, fragment *Fragment, embedding []float32) error

	// GetFragment retrieves one fragment
	GetFragment(ctx context.Context, id string) (*Fragment, error)

	// FindSimilar returns the fragments nearest to the query embedding,
	// closest first
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]*ScoredFragment, error)

	// DeleteFragment removes a fragment and its vector
	DeleteFragment(ctx context.Context, id string) error

	// CountFragments reports how many fragments are stored
	CountFragments(ctx context.Context) (int, error)
}

// SQLRepository implements Repository on SQLite with the sqlite-vec
// extension
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new memory SQL repository
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

// SaveFragment stores a fragment together with its embedding. The vector and
// fragment rows commit atomically.
func (r *SQLRepository) SaveFragment(ctx context.Context, fragment *Fragment, embedding []float32) error {
	if len(embedding) == 0 {
		return ErrInvalidEmbedding
	}

	serialized, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("serializing embedding: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "INSERT INTO vectors (embedding) VALUES (?)", serialized)
	if err != nil {
		return fmt.Errorf("inserting vector: %w", err)
	}
	vectorID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading vector rowid: %w", err)
	}
	fragment.VectorID = vectorID

	query, args, err := r.builder.
		Insert("memory_fragments").
		Columns("id", "chat_id", "content", "vector_id", "created_at", "updated_at").
		Values(fragment.ID, nullString(fragment.ChatID), fragment.Content, fragment.VectorID, fragment.CreatedAt, fragment.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert fragment query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting fragment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing fragment: %w", err)
	}

	r.logger.Debug("Saved memory fragment", "id", fragment.ID, "vector_id", vectorID, "dimensions", len(embedding))
	return nil
}

// GetFragment retrieves one fragment
func (r *SQLRepository) GetFragment(ctx context.Context, id string) (*Fragment, error) {
	query, args, err := r.builder.
		Select("id", "chat_id", "content", "vector_id", "created_at", "updated_at").
		From("memory_fragments").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select fragment query: %w", err)
	}

	fragment, err := scanFragment(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFragmentNotFound
		}
		return nil, fmt.Errorf("scanning fragment: %w", err)
	}
	return fragment, nil
}

// FindSimilar returns the fragments nearest to the query embedding using
// sqlite-vec's KNN match, closest first
func (r *SQLRepository) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]*ScoredFragment, error) {
	if len(embedding) == 0 {
		return nil, ErrInvalidEmbedding
	}
	if limit <= 0 {
		limit = 5
	}

	serialized, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("serializing embedding: %w", err)
	}

	query := `
		SELECT f.id, f.chat_id, f.content, f.vector_id, f.created_at, f.updated_at, v.distance
		FROM vectors v
		JOIN memory_fragments f ON f.vector_id = v.rowid
		WHERE v.embedding MATCH ?
		AND k = ?
		ORDER BY v.distance
	`
	rows, err := r.db.QueryContext(ctx, query, serialized, limit)
	if err != nil {
		return nil, fmt.Errorf("executing similarity query: %w", err)
	}
	defer rows.Close()

	var scored []*ScoredFragment
	for rows.Next() {
		var fragment Fragment
		var chatID sql.NullString
		var distance float64
		if err := rows.Scan(&fragment.ID, &chatID, &fragment.Content, &fragment.VectorID,
			&fragment.CreatedAt, &fragment.UpdatedAt, &distance); err != nil {
			return nil, fmt.Errorf("scanning scored fragment: %w", err)
		}
		if chatID.Valid {
			fragment.ChatID = chatID.String
		}
		// vec0 distance is L2; map to a descending similarity score
		scored = append(scored, &ScoredFragment{
			Fragment:   &fragment,
			Similarity: 1.0 / (1.0 + distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scored fragments: %w", err)
	}
	return scored, nil
}

// DeleteFragment removes a fragment and its vector
func (r *SQLRepository) DeleteFragment(ctx context.Context, id string) error {
	fragment, err := r.GetFragment(ctx, id)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if fragment.VectorID != 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE rowid = ?", fragment.VectorID); err != nil {
			return fmt.Errorf("deleting vector: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_fragments WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting fragment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing fragment delete: %w", err)
	}
	return nil
}

// CountFragments reports how many fragments are stored
func (r *SQLRepository) CountFragments(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_fragments").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting fragments: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFragment(s scanner) (*Fragment, error) {
	var fragment Fragment
	var chatID sql.NullString
	var vectorID sql.NullInt64
	if err := s.Scan(
		&fragment.ID,
		&chatID,
		&fragment.Content,
		&vectorID,
		&fragment.CreatedAt,
		&fragment.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if chatID.Valid {
		fragment.ChatID = chatID.String
	}
	if vectorID.Valid {
		fragment.VectorID = vectorID.Int64
	}
	return &fragment, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
