package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// ErrWriteNotFound is returned when a pending write does not exist
var ErrWriteNotFound = errors.New("pending write not found")

// Journal persists pending writes across process restarts. A write enters
// the journal when a local mutation is issued and leaves it only on
// confirmed remote success.
type Journal interface {
	// Enqueue records a new pending write
	Enqueue(ctx context.Context, write *PendingWrite) error

	// GetByID retrieves a single pending write
	GetByID(ctx context.Context, id string) (*PendingWrite, error)

	// ListByGroup returns the pending writes for one group in creation order
	ListByGroup(ctx context.Context, groupID string) ([]*PendingWrite, error)

	// ListGroups returns the ids of all groups with at least one pending write
	ListGroups(ctx context.Context) ([]string, error)

	// RecordAttempt bumps a write's attempt count after a failed delivery
	RecordAttempt(ctx context.Context, id string) error

	// Remove deletes a confirmed write from the journal
	Remove(ctx context.Context, id string) error

	// CountByGroup reports how many writes are pending for a group
	CountByGroup(ctx context.Context, groupID string) (int, error)
}

// SQLJournal implements Journal using SQLite
type SQLJournal struct {
	db        *sql.DB
	listLimit int
	logger    *loggy.Logger
}

// NewSQLJournal creates a new SQL journal. listLimit caps how many pending
// writes ListByGroup loads per call; zero means no cap. Writes beyond the
// cap stay journaled and surface on the next reconciliation run.
func NewSQLJournal(db *sql.DB, listLimit int, logger *loggy.Logger) *SQLJournal {
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &SQLJournal{db: db, listLimit: listLimit, logger: logger}
}

// Enqueue records a new pending write
func (j *SQLJournal) Enqueue(ctx context.Context, write *PendingWrite) error {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Question).
		Insert("pending_writes").
		Columns("id", "group_id", "entity_id", "entity_type", "op", "payload", "attempts", "created_at", "updated_at").
		Values(write.ID, write.GroupID, write.EntityID, write.EntityType, write.Op, []byte(write.Payload), write.Attempts, write.CreatedAt, write.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building enqueue query: %w", err)
	}

	if _, err := j.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("enqueueing pending write: %w", err)
	}

	j.logger.Debug("pending write enqueued",
		"write_id", write.ID,
		"group_id", write.GroupID,
		"entity_type", write.EntityType,
		"op", write.Op)
	return nil
}

// GetByID retrieves a single pending write
func (j *SQLJournal) GetByID(ctx context.Context, id string) (*PendingWrite, error) {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Question).
		Select("id", "group_id", "entity_id", "entity_type", "op", "payload", "attempts", "created_at", "updated_at").
		From("pending_writes").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}

	write, err := scanPendingWrite(j.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWriteNotFound
		}
		return nil, fmt.Errorf("getting pending write: %w", err)
	}
	return write, nil
}

// ListByGroup returns the pending writes for one group in creation order,
// capped at the configured list limit
func (j *SQLJournal) ListByGroup(ctx context.Context, groupID string) ([]*PendingWrite, error) {
	q := sq.StatementBuilder.PlaceholderFormat(sq.Question).
		Select("id", "group_id", "entity_id", "entity_type", "op", "payload", "attempts", "created_at", "updated_at").
		From("pending_writes").
		Where(sq.Eq{"group_id": groupID}).
		OrderBy("created_at ASC", "id ASC")
	if j.listLimit > 0 {
		q = q.Limit(uint64(j.listLimit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending writes: %w", err)
	}
	defer rows.Close()

	var writes []*PendingWrite
	for rows.Next() {
		write, err := scanPendingWrite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending write: %w", err)
		}
		writes = append(writes, write)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending writes: %w", err)
	}
	return writes, nil
}

// ListGroups returns the ids of all groups with at least one pending write
func (j *SQLJournal) ListGroups(ctx context.Context) ([]string, error) {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Question).
		Select("DISTINCT group_id").
		From("pending_writes").
		OrderBy("group_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building groups query: %w", err)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return nil, fmt.Errorf("scanning group id: %w", err)
		}
		groups = append(groups, groupID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending groups: %w", err)
	}
	return groups, nil
}

// RecordAttempt bumps a write's attempt count after a failed delivery
func (j *SQLJournal) RecordAttempt(ctx context.Context, id string) error {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Question).
		Update("pending_writes").
		Set("attempts", sq.Expr("attempts + 1")).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building attempt query: %w", err)
	}

	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrWriteNotFound
	}
	return nil
}

// Remove deletes a confirmed write from the journal
func (j *SQLJournal) Remove(ctx context.Context, id string) error {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Question).
		Delete("pending_writes").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building remove query: %w", err)
	}

	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("removing pending write: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrWriteNotFound
	}
	return nil
}

// CountByGroup reports how many writes are pending for a group
func (j *SQLJournal) CountByGroup(ctx context.Context, groupID string) (int, error) {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Question).
		Select("COUNT(*)").
		From("pending_writes").
		Where(sq.Eq{"group_id": groupID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var count int
	if err := j.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting pending writes: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPendingWrite(s scanner) (*PendingWrite, error) {
	var write PendingWrite
	var payload []byte
	if err := s.Scan(
		&write.ID,
		&write.GroupID,
		&write.EntityID,
		&write.EntityType,
		&write.Op,
		&payload,
		&write.Attempts,
		&write.CreatedAt,
		&write.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		write.Payload = payload
	}
	return &write, nil
}
