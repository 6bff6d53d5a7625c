package persona

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// ErrPersonaNotFound is returned when a persona does not exist
var ErrPersonaNotFound = errors.New("persona not found")

// Repository defines persona persistence operations
type Repository interface {
	Create(ctx context.Context, p *Persona) error
	GetByID(ctx context.Context, id string) (*Persona, error)
	GetDefault(ctx context.Context) (*Persona, error)
	List(ctx context.Context) ([]*Persona, error)
	Update(ctx context.Context, p *Persona) error
	Delete(ctx context.Context, id string) error
	SetDefault(ctx context.Context, id string) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// SQLRepository implements Repository using SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new persona SQL repository
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

var personaColumns = []string{"id", "name", "system_prompt", "model", "temperature", "is_default", "created_at", "updated_at", "synced_at"}

// Create saves a new persona
func (r *SQLRepository) Create(ctx context.Context, p *Persona) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	query, args, err := r.builder.
		Insert("personas").
		Columns(personaColumns...).
		Values(p.ID, p.Name, p.SystemPrompt, nullString(p.Model), p.Temperature, p.IsDefault, p.CreatedAt, p.UpdatedAt, p.SyncedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert persona query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting persona: %w", err)
	}

	r.logger.Debug("Created persona", "id", p.ID, "name", p.Name)
	return nil
}

// GetByID retrieves a persona by its ID
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*Persona, error) {
	query, args, err := r.builder.
		Select(personaColumns...).
		From("personas").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select persona query: %w", err)
	}
	return r.getOne(ctx, query, args)
}

// GetDefault retrieves the persona marked as default
func (r *SQLRepository) GetDefault(ctx context.Context) (*Persona, error) {
	query, args, err := r.builder.
		Select(personaColumns...).
		From("personas").
		Where(sq.Eq{"is_default": true}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select default persona query: %w", err)
	}
	return r.getOne(ctx, query, args)
}

func (r *SQLRepository) getOne(ctx context.Context, query string, args []interface{}) (*Persona, error) {
	p, err := scanPersona(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPersonaNotFound
		}
		return nil, fmt.Errorf("scanning persona: %w", err)
	}
	return p, nil
}

// List retrieves every persona, default first, then by name
func (r *SQLRepository) List(ctx context.Context) ([]*Persona, error) {
	query, args, err := r.builder.
		Select(personaColumns...).
		From("personas").
		OrderBy("is_default DESC", "name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list personas query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list personas query: %w", err)
	}
	defer rows.Close()

	var personas []*Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning persona row: %w", err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating persona rows: %w", err)
	}
	return personas, nil
}

// Update updates an existing persona
func (r *SQLRepository) Update(ctx context.Context, p *Persona) error {
	p.UpdatedAt = time.Now()

	query, args, err := r.builder.
		Update("personas").
		Set("name", p.Name).
		Set("system_prompt", p.SystemPrompt).
		Set("model", nullString(p.Model)).
		Set("temperature", p.Temperature).
		Set("is_default", p.IsDefault).
		Set("updated_at", p.UpdatedAt).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update persona query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating persona: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPersonaNotFound
	}
	return nil
}

// Delete removes a persona
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Delete("personas").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete persona query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting persona: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPersonaNotFound
	}
	return nil
}

// SetDefault marks one persona as the default and clears the flag everywhere
// else
func (r *SQLRepository) SetDefault(ctx context.Context, id string) error {
	clearQuery, clearArgs, err := r.builder.
		Update("personas").
		Set("is_default", false).
		Where(sq.NotEq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building clear default query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, clearQuery, clearArgs...); err != nil {
		return fmt.Errorf("clearing default persona: %w", err)
	}

	setQuery, setArgs, err := r.builder.
		Update("personas").
		Set("is_default", true).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building set default query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, setQuery, setArgs...)
	if err != nil {
		return fmt.Errorf("setting default persona: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPersonaNotFound
	}
	return nil
}

// MarkSynced records a confirmed remote write for a persona
func (r *SQLRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	query, args, err := r.builder.
		Update("personas").
		Set("synced_at", at).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building mark persona synced query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking persona synced: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPersona(s scanner) (*Persona, error) {
	var p Persona
	var model sql.NullString
	var temperature sql.NullFloat64
	if err := s.Scan(
		&p.ID,
		&p.Name,
		&p.SystemPrompt,
		&model,
		&temperature,
		&p.IsDefault,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.SyncedAt,
	); err != nil {
		return nil, err
	}
	if model.Valid {
		p.Model = model.String
	}
	if temperature.Valid {
		t := temperature.Float64
		p.Temperature = &t
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
