package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

var (
	// ErrChatNotFound is returned when a chat is not found
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound is returned when a message is not found
	ErrMessageNotFound = errors.New("message not found")
)

// Repository defines the interface for chat persistence operations
type Repository interface {
	// Chat operations
	CreateChat(ctx context.Context, chat *Chat) error
	GetChatByID(ctx context.Context, id string) (*Chat, error)
	ListChats(ctx context.Context, limit, offset int) ([]*Chat, error)
	UpdateChat(ctx context.Context, chat *Chat) error
	DeleteChat(ctx context.Context, id string) error
	MarkChatSynced(ctx context.Context, id string, at time.Time) error

	// Message operations
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error)
	UpdateMessage(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, id string) error
	MarkMessageSynced(ctx context.Context, id string, revision int64, at time.Time) error
}

// SQLRepository implements Repository using SQLite
type SQLRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLRepository creates a new chat SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) Repository {
	return &SQLRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// CreateChat saves a new chat to the database
func (r *SQLRepository) CreateChat(ctx context.Context, chat *Chat) error {
	now := time.Now()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = now
	}

	query, args, err := r.builder.
		Insert("chats").
		Columns("id", "title", "persona_id", "created_at", "updated_at", "synced_at").
		Values(chat.ID, chat.Title, nullString(chat.PersonaID), chat.CreatedAt, chat.UpdatedAt, chat.SyncedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert chat query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}

	r.logger.Debug("Created chat", "id", chat.ID, "title", chat.Title)
	return nil
}

// GetChatByID retrieves a chat by its ID
func (r *SQLRepository) GetChatByID(ctx context.Context, id string) (*Chat, error) {
	query, args, err := r.builder.
		Select("id", "title", "persona_id", "created_at", "updated_at", "synced_at").
		From("chats").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select chat query: %w", err)
	}

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("scanning chat: %w", err)
	}

	return chat, nil
}

// ListChats retrieves chats ordered by most recently updated
func (r *SQLRepository) ListChats(ctx context.Context, limit, offset int) ([]*Chat, error) {
	q := r.builder.
		Select("id", "title", "persona_id", "created_at", "updated_at", "synced_at").
		From("chats").
		OrderBy("updated_at DESC")

	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list chats query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing list chats query: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}

	return chats, nil
}

// UpdateChat updates an existing chat
func (r *SQLRepository) UpdateChat(ctx context.Context, chat *Chat) error {
	chat.UpdatedAt = time.Now()

	query, args, err := r.builder.
		Update("chats").
		Set("title", chat.Title).
		Set("persona_id", nullString(chat.PersonaID)).
		Set("updated_at", chat.UpdatedAt).
		Where(sq.Eq{"id": chat.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update chat query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating chat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrChatNotFound
	}

	return nil
}

// DeleteChat deletes a chat and, via foreign keys, its messages
func (r *SQLRepository) DeleteChat(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Delete("chats").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete chat query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrChatNotFound
	}

	return nil
}

// MarkChatSynced records a confirmed remote write for a chat
func (r *SQLRepository) MarkChatSynced(ctx context.Context, id string, at time.Time) error {
	query, args, err := r.builder.
		Update("chats").
		Set("synced_at", at).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building mark chat synced query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking chat synced: %w", err)
	}

	return nil
}

// CreateMessage saves a new message to the database
func (r *SQLRepository) CreateMessage(ctx context.Context, msg *Message) error {
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = now
	}

	query, args, err := r.builder.
		Insert("messages").
		Columns("id", "chat_id", "role", "content", "revision", "created_at", "updated_at", "synced_at").
		Values(msg.ID, msg.ChatID, msg.Role, msg.Content, msg.Revision, msg.CreatedAt, msg.UpdatedAt, msg.SyncedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert message query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

// GetMessageByID retrieves a message by its ID
func (r *SQLRepository) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	query, args, err := r.builder.
		Select("id", "chat_id", "role", "content", "revision", "created_at", "updated_at", "synced_at").
		From("messages").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select message query: %w", err)
	}

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	return msg, nil
}

// GetMessagesByChatID retrieves all messages of a chat in creation order
func (r *SQLRepository) GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error) {
	query, args, err := r.builder.
		Select("id", "chat_id", "role", "content", "revision", "created_at", "updated_at", "synced_at").
		From("messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC, id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select messages query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing select messages query: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// UpdateMessage updates an existing message
func (r *SQLRepository) UpdateMessage(ctx context.Context, msg *Message) error {
	msg.UpdatedAt = time.Now()

	query, args, err := r.builder.
		Update("messages").
		Set("content", msg.Content).
		Set("revision", msg.Revision).
		Set("updated_at", msg.UpdatedAt).
		Where(sq.Eq{"id": msg.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update message query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// DeleteMessage deletes a message
func (r *SQLRepository) DeleteMessage(ctx context.Context, id string) error {
	query, args, err := r.builder.
		Delete("messages").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete message query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// MarkMessageSynced records a confirmed remote write and the server-assigned
// revision for a message
func (r *SQLRepository) MarkMessageSynced(ctx context.Context, id string, revision int64, at time.Time) error {
	query, args, err := r.builder.
		Update("messages").
		Set("revision", revision).
		Set("synced_at", at).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building mark message synced query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking message synced: %w", err)
	}

	return nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanChat(s scanner) (*Chat, error) {
	var chat Chat
	var personaID sql.NullString
	var syncedAt sql.NullTime

	if err := s.Scan(&chat.ID, &chat.Title, &personaID, &chat.CreatedAt, &chat.UpdatedAt, &syncedAt); err != nil {
		return nil, err
	}

	if personaID.Valid {
		chat.PersonaID = personaID.String
	}
	if syncedAt.Valid {
		chat.SyncedAt = &syncedAt.Time
	}

	return &chat, nil
}

func scanMessage(s scanner) (*Message, error) {
	var msg Message
	var syncedAt sql.NullTime

	if err := s.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.Revision, &msg.CreatedAt, &msg.UpdatedAt, &syncedAt); err != nil {
		return nil, err
	}

	if syncedAt.Valid {
		msg.SyncedAt = &syncedAt.Time
	}

	return &msg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
