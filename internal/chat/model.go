// Package chat provides chat session and message management for Murmur
package chat

import (
	"time"

	"github.com/tildaslashalef/murmur/internal/ulid"
)

// Role identifies the author of a message
type Role string

const (
	// RoleUser is a message written by the user
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model
	RoleAssistant Role = "assistant"
	// RoleSystem is an instruction message
	RoleSystem Role = "system"
)

// Chat represents a chat session. The ID is minted client-side at creation
// and stays stable through sync.
type Chat struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	PersonaID string     `json:"persona_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

// NewChat creates a new chat with a client-assigned ID
func NewChat(title, personaID string) *Chat {
	now := time.Now()
	return &Chat{
		ID:        ulid.ChatID(),
		Title:     title,
		PersonaID: personaID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NeedsSync reports whether the chat has local changes not yet confirmed
// by the remote store
func (c *Chat) NeedsSync() bool {
	return c.SyncedAt == nil || c.SyncedAt.Before(c.UpdatedAt)
}

// Message represents one message in a chat. Revision is a monotonic marker
// assigned by the remote store and used for ordering during reconciliation.
type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Revision  int64      `json:"revision"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

// NewMessage creates a new message with a client-assigned ID
func NewMessage(chatID string, role Role, content string) *Message {
	now := time.Now()
	return &Message{
		ID:        ulid.MessageID(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NeedsSync reports whether the message has local changes not yet confirmed
// by the remote store
func (m *Message) NeedsSync() bool {
	return m.SyncedAt == nil || m.SyncedAt.Before(m.UpdatedAt)
}
