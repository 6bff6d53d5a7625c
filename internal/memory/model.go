// Package memory gives chats long-term recall: durable fragments of past
// conversations are embedded and indexed in sqlite-vec, and the most similar
// ones are pulled back in to ground a new prompt.
package memory

import (
	"errors"
	"time"

	"github.com/tildaslashalef/murmur/internal/ulid"
)

// Fragment is one remembered piece of conversation
type Fragment struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id,omitempty"`
	Content   string    `json:"content"`
	VectorID  int64     `json:"vector_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFragment creates a fragment with a client-assigned ID
func NewFragment(chatID, content string) *Fragment {
	now := time.Now()
	return &Fragment{
		ID:        ulid.MemoryID(),
		ChatID:    chatID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ScoredFragment is a fragment with its similarity to a query
type ScoredFragment struct {
	Fragment   *Fragment
	Similarity float64
}

var (
	// ErrInvalidEmbedding is returned when an embedding is empty or malformed
	ErrInvalidEmbedding = errors.New("invalid embedding vector")

	// ErrFragmentNotFound is returned when a fragment does not exist
	ErrFragmentNotFound = errors.New("memory fragment not found")
)
