// Package persona manages reusable assistant personalities: a name, a
// system prompt and generation preferences applied to chats that use it.
package persona

import (
	"time"

	"github.com/tildaslashalef/murmur/internal/ulid"
)

// Persona is a named assistant configuration
type Persona struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	SystemPrompt string     `json:"system_prompt"`
	Model        string     `json:"model,omitempty"`
	Temperature  *float64   `json:"temperature,omitempty"`
	IsDefault    bool       `json:"is_default"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SyncedAt     *time.Time `json:"synced_at,omitempty"`
}

// New creates a persona with a client-assigned ID
func New(name, systemPrompt string) *Persona {
	now := time.Now()
	return &Persona{
		ID:           ulid.PersonaID(),
		Name:         name,
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
