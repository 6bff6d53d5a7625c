// Package vault stores snippets the user saves out of chats: answers worth
// keeping, prompts worth reusing, anything pinned for later.
package vault

import (
	"strings"
	"time"

	"github.com/tildaslashalef/murmur/internal/ulid"
)

// Snippet is one saved piece of content, optionally linked back to the chat
// and message it came from
type Snippet struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Tags      []string   `json:"tags,omitempty"`
	ChatID    string     `json:"chat_id,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

// New creates a snippet with a client-assigned ID
func New(title, content string, tags []string) *Snippet {
	now := time.Now()
	return &Snippet{
		ID:        ulid.VaultID(),
		Title:     title,
		Content:   content,
		Tags:      normalizeTags(tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SyncGroup is the entity group a snippet's writes belong to: the source
// chat when linked, otherwise the snippet itself
func (s *Snippet) SyncGroup() string {
	if s.ChatID != "" {
		return s.ChatID
	}
	return s.ID
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// joinTags flattens tags into the stored comma-separated form
func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// splitTags parses the stored comma-separated form
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
