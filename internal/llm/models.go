// Package llm provides the streaming chat-completion and embedding client
// used by the chat and memory services. It talks to any Ollama-compatible
// endpoint and enforces the stream liveness deadlines: a stalled or overlong
// stream is ended gracefully rather than surfaced as an error.
package llm

import "time"

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// ChatResponse is one chat completion response. For streaming requests a
// sequence of these arrives, the last with Done set.
type ChatResponse struct {
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Message   Message   `json:"message"`
	Done      bool      `json:"done"`
	Error     string    `json:"error,omitempty"`
}

// EmbedRequest is an embedding request
type EmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// EmbedResponse is an embedding response
type EmbedResponse struct {
	Model      string      `json:"model,omitempty"`
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}
