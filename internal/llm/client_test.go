package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/murmur/internal/config"
	"github.com/tildaslashalef/murmur/internal/sync"
)

// setupTestServer creates a test HTTP server that simulates the completion API
func setupTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.LLMConfig{
		Endpoint:   server.URL,
		Model:      "test-model",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		MaxTokens:  256,
	}
	mem := config.MemoryConfig{
		EmbeddingModel:    "test-embed",
		EmbeddingEndpoint: server.URL,
	}

	return server, NewClient(cfg, mem, sync.NewClock(), nil)
}

// manualClock holds timers until the test fires them
type manualClock struct {
	mu      stdsync.Mutex
	pending []chan time.Time
}

func (c *manualClock) Now() time.Time { return time.Now() }

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.pending = append(c.pending, ch)
	return ch
}

func (c *manualClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *manualClock) fire(i int) {
	c.mu.Lock()
	ch := c.pending[i]
	c.mu.Unlock()
	ch <- time.Now()
}

func TestGenerateChat(t *testing.T) {
	var gotReq ChatRequest
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ChatResponse{
			Model:   gotReq.Model,
			Message: Message{Role: RoleAssistant, Content: "hello there"},
			Done:    true,
		})
	})

	resp, err := client.GenerateChat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Message.Content)
	assert.True(t, resp.Done)
	assert.Equal(t, "test-model", gotReq.Model, "default model applied")
	assert.Equal(t, 256, gotReq.MaxTokens, "default max tokens applied")
	assert.False(t, gotReq.Stream)
}

func TestGenerateChat_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(ChatResponse{
			Message: Message{Role: RoleAssistant, Content: "recovered"},
			Done:    true,
		})
	})

	resp, err := client.GenerateChat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Message.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateChat_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such model", http.StatusNotFound)
	})

	_, err := client.GenerateChat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateChatStream(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		flusher := w.(http.Flusher)
		enc := json.NewEncoder(w)
		for _, content := range []string{"streamed ", "response"} {
			enc.Encode(ChatResponse{Message: Message{Role: RoleAssistant, Content: content}})
			flusher.Flush()
		}
		enc.Encode(ChatResponse{Message: Message{Role: RoleAssistant}, Done: true})
	})

	responses, err := client.GenerateChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var done bool
	for chunk := range responses {
		require.Empty(t, chunk.Error)
		text += chunk.Message.Content
		done = chunk.Done
	}
	assert.Equal(t, "streamed response", text)
	assert.True(t, done, "stream ends with a done chunk")
}

func TestGenerateChatStream_IdleDeadlineEndsStream(t *testing.T) {
	stall := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		json.NewEncoder(w).Encode(ChatResponse{Message: Message{Role: RoleAssistant, Content: "partial"}})
		flusher.Flush()
		// stall without ever sending a done chunk
		select {
		case <-stall:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(stall) })

	clock := &manualClock{}
	client := NewClient(config.LLMConfig{
		Endpoint:  server.URL,
		Model:     "test-model",
		MaxTokens: 256,
	}, config.MemoryConfig{}, clock, nil)

	responses, err := client.GenerateChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	first := <-responses
	assert.Equal(t, "partial", first.Message.Content)
	assert.False(t, first.Done)

	// fire the idle timer registered after the first chunk
	require.Eventually(t, func() bool { return clock.count() >= 3 }, time.Second, time.Millisecond)
	clock.fire(clock.count() - 1)

	final, ok := <-responses
	require.True(t, ok)
	assert.True(t, final.Done, "idle expiry ends the stream gracefully")
	assert.Empty(t, final.Error)

	_, ok = <-responses
	assert.False(t, ok, "channel closed after the final chunk")
}

func TestGenerateChatStream_ContextCancel(t *testing.T) {
	stall := make(chan struct{})
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		json.NewEncoder(w).Encode(ChatResponse{Message: Message{Role: RoleAssistant, Content: "partial"}})
		flusher.Flush()
		select {
		case <-stall:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(stall) })

	ctx, cancel := context.WithCancel(context.Background())
	responses, err := client.GenerateChatStream(ctx, ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	<-responses
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-responses:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond, "channel closes after cancellation")
}

func TestEmbed(t *testing.T) {
	var gotReq EmbedRequest
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(EmbedResponse{
			Model:      gotReq.Model,
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		})
	})

	vec, err := client.Embed(context.Background(), "remember this")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "test-embed", gotReq.Model)
	assert.Equal(t, "remember this", gotReq.Input)
}

func TestEmbed_EmptyResponse(t *testing.T) {
	_, client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EmbedResponse{})
	})

	_, err := client.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty embedding")
}
