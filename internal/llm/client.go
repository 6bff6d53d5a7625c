package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/tildaslashalef/murmur/internal/config"
	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/sync"
)

const (
	defaultChunkIdle   = 30 * time.Second
	defaultStreamTotal = 300 * time.Second
)

// Client is the chat completion and embedding API client
type Client struct {
	cfg config.LLMConfig
	mem config.MemoryConfig

	// httpClient carries the request timeout; streamClient has none because
	// stream liveness is enforced by the chunk-idle and total deadlines
	httpClient   *http.Client
	streamClient *http.Client

	limiter *rate.Limiter
	clock   sync.Clock
	logger  *loggy.Logger

	chunkIdle   time.Duration
	streamTotal time.Duration
}

// NewClient creates a new LLM client with the provided configuration
func NewClient(cfg config.LLMConfig, mem config.MemoryConfig, clock sync.Clock, logger *loggy.Logger) *Client {
	if clock == nil {
		clock = sync.NewClock()
	}
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}

	chunkIdle := cfg.StreamChunkIdle
	if chunkIdle <= 0 {
		chunkIdle = defaultChunkIdle
	}
	streamTotal := cfg.StreamTotal
	if streamTotal <= 0 {
		streamTotal = defaultStreamTotal
	}

	return &Client{
		cfg:          cfg,
		mem:          mem,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		limiter:      newLimiter(cfg.RequestsPerMinute, cfg.BurstLimit),
		clock:        clock,
		logger:       logger,
		chunkIdle:    chunkIdle,
		streamTotal:  streamTotal,
	}
}

// newLimiter builds a per-minute rate limiter. A zero rpm disables limiting.
func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// GenerateChat sends a non-streaming chat completion request
func (c *Client) GenerateChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	c.applyDefaults(&req)
	req.Stream = false

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var resp ChatResponse
	operation := func() error {
		return c.makeRequest(ctx, http.MethodPost, c.cfg.Endpoint, "/api/chat", req, &resp)
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries))); err != nil {
		return nil, fmt.Errorf("generating chat completion: %w", err)
	}

	if resp.Error != "" {
		return &resp, fmt.Errorf("model error: %s", resp.Error)
	}
	return &resp, nil
}

// GenerateChatStream sends a streaming chat completion request. The returned
// channel yields chunks until the model reports done, a deadline expires, or
// the context is cancelled; it is always closed. Deadline expiry ends the
// stream with a final Done chunk, not an error.
func (c *Client) GenerateChatStream(ctx context.Context, req ChatRequest) (<-chan ChatResponse, error) {
	c.applyDefaults(&req)
	req.Stream = true

	responses := make(chan ChatResponse)
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(responses)
		defer cancel()

		if err := c.limiter.Wait(streamCtx); err != nil {
			return
		}

		// Retry only until the first chunk is delivered; replaying a
		// half-consumed stream would duplicate output
		delivered := false
		operation := func() error {
			err := c.streamOnce(streamCtx, req, responses, &delivered)
			if err != nil && delivered {
				return backoff.Permanent(err)
			}
			return err
		}

		err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)))
		if err != nil {
			select {
			case responses <- ChatResponse{Error: err.Error()}:
			case <-streamCtx.Done():
			}
		}
	}()

	return responses, nil
}

// streamOnce performs one streaming request and forwards chunks, enforcing
// the chunk-idle and total stream deadlines
func (c *Client) streamOnce(ctx context.Context, req ChatRequest, responses chan<- ChatResponse, delivered *bool) error {
	body, err := json.Marshal(req)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	chunks := make(chan ChatResponse)
	readErr := make(chan error, 1)
	go func() {
		defer close(chunks)
		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk ChatResponse
			if err := decoder.Decode(&chunk); err != nil {
				if err != io.EOF {
					readErr <- err
				}
				return
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	total := c.clock.After(c.streamTotal)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					return fmt.Errorf("decoding response: %w", err)
				default:
				}
				// stream ended without a done marker
				return nil
			}
			*delivered = true
			select {
			case responses <- chunk:
			case <-ctx.Done():
				return nil
			}
			if chunk.Done || chunk.Error != "" {
				return nil
			}
		case <-c.clock.After(c.chunkIdle):
			c.logger.Warn("stream idle past deadline, ending response", "model", req.Model, "idle", c.chunkIdle)
			c.endStream(ctx, req.Model, responses, delivered)
			return nil
		case <-total:
			c.logger.Warn("stream exceeded total deadline, ending response", "model", req.Model, "total", c.streamTotal)
			c.endStream(ctx, req.Model, responses, delivered)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// endStream closes out a stream gracefully with a final Done chunk
func (c *Client) endStream(ctx context.Context, model string, responses chan<- ChatResponse, delivered *bool) {
	*delivered = true
	select {
	case responses <- ChatResponse{Model: model, Message: Message{Role: RoleAssistant}, Done: true}:
	case <-ctx.Done():
	}
}

// Embed generates an embedding for a single text input. It satisfies the
// memory service's Embedder interface.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	endpoint := c.mem.EmbeddingEndpoint
	if endpoint == "" {
		endpoint = c.cfg.Endpoint
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req := EmbedRequest{Model: c.mem.EmbeddingModel, Input: text}
	var resp EmbedResponse
	operation := func() error {
		return c.makeRequest(ctx, http.MethodPost, endpoint, "/api/embed", req, &resp)
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries))); err != nil {
		return nil, fmt.Errorf("generating embedding: %w", err)
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("model error: %s", resp.Error)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0], nil
}

func (c *Client) applyDefaults(req *ChatRequest) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	if req.Temperature == nil && c.cfg.Temperature > 0 {
		temp := c.cfg.Temperature
		req.Temperature = &temp
	}
}

// makeRequest is a helper method to make HTTP requests to the API
func (c *Client) makeRequest(ctx context.Context, method, endpoint, path string, reqBody, respBody interface{}) error {
	url := endpoint + path

	var bodyReader io.Reader
	if reqBody != nil {
		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marshaling request body: %w", err))
		}
		bodyReader = bytes.NewReader(bodyBytes)

		c.logger.Debug("Sending LLM request", "method", method, "url", url)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	if len(bodyBytes) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(bodyBytes, respBody); err != nil {
		return backoff.Permanent(fmt.Errorf("unmarshaling response body: %w", err))
	}
	return nil
}
