package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// APIError represents an error response from the sync server
type APIError struct {
	StatusCode   int    `json:"-"`
	ErrorDetails struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Error implements the error interface for APIError
func (e *APIError) Error() string {
	if e.ErrorDetails.Message != "" {
		return fmt.Sprintf("%s: %s", e.ErrorDetails.Type, e.ErrorDetails.Message)
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

// HTTPStore is the RemoteStore implementation for Murmur's hosted sync
// server: entity writes over REST, change events over a websocket channel
// per topic.
type HTTPStore struct {
	baseURL    string
	token      string
	deviceName string
	httpClient *http.Client
	logger     *loggy.Logger
}

// NewHTTPStore creates a remote store client. baseURL is the server root
// without a trailing slash; token authenticates every request.
func NewHTTPStore(baseURL, token, deviceName string, timeout time.Duration, logger *loggy.Logger) *HTTPStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &HTTPStore{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		deviceName: deviceName,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Create persists a new entity remotely
func (s *HTTPStore) Create(ctx context.Context, entityType EntityType, entityID string, payload json.RawMessage) (*RemoteEntity, error) {
	var entity RemoteEntity
	path := fmt.Sprintf("/v1/%s/%s", pathSegment(entityType), url.PathEscape(entityID))
	if err := s.makeRequest(ctx, http.MethodPut, path, payload, &entity); err != nil {
		return nil, fmt.Errorf("creating remote %s: %w", entityType, err)
	}
	return &entity, nil
}

// Update applies a patch to an existing remote entity
func (s *HTTPStore) Update(ctx context.Context, entityType EntityType, entityID string, patch json.RawMessage) (*RemoteEntity, error) {
	var entity RemoteEntity
	path := fmt.Sprintf("/v1/%s/%s", pathSegment(entityType), url.PathEscape(entityID))
	if err := s.makeRequest(ctx, http.MethodPatch, path, patch, &entity); err != nil {
		return nil, fmt.Errorf("updating remote %s: %w", entityType, err)
	}
	return &entity, nil
}

// Delete removes a remote entity
func (s *HTTPStore) Delete(ctx context.Context, entityType EntityType, entityID string) error {
	path := fmt.Sprintf("/v1/%s/%s", pathSegment(entityType), url.PathEscape(entityID))
	if err := s.makeRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting remote %s: %w", entityType, err)
	}
	return nil
}

// Subscribe opens a websocket channel for one topic and pumps its events
// to onEvent until the subscription is closed or the connection fails
func (s *HTTPStore) Subscribe(ctx context.Context, topic string, onEvent func(Event), onStatus func(SubscriptionStatus)) (Subscription, error) {
	wsURL, err := s.websocketURL(topic)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)
	if s.deviceName != "" {
		header.Set("X-Murmur-Device", s.deviceName)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("dialing %s (status %d): %w", topic, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", topic, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	sub := &wsSubscription{
		conn: conn,
		done: make(chan struct{}),
	}
	onStatus(SubscriptionStatus{State: StateSubscribed})
	go sub.readLoop(topic, onEvent, onStatus, s.logger)

	s.logger.Debug("websocket subscription opened", "topic", topic)
	return sub, nil
}

func (s *HTTPStore) websocketURL(topic string) (string, error) {
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	case "http":
		base.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/v1/subscribe"
	query := base.Query()
	query.Set("topic", topic)
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func (s *HTTPStore) makeRequest(ctx context.Context, method, path string, body json.RawMessage, response interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	if s.deviceName != "" {
		req.Header.Set("X-Murmur-Device", s.deviceName)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil {
			apiErr.ErrorDetails.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func pathSegment(entityType EntityType) string {
	return string(entityType) + "s"
}

// wsSubscription is one live websocket channel
type wsSubscription struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Close tears down the channel; the read loop exits on the closed
// connection. Safe to call more than once.
func (w *wsSubscription) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		deadline := time.Now().Add(time.Second)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = w.conn.Close()
	})
	return err
}

func (w *wsSubscription) readLoop(topic string, onEvent func(Event), onStatus func(SubscriptionStatus), logger *loggy.Logger) {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				onStatus(SubscriptionStatus{State: StateClosed})
			default:
				onStatus(SubscriptionStatus{State: StateError, Err: err})
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Warn("malformed event dropped by decoder", "topic", topic, "error", err)
			continue
		}
		event.Topic = topic
		if event.ReceivedAt.IsZero() {
			event.ReceivedAt = time.Now()
		}
		onEvent(event)
	}
}
