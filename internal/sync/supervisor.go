package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tildaslashalef/murmur/internal/loggy"
	"github.com/tildaslashalef/murmur/internal/ulid"
)

// Supervisor owns the lifecycle of realtime subscriptions, one handle per
// watched topic. Events never reach application state directly: every event
// a live channel yields is handed to the deliver callback, which routes it.
// On error the supervisor reports and waits; reconnection is driven from
// outside (the network monitor's reconnect trigger or an explicit retry).
type Supervisor struct {
	store   RemoteStore
	deliver func(Event)
	logger  *loggy.Logger

	mu   sync.Mutex
	subs map[string]*supervisedSub
}

type supervisedSub struct {
	handle SubscriptionHandle
	sub    Subscription
}

// NewSupervisor creates a subscription supervisor delivering events to
// deliver
func NewSupervisor(store RemoteStore, deliver func(Event), logger *loggy.Logger) *Supervisor {
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &Supervisor{
		store:   store,
		deliver: deliver,
		logger:  logger,
		subs:    make(map[string]*supervisedSub),
	}
}

// Watch opens a realtime channel for a topic. Watching an already-watched
// topic is an error; use RetryErrored to recover a failed channel.
func (s *Supervisor) Watch(ctx context.Context, topic string) error {
	s.mu.Lock()
	if _, exists := s.subs[topic]; exists {
		s.mu.Unlock()
		return fmt.Errorf("topic %s already watched", topic)
	}
	entry := &supervisedSub{
		handle: SubscriptionHandle{
			ID:    ulid.SubscriptionID(),
			Topic: topic,
			State: StateConnecting,
		},
	}
	s.subs[topic] = entry
	s.mu.Unlock()

	return s.connect(ctx, topic)
}

// connect establishes (or re-establishes) the channel for a topic whose
// entry already exists
func (s *Supervisor) connect(ctx context.Context, topic string) error {
	sub, err := s.store.Subscribe(ctx, topic,
		func(event Event) {
			s.deliver(event)
		},
		func(status SubscriptionStatus) {
			s.transition(topic, status)
		},
	)
	if err != nil {
		s.transition(topic, SubscriptionStatus{State: StateError, Err: err})
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	s.mu.Lock()
	if entry, ok := s.subs[topic]; ok {
		entry.sub = sub
	}
	s.mu.Unlock()

	s.logger.Debug("subscription opened", "topic", topic)
	return nil
}

// transition records a state change for a topic's handle
func (s *Supervisor) transition(topic string, status SubscriptionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.subs[topic]
	if !ok {
		return
	}
	// Closed is terminal until an explicit re-watch
	if entry.handle.State == StateClosed {
		return
	}

	entry.handle.State = status.State
	entry.handle.UpdatedAt = time.Now()
	if status.Err != nil {
		entry.handle.LastError = status.Err.Error()
		s.logger.Warn("subscription error", "topic", topic, "error", status.Err)
	} else {
		entry.handle.LastError = ""
		s.logger.Debug("subscription state changed", "topic", topic, "state", status.State)
	}
}

// RetryErrored re-establishes every channel currently in the error state.
// Called by the network monitor's reconnect path.
func (s *Supervisor) RetryErrored(ctx context.Context) {
	s.mu.Lock()
	var topics []string
	for topic, entry := range s.subs {
		if entry.handle.State == StateError {
			entry.handle.State = StateConnecting
			entry.handle.UpdatedAt = time.Now()
			if entry.sub != nil {
				_ = entry.sub.Close()
				entry.sub = nil
			}
			topics = append(topics, topic)
		}
	}
	s.mu.Unlock()

	for _, topic := range topics {
		if err := s.connect(ctx, topic); err != nil {
			s.logger.Warn("subscription retry failed", "topic", topic, "error", err)
		}
	}
}

// Unwatch tears down the channel for one topic
func (s *Supervisor) Unwatch(topic string) error {
	s.mu.Lock()
	entry, ok := s.subs[topic]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("topic %s not watched", topic)
	}
	delete(s.subs, topic)
	entry.handle.State = StateClosed
	sub := entry.sub
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			return fmt.Errorf("closing subscription for %s: %w", topic, err)
		}
	}
	s.logger.Debug("subscription closed", "topic", topic)
	return nil
}

// CloseAll tears down every channel. Used at shutdown.
func (s *Supervisor) CloseAll() {
	s.mu.Lock()
	entries := make([]*supervisedSub, 0, len(s.subs))
	for _, entry := range s.subs {
		entry.handle.State = StateClosed
		entries = append(entries, entry)
	}
	s.subs = make(map[string]*supervisedSub)
	s.mu.Unlock()

	for _, entry := range entries {
		if entry.sub != nil {
			if err := entry.sub.Close(); err != nil {
				s.logger.Warn("closing subscription", "topic", entry.handle.Topic, "error", err)
			}
		}
	}
}

// Handles returns a snapshot of every watched topic's handle, sorted by
// topic for stable output
func (s *Supervisor) Handles() []SubscriptionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	handles := make([]SubscriptionHandle, 0, len(s.subs))
	for _, entry := range s.subs {
		handles = append(handles, entry.handle)
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].Topic < handles[j].Topic
	})
	return handles
}
