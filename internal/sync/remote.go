package sync

import (
	"context"
	"encoding/json"
	"time"
)

// RemoteEntity is the remote store's view of an entity after a confirmed
// write: the stable client-assigned id plus the server-assigned revision.
type RemoteEntity struct {
	ID        string    `json:"id"`
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RemoteStore is the boundary to the remote entity store. Implementations
// wrap the hosted backend; the sync layer never talks to the network
// directly outside this interface.
type RemoteStore interface {
	// Create persists a new entity remotely. The entity id is assigned
	// client-side and must be honored by the store.
	Create(ctx context.Context, entityType EntityType, entityID string, payload json.RawMessage) (*RemoteEntity, error)

	// Update applies a patch to an existing remote entity
	Update(ctx context.Context, entityType EntityType, entityID string, patch json.RawMessage) (*RemoteEntity, error)

	// Delete removes a remote entity
	Delete(ctx context.Context, entityType EntityType, entityID string) error

	// Subscribe opens a realtime channel for one topic. Events are
	// delivered to onEvent in receipt order; status transitions to
	// onStatus. The returned Subscription stops delivery when closed.
	Subscribe(ctx context.Context, topic string, onEvent func(Event), onStatus func(SubscriptionStatus)) (Subscription, error)
}

// Subscription is one live realtime channel
type Subscription interface {
	Close() error
}

// SubscriptionStatus is a status transition reported by a subscription
type SubscriptionStatus struct {
	State SubscriptionState
	Err   error
}

// Platform reports process-wide connectivity as observed by the host
// environment
type Platform interface {
	// IsOnline reports the current connectivity state
	IsOnline() bool

	// OnConnectivityChange registers a handler invoked on every
	// online/offline transition. The returned function cancels the
	// registration.
	OnConnectivityChange(handler func(online bool)) (cancel func())
}

// Clock abstracts timer waits so backoff delays and timeout deadlines can
// be controlled in tests
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// NewClock returns a Clock backed by the system timer
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
