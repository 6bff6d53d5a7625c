// Package sync provides the client-side sync and delivery reliability layer:
// routing of remote change events, queuing for unfocused chats, retry and
// backoff reconciliation of unconfirmed writes, connectivity monitoring and
// realtime subscription supervision on top of a remote entity store the
// client does not control.
package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tildaslashalef/murmur/internal/ulid"
)

// EntityType identifies the kind of remote-synchronized record
type EntityType string

const (
	// EntityTypeChat is a chat session
	EntityTypeChat EntityType = "chat"
	// EntityTypeMessage is a message belonging to a chat
	EntityTypeMessage EntityType = "message"
	// EntityTypePersona is a persona definition
	EntityTypePersona EntityType = "persona"
	// EntityTypeVaultSnippet is a saved snippet in the vault
	EntityTypeVaultSnippet EntityType = "vault_snippet"
)

// WriteOp is the kind of mutation a pending write carries
type WriteOp string

const (
	// WriteOpCreate creates a new remote entity
	WriteOpCreate WriteOp = "create"
	// WriteOpUpdate patches an existing remote entity
	WriteOpUpdate WriteOp = "update"
	// WriteOpDelete removes a remote entity
	WriteOpDelete WriteOp = "delete"
)

// PendingWrite is a local mutation not yet confirmed by the remote store.
// It is created when a remote write fails or cannot be attempted, kept
// (with an incremented attempt count) across failed retries, and removed
// only on confirmed success.
type PendingWrite struct {
	ID         string          `json:"id"`
	GroupID    string          `json:"group_id"`
	EntityID   string          `json:"entity_id"`
	EntityType EntityType      `json:"entity_type"`
	Op         WriteOp         `json:"op"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewPendingWrite creates a pending write for an entity mutation
func NewPendingWrite(groupID string, entityType EntityType, entityID string, op WriteOp, payload json.RawMessage) *PendingWrite {
	now := time.Now()
	return &PendingWrite{
		ID:         ulid.WriteID(),
		GroupID:    groupID,
		EntityID:   entityID,
		EntityType: entityType,
		Op:         op,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Event is a remote change notification received over a realtime
// subscription. GroupID names the chat (or other entity group) the event
// belongs to; Revision is the server-assigned ordering marker.
type Event struct {
	Topic      string          `json:"topic"`
	GroupID    string          `json:"group_id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Op         WriteOp         `json:"op"`
	Revision   int64           `json:"revision"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// SubscriptionState is the health state of one realtime channel
type SubscriptionState string

const (
	// StateConnecting means the subscription is being established
	StateConnecting SubscriptionState = "connecting"
	// StateSubscribed means the channel is live and delivering events
	StateSubscribed SubscriptionState = "subscribed"
	// StateError means the channel failed; recovery is reconnect-driven
	StateError SubscriptionState = "error"
	// StateClosed means the channel was torn down deliberately
	StateClosed SubscriptionState = "closed"
)

// SubscriptionHandle describes one live channel to the remote store
type SubscriptionHandle struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	State     SubscriptionState `json:"state"`
	LastError string            `json:"last_error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Health is a snapshot of the sync layer's observable state
type Health struct {
	Online        bool                 `json:"online"`
	Subscriptions []SubscriptionHandle `json:"subscriptions"`
	PendingGroups int                  `json:"pending_groups"`
	QueuedEvents  int                  `json:"queued_events"`
}

// ReconcileResult reports the outcome of one reconciliation run
type ReconcileResult struct {
	GroupID   string
	Confirmed int
	Failed    []*PendingWrite
	Duration  time.Duration
}

// Success reports whether every write in the batch was confirmed
func (r *ReconcileResult) Success() bool {
	return len(r.Failed) == 0
}

// Error taxonomy. Timeout and transient write failures are recovered inside
// the layer; terminal failures and prevented orphans are the only conditions
// surfaced to callers.
var (
	// ErrTimeout is returned by the timeout gate's error policy when a
	// remote call exceeds its deadline
	ErrTimeout = errors.New("remote call exceeded deadline")

	// ErrOrphanPrevented is returned when a dependent write is aborted
	// because its parent entity was never durably created
	ErrOrphanPrevented = errors.New("parent creation failed, dependent write aborted")

	// ErrReconcileInProgress is returned when a reconciliation run is
	// requested for a group that already has one in flight
	ErrReconcileInProgress = errors.New("reconciliation already in progress for group")
)

// TerminalWriteError reports writes whose retry ceiling is exhausted.
// The writes remain pending; the caller owns surfacing a retry affordance.
type TerminalWriteError struct {
	GroupID string
	Writes  []*PendingWrite
}

func (e *TerminalWriteError) Error() string {
	return fmt.Sprintf("retry ceiling exhausted for %d write(s) in group %s", len(e.Writes), e.GroupID)
}
