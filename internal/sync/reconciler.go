package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// Confirmer receives confirmation callbacks when a pending write is accepted
// by the remote store. Implementations update local records (synced_at,
// revision) from the remote's view of the entity.
type Confirmer interface {
	// WriteConfirmed is called after a write leaves the journal. remote is
	// nil for delete operations.
	WriteConfirmed(ctx context.Context, write *PendingWrite, remote *RemoteEntity)
}

// Reconciler drives unconfirmed writes to the remote store with bounded
// backoff. A group's writes are delivered in creation order; failed writes
// stay journaled across runs so a later trigger (reconnect, manual retry)
// picks them up again.
type Reconciler struct {
	store       RemoteStore
	journal     Journal
	confirmer   Confirmer
	clock       Clock
	maxAttempts int
	backoffBase time.Duration
	logger      *loggy.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithMaxAttempts overrides the per-run attempt ceiling
func WithMaxAttempts(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoffBase overrides the base delay between attempts
func WithBackoffBase(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.backoffBase = d
		}
	}
}

// WithConfirmer sets the confirmation callback target
func WithConfirmer(c Confirmer) ReconcilerOption {
	return func(r *Reconciler) {
		r.confirmer = c
	}
}

// NewReconciler creates a reconciler with the default schedule: 3 attempts
// at 0ms, 1000ms and 2000ms. The schedule doubles from the base with no
// jitter, so the worst-case user-visible delay stays bounded at a few
// seconds while covering typical transient network blips.
func NewReconciler(store RemoteStore, journal Journal, clock Clock, logger *loggy.Logger, opts ...ReconcilerOption) *Reconciler {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	r := &Reconciler{
		store:       store,
		journal:     journal,
		clock:       clock,
		maxAttempts: 3,
		backoffBase: time.Second,
		logger:      logger,
		inFlight:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile delivers every pending write for a group. At most one run per
// group is in flight at a time; a concurrent request for the same group
// fails fast with ErrReconcileInProgress instead of queueing. On exhaustion
// the remaining writes stay journaled and a TerminalWriteError is returned
// so the caller can surface a retry affordance.
func (r *Reconciler) Reconcile(ctx context.Context, groupID string) (*ReconcileResult, error) {
	if !r.begin(groupID) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrReconcileInProgress)
	}
	defer r.end(groupID)

	started := r.clock.Now()

	remaining, err := r.journal.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading pending writes: %w", err)
	}

	result := &ReconcileResult{GroupID: groupID}
	if len(remaining) == 0 {
		result.Duration = r.clock.Now().Sub(started)
		return result, nil
	}

	r.logger.Debug("reconciliation started", "group_id", groupID, "pending", len(remaining))

	// Delay generator only; the waits themselves go through the clock so
	// tests can drive the schedule
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = r.backoffBase
	schedule.RandomizationFactor = 0
	schedule.Multiplier = 2
	schedule.MaxInterval = r.backoffBase << uint(r.maxAttempts)
	schedule.Reset()

	for attempt := 1; attempt <= r.maxAttempts && len(remaining) > 0; attempt++ {
		if attempt > 1 {
			delay := schedule.NextBackOff()
			select {
			case <-r.clock.After(delay):
			case <-ctx.Done():
				result.Failed = remaining
				result.Duration = r.clock.Now().Sub(started)
				return result, ctx.Err()
			}
		}

		var failed []*PendingWrite
		for _, write := range remaining {
			if err := r.deliver(ctx, write); err != nil {
				if ctx.Err() != nil {
					result.Failed = remaining
					result.Duration = r.clock.Now().Sub(started)
					return result, ctx.Err()
				}
				r.logger.Debug("write delivery failed",
					"write_id", write.ID,
					"group_id", groupID,
					"attempt", attempt,
					"error", err)
				if jerr := r.journal.RecordAttempt(ctx, write.ID); jerr != nil {
					r.logger.Warn("recording attempt failed", "write_id", write.ID, "error", jerr)
				}
				write.Attempts++
				failed = append(failed, write)
				continue
			}
			result.Confirmed++
		}
		remaining = failed
	}

	result.Failed = remaining
	result.Duration = r.clock.Now().Sub(started)

	if len(remaining) > 0 {
		r.logger.Warn("reconciliation exhausted retries",
			"group_id", groupID,
			"confirmed", result.Confirmed,
			"failed", len(remaining))
		return result, &TerminalWriteError{GroupID: groupID, Writes: remaining}
	}

	r.logger.Info("reconciliation completed",
		"group_id", groupID,
		"confirmed", result.Confirmed,
		"duration", result.Duration)
	return result, nil
}

// deliver attempts one write against the remote store and, on success,
// removes it from the journal and notifies the confirmer
func (r *Reconciler) deliver(ctx context.Context, write *PendingWrite) error {
	var remote *RemoteEntity
	var err error

	switch write.Op {
	case WriteOpCreate:
		remote, err = r.store.Create(ctx, write.EntityType, write.EntityID, write.Payload)
	case WriteOpUpdate:
		remote, err = r.store.Update(ctx, write.EntityType, write.EntityID, write.Payload)
	case WriteOpDelete:
		err = r.store.Delete(ctx, write.EntityType, write.EntityID)
	default:
		return fmt.Errorf("unknown write op %q", write.Op)
	}
	if err != nil {
		return err
	}

	if err := r.journal.Remove(ctx, write.ID); err != nil {
		return fmt.Errorf("removing confirmed write: %w", err)
	}
	if r.confirmer != nil {
		r.confirmer.WriteConfirmed(ctx, write, remote)
	}
	return nil
}

// InFlight reports whether a reconciliation run is active for a group
func (r *Reconciler) InFlight(groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight[groupID]
}

func (r *Reconciler) begin(groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[groupID] {
		return false
	}
	r.inFlight[groupID] = true
	return true
}

func (r *Reconciler) end(groupID string) {
	r.mu.Lock()
	delete(r.inFlight, groupID)
	r.mu.Unlock()
}
