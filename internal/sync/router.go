package sync

import (
	"sort"
	"sync"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// Applier consumes routed events. Implementations update local state
// (message lists, chat metadata) from a remote change notification.
type Applier interface {
	Apply(event Event)
}

// ApplierFunc adapts a function to the Applier interface
type ApplierFunc func(event Event)

// Apply calls f(event)
func (f ApplierFunc) Apply(event Event) {
	f(event)
}

// Router dispatches incoming remote events by group and owns the focused
// group id. Events for the focused group are applied immediately; events for
// any other group are queued unbounded and held until that group gains
// focus. Queues never evict: dropping an event would lose a remote change
// for good, so backlog is bounded by the remote's send rate, not by the
// router.
type Router struct {
	mu      sync.Mutex
	queues  map[string][]Event
	focused string
	applier Applier
	logger  *loggy.Logger
}

// NewRouter creates a router delivering events to applier
func NewRouter(applier Applier, logger *loggy.Logger) *Router {
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &Router{
		queues:  make(map[string][]Event),
		applier: applier,
		logger:  logger,
	}
}

// Route delivers one event against the focus in effect at delivery time.
// The focus is read under the same lock SetFocusAndFlush publishes it under,
// so a delivery can never slip between a focus change and its flush.
func (r *Router) Route(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.GroupID != "" && event.GroupID == r.focused {
		// Applied under the lock so a queued-then-flushed batch can never
		// interleave with a direct delivery for the same group
		r.applier.Apply(event)
		return
	}

	r.queues[event.GroupID] = append(r.queues[event.GroupID], event)
}

// SetFocusAndFlush publishes the new focus and drains its queue in one
// critical section. An event routed concurrently is either queued before the
// switch (and flushed here, in receipt order) or applied directly after the
// drain completes; it can never overtake older queued events. An empty id
// means nothing is focused.
func (r *Router) SetFocusAndFlush(groupID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.focused = groupID
	if groupID == "" {
		return 0
	}
	return r.flushLocked(groupID)
}

// Focus reports the currently focused group id
func (r *Router) Focus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused
}

// Flush drains the queue for a group and applies every held event in arrival
// order without changing focus
func (r *Router) Flush(groupID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(groupID)
}

// flushLocked applies and clears a group's queue; callers hold r.mu
func (r *Router) flushLocked(groupID string) int {
	queue := r.queues[groupID]
	if len(queue) == 0 {
		return 0
	}
	delete(r.queues, groupID)

	for _, event := range queue {
		r.applier.Apply(event)
	}

	r.logger.Debug("flushed queued events", "group_id", groupID, "count", len(queue))
	return len(queue)
}

// QueuedCount reports how many events are held for a group
func (r *Router) QueuedCount(groupID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[groupID])
}

// TotalQueued reports how many events are held across all groups
func (r *Router) TotalQueued() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, queue := range r.queues {
		total += len(queue)
	}
	return total
}

// PendingGroups lists the groups with held events, sorted for stable output
func (r *Router) PendingGroups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := make([]string, 0, len(r.queues))
	for groupID := range r.queues {
		groups = append(groups, groupID)
	}
	sort.Strings(groups)
	return groups
}
