package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// Options configures an Engine. Store, Journal, Platform and Applier are
// required; everything else has a usable default.
type Options struct {
	Store     RemoteStore
	Journal   Journal
	Platform  Platform
	Applier   Applier
	Confirmer Confirmer
	Clock     Clock
	Logger    *loggy.Logger

	// RetryCeiling caps attempts per reconciliation run (default 3)
	RetryCeiling int
	// BackoffBase is the first retry delay, doubling per attempt (default 1s)
	BackoffBase time.Duration
	// SettleWindow is how long connectivity must hold steady after a
	// reconnect before reconciliation fires (default 2s)
	SettleWindow time.Duration

	// OnTerminal is invoked when a reconciliation run exhausts its retries.
	// The failed writes stay journaled; the callback owns the user-facing
	// retry affordance.
	OnTerminal func(*TerminalWriteError)
}

// Engine is the sync layer's front door. It owns the router, reconciler,
// network monitor and subscription supervisor, and carries the focused-group
// state the UI reports. All methods are safe for concurrent use.
type Engine struct {
	store      RemoteStore
	journal    Journal
	platform   Platform
	router     *Router
	reconciler *Reconciler
	monitor    *Monitor
	supervisor *Supervisor
	clock      Clock
	logger     *loggy.Logger
	onTerminal func(*TerminalWriteError)

	mu              sync.Mutex
	started         bool
	cancelReconnect func()
	runCtx          context.Context
	runCancel       context.CancelFunc
}

// NewEngine creates a sync engine from options
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("sync engine requires a remote store")
	}
	if opts.Journal == nil {
		return nil, errors.New("sync engine requires a journal")
	}
	if opts.Platform == nil {
		return nil, errors.New("sync engine requires a platform")
	}
	if opts.Applier == nil {
		return nil, errors.New("sync engine requires an applier")
	}
	if opts.Clock == nil {
		opts.Clock = NewClock()
	}
	if opts.Logger == nil {
		opts.Logger = loggy.NewNoopLogger()
	}
	if opts.RetryCeiling <= 0 {
		opts.RetryCeiling = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = 2 * time.Second
	}

	e := &Engine{
		store:      opts.Store,
		journal:    opts.Journal,
		platform:   opts.Platform,
		clock:      opts.Clock,
		logger:     opts.Logger,
		onTerminal: opts.OnTerminal,
	}

	e.router = NewRouter(opts.Applier, opts.Logger)
	e.reconciler = NewReconciler(opts.Store, opts.Journal, opts.Clock, opts.Logger,
		WithMaxAttempts(opts.RetryCeiling),
		WithBackoffBase(opts.BackoffBase),
		WithConfirmer(opts.Confirmer),
	)
	e.monitor = NewMonitor(opts.Platform, opts.Journal, opts.Clock, opts.SettleWindow,
		func(ctx context.Context, groupID string) {
			e.reconcileAsync(ctx, groupID)
		},
		opts.Logger)
	e.supervisor = NewSupervisor(opts.Store, e.handleEvent, opts.Logger)

	return e, nil
}

// Start begins connectivity monitoring and opens a subscription per topic.
// A topic that fails to subscribe is reported through its handle's error
// state, not a startup failure; local operation continues regardless.
func (e *Engine) Start(ctx context.Context, topics ...string) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("sync engine already started")
	}
	e.started = true
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	runCtx := e.runCtx
	e.mu.Unlock()

	e.monitor.Start(runCtx)

	// Failed subscriptions recover on reconnect alongside the reconciler
	e.cancelReconnect = e.platform.OnConnectivityChange(func(online bool) {
		if online {
			e.supervisor.RetryErrored(runCtx)
		}
	})

	for _, topic := range topics {
		if err := e.supervisor.Watch(runCtx, topic); err != nil {
			e.logger.Warn("initial subscription failed", "topic", topic, "error", err)
		}
	}

	e.logger.Info("sync engine started", "topics", len(topics), "online", e.monitor.Online())
	return nil
}

// Stop tears down subscriptions and monitoring. Journaled writes persist
// for the next start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.runCancel
	e.mu.Unlock()

	if e.cancelReconnect != nil {
		e.cancelReconnect()
		e.cancelReconnect = nil
	}
	e.supervisor.CloseAll()
	e.monitor.Stop()
	if cancel != nil {
		cancel()
	}
	e.logger.Info("sync engine stopped")
}

// SetFocus records the group the UI is looking at and flushes that group's
// queued events in receipt order. The router makes the switch and the drain
// atomic with respect to routing, so a concurrent delivery cannot apply
// ahead of older queued events. An empty id means nothing is focused.
func (e *Engine) SetFocus(groupID string) {
	e.router.SetFocusAndFlush(groupID)
}

// Focus reports the currently focused group id
func (e *Engine) Focus() string {
	return e.router.Focus()
}

// handleEvent routes one incoming event against the focus in effect at
// delivery time
func (e *Engine) handleEvent(event Event) {
	e.router.Route(event)
}

// EnqueueCreate journals a create mutation and, when online, kicks off
// reconciliation for the group
func (e *Engine) EnqueueCreate(ctx context.Context, groupID string, entityType EntityType, entityID string, payload json.RawMessage) error {
	return e.enqueue(ctx, NewPendingWrite(groupID, entityType, entityID, WriteOpCreate, payload))
}

// EnqueueUpdate journals an update mutation and, when online, kicks off
// reconciliation for the group
func (e *Engine) EnqueueUpdate(ctx context.Context, groupID string, entityType EntityType, entityID string, payload json.RawMessage) error {
	return e.enqueue(ctx, NewPendingWrite(groupID, entityType, entityID, WriteOpUpdate, payload))
}

// EnqueueDelete journals a delete mutation and, when online, kicks off
// reconciliation for the group
func (e *Engine) EnqueueDelete(ctx context.Context, groupID string, entityType EntityType, entityID string) error {
	return e.enqueue(ctx, NewPendingWrite(groupID, entityType, entityID, WriteOpDelete, nil))
}

func (e *Engine) enqueue(ctx context.Context, write *PendingWrite) error {
	if err := e.journal.Enqueue(ctx, write); err != nil {
		return fmt.Errorf("journaling write: %w", err)
	}
	// Offline writes wait for the monitor's reconnect trigger
	if e.monitor.Online() {
		e.mu.Lock()
		runCtx := e.runCtx
		e.mu.Unlock()
		if runCtx == nil {
			runCtx = ctx
		}
		e.reconcileAsync(runCtx, write.GroupID)
	}
	return nil
}

// ReconcileGroup runs one reconciliation for a group and reports the
// outcome. A run already in flight for the group returns
// ErrReconcileInProgress.
func (e *Engine) ReconcileGroup(ctx context.Context, groupID string) (*ReconcileResult, error) {
	result, err := e.reconciler.Reconcile(ctx, groupID)

	var terminal *TerminalWriteError
	if errors.As(err, &terminal) && e.onTerminal != nil {
		e.onTerminal(terminal)
	}
	return result, err
}

// SyncNow reconciles every group with journaled writes. Groups fail
// independently; the first error is returned after all groups run.
func (e *Engine) SyncNow(ctx context.Context) error {
	groups, err := e.journal.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("listing pending groups: %w", err)
	}

	var firstErr error
	for _, groupID := range groups {
		if _, err := e.ReconcileGroup(ctx, groupID); err != nil {
			if errors.Is(err, ErrReconcileInProgress) {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Health snapshots the layer's observable state
func (e *Engine) Health(ctx context.Context) (*Health, error) {
	groups, err := e.journal.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending groups: %w", err)
	}
	return &Health{
		Online:        e.monitor.Online(),
		Subscriptions: e.supervisor.Handles(),
		PendingGroups: len(groups),
		QueuedEvents:  e.router.TotalQueued(),
	}, nil
}

func (e *Engine) reconcileAsync(ctx context.Context, groupID string) {
	go func() {
		if _, err := e.ReconcileGroup(ctx, groupID); err != nil {
			if errors.Is(err, ErrReconcileInProgress) {
				return
			}
			e.logger.Warn("reconciliation failed", "group_id", groupID, "error", err)
		}
	}()
}
