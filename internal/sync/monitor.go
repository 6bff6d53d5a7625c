package sync

import (
	"context"
	"sync"
	"time"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// Monitor tracks process-wide connectivity and triggers reconciliation for
// every group with journaled writes when the network comes back. Rapid
// offline/online flapping is debounced: reconciliation fires only after the
// connection has stayed up for a settle window, and a transition during the
// wait invalidates the pending trigger.
type Monitor struct {
	platform Platform
	journal  Journal
	clock    Clock
	settle   time.Duration
	trigger  func(ctx context.Context, groupID string)
	logger   *loggy.Logger

	mu     sync.Mutex
	online bool
	seq    uint64
	cancel func()
}

// NewMonitor creates a connectivity monitor. trigger is invoked once per
// pending group after each settled reconnect; it must tolerate concurrent
// invocation for distinct groups.
func NewMonitor(platform Platform, journal Journal, clock Clock, settle time.Duration, trigger func(ctx context.Context, groupID string), logger *loggy.Logger) *Monitor {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &Monitor{
		platform: platform,
		journal:  journal,
		clock:    clock,
		settle:   settle,
		trigger:  trigger,
		logger:   logger,
	}
}

// Start seeds the connectivity state from the platform and begins observing
// transitions. ctx bounds every reconciliation the monitor triggers.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.online = m.platform.IsOnline()
	m.mu.Unlock()

	m.cancel = m.platform.OnConnectivityChange(func(online bool) {
		m.handleTransition(ctx, online)
	})

	m.logger.Debug("network monitor started", "online", m.Online(), "settle_window", m.settle)
}

// Stop cancels the platform registration. In-flight settle waits expire
// without triggering.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	// Invalidate any settle wait still in flight
	m.mu.Lock()
	m.seq++
	m.mu.Unlock()
}

// Online reports the last observed connectivity state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) handleTransition(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	if !online {
		m.logger.Info("network offline, writes will queue locally")
		return
	}

	m.logger.Info("network online, settling before reconcile", "settle_window", m.settle)
	go m.settleAndReconcile(ctx, seq)
}

// settleAndReconcile waits out the settle window and, if no further
// transition occurred meanwhile, fires the reconcile trigger once per group
// with pending writes
func (m *Monitor) settleAndReconcile(ctx context.Context, seq uint64) {
	select {
	case <-m.clock.After(m.settle):
	case <-ctx.Done():
		return
	}

	m.mu.Lock()
	stale := m.seq != seq || !m.online
	m.mu.Unlock()
	if stale {
		m.logger.Debug("settle window invalidated by connectivity change")
		return
	}

	groups, err := m.journal.ListGroups(ctx)
	if err != nil {
		m.logger.Error("listing pending groups after reconnect", "error", err)
		return
	}
	if len(groups) == 0 {
		return
	}

	m.logger.Info("reconnect reconciliation", "groups", len(groups))
	for _, groupID := range groups {
		m.trigger(ctx, groupID)
	}
}
