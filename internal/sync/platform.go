package sync

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tildaslashalef/murmur/internal/loggy"
)

// ProbePlatform implements Platform by polling a health endpoint. Desktop
// builds have no OS connectivity signal worth trusting, so reachability of
// the sync server itself is the signal: a probe that answers means online.
type ProbePlatform struct {
	probeURL   string
	interval   time.Duration
	httpClient *http.Client
	logger     *loggy.Logger

	mu       sync.Mutex
	online   bool
	handlers map[int]func(online bool)
	nextID   int
	stop     chan struct{}
	stopOnce sync.Once
}

// NewProbePlatform creates a platform that probes probeURL every interval
func NewProbePlatform(probeURL string, interval time.Duration, logger *loggy.Logger) *ProbePlatform {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = loggy.NewNoopLogger()
	}
	return &ProbePlatform{
		probeURL:   probeURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
		handlers:   make(map[int]func(online bool)),
		stop:       make(chan struct{}),
	}
}

// Start seeds the state with an immediate probe and begins the poll loop
func (p *ProbePlatform) Start(ctx context.Context) {
	p.setOnline(p.probe(ctx))

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.setOnline(p.probe(ctx))
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the poll loop
func (p *ProbePlatform) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

// IsOnline reports the last probed connectivity state
func (p *ProbePlatform) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// OnConnectivityChange registers a handler for online/offline transitions
func (p *ProbePlatform) OnConnectivityChange(handler func(online bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.handlers[id] = handler

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

func (p *ProbePlatform) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (p *ProbePlatform) setOnline(online bool) {
	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return
	}
	p.online = online
	handlers := make([]func(bool), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	p.logger.Info("connectivity changed", "online", online)
	for _, h := range handlers {
		h(online)
	}
}
