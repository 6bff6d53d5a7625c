package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// fakeClock records timer waits and either fires them instantly (advancing
// its notion of now) or holds them for the test to fire manually
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	auto    bool
	waits   []time.Duration
	pending []chan time.Time
}

func newFakeClock(auto bool) *fakeClock {
	return &fakeClock{
		now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		auto: auto,
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)

	ch := make(chan time.Time, 1)
	if c.auto {
		c.now = c.now.Add(d)
		ch <- c.now
		return ch
	}
	c.pending = append(c.pending, ch)
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// fire releases the i-th held timer
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	ch := c.pending[i]
	c.now = c.now.Add(c.waits[i])
	now := c.now
	c.mu.Unlock()
	ch <- now
}

// memJournal is an in-memory Journal for tests
type memJournal struct {
	mu     sync.Mutex
	writes []*PendingWrite
}

func newMemJournal() *memJournal {
	return &memJournal{}
}

func (j *memJournal) Enqueue(_ context.Context, write *PendingWrite) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *write
	j.writes = append(j.writes, &cp)
	return nil
}

func (j *memJournal) GetByID(_ context.Context, id string) (*PendingWrite, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, w := range j.writes {
		if w.ID == id {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrWriteNotFound
}

func (j *memJournal) ListByGroup(_ context.Context, groupID string) ([]*PendingWrite, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*PendingWrite
	for _, w := range j.writes {
		if w.GroupID == groupID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (j *memJournal) ListGroups(_ context.Context) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	seen := make(map[string]bool)
	var groups []string
	for _, w := range j.writes {
		if !seen[w.GroupID] {
			seen[w.GroupID] = true
			groups = append(groups, w.GroupID)
		}
	}
	sort.Strings(groups)
	return groups, nil
}

func (j *memJournal) RecordAttempt(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, w := range j.writes {
		if w.ID == id {
			w.Attempts++
			w.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrWriteNotFound
}

func (j *memJournal) Remove(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, w := range j.writes {
		if w.ID == id {
			j.writes = append(j.writes[:i], j.writes[i+1:]...)
			return nil
		}
	}
	return ErrWriteNotFound
}

func (j *memJournal) CountByGroup(_ context.Context, groupID string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	count := 0
	for _, w := range j.writes {
		if w.GroupID == groupID {
			count++
		}
	}
	return count, nil
}

// fakeStore is a scriptable RemoteStore. failRemaining > 0 fails every call
// and decrements; -1 fails forever. failOnly fails calls matching one call
// tag regardless of failRemaining.
type fakeStore struct {
	mu            sync.Mutex
	failRemaining int
	failOnly      string
	calls         []string
	subscribeErr  error
	lastOnEvent   func(Event)
	lastOnStatus  func(SubscriptionStatus)
	subs          []*fakeSubscription
}

var errRemoteUnavailable = errors.New("remote unavailable")

func (s *fakeStore) attempt(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.failOnly != "" {
		if s.failOnly == call {
			return errRemoteUnavailable
		}
		return nil
	}
	if s.failRemaining != 0 {
		if s.failRemaining > 0 {
			s.failRemaining--
		}
		return errRemoteUnavailable
	}
	return nil
}

func (s *fakeStore) Create(_ context.Context, entityType EntityType, entityID string, _ json.RawMessage) (*RemoteEntity, error) {
	if err := s.attempt("create:" + entityID); err != nil {
		return nil, err
	}
	return &RemoteEntity{ID: entityID, Revision: 1, UpdatedAt: time.Now()}, nil
}

func (s *fakeStore) Update(_ context.Context, entityType EntityType, entityID string, _ json.RawMessage) (*RemoteEntity, error) {
	if err := s.attempt("update:" + entityID); err != nil {
		return nil, err
	}
	return &RemoteEntity{ID: entityID, Revision: 2, UpdatedAt: time.Now()}, nil
}

func (s *fakeStore) Delete(_ context.Context, entityType EntityType, entityID string) error {
	return s.attempt("delete:" + entityID)
}

func (s *fakeStore) Subscribe(_ context.Context, topic string, onEvent func(Event), onStatus func(SubscriptionStatus)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "subscribe:"+topic)
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.lastOnEvent = onEvent
	s.lastOnStatus = onStatus
	sub := &fakeSubscription{}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *fakeStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

type fakeSubscription struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeSubscription) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscription) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakePlatform lets tests drive connectivity transitions
type fakePlatform struct {
	mu       sync.Mutex
	online   bool
	handlers map[int]func(bool)
	nextID   int
}

func newFakePlatform(online bool) *fakePlatform {
	return &fakePlatform{online: online, handlers: make(map[int]func(bool))}
}

func (p *fakePlatform) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *fakePlatform) OnConnectivityChange(handler func(online bool)) func() {
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

func (p *fakePlatform) setOnline(online bool) {
	p.mu.Lock()
	p.online = online
	handlers := make([]func(bool), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(online)
	}
}

// recordingConfirmer collects write confirmations in order
type recordingConfirmer struct {
	mu      sync.Mutex
	entries []confirmedWrite
}

type confirmedWrite struct {
	write  *PendingWrite
	remote *RemoteEntity
}

func (c *recordingConfirmer) WriteConfirmed(_ context.Context, write *PendingWrite, remote *RemoteEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, confirmedWrite{write: write, remote: remote})
}

func (c *recordingConfirmer) confirmed() []confirmedWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]confirmedWrite, len(c.entries))
	copy(out, c.entries)
	return out
}

// recordingApplier collects applied events in order
type recordingApplier struct {
	mu     sync.Mutex
	events []Event
}

func (a *recordingApplier) Apply(event Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingApplier) applied() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}
