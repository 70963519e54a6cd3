package mirror

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hublink/internal/hub/events"
	"github.com/nerrad567/hublink/internal/hub/wire"
)

const (
	// DefaultRetryDelay is the wait between failed get_states attempts.
	DefaultRetryDelay = 5 * time.Second

	// DefaultStaleDelay is how long a burst of dropped state_changed events
	// may settle before the mirror takes a fresh snapshot.
	DefaultStaleDelay = time.Second
)

// Logger is the logging interface used by the mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Source is the session side of the mirror. *session.Session satisfies it.
type Source interface {
	GetStates(ctx context.Context) ([]wire.State, error)
	OnAuthenticated(fn func(ctx context.Context))
}

// Stats holds mirror counters.
type Stats struct {
	Entities     int       `json:"entities"`
	Syncs        uint64    `json:"syncs"`
	SyncFailures uint64    `json:"sync_failures"`
	Updates      uint64    `json:"updates"`
	Removals     uint64    `json:"removals"`
	StaleResyncs uint64    `json:"stale_resyncs"` // snapshots taken after dropped events
	LastSync     time.Time `json:"last_sync"`
}

// Mirror is the in-memory entity state cache.
//
// All public methods are thread-safe. Returned states are copies.
type Mirror struct {
	src        Source
	retryDelay time.Duration
	staleDelay time.Duration

	mu       sync.RWMutex
	states   map[string]*wire.State
	gen      uint64              // bumped by every snapshot attempt
	touched  map[string]struct{} // ids changed by events while a snapshot is in flight
	lastSync time.Time
	epoch    context.Context // of the latest authenticated connection

	// stale is set while a resync for dropped events is scheduled.
	stale atomic.Bool

	listeners  []func(Change)
	listenerMu sync.RWMutex

	unsubscribe func()
	removeDrop  func()
	closeOnce   sync.Once
	done        chan struct{}

	logger   Logger
	loggerMu sync.RWMutex

	syncs        atomic.Uint64
	syncFailures atomic.Uint64
	updates      atomic.Uint64
	removals     atomic.Uint64
	staleResyncs atomic.Uint64
}

// New creates a mirror fed by src snapshots and bus state_changed events.
// A state_changed event the bus drops leaves the cache stale, so it
// schedules a fresh snapshot on the current connection.
func New(src Source, bus *events.Bus) *Mirror {
	m := &Mirror{
		src:        src,
		retryDelay: DefaultRetryDelay,
		staleDelay: DefaultStaleDelay,
		states:     make(map[string]*wire.State),
		done:       make(chan struct{}),
	}
	src.OnAuthenticated(m.authenticated)
	m.unsubscribe = bus.Subscribe(events.TypeStateChanged, m.handleEvent)
	m.removeDrop = bus.OnDrop(m.handleDrop)
	return m
}

// Close stops consuming events. The cached states stay readable.
func (m *Mirror) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		if m.removeDrop != nil {
			m.removeDrop()
		}
	})
}

// SetLogger sets the logger for the mirror.
func (m *Mirror) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// OnChange registers fn for every change. Listeners run synchronously on
// the goroutine that applied the change and must not block.
func (m *Mirror) OnChange(fn func(Change)) {
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenerMu.Unlock()
}

// Get returns the state of one entity.
func (m *Mirror) Get(entityID string) (wire.State, error) {
	if entityID == "" {
		return wire.State{}, ErrEntityID
	}

	m.mu.RLock()
	s, ok := m.states[entityID]
	var cpy *wire.State
	if ok {
		cpy = cloneState(s)
	}
	m.mu.RUnlock()

	if !ok {
		return wire.State{}, ErrNotFound
	}
	return *cpy, nil
}

// All returns every entity sorted by id. An empty domain matches all,
// otherwise only entities whose id starts with "domain." are returned.
func (m *Mirror) All(domain string) []wire.State {
	prefix := ""
	if domain != "" {
		prefix = domain + "."
	}

	m.mu.RLock()
	out := make([]wire.State, 0, len(m.states))
	for id, s := range m.states {
		if strings.HasPrefix(id, prefix) {
			out = append(out, *cloneState(s))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Len returns the number of entities held.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// Synced reports whether at least one snapshot has been applied.
func (m *Mirror) Synced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.lastSync.IsZero()
}

// Stats returns current counters.
func (m *Mirror) Stats() Stats {
	m.mu.RLock()
	n, last := len(m.states), m.lastSync
	m.mu.RUnlock()

	return Stats{
		Entities:     n,
		Syncs:        m.syncs.Load(),
		SyncFailures: m.syncFailures.Load(),
		Updates:      m.updates.Load(),
		Removals:     m.removals.Load(),
		StaleResyncs: m.staleResyncs.Load(),
		LastSync:     last,
	}
}

// authenticated runs once per authenticated connection. GetStates blocks
// until the hub is running, so this is where the snapshot lands after
// startup.
func (m *Mirror) authenticated(ctx context.Context) {
	m.mu.Lock()
	m.epoch = ctx
	m.mu.Unlock()

	m.resync(ctx)
}

// handleDrop runs on the publishing goroutine and only schedules work.
func (m *Mirror) handleDrop(e events.Event) {
	if e.Type != events.TypeStateChanged {
		return
	}

	m.mu.RLock()
	ctx := m.epoch
	m.mu.RUnlock()
	// Without a live connection the next authenticated snapshot covers it.
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if !m.stale.CompareAndSwap(false, true) {
		return
	}

	m.logWarn("state_changed event dropped, scheduling snapshot", "in", m.staleDelay)
	go func() {
		timer := time.NewTimer(m.staleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.stale.Store(false)
			return
		case <-m.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		// Drops from here on schedule another pass.
		m.stale.Store(false)
		m.staleResyncs.Add(1)
		m.resync(ctx)
	}()
}

// resync fetches and applies a snapshot, retrying until it lands or ctx ends.
func (m *Mirror) resync(ctx context.Context) {
	for {
		gen := m.beginSnapshot()

		states, err := m.src.GetStates(ctx)
		if err == nil {
			m.applySnapshot(gen, states)
			return
		}
		if ctx.Err() != nil {
			return
		}

		m.syncFailures.Add(1)
		m.logWarn("entity snapshot failed", "error", err, "retry_in", m.retryDelay)

		timer := time.NewTimer(m.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Mirror) beginSnapshot() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.touched = make(map[string]struct{})
	return m.gen
}

// applySnapshot replaces the cache with states. Entities touched by events
// while the request was in flight keep their event-reported value, which is
// newer than the snapshot's.
func (m *Mirror) applySnapshot(gen uint64, states []wire.State) {
	m.mu.Lock()
	if gen != m.gen {
		// A newer connection started its own snapshot.
		m.mu.Unlock()
		return
	}

	next := make(map[string]*wire.State, len(states))
	for i := range states {
		if states[i].EntityID == "" {
			continue
		}
		next[states[i].EntityID] = cloneState(&states[i])
	}
	for id := range m.touched {
		if cur, ok := m.states[id]; ok {
			next[id] = cur
		} else {
			delete(next, id)
		}
	}

	var changes []Change
	for _, id := range sortedIDs(next) {
		if old := m.states[id]; differs(old, next[id]) {
			changes = append(changes, Change{EntityID: id, Old: cloneState(old), New: cloneState(next[id]), Resync: true})
		}
	}
	for _, id := range sortedIDs(m.states) {
		if _, ok := next[id]; !ok {
			changes = append(changes, Change{EntityID: id, Old: cloneState(m.states[id]), Resync: true})
		}
	}

	m.states = next
	m.touched = nil
	m.lastSync = time.Now()
	m.mu.Unlock()

	m.syncs.Add(1)
	m.logInfo("entity snapshot applied", "entities", len(next), "changes", len(changes))

	for _, c := range changes {
		m.notify(c)
	}
}

func (m *Mirror) handleEvent(e events.Event) {
	sc, err := e.StateChanged()
	if err != nil {
		m.logWarn("ignoring state_changed event", "error", err)
		return
	}
	m.apply(sc.EntityID, sc.NewState)
}

// apply records one event-reported change. A nil state removes the entity.
func (m *Mirror) apply(entityID string, state *wire.State) {
	var next *wire.State
	if state != nil {
		next = cloneState(state)
		next.EntityID = entityID
	}

	m.mu.Lock()
	old := m.states[entityID]
	if old == nil && next == nil {
		m.mu.Unlock()
		return
	}
	if next == nil {
		delete(m.states, entityID)
	} else {
		m.states[entityID] = next
	}
	if m.touched != nil {
		m.touched[entityID] = struct{}{}
	}
	m.mu.Unlock()

	if next == nil {
		m.removals.Add(1)
	} else {
		m.updates.Add(1)
	}
	// old is no longer referenced by the cache.
	m.notify(Change{EntityID: entityID, Old: old, New: cloneState(next)})
}

func (m *Mirror) notify(c Change) {
	m.listenerMu.RLock()
	listeners := m.listeners
	m.listenerMu.RUnlock()

	for _, fn := range listeners {
		m.invoke(fn, c)
	}
}

func (m *Mirror) invoke(fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("mirror listener panic recovered", "entity_id", c.EntityID, "panic", r)
		}
	}()
	fn(c)
}

func (m *Mirror) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Mirror) logInfo(msg string, args ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (m *Mirror) logWarn(msg string, args ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

func (m *Mirror) logError(msg string, args ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Error(msg, args...)
	}
}
