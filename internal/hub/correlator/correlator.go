// Package correlator matches hub responses to the requests that caused them.
//
// Every outbound request is registered under its numeric id before it is
// written. The entry settles exactly once, by whichever comes first:
//   - a matching result or pong frame (Deliver)
//   - an explicit rejection from the caller, e.g. its own timeout (Reject)
//   - the background sweep, once the entry is older than StaleAfter
//   - Close at shutdown
//
// Responses for ids that already settled are logged and dropped.
package correlator

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

// Defaults for the sweep.
const (
	// DefaultStaleAfter is the age at which an unanswered request is rejected.
	DefaultStaleAfter = 120 * time.Second

	// DefaultSweepInterval is how often pending entries are checked for staleness.
	DefaultSweepInterval = 10 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Result is the single outcome delivered to a waiting caller.
type Result struct {
	Payload json.RawMessage
	Err     error
}

// Config holds the sweep settings. Zero values take the defaults.
type Config struct {
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// Stats holds operational counters.
type Stats struct {
	Pending  int
	Added    uint64
	Resolved uint64
	Rejected uint64
	Swept    uint64
	Dropped  uint64 // responses with no pending entry
}

type entry struct {
	packet  any
	created time.Time
	done    chan Result // buffered(1); written exactly once
}

// Correlator tracks in-flight requests by id.
//
// Thread Safety: All methods are safe for concurrent use. The pending map is
// only touched under mu, and an entry is removed in the same critical section
// that decides its outcome, which is what guarantees exactly-once settlement.
type Correlator struct {
	cfg Config

	mu      sync.Mutex
	pending map[uint64]*entry

	// now is replaceable in tests.
	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	added    atomic.Uint64
	resolved atomic.Uint64
	rejected atomic.Uint64
	swept    atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a correlator. Call Start to run the sweep.
func New(cfg Config) *Correlator {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Correlator{
		cfg:     cfg,
		pending: make(map[uint64]*entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// Start launches the background sweep. It runs until Cleanup or Close.
func (c *Correlator) Start() {
	c.wg.Add(1)
	go c.sweepLoop()
}

func (c *Correlator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Add registers a pending request under id and returns the channel its
// single Result will arrive on.
//
// Returns ErrDuplicateID if id is still pending.
func (c *Correlator) Add(id uint64, packet any) (<-chan Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	e := &entry{
		packet:  packet,
		created: c.now(),
		done:    make(chan Result, 1),
	}
	c.pending[id] = e
	c.added.Add(1)

	return e.done, nil
}

// Deliver settles the entry answered by resp.
//
// Result and pong frames resolve; error results reject with *HubError.
// Returns false when no entry is pending for the id, which is the normal
// outcome for a response that arrives after its request timed out.
func (c *Correlator) Deliver(resp wire.Response) bool {
	id := resp.RequestID()

	e := c.take(id)
	if e == nil {
		c.dropped.Add(1)
		c.logDebug("response for unknown request dropped", "id", id, "kind", resp.Kind().String())
		return false
	}

	switch r := resp.(type) {
	case wire.ResultSuccess:
		c.resolved.Add(1)
		e.done <- Result{Payload: r.Result}
	case wire.Pong:
		c.resolved.Add(1)
		e.done <- Result{Payload: json.RawMessage("null")}
	case wire.ResultError:
		c.rejected.Add(1)
		e.done <- Result{Err: &HubError{ID: id, Code: r.Error.Code, Message: r.Error.Message}}
	default:
		// wire.Response is only implemented by the three variants above.
		c.rejected.Add(1)
		e.done <- Result{Err: fmt.Errorf("correlator: unexpected response kind %s", resp.Kind())}
	}
	return true
}

// Reject settles id with err. Returns false if id is not pending.
func (c *Correlator) Reject(id uint64, err error) bool {
	e := c.take(id)
	if e == nil {
		return false
	}
	c.rejected.Add(1)
	e.done <- Result{Err: err}
	return true
}

// Sweep rejects every entry older than StaleAfter with a *StaleError.
// It returns the number of entries removed.
func (c *Correlator) Sweep() int {
	now := c.now()

	type staleEntry struct {
		id uint64
		e  *entry
	}

	c.mu.Lock()
	var stale []staleEntry
	for id, e := range c.pending {
		if now.Sub(e.created) > c.cfg.StaleAfter {
			delete(c.pending, id)
			stale = append(stale, staleEntry{id: id, e: e})
		}
	}
	c.mu.Unlock()

	for _, s := range stale {
		c.swept.Add(1)
		c.rejected.Add(1)
		s.e.done <- Result{Err: &StaleError{ID: s.id, Packet: s.e.packet, Age: now.Sub(s.e.created)}}
		c.logWarn("request expired without response", "id", s.id)
	}

	return len(stale)
}

// Cleanup stops the sweep. Pending entries are left in place.
func (c *Correlator) Cleanup() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// Close stops the sweep and rejects everything still pending with err.
// It returns the number of entries rejected.
func (c *Correlator) Close(err error) int {
	c.Cleanup()

	c.mu.Lock()
	all := c.pending
	c.pending = make(map[uint64]*entry)
	c.mu.Unlock()

	for _, e := range all {
		c.rejected.Add(1)
		e.done <- Result{Err: err}
	}
	return len(all)
}

// Len returns the number of pending entries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns current counters.
func (c *Correlator) Stats() Stats {
	return Stats{
		Pending:  c.Len(),
		Added:    c.added.Load(),
		Resolved: c.resolved.Load(),
		Rejected: c.rejected.Load(),
		Swept:    c.swept.Load(),
		Dropped:  c.dropped.Load(),
	}
}

// SetLogger sets the logger for this correlator.
func (c *Correlator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// take removes and returns the entry for id, or nil.
func (c *Correlator) take(id uint64) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return e
}

func (c *Correlator) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Correlator) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
