package events

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the bus queue capacity when none is given.
const DefaultQueueSize = 256

// Handler receives events from a Bus.
type Handler func(Event)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BusStats holds bus counters.
type BusStats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64 // handler invocations
	Dropped     uint64 // events dropped because the queue was full
	Panics      uint64
}

// Bus is a typed publish/subscribe hub for events.
//
// Thread Safety: All methods are safe for concurrent use. Handlers run one at
// a time on the dispatch goroutine, so a slow handler delays the others;
// when the queue fills up, Publish drops rather than blocks.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]Handler // "" holds subscribers to every type
	drops  map[uint64]Handler
	nextID uint64

	queue chan Event

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// NewBus creates a bus with room for queueSize undelivered events.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subs:  make(map[string]map[uint64]Handler),
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the dispatch goroutine. Extra calls are no-ops.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.dispatch()
	})
}

// Close stops dispatch after delivering what is already queued.
func (b *Bus) Close() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

// Subscribe registers h for events of eventType and returns a function that
// removes it.
func (b *Bus) Subscribe(eventType string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]Handler)
	}
	b.subs[eventType][id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[eventType], id)
			if len(b.subs[eventType]) == 0 {
				delete(b.subs, eventType)
			}
			b.mu.Unlock()
		})
	}
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.Subscribe("", h)
}

// OnDrop registers h to run whenever Publish drops an event, so a consumer
// that must not miss events can recover from elsewhere. h runs on the
// publishing goroutine and must not block.
func (b *Bus) OnDrop(h Handler) (remove func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.drops == nil {
		b.drops = make(map[uint64]Handler)
	}
	b.drops[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.drops, id)
		b.mu.Unlock()
	}
}

// Publish queues e for dispatch. It never blocks; it returns false when the
// queue is full and e was dropped.
func (b *Bus) Publish(e Event) bool {
	select {
	case b.queue <- e:
		b.published.Add(1)
		return true
	default:
	}

	b.dropped.Add(1)
	b.logWarn("event queue full, dropping event", "event_type", e.Type)

	b.mu.RLock()
	hooks := make([]Handler, 0, len(b.drops))
	for _, h := range b.drops {
		hooks = append(hooks, h)
	}
	b.mu.RUnlock()
	for _, h := range hooks {
		b.notifyDrop(h, e)
	}
	return false
}

func (b *Bus) notifyDrop(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logError("drop handler panic", "event_type", e.Type, "error", fmt.Errorf("%v", r))
		}
	}()
	h(e)
}

// Stats returns current counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	n := 0
	for _, hs := range b.subs {
		n += len(hs)
	}
	b.mu.RUnlock()

	return BusStats{
		Subscribers: n,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Panics:      b.panics.Load(),
	}
}

// SetLogger sets the logger for this bus.
func (b *Bus) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case e := <-b.queue:
			b.deliver(e)
		case <-b.done:
			// Drain any remaining items (best-effort, non-blocking)
			for {
				select {
				case e := <-b.queue:
					b.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.subs[""]))
	for _, h := range b.subs[e.Type] {
		handlers = append(handlers, h)
	}
	if e.Type != "" {
		for _, h := range b.subs[""] {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, e)
	}
}

func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logError("event handler panic", "event_type", e.Type, "error", fmt.Errorf("%v", r))
		}
	}()
	h(e)
	b.delivered.Add(1)
}

func (b *Bus) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bus) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bus) logError(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
