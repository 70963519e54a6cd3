package relay

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/hublink/internal/hub/events"
	"github.com/nerrad567/hublink/internal/infrastructure/mqtt"
	"github.com/nerrad567/hublink/internal/mirror"
)

// DefaultQueueSize is the outbound queue capacity when none is given.
const DefaultQueueSize = 1024

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Publisher is the MQTT side of a Relay. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// Options configures a Relay.
type Options struct {
	QueueSize int

	// EventTypes limits which hub events are forwarded. Empty forwards all.
	EventTypes []string
}

// Stats holds relay counters.
type Stats struct {
	Queued   int    `json:"queued"`
	States   uint64 `json:"states"`
	Events   uint64 `json:"events"`
	Cleared  uint64 `json:"cleared"`
	Dropped  uint64 `json:"dropped"`
	Failures uint64 `json:"failures"`
}

type message struct {
	topic    string
	value    any // JSON-encoded on publish; nil with retained clears the topic
	retained bool
	kind     *atomic.Uint64
}

// Relay publishes mirror changes and bus events to MQTT.
//
// Thread Safety: HandleChange and HandleEvent may be called from any
// goroutine. Publishing happens on one worker in arrival order.
type Relay struct {
	pub        Publisher
	eventTypes map[string]bool
	queue      chan message

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex

	states   atomic.Uint64
	events   atomic.Uint64
	cleared  atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

// New creates a relay publishing through pub.
func New(pub Publisher, opts Options) *Relay {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	var types map[string]bool
	if len(opts.EventTypes) > 0 {
		types = make(map[string]bool, len(opts.EventTypes))
		for _, t := range opts.EventTypes {
			types[t] = true
		}
	}
	return &Relay{
		pub:        pub,
		eventTypes: types,
		queue:      make(chan message, opts.QueueSize),
		done:       make(chan struct{}),
	}
}

// SetLogger sets the logger for the relay.
func (r *Relay) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Start launches the publish worker.
func (r *Relay) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
	})
}

// Close publishes what is queued and stops the worker.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// HandleChange queues the retained state for a mirror change. A removal
// clears the retained message. Pass it to mirror.Mirror.OnChange.
func (r *Relay) HandleChange(c mirror.Change) {
	topic := mqtt.Topics{}.EntityState(c.EntityID)
	if c.New == nil {
		r.enqueue(message{topic: topic, retained: true, kind: &r.cleared})
		return
	}
	r.enqueue(message{topic: topic, value: c.New, retained: true, kind: &r.states})
}

// HandleEvent queues a hub event. Pass it to events.Bus.SubscribeAll.
func (r *Relay) HandleEvent(e events.Event) {
	if r.eventTypes != nil && !r.eventTypes[e.Type] {
		return
	}
	r.enqueue(message{topic: mqtt.Topics{}.Event(e.Type), value: e, kind: &r.events})
}

// Stats returns current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Queued:   len(r.queue),
		States:   r.states.Load(),
		Events:   r.events.Load(),
		Cleared:  r.cleared.Load(),
		Dropped:  r.dropped.Load(),
		Failures: r.failures.Load(),
	}
}

func (r *Relay) enqueue(m message) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.queue <- m:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logWarn("MQTT relay queue full, dropping messages", "topic", m.topic, "dropped", r.dropped.Load())
		}
	}
}

func (r *Relay) run() {
	defer r.wg.Done()
	for {
		select {
		case m := <-r.queue:
			r.publish(m)
		case <-r.done:
			for {
				select {
				case m := <-r.queue:
					r.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) publish(m message) {
	var err error
	if m.value == nil {
		err = r.pub.PublishRetained(m.topic, nil)
	} else {
		err = r.pub.PublishJSON(m.topic, m.value, m.retained)
	}
	if err != nil {
		r.failures.Add(1)
		r.logDebug("MQTT publish failed", "topic", m.topic, "error", err)
		return
	}
	m.kind.Add(1)
}

func (r *Relay) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

func (r *Relay) logDebug(msg string, args ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (r *Relay) logWarn(msg string, args ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}
