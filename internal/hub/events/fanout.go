package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

// DefaultResubscribeDelay is the wait before retrying a failed subscription.
const DefaultResubscribeDelay = 5 * time.Second

// Source is the session side of a Fanout. *session.Session satisfies it.
type Source interface {
	SubscribeEvents(ctx context.Context, eventType string) (uint64, error)
	OnAuthenticated(fn func(ctx context.Context))
	SetOnEvent(fn func(wire.Event))
}

// FanoutStats holds fan-out counters.
type FanoutStats struct {
	Subscriptions map[string]uint64 // event type to subscription id, current connection only
	Subscribes    uint64
	Failures      uint64
	Received      uint64
}

// Fanout keeps hub event subscriptions alive across reconnects and feeds
// the events into a Bus.
type Fanout struct {
	src        Source
	bus        *Bus
	eventTypes []string
	retryDelay time.Duration

	mu   sync.Mutex
	subs map[string]uint64

	logger   Logger
	loggerMu sync.RWMutex

	subscribes atomic.Uint64
	failures   atomic.Uint64
	received   atomic.Uint64
}

// NewFanout wires src to bus. With no eventTypes it subscribes to every
// event. The hub forgets subscriptions when the connection drops, so they
// are made again after every handshake.
func NewFanout(src Source, bus *Bus, eventTypes ...string) *Fanout {
	if len(eventTypes) == 0 {
		eventTypes = []string{""}
	}
	f := &Fanout{
		src:        src,
		bus:        bus,
		eventTypes: eventTypes,
		retryDelay: DefaultResubscribeDelay,
		subs:       make(map[string]uint64),
	}
	src.SetOnEvent(f.handle)
	src.OnAuthenticated(f.subscribe)
	return f
}

// SetLogger sets the logger for this fan-out.
func (f *Fanout) SetLogger(logger Logger) {
	f.loggerMu.Lock()
	f.logger = logger
	f.loggerMu.Unlock()
}

// Stats returns current counters.
func (f *Fanout) Stats() FanoutStats {
	f.mu.Lock()
	subs := make(map[string]uint64, len(f.subs))
	for k, v := range f.subs {
		subs[k] = v
	}
	f.mu.Unlock()

	return FanoutStats{
		Subscriptions: subs,
		Subscribes:    f.subscribes.Load(),
		Failures:      f.failures.Load(),
		Received:      f.received.Load(),
	}
}

func (f *Fanout) handle(m wire.Event) {
	f.received.Add(1)
	f.bus.Publish(FromWire(m))
}

// subscribe runs once per authenticated connection.
func (f *Fanout) subscribe(ctx context.Context) {
	mine := make(map[string]uint64, len(f.eventTypes))
	for _, eventType := range f.eventTypes {
		if id, ok := f.subscribeOne(ctx, eventType); ok {
			mine[eventType] = id
		}
	}

	<-ctx.Done()

	// The next connection may already have resubscribed.
	f.mu.Lock()
	for eventType, id := range mine {
		if f.subs[eventType] == id {
			delete(f.subs, eventType)
		}
	}
	f.mu.Unlock()
}

func (f *Fanout) subscribeOne(ctx context.Context, eventType string) (uint64, bool) {
	for {
		id, err := f.src.SubscribeEvents(ctx, eventType)
		if err == nil {
			f.subscribes.Add(1)
			f.mu.Lock()
			f.subs[eventType] = id
			f.mu.Unlock()
			f.logDebug("subscribed to hub events", "event_type", displayType(eventType), "subscription", id)
			return id, true
		}
		if ctx.Err() != nil {
			return 0, false
		}

		f.failures.Add(1)
		f.logWarn("event subscription failed", "event_type", displayType(eventType),
			"error", err, "retry_in", f.retryDelay)

		timer := time.NewTimer(f.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, false
		case <-timer.C:
		}
	}
}

func displayType(eventType string) string {
	if eventType == "" {
		return "*"
	}
	return eventType
}

func (f *Fanout) getLogger() Logger {
	f.loggerMu.RLock()
	defer f.loggerMu.RUnlock()
	return f.logger
}

func (f *Fanout) logDebug(msg string, keysAndValues ...any) {
	if logger := f.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (f *Fanout) logWarn(msg string, keysAndValues ...any) {
	if logger := f.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
