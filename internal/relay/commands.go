package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hublink/internal/infrastructure/mqtt"
)

const (
	defaultCommandTimeout = 10 * time.Second
	defaultMaxInFlight    = 8
)

// Caller performs hub service calls. *session.Session satisfies it.
type Caller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error)
}

// Subscriber is the inbound MQTT side. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// CommandStats holds command counters.
type CommandStats struct {
	InFlight  int64  `json:"in_flight"`
	Received  uint64 `json:"received"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// Commands turns MQTT command messages into hub service calls.
//
// A message on hublink/command/light/turn_on with payload
// {"entity_id":"light.kitchen"} calls light.turn_on with that service data.
// An empty payload calls the service without data. Calls run on their own
// goroutines, at most maxInFlight at once; extra messages are rejected
// rather than queued, since a command that arrives late is worse than one
// that fails.
type Commands struct {
	sub     Subscriber
	caller  Caller
	timeout time.Duration
	slots   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders handle's wg.Add against Close's wg.Wait.
	mu     sync.Mutex
	closed bool

	logger   Logger
	loggerMu sync.RWMutex

	inFlight  atomic.Int64
	received  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// NewCommands creates a command handler. timeout bounds each service call;
// zero uses 10s.
func NewCommands(sub Subscriber, caller Caller, timeout time.Duration) *Commands {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Commands{
		sub:     sub,
		caller:  caller,
		timeout: timeout,
		slots:   make(chan struct{}, defaultMaxInFlight),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetLogger sets the logger for command handling.
func (c *Commands) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Start subscribes to every command topic at qos.
func (c *Commands) Start(qos byte) error {
	if err := c.sub.Subscribe(mqtt.Topics{}.AllCommands(), qos, c.handle); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// Close unsubscribes, cancels calls in flight and waits for them.
func (c *Commands) Close() {
	if err := c.sub.Unsubscribe(mqtt.Topics{}.AllCommands()); err != nil {
		c.logDebug("unsubscribing from commands", "error", err)
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Stats returns current counters.
func (c *Commands) Stats() CommandStats {
	return CommandStats{
		InFlight:  c.inFlight.Load(),
		Received:  c.received.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Rejected:  c.rejected.Load(),
	}
}

// handle runs on the MQTT client's goroutine and must return quickly.
func (c *Commands) handle(topic string, payload []byte) error {
	c.received.Add(1)

	domain, service, ok := mqtt.ParseCommandTopic(topic)
	if !ok {
		c.rejected.Add(1)
		return fmt.Errorf("relay: not a command topic: %s", topic)
	}

	data, err := decodeServiceData(payload)
	if err != nil {
		c.rejected.Add(1)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.rejected.Add(1)
		return nil
	}
	select {
	case c.slots <- struct{}{}:
	default:
		c.mu.Unlock()
		c.rejected.Add(1)
		return fmt.Errorf("%w: %s.%s", ErrBusy, domain, service)
	}
	c.wg.Add(1)
	c.mu.Unlock()

	c.inFlight.Add(1)
	go func() {
		defer func() {
			<-c.slots
			c.inFlight.Add(-1)
			c.wg.Done()
		}()
		c.call(domain, service, data)
	}()
	return nil
}

func (c *Commands) call(domain, service string, data map[string]any) {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if _, err := c.caller.CallService(ctx, domain, service, data); err != nil {
		c.failed.Add(1)
		c.logWarn("MQTT command failed", "domain", domain, "service", service, "error", err)
		return
	}
	c.succeeded.Add(1)
	c.logDebug("MQTT command completed", "domain", domain, "service", service, "took", time.Since(start))
}

// decodeServiceData accepts an empty payload or a JSON object.
func decodeServiceData(payload []byte) (map[string]any, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil || data == nil {
		return nil, ErrBadPayload
	}
	return data, nil
}

func (c *Commands) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Commands) logDebug(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (c *Commands) logWarn(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}
