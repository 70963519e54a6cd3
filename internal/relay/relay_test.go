package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hublink/internal/hub/events"
	"github.com/nerrad567/hublink/internal/hub/wire"
	"github.com/nerrad567/hublink/internal/infrastructure/mqtt"
	"github.com/nerrad567/hublink/internal/mirror"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

// fakeBroker records publishes and hands out subscriptions.
type fakeBroker struct {
	mu       sync.Mutex
	msgs     []published
	fail     bool
	block    chan struct{}
	handlers map[string]mqtt.MessageHandler
}

func (b *fakeBroker) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.record(topic, string(data), retained)
}

func (b *fakeBroker) PublishRetained(topic string, payload []byte) error {
	return b.record(topic, string(payload), true)
}

func (b *fakeBroker) record(topic, payload string, retained bool) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return mqtt.ErrNotConnected
	}
	b.msgs = append(b.msgs, published{topic, payload, retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]mqtt.MessageHandler)
	}
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) deliver(pattern, topic, payload string) error {
	b.mu.Lock()
	h := b.handlers[pattern]
	b.mu.Unlock()
	if h == nil {
		return errors.New("no handler")
	}
	return h(topic, []byte(payload))
}

func (b *fakeBroker) published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published{}, b.msgs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelay_StatesAndEvents(t *testing.T) {
	broker := &fakeBroker{}
	r := New(broker, Options{EventTypes: []string{"automation_triggered"}})
	r.Start()

	on := &wire.State{EntityID: "light.kitchen", State: "on"}
	r.HandleChange(mirror.Change{EntityID: "light.kitchen", New: on})
	r.HandleEvent(events.Event{Type: "automation_triggered", Data: json.RawMessage(`{"name":"night"}`)})
	r.HandleEvent(events.Event{Type: events.TypeStateChanged}) // filtered
	r.HandleChange(mirror.Change{EntityID: "light.kitchen", Old: on})
	r.Close()

	msgs := broker.published()
	if len(msgs) != 3 {
		t.Fatalf("published %+v", msgs)
	}

	if msgs[0].topic != "hublink/state/light.kitchen" || !msgs[0].retained {
		t.Errorf("state message = %+v", msgs[0])
	}
	var s wire.State
	if err := json.Unmarshal([]byte(msgs[0].payload), &s); err != nil || s.State != "on" {
		t.Errorf("state payload = %s", msgs[0].payload)
	}

	if msgs[1].topic != "hublink/event/automation_triggered" || msgs[1].retained {
		t.Errorf("event message = %+v", msgs[1])
	}
	var e events.Event
	if err := json.Unmarshal([]byte(msgs[1].payload), &e); err != nil || string(e.Data) != `{"name":"night"}` {
		t.Errorf("event payload = %s", msgs[1].payload)
	}

	if msgs[2].topic != "hublink/state/light.kitchen" || msgs[2].payload != "" || !msgs[2].retained {
		t.Errorf("clear message = %+v", msgs[2])
	}

	if st := r.Stats(); st.States != 1 || st.Events != 1 || st.Cleared != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestRelay_PublishFailuresCounted(t *testing.T) {
	broker := &fakeBroker{fail: true}
	r := New(broker, Options{})
	r.Start()
	r.HandleEvent(events.Event{Type: "x"})
	r.Close()

	if st := r.Stats(); st.Failures != 1 || st.Events != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestRelay_DropsWhenFull(t *testing.T) {
	broker := &fakeBroker{block: make(chan struct{})}
	r := New(broker, Options{QueueSize: 2})
	r.Start()

	for range 10 {
		r.HandleEvent(events.Event{Type: "x"})
	}
	close(broker.block)
	r.Close()

	st := r.Stats()
	if st.Dropped == 0 || st.Events+st.Dropped != 10 {
		t.Errorf("Stats() = %+v", st)
	}
}

// fakeCaller records service calls.
type fakeCaller struct {
	mu    sync.Mutex
	calls []string
	data  []map[string]any
	err   error
	hold  chan struct{}
}

func (c *fakeCaller) CallService(ctx context.Context, domain, service string, data map[string]any) (json.RawMessage, error) {
	if c.hold != nil {
		select {
		case <-c.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, domain+"."+service)
	c.data = append(c.data, data)
	return json.RawMessage(`{}`), c.err
}

func (c *fakeCaller) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.calls...)
}

func TestCommands(t *testing.T) {
	broker := &fakeBroker{}
	caller := &fakeCaller{}
	cmds := NewCommands(broker, caller, time.Second)
	if err := cmds.Start(1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	all := mqtt.Topics{}.AllCommands()
	if err := broker.deliver(all, "hublink/command/light/turn_on", `{"entity_id":"light.kitchen","brightness":128}`); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := broker.deliver(all, "hublink/command/homeassistant/restart", ""); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := broker.deliver(all, "hublink/command/light/turn_on", `"on"`); !errors.Is(err, ErrBadPayload) {
		t.Errorf("non-object payload error = %v", err)
	}
	if err := broker.deliver(all, "hublink/command/light", `{}`); err == nil {
		t.Error("short topic accepted")
	}

	waitFor(t, "calls", func() bool { return len(caller.recorded()) == 2 })
	cmds.Close()

	calls := caller.recorded()
	if calls[0] != "light.turn_on" && calls[1] != "light.turn_on" {
		t.Errorf("calls = %v", calls)
	}
	for i, c := range calls {
		switch c {
		case "light.turn_on":
			if caller.data[i]["entity_id"] != "light.kitchen" || caller.data[i]["brightness"] != float64(128) {
				t.Errorf("service data = %v", caller.data[i])
			}
		case "homeassistant.restart":
			if caller.data[i] != nil {
				t.Errorf("empty payload produced data %v", caller.data[i])
			}
		}
	}

	if st := cmds.Stats(); st.Received != 4 || st.Succeeded != 2 || st.Rejected != 2 {
		t.Errorf("Stats() = %+v", st)
	}
	if len(broker.handlers) != 0 {
		t.Error("Close() did not unsubscribe")
	}
}

func TestCommands_FailuresAndBackpressure(t *testing.T) {
	broker := &fakeBroker{}
	caller := &fakeCaller{hold: make(chan struct{}), err: errors.New("hub rejected")}
	cmds := NewCommands(broker, caller, time.Minute)
	if err := cmds.Start(0); err != nil {
		t.Fatal(err)
	}
	all := mqtt.Topics{}.AllCommands()

	for range defaultMaxInFlight {
		if err := broker.deliver(all, "hublink/command/switch/toggle", ""); err != nil {
			t.Fatalf("handler error = %v", err)
		}
	}
	if err := broker.deliver(all, "hublink/command/switch/toggle", ""); !errors.Is(err, ErrBusy) {
		t.Errorf("over-limit error = %v, want ErrBusy", err)
	}
	if st := cmds.Stats(); st.InFlight != defaultMaxInFlight {
		t.Errorf("InFlight = %d", st.InFlight)
	}

	close(caller.hold)
	waitFor(t, "calls", func() bool { return cmds.Stats().Failed == defaultMaxInFlight })
	cmds.Close()
}

func TestCommands_CloseCancelsInFlight(t *testing.T) {
	broker := &fakeBroker{}
	caller := &fakeCaller{hold: make(chan struct{})}
	cmds := NewCommands(broker, caller, time.Hour)
	if err := cmds.Start(1); err != nil {
		t.Fatal(err)
	}

	if err := broker.deliver(mqtt.Topics{}.AllCommands(), "hublink/command/light/turn_off", ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "in flight", func() bool { return cmds.Stats().InFlight == 1 })

	done := make(chan struct{})
	go func() {
		cmds.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not cancel the call in flight")
	}
	if st := cmds.Stats(); st.Failed != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestCommands_HandleRacingClose(t *testing.T) {
	const n = 64
	caller := &fakeCaller{}
	cmds := NewCommands(&fakeBroker{}, caller, time.Second)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = cmds.handle("hublink/command/light/toggle", nil)
		}()
	}

	close(start)
	cmds.Close()
	ran := len(caller.recorded())
	wg.Wait()

	if got := len(caller.recorded()); got != ran {
		t.Errorf("%d calls started after Close() returned", got-ran)
	}
	st := cmds.Stats()
	if st.InFlight != 0 {
		t.Errorf("InFlight = %d after Close()", st.InFlight)
	}
	if st.Received != n || st.Succeeded+st.Failed+st.Rejected != n {
		t.Errorf("Stats() = %+v, want every message either run or rejected", st)
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	states []string
}

func (w *fakeWriter) WriteEntityState(entityID, state string, _ map[string]any, _ time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.states = append(w.states, entityID+"="+state)
	return 1
}

func TestMetrics(t *testing.T) {
	w := &fakeWriter{}
	m := NewMetrics(w)

	m.HandleChange(mirror.Change{EntityID: "sensor.outside", New: &wire.State{State: "21.5"}})
	m.HandleChange(mirror.Change{EntityID: "sensor.outside", Old: &wire.State{State: "21.5"}})

	if len(w.states) != 1 || w.states[0] != "sensor.outside=21.5" {
		t.Errorf("writes = %v", w.states)
	}
	if m.Points() != 1 {
		t.Errorf("Points() = %d", m.Points())
	}
}
