package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

func TestEvent_StateChanged(t *testing.T) {
	tests := []struct {
		name       string
		event      Event
		wantErr    error
		wantRemove bool
	}{
		{
			name: "update",
			event: Event{Type: TypeStateChanged, Data: json.RawMessage(`{"entity_id":"light.kitchen",` +
				`"old_state":{"entity_id":"light.kitchen","state":"off"},` +
				`"new_state":{"entity_id":"light.kitchen","state":"on"}}`)},
		},
		{
			name:       "removal",
			event:      Event{Type: TypeStateChanged, Data: json.RawMessage(`{"entity_id":"light.kitchen","old_state":{"state":"on"},"new_state":null}`)},
			wantRemove: true,
		},
		{
			name:    "wrong type",
			event:   Event{Type: "call_service", Data: json.RawMessage(`{}`)},
			wantErr: ErrWrongType,
		},
		{
			name:    "bad payload",
			event:   Event{Type: TypeStateChanged, Data: json.RawMessage(`[1,2]`)},
			wantErr: ErrPayload,
		},
		{
			name:    "missing entity",
			event:   Event{Type: TypeStateChanged, Data: json.RawMessage(`{"new_state":null}`)},
			wantErr: ErrPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := tt.event.StateChanged()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("StateChanged() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if sc.EntityID != "light.kitchen" {
				t.Errorf("EntityID = %q", sc.EntityID)
			}
			if (sc.NewState == nil) != tt.wantRemove {
				t.Errorf("NewState = %+v, removal = %v", sc.NewState, tt.wantRemove)
			}
		})
	}
}

func TestEvent_ServiceCall(t *testing.T) {
	e := Event{Type: TypeCallService, Data: json.RawMessage(
		`{"domain":"light","service":"turn_on","service_data":{"entity_id":"light.kitchen"}}`)}

	call, err := e.ServiceCall()
	if err != nil {
		t.Fatalf("ServiceCall() error = %v", err)
	}
	if call.Domain != "light" || call.Service != "turn_on" || call.ServiceData["entity_id"] != "light.kitchen" {
		t.Errorf("ServiceCall() = %+v", call)
	}

	if _, err := (Event{Type: TypeStateChanged}).ServiceCall(); !errors.Is(err, ErrWrongType) {
		t.Errorf("ServiceCall() on state_changed error = %v", err)
	}
}

func TestFromWire(t *testing.T) {
	fired := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := FromWire(wire.Event{ID: 4, Event: wire.EventData{
		EventType: "automation_triggered",
		Data:      json.RawMessage(`{}`),
		Origin:    "LOCAL",
		TimeFired: fired,
		Context:   wire.Context{ID: "c1"},
	}})

	if e.Type != "automation_triggered" || e.Subscription != 4 || !e.TimeFired.Equal(fired) || e.Context.ID != "c1" {
		t.Errorf("FromWire() = %+v", e)
	}
}

// collector records the events a handler sees.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
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

func TestBus_Routing(t *testing.T) {
	bus := NewBus(16)
	bus.Start()
	defer bus.Close()

	var states, all collector
	unsubStates := bus.Subscribe(TypeStateChanged, states.handle)
	bus.SubscribeAll(all.handle)

	for _, typ := range []string{TypeStateChanged, "call_service", TypeStateChanged} {
		bus.Publish(Event{Type: typ})
	}
	waitFor(t, "delivery", func() bool { return len(all.types()) == 3 })

	if got := states.types(); len(got) != 2 {
		t.Errorf("state subscriber saw %v", got)
	}
	want := []string{TypeStateChanged, "call_service", TypeStateChanged}
	for i, typ := range all.types() {
		if typ != want[i] {
			t.Errorf("event %d = %s, want %s", i, typ, want[i])
		}
	}

	unsubStates()
	unsubStates() // safe twice
	bus.Publish(Event{Type: TypeStateChanged})
	waitFor(t, "delivery", func() bool { return len(all.types()) == 4 })

	if got := len(states.types()); got != 2 {
		t.Errorf("unsubscribed handler received %d events, want 2", got)
	}
	if got := bus.Stats().Subscribers; got != 1 {
		t.Errorf("Subscribers = %d, want 1", got)
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(2) // not started, so nothing drains

	if !bus.Publish(Event{Type: "a"}) || !bus.Publish(Event{Type: "b"}) {
		t.Fatal("Publish() into empty queue = false")
	}
	if bus.Publish(Event{Type: "c"}) {
		t.Error("Publish() into full queue = true")
	}

	stats := bus.Stats()
	if stats.Published != 2 || stats.Dropped != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestBus_OnDropSeesDroppedEvents(t *testing.T) {
	bus := NewBus(1) // not started, so nothing drains

	var dropped []string
	remove := bus.OnDrop(func(e Event) { dropped = append(dropped, e.Type) })
	bus.OnDrop(func(Event) { panic("boom") })

	bus.Publish(Event{Type: "a"})
	bus.Publish(Event{Type: TypeStateChanged})
	remove()
	bus.Publish(Event{Type: "c"})

	if len(dropped) != 1 || dropped[0] != TypeStateChanged {
		t.Errorf("dropped = %v, want [%s]", dropped, TypeStateChanged)
	}
	if stats := bus.Stats(); stats.Dropped != 2 || stats.Panics != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus(4)
	bus.Start()
	defer bus.Close()

	var got collector
	bus.Subscribe("boom", func(Event) { panic("handler bug") })
	bus.SubscribeAll(got.handle)

	bus.Publish(Event{Type: "boom"})
	bus.Publish(Event{Type: "after"})

	waitFor(t, "delivery", func() bool { return len(got.types()) == 2 })
	if got := bus.Stats().Panics; got != 1 {
		t.Errorf("Panics = %d, want 1", got)
	}
}

func TestBus_CloseDrainsQueue(t *testing.T) {
	bus := NewBus(8)
	var got collector
	bus.SubscribeAll(got.handle)

	for range 5 {
		bus.Publish(Event{Type: "x"})
	}
	bus.Start()
	bus.Close()

	if n := len(got.types()); n != 5 {
		t.Errorf("delivered %d events before close, want 5", n)
	}
}

// fakeSource stands in for a session.
type fakeSource struct {
	mu         sync.Mutex
	hooks      []func(ctx context.Context)
	onEvent    func(wire.Event)
	failFirst  int
	calls      int
	subscribed []string
}

func (s *fakeSource) SubscribeEvents(_ context.Context, eventType string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return 0, errors.New("hub busy")
	}
	s.subscribed = append(s.subscribed, eventType)
	return uint64(s.calls), nil
}

func (s *fakeSource) OnAuthenticated(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *fakeSource) SetOnEvent(fn func(wire.Event)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

// authenticate runs the hooks the way a session does after auth_ok.
func (s *fakeSource) authenticate(ctx context.Context) {
	s.mu.Lock()
	hooks := append([]func(context.Context){}, s.hooks...)
	s.mu.Unlock()
	for _, h := range hooks {
		go h(ctx)
	}
}

func (s *fakeSource) subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.subscribed...)
}

func TestFanout_ResubscribesEveryEpoch(t *testing.T) {
	src := &fakeSource{}
	bus := NewBus(8)
	bus.Start()
	defer bus.Close()

	f := NewFanout(src, bus, TypeStateChanged, TypeCallService)

	ctx1, cancel1 := context.WithCancel(context.Background())
	src.authenticate(ctx1)
	waitFor(t, "first subscriptions", func() bool { return len(src.subscriptions()) == 2 })
	if got := len(f.Stats().Subscriptions); got != 2 {
		t.Errorf("current subscriptions = %d, want 2", got)
	}

	cancel1()
	waitFor(t, "subscriptions cleared", func() bool { return len(f.Stats().Subscriptions) == 0 })

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	src.authenticate(ctx2)
	waitFor(t, "second subscriptions", func() bool { return len(src.subscriptions()) == 4 })

	if got := f.Stats().Subscribes; got != 4 {
		t.Errorf("Subscribes = %d, want 4", got)
	}
}

func TestFanout_RetriesFailedSubscription(t *testing.T) {
	src := &fakeSource{failFirst: 2}
	bus := NewBus(8)

	f := NewFanout(src, bus)
	f.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.authenticate(ctx)

	waitFor(t, "subscription", func() bool { return len(src.subscriptions()) == 1 })
	if got := src.subscriptions()[0]; got != "" {
		t.Errorf("subscribed to %q, want all events", got)
	}
	if got := f.Stats().Failures; got != 2 {
		t.Errorf("Failures = %d, want 2", got)
	}
}

func TestFanout_PublishesInboundEvents(t *testing.T) {
	src := &fakeSource{}
	bus := NewBus(8)
	bus.Start()
	defer bus.Close()

	var got collector
	bus.Subscribe(TypeStateChanged, got.handle)
	NewFanout(src, bus)

	src.mu.Lock()
	onEvent := src.onEvent
	src.mu.Unlock()
	onEvent(wire.Event{ID: 1, Event: wire.EventData{EventType: TypeStateChanged, Data: json.RawMessage(`{}`)}})

	waitFor(t, "event", func() bool { return len(got.types()) == 1 })
}
