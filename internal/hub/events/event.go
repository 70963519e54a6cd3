// Package events republishes hub events to local subscribers.
//
// A Fanout subscribes to the hub on every authenticated connection and
// feeds each inbound event frame into a Bus. Bus subscribers register by
// event type and receive events on a single dispatch goroutine, in the order
// the hub sent them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

// Event types with typed payload accessors.
const (
	TypeStateChanged = "state_changed"
	TypeCallService  = "call_service"
)

// Event is one hub event.
type Event struct {
	Type         string          `json:"event_type"`
	Data         json.RawMessage `json:"data"`
	Origin       string          `json:"origin,omitempty"`
	TimeFired    time.Time       `json:"time_fired"`
	Context      wire.Context    `json:"context"`
	Subscription uint64          `json:"-"`
}

// FromWire converts an inbound event frame.
func FromWire(m wire.Event) Event {
	return Event{
		Type:         m.Event.EventType,
		Data:         m.Event.Data,
		Origin:       m.Event.Origin,
		TimeFired:    m.Event.TimeFired,
		Context:      m.Event.Context,
		Subscription: m.ID,
	}
}

// StateChanged is the payload of a state_changed event. OldState is nil for
// a new entity and NewState is nil for a removed one.
type StateChanged struct {
	EntityID string      `json:"entity_id"`
	OldState *wire.State `json:"old_state"`
	NewState *wire.State `json:"new_state"`
}

// ServiceCall is the payload of a call_service event.
type ServiceCall struct {
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data"`
}

// StateChanged decodes the payload of a state_changed event.
func (e Event) StateChanged() (StateChanged, error) {
	var sc StateChanged
	if err := e.decode(TypeStateChanged, &sc); err != nil {
		return StateChanged{}, err
	}
	if sc.EntityID == "" {
		return StateChanged{}, fmt.Errorf("%w: state_changed without entity_id", ErrPayload)
	}
	return sc, nil
}

// ServiceCall decodes the payload of a call_service event.
func (e Event) ServiceCall() (ServiceCall, error) {
	var call ServiceCall
	if err := e.decode(TypeCallService, &call); err != nil {
		return ServiceCall{}, err
	}
	return call, nil
}

func (e Event) decode(want string, out any) error {
	if e.Type != want {
		return fmt.Errorf("%w: %s is not %s", ErrWrongType, e.Type, want)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrPayload, err)
	}
	return nil
}
