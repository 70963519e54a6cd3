// Package wire defines the JSON frames exchanged with the hub's WebSocket API.
//
// Inbound frames decode into a closed set of variants that implement Message.
// The set is sealed by an unexported method, so a type switch over Message
// in another package can only ever see the seven variants declared here.
//
//	msg, err := wire.Decode(frame)
//	switch m := msg.(type) {
//	case wire.AuthRequired: ...
//	case wire.ResultSuccess: ...
//	}
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame type strings as they appear in the "type" field.
const (
	TypeAuth              = "auth"
	TypeAuthRequired      = "auth_required"
	TypeAuthOK            = "auth_ok"
	TypeAuthInvalid       = "auth_invalid"
	TypeResult            = "result"
	TypePong              = "pong"
	TypeEvent             = "event"
	TypePing              = "ping"
	TypeSubscribeEvents   = "subscribe_events"
	TypeUnsubscribeEvents = "unsubscribe_events"
	TypeGetStates         = "get_states"
	TypeGetConfig         = "get_config"
	TypeGetPanels         = "get_panels"
	TypeGetServices       = "get_services"
	TypeCallService       = "call_service"
)

// Kind identifies an inbound message variant.
type Kind int

// Inbound message kinds.
const (
	KindAuthRequired Kind = iota + 1
	KindAuthOK
	KindAuthInvalid
	KindResultSuccess
	KindResultError
	KindPong
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return TypeAuthRequired
	case KindAuthOK:
		return TypeAuthOK
	case KindAuthInvalid:
		return TypeAuthInvalid
	case KindResultSuccess:
		return "result_success"
	case KindResultError:
		return "result_error"
	case KindPong:
		return TypePong
	case KindEvent:
		return TypeEvent
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is an inbound frame. Implemented only by the variants in this package.
type Message interface {
	Kind() Kind
	sealed()
}

// Response is an inbound frame that answers a request by id.
type Response interface {
	Message
	RequestID() uint64
}

// AuthRequired is the first frame the hub sends on every new connection.
type AuthRequired struct {
	HubVersion string
}

// AuthOK confirms the access token.
type AuthOK struct {
	HubVersion string
}

// AuthInvalid rejects the access token.
type AuthInvalid struct {
	Message string
}

// ResultSuccess answers request ID with a result payload.
type ResultSuccess struct {
	ID     uint64
	Result json.RawMessage
}

// ResultError answers request ID with a failure.
type ResultError struct {
	ID    uint64
	Error ErrorInfo
}

// Pong answers a ping request.
type Pong struct {
	ID uint64
}

// Event carries a hub event for subscription ID.
type Event struct {
	ID    uint64
	Event EventData
}

func (AuthRequired) Kind() Kind  { return KindAuthRequired }
func (AuthOK) Kind() Kind        { return KindAuthOK }
func (AuthInvalid) Kind() Kind   { return KindAuthInvalid }
func (ResultSuccess) Kind() Kind { return KindResultSuccess }
func (ResultError) Kind() Kind   { return KindResultError }
func (Pong) Kind() Kind          { return KindPong }
func (Event) Kind() Kind         { return KindEvent }

func (AuthRequired) sealed()  {}
func (AuthOK) sealed()        {}
func (AuthInvalid) sealed()   {}
func (ResultSuccess) sealed() {}
func (ResultError) sealed()   {}
func (Pong) sealed()          {}
func (Event) sealed()         {}

// RequestID returns the id of the request this frame answers.
func (m ResultSuccess) RequestID() uint64 { return m.ID }

// RequestID returns the id of the request this frame answers.
func (m ResultError) RequestID() uint64 { return m.ID }

// RequestID returns the id of the request this frame answers.
func (m Pong) RequestID() uint64 { return m.ID }

// ErrorInfo is the error object of a failed result.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventData is the "event" object of an event frame.
type EventData struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
	Context   Context         `json:"context"`
}

// Context links a state change or event to its cause.
type Context struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// State is one entity's state record as returned by get_states and carried in
// state_changed events.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     Context        `json:"context"`
}

// HubConfig is the result of get_config. State reports the hub's own
// lifecycle ("NOT_RUNNING", "STARTING", "RUNNING", "STOPPING").
type HubConfig struct {
	State        string   `json:"state"`
	Version      string   `json:"version"`
	LocationName string   `json:"location_name"`
	TimeZone     string   `json:"time_zone"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	Components   []string `json:"components"`
}

// HubStateRunning is the get_config state of a fully started hub.
const HubStateRunning = "RUNNING"

// Panel is one entry of the get_panels result.
type Panel struct {
	ComponentName string `json:"component_name"`
	Icon          string `json:"icon"`
	Title         string `json:"title"`
	URLPath       string `json:"url_path"`
	RequireAdmin  bool   `json:"require_admin"`
}

// Service describes one callable service from get_services.
type Service struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Fields      map[string]any `json:"fields"`
}
