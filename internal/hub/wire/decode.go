package wire

import (
	"encoding/json"
	"fmt"
)

// envelope is the union of every inbound field; Decode narrows it to a variant.
type envelope struct {
	ID         uint64          `json:"id"`
	Type       string          `json:"type"`
	Success    *bool           `json:"success"`
	Result     json.RawMessage `json:"result"`
	Error      *ErrorInfo      `json:"error"`
	Event      *EventData      `json:"event"`
	Message    string          `json:"message"`
	HubVersion string          `json:"ha_version"`
}

// Decode parses one inbound frame into its variant.
//
// Returns ErrMalformed for invalid JSON or a frame missing fields its type
// requires, and ErrUnknownType for a type string outside the closed set.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch env.Type {
	case TypeAuthRequired:
		return AuthRequired{HubVersion: env.HubVersion}, nil
	case TypeAuthOK:
		return AuthOK{HubVersion: env.HubVersion}, nil
	case TypeAuthInvalid:
		return AuthInvalid{Message: env.Message}, nil
	case TypeResult:
		return decodeResult(env)
	case TypePong:
		if env.ID == 0 {
			return nil, fmt.Errorf("%w: pong without id", ErrMalformed)
		}
		return Pong{ID: env.ID}, nil
	case TypeEvent:
		if env.Event == nil {
			return nil, fmt.Errorf("%w: event frame without event", ErrMalformed)
		}
		return Event{ID: env.ID, Event: *env.Event}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeResult(env envelope) (Message, error) {
	if env.ID == 0 {
		return nil, fmt.Errorf("%w: result without id", ErrMalformed)
	}
	if env.Success == nil {
		return nil, fmt.Errorf("%w: result %d without success flag", ErrMalformed, env.ID)
	}
	if *env.Success {
		result := env.Result
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		return ResultSuccess{ID: env.ID, Result: result}, nil
	}

	info := ErrorInfo{Code: "unknown_error"}
	if env.Error != nil {
		info = *env.Error
	}
	return ResultError{ID: env.ID, Error: info}, nil
}
