package relay

import "errors"

var (
	// ErrBusy is returned when too many service calls are already in flight.
	ErrBusy = errors.New("relay: too many commands in flight")

	// ErrBadPayload is returned for a command payload that is not a JSON object.
	ErrBadPayload = errors.New("relay: command payload must be a JSON object")
)
