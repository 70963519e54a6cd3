package events

import "errors"

var (
	// ErrWrongType is returned by a typed accessor called on another event type.
	ErrWrongType = errors.New("events: wrong event type")

	// ErrPayload is returned when an event's data does not decode.
	ErrPayload = errors.New("events: invalid payload")
)
