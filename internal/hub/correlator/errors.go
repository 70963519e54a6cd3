package correlator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateID is returned by Add when the id is still pending.
	ErrDuplicateID = errors.New("correlator: request id already pending")

	// ErrNoResponse matches every *StaleError.
	ErrNoResponse = errors.New("correlator: no response received")
)

// HubError is the failure payload of a result frame with success=false.
type HubError struct {
	ID      uint64
	Code    string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub rejected request %d: %s: %s", e.ID, e.Code, e.Message)
}

// StaleError is produced by the sweep for a request that aged past StaleAfter.
type StaleError struct {
	ID     uint64
	Packet any
	Age    time.Duration
}

func (e *StaleError) Error() string {
	packet, err := json.Marshal(e.Packet)
	if err != nil {
		packet = []byte(fmt.Sprintf("%+v", e.Packet))
	}
	return fmt.Sprintf("%s for request %d after %v: %s", ErrNoResponse, e.ID, e.Age.Truncate(time.Millisecond), packet)
}

func (e *StaleError) Unwrap() error { return ErrNoResponse }
