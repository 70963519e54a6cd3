package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

var (
	// ErrAuthInvalid is returned once the hub rejects the access token.
	// It is terminal: the session closes and the daemon should exit.
	ErrAuthInvalid = errors.New("session: authentication rejected")

	// ErrClosed is returned by requests issued after Close.
	ErrClosed = errors.New("session: closed")

	// ErrRequestTimeout matches every *RequestTimeoutError.
	ErrRequestTimeout = errors.New("session: request timed out")

	// ErrTokenExpired is returned by CheckToken for a JWT past its exp claim.
	ErrTokenExpired = errors.New("session: access token expired")

	// ErrTokenMissing is returned by CheckToken for an empty token.
	ErrTokenMissing = errors.New("session: access token missing")
)

// RequestTimeoutError reports a request that got no answer within the
// configured request timeout.
type RequestTimeoutError struct {
	ID      uint64
	Packet  wire.Request
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("session: request %d (%s) timed out after %v", e.ID, e.Packet.Type, e.Timeout)
}

// Is reports whether target is ErrRequestTimeout.
func (e *RequestTimeoutError) Is(target error) bool { return target == ErrRequestTimeout }
