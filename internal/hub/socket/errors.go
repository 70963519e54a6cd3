package socket

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Open and Send after Close.
	ErrClosed = errors.New("socket: closed")

	// ErrNotConnected is returned when a frame cannot be written because no
	// connection is established.
	ErrNotConnected = errors.New("socket: not connected")

	// ErrWriteFailed wraps a transport write error.
	ErrWriteFailed = errors.New("socket: write failed")

	// ErrFatal matches every *FatalError.
	ErrFatal = errors.New("socket: fatal connection error")
)

// FatalError is a connection failure that retrying will not fix: a rejected
// handshake, an unresolvable host, a malformed URL.
type FatalError struct {
	URL string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrFatal, e.URL, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFatal.
func (e *FatalError) Is(target error) bool { return target == ErrFatal }
