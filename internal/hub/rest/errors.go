package rest

import (
	"errors"
	"fmt"
)

var (
	// ErrBaseURL is returned for a base URL that is not http(s)://host.
	ErrBaseURL = errors.New("rest: invalid base URL")

	// ErrEntityID is returned for an empty entity id.
	ErrEntityID = errors.New("rest: entity id required")
)

// StatusError is a response with an unexpected HTTP status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rest: %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("rest: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}
