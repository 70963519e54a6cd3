package mirror

import "errors"

var (
	// ErrNotFound is returned for an entity the mirror does not hold.
	ErrNotFound = errors.New("mirror: entity not found")

	// ErrEntityID is returned when an entity id is required but empty.
	ErrEntityID = errors.New("mirror: entity id required")
)
