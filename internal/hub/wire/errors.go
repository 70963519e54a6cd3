package wire

import "errors"

// Decode errors. Both are protocol anomalies: the session logs and drops the frame.
var (
	// ErrMalformed is returned for frames that are not valid JSON or lack required fields.
	ErrMalformed = errors.New("wire: malformed frame")

	// ErrUnknownType is returned for a type string outside the known set.
	ErrUnknownType = errors.New("wire: unknown frame type")
)
