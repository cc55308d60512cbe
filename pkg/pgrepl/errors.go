package pgrepl

import (
	"errors"
	"fmt"
)

// ErrStop can be returned from a consumer to leave the stream loop cleanly.
// Replicate treats it as a normal exit and returns nil.
var ErrStop = errors.New("stop replication")

// ErrClosed is returned when a Replicator is used after its session ended.
// A Replicator runs a single session; create a new one to stream again.
var ErrClosed = errors.New("replicator is closed")

// IdentityError reports a disagreement between a caller-specified identity
// value and what the server reported during IDENTIFY_SYSTEM.
type IdentityError struct {
	Field     string
	Specified string
	Server    string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("%s does not match. Specified %s: %s. Server %s: %s.",
		e.Field, e.Field, e.Specified, e.Field, e.Server)
}
