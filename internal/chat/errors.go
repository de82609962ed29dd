package chat

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned for outbound operations attempted while
// the connection is not in the Connected state. Callers decide whether
// to queue, retry, or surface the failure; nothing is dropped silently.
var ErrNotConnected = errors.New("not connected to gateway")

// ErrRetriesExhausted is the terminal connection error surfaced once
// the bounded reconnect backoff gives up. Recovery after this requires
// an explicit Connect call.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// ErrNoActiveRoom is returned for room-scoped operations when no room
// session is active.
var ErrNoActiveRoom = errors.New("no active room")

// SendError reports an optimistic send that could not be confirmed.
// The provisional message remains in the sequence, marked failed.
type SendError struct {
	ProvisionalID string
	Err           error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s failed: %v", e.ProvisionalID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// conflictError describes a push event that violates a local invariant,
// such as a delivery-state regression. Conflicts are logged and the
// event discarded; they never reach the UI as errors.
type conflictError struct {
	messageID string
	reason    string
}

func (e *conflictError) Error() string {
	return fmt.Sprintf("reconciliation conflict on %s: %s", e.messageID, e.reason)
}
