package recording

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a per-camera failure. Every kind is recoverable and
// drives the session into reconnecting.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindStall      ErrorKind = "stall"
	KindWrite      ErrorKind = "write"
)

// ErrSupervisorStopped is returned by StartAll once StopAll has run.
var ErrSupervisorStopped = errors.New("supervisor already stopped")

// SessionError is the last failure of a camera session as shown in status.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`

	err error
}

func newSessionError(kind ErrorKind, err error, at time.Time) *SessionError {
	return &SessionError{Kind: kind, Message: err.Error(), At: at, err: err}
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.err
}

// IsKind reports whether err carries a SessionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Kind == kind
}
