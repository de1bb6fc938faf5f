package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a capture session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateIdle         State = "idle"
	StateCapturing    State = "capturing"
	StatePaused       State = "paused"
	StateStopping     State = "stopping"
	// StateReconnecting is reported while the link is being recovered. The
	// state the session returns to is kept underneath it.
	StateReconnecting State = "reconnecting"
)

// Connected reports whether the session holds (or is recovering) a device.
func (s State) Connected() bool {
	switch s {
	case StateIdle, StateCapturing, StatePaused, StateReconnecting:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidState is returned when an operation is not valid in the
	// current state. The session is left unchanged.
	ErrInvalidState = errors.New("session: invalid state")
	// ErrConnect is returned when the initial connect fails.
	ErrConnect = errors.New("session: connect failed")
)

// TransitionError describes a rejected operation.
type TransitionError struct {
	Op     string
	From   State
	Detail string
}

func (e *TransitionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("cannot %s while %s: %s", e.Op, e.From, e.Detail)
	}
	return fmt.Sprintf("cannot %s while %s", e.Op, e.From)
}

// Is makes errors.Is(err, ErrInvalidState) hold.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidState
}
