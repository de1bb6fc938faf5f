package device

import (
	"errors"
	"fmt"
)

// Class is the coarse category of a device failure. It decides whether the
// session retries, reports, or tears down.
type Class int

const (
	// Transient failures (link loss, busy, timeouts inside the driver) are retried.
	Transient Class = iota
	// Configuration failures are reported to the caller without retry.
	Configuration
	// Fatal failures end the session.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Configuration:
		return "configuration"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrTimeout is returned by NextFrame when no frame arrived in time.
	ErrTimeout = errors.New("device: frame timeout")
	// ErrLinkLost is returned by NextFrame once the driver reports the link down.
	ErrLinkLost = NewError(Transient, "link", errors.New("link lost"))
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("device: connection closed")
	// ErrNotFound is returned when no device matches the requested serial.
	ErrNotFound = NewError(Transient, "find", errors.New("device not found"))
)

// Error is a classified device failure.
type Error struct {
	Class Class
	Op    string
	Err   error
}

// NewError creates a classified device error.
func NewError(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device %s: %s error", e.Op, e.Class)
	}
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err. Errors that carry no class are treated
// as fatal, since nothing is known about the device state after them.
func ClassOf(err error) Class {
	var de *Error
	if errors.As(err, &de) {
		return de.Class
	}
	return Fatal
}

// IsTransient reports whether err should trigger reconnection.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == Transient
}

// IsConfiguration reports whether err was a rejected parameter.
func IsConfiguration(err error) bool {
	return err != nil && ClassOf(err) == Configuration
}

// IsFatal reports whether err requires tearing down the session.
func IsFatal(err error) bool {
	return err != nil && ClassOf(err) == Fatal
}

// classify wraps a driver error that carries no class with def.
func classify(op string, def Class, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return NewError(def, op, err)
}
