package cameras

import (
	"errors"
	"fmt"
)

var (
	ErrCameraNotFound   = errors.New("camera not found")
	ErrIndexOutOfRange  = errors.New("camera index out of range")
	ErrAlreadyConnected = errors.New("camera already connected")
	ErrInvalidConfig    = errors.New("invalid camera configuration")
	ErrNoParamStore     = errors.New("parameter sets are not configured")
)

// CameraError carries a stable code alongside the wrapped cause.
type CameraError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CameraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CameraError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeCameraNotFound   = "CAMERA_NOT_FOUND"
	ErrCodeIndexOutOfRange  = "INDEX_OUT_OF_RANGE"
	ErrCodeAlreadyConnected = "ALREADY_CONNECTED"
	ErrCodeConnectFailed    = "CONNECT_FAILED"
)

// NewCameraError creates a new camera error
func NewCameraError(code, message string, cause error) *CameraError {
	return &CameraError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
