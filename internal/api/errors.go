package api

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camnode/internal/cameras"
	"github.com/smazurov/camnode/internal/codec"
	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/frames"
	"github.com/smazurov/camnode/internal/params"
	"github.com/smazurov/camnode/internal/session"
)

// mapError maps domain errors to HTTP errors
func (s *Server) mapError(err error) error {
	var camErr *cameras.CameraError
	if errors.As(err, &camErr) {
		switch camErr.Code {
		case cameras.ErrCodeCameraNotFound, cameras.ErrCodeIndexOutOfRange:
			return huma.Error404NotFound(camErr.Error(), err)
		case cameras.ErrCodeAlreadyConnected:
			return huma.Error409Conflict(camErr.Error(), err)
		case cameras.ErrCodeConnectFailed:
			return huma.Error502BadGateway(camErr.Error(), err)
		}
	}

	var encErr *codec.EncodeError
	switch {
	case errors.Is(err, session.ErrInvalidState):
		return huma.Error409Conflict(err.Error(), err)
	case errors.Is(err, frames.ErrClosed):
		return huma.Error409Conflict("camera disconnected", err)
	case errors.Is(err, frames.ErrTimeout):
		return huma.NewError(http.StatusRequestTimeout, "no frame within timeout", err)
	case errors.Is(err, cameras.ErrInvalidConfig),
		errors.Is(err, codec.ErrUnsupportedFormat),
		errors.Is(err, params.ErrInvalidTeam),
		device.IsConfiguration(err):
		return huma.Error400BadRequest(err.Error(), err)
	case errors.Is(err, params.ErrNotFound):
		return huma.Error404NotFound(err.Error(), err)
	case errors.Is(err, cameras.ErrNoParamStore):
		return huma.Error501NotImplemented(err.Error(), err)
	case errors.As(err, &encErr):
		return huma.Error500InternalServerError("failed to encode frame", err)
	default:
		s.logger.Error("Unhandled API error", "error", err)
		return huma.Error500InternalServerError("internal server error", err)
	}
}

// statusOf returns the HTTP status mapError would produce, for handlers
// outside huma.
func (s *Server) statusOf(err error) int {
	var se huma.StatusError
	if errors.As(s.mapError(err), &se) {
		return se.GetStatus()
	}
	return http.StatusInternalServerError
}
