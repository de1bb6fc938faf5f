package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/device"
)

// FaultInjector is implemented by drivers that can simulate hardware faults.
type FaultInjector interface {
	InjectLinkLoss(serial string, dur time.Duration) error
	FailOpens(serial string, n int) error
	HardwareEdge(serial string) error
}

func (s *Server) registerDebugRoutes() {
	if s.options.Faults == nil {
		return
	}
	faults := s.options.Faults

	huma.Register(s.api, huma.Operation{
		OperationID: "debug-link-loss",
		Method:      http.MethodPost,
		Path:        "/api/debug/cameras/{id}/link-loss",
		Summary:     "Inject Link Loss",
		Description: "Drop the camera link for duration_ms. The session reconnects on its own.",
		Tags:        []string{"debug"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.LinkLossInput) (*models.ActionResponse, error) {
		return s.inject(input.ID, func(serial string) error {
			return faults.InjectLinkLoss(serial, millis(input.DurationMs))
		})
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "debug-fail-opens",
		Method:      http.MethodPost,
		Path:        "/api/debug/cameras/{id}/fail-opens",
		Summary:     "Fail Reconnects",
		Description: "Make the next count open attempts for the camera fail",
		Tags:        []string{"debug"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.FailOpensInput) (*models.ActionResponse, error) {
		return s.inject(input.ID, func(serial string) error {
			return faults.FailOpens(serial, input.Count)
		})
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "debug-hardware-edge",
		Method:      http.MethodPost,
		Path:        "/api/debug/cameras/{id}/hardware-edge",
		Summary:     "Hardware Trigger Edge",
		Description: "Pulse the camera's trigger input",
		Tags:        []string{"debug"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraInput) (*models.ActionResponse, error) {
		return s.inject(input.ID, faults.HardwareEdge)
	})
}

func (s *Server) inject(id string, fault func(serial string) error) (*models.ActionResponse, error) {
	sess, err := s.cameras.Get(id)
	if err != nil {
		return nil, s.mapError(err)
	}
	if err := fault(sess.Info().Serial); err != nil {
		if errors.Is(err, device.ErrClosed) {
			return nil, huma.Error409Conflict("camera link is down", err)
		}
		return nil, huma.Error500InternalServerError("fault injection failed", err)
	}
	s.logger.Warn("Injected fault", "camera_id", id, "serial", sess.Info().Serial)
	return &models.ActionResponse{
		Body: models.ActionData{ID: id, State: sess.State()},
	}, nil
}
