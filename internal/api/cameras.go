package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/session"
)

func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "discover-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras/discover",
		Summary:     "Discover Cameras",
		Description: "Enumerate attached cameras. Connect indexes into the latest result.",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.DiscoverResponse, error) {
		infos, err := s.cameras.Discover(ctx)
		if err != nil {
			return nil, huma.Error502BadGateway("discovery failed", err)
		}
		if infos == nil {
			infos = []device.Info{}
		}
		return &models.DiscoverResponse{
			Body: models.DiscoverData{Cameras: infos, Count: len(infos)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras",
		Summary:     "List Cameras",
		Description: "List connected cameras",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.CameraListResponse, error) {
		list := s.cameras.List()
		return &models.CameraListResponse{
			Body: models.CameraListData{Cameras: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "connect-camera",
		Method:        http.MethodPost,
		Path:          "/api/cameras/{index}/connect",
		Summary:       "Connect Camera",
		Description:   "Open the discovered camera at index and return its id",
		Tags:          []string{"cameras"},
		DefaultStatus: http.StatusCreated,
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.ConnectInput) (*models.ConnectResponse, error) {
		sess, err := s.cameras.Connect(ctx, input.Index)
		if err != nil {
			return nil, s.mapError(err)
		}
		return &models.ConnectResponse{
			Body: models.ConnectData{
				ID:         sess.ID(),
				State:      sess.State(),
				Info:       sess.Info(),
				Capability: sess.Capability(),
			},
		}, nil
	})

	s.registerAction("disconnect-camera", "disconnect", "Disconnect Camera",
		"Stop capture and release the camera", s.cameras.Disconnect)
	s.registerAction("start-camera", "start", "Start Capture",
		"Start or resume acquisition", s.cameras.Start)
	s.registerAction("stop-camera", "stop", "Stop Capture",
		"Stop acquisition and discard pending frames", s.cameras.Stop)
	s.registerAction("pause-camera", "pause", "Pause Capture",
		"Pause acquisition without releasing the camera", s.cameras.Pause)

	huma.Register(s.api, huma.Operation{
		OperationID: "camera-status",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/status",
		Summary:     "Camera Status",
		Description: "Lifecycle state, trigger mode and reconnect count of a camera",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraInput) (*models.StatusResponse, error) {
		sess, err := s.cameras.Get(input.ID)
		if err != nil {
			return nil, s.mapError(err)
		}
		return &models.StatusResponse{
			Body: models.StatusData{
				Status:     sess.Status(),
				Capability: sess.Capability(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "camera-info",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/info",
		Summary:     "Camera Info",
		Description: "Serial, product and transport of a connected camera",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraInput) (*models.InfoResponse, error) {
		sess, err := s.cameras.Get(input.ID)
		if err != nil {
			return nil, s.mapError(err)
		}
		return &models.InfoResponse{
			Body: models.InfoData{ID: input.ID, Info: sess.Info()},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "camera-capability",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/capability",
		Summary:     "Camera Capability",
		Description: "Sensor, exposure and gain ranges, I/O pins and parameter teams",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraInput) (*models.CapabilityResponse, error) {
		sess, err := s.cameras.Get(input.ID)
		if err != nil {
			return nil, s.mapError(err)
		}
		return &models.CapabilityResponse{
			Body: models.CapabilityData{ID: input.ID, Capability: sess.Capability()},
		}, nil
	})
}

// registerAction registers a POST /api/cameras/{id}/<verb> route.
func (s *Server) registerAction(operationID, verb, summary, description string, action func(id string) error) {
	huma.Register(s.api, huma.Operation{
		OperationID: operationID,
		Method:      http.MethodPost,
		Path:        "/api/cameras/{id}/" + verb,
		Summary:     summary,
		Description: description,
		Tags:        []string{"cameras"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraInput) (*models.ActionResponse, error) {
		if err := action(input.ID); err != nil {
			return nil, s.mapError(err)
		}
		state := session.StateDisconnected
		if sess, err := s.cameras.Get(input.ID); err == nil {
			state = sess.State()
		}
		return &models.ActionResponse{
			Body: models.ActionData{ID: input.ID, State: state},
		}, nil
	})
}
