package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/cameras"
	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/types"
)

// registerConfigPut registers PUT /api/cameras/{id}/<group> for one typed
// parameter group. The response carries the parameters applied afterwards.
func registerConfigPut[I any](s *Server, operationID, group, summary string, toConfig func(*I) (string, cameras.Config)) {
	huma.Register(s.api, huma.Operation{
		OperationID: operationID,
		Method:      http.MethodPut,
		Path:        "/api/cameras/{id}/" + group,
		Summary:     summary,
		Tags:        []string{"config"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *I) (*models.ConfigResponse, error) {
		id, cfg := toConfig(input)
		if err := s.cameras.SetConfig(id, cfg); err != nil {
			return nil, s.mapError(err)
		}
		return s.configResponse(id)
	})
}

func (s *Server) configResponse(id string) (*models.ConfigResponse, error) {
	params, err := s.cameras.GetConfig(id)
	if err != nil {
		return nil, s.mapError(err)
	}
	return &models.ConfigResponse{
		Body: models.ConfigData{ID: id, Parameters: params},
	}, nil
}

func (s *Server) registerConfigRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/config",
		Summary:     "Get Configuration",
		Description: "Parameters currently applied to the camera",
		Tags:        []string{"config"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraInput) (*models.ConfigResponse, error) {
		return s.configResponse(input.ID)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-parameter",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/parameters/{param}",
		Summary:     "Read Parameter",
		Description: "Read one parameter back from the camera rather than from the applied settings",
		Tags:        []string{"config"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ParameterInput) (*models.ParameterResponse, error) {
		v, err := s.cameras.QueryParameter(input.ID, device.Param(input.Param))
		if err != nil {
			return nil, s.mapError(err)
		}
		return &models.ParameterResponse{
			Body: models.ParameterData{ID: input.ID, Param: input.Param, Value: v},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-packet-length",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{id}/network/packet-length",
		Summary:     "Get Packet Length",
		Description: "GigE stream packet size as reported by the camera",
		Tags:        []string{"config"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CameraInput) (*models.PacketLengthResponse, error) {
		v, err := s.cameras.QueryParameter(input.ID, device.ParamPacketLength)
		if err != nil {
			return nil, s.mapError(err)
		}
		n, _ := v.(int)
		return &models.PacketLengthResponse{
			Body: models.PacketLengthData{ID: input.ID, Bytes: n},
		}, nil
	})

	registerConfigPut(s, "set-exposure", "exposure", "Set Exposure",
		func(in *models.ExposureInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-gain", "gain", "Set Gain",
		func(in *models.GainInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-white-balance", "white-balance", "Set White Balance",
		func(in *models.WhiteBalanceInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-resolution", "resolution", "Set Resolution",
		func(in *models.ResolutionInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-trigger", "trigger", "Set Trigger",
		func(in *models.TriggerInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-image-processing", "image-processing", "Set Image Processing",
		func(in *models.ImageProcessingInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-network", "network", "Set Network",
		func(in *models.NetworkInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-packet-length", "network/packet-length", "Set Packet Length",
		func(in *models.PacketLengthInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-media-type", "media-type", "Set Media Type",
		func(in *models.MediaTypeInput) (string, cameras.Config) { return in.ID, in.Body })
	registerConfigPut(s, "set-io", "io/{pin}", "Set IO Pin",
		func(in *models.IOInput) (string, cameras.Config) {
			return in.ID, cameras.IO{IOConfig: types.IOConfig{
				Pin:   in.Pin,
				Mode:  in.Body.Mode,
				State: in.Body.State,
			}}
		})

	s.registerAction("white-balance-once", "white-balance/once", "White Balance Once",
		"Run one automatic white balance pass", s.cameras.WhiteBalanceOnce)
	s.registerAction("software-trigger", "trigger/software", "Software Trigger",
		"Fire one software trigger; requires software trigger mode while capturing", s.cameras.SoftwareTrigger)

	s.registerTeamAction("save-parameters", "save", "Save Parameters",
		"Store the persistent parameters under a team index", s.cameras.SaveParameters)
	s.registerTeamAction("load-parameters", "load", "Load Parameters",
		"Apply a stored parameter team to the camera", s.cameras.LoadParameters)
}

func (s *Server) registerTeamAction(operationID, verb, summary, description string, action func(id string, team int) error) {
	huma.Register(s.api, huma.Operation{
		OperationID: operationID,
		Method:      http.MethodPost,
		Path:        "/api/cameras/{id}/parameters/" + verb,
		Summary:     summary,
		Description: description,
		Tags:        []string{"config"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.TeamInput) (*models.TeamResponse, error) {
		if err := action(input.ID, input.Team); err != nil {
			return nil, s.mapError(err)
		}
		return &models.TeamResponse{
			Body: models.TeamData{ID: input.ID, Team: input.Team},
		}, nil
	})
}
