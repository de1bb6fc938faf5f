package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/broker"
)

func (s *Server) brokerStatus() models.BrokerStatusData {
	data := models.BrokerStatusData{Status: broker.Status{Kind: broker.KindNone}}
	if s.broker != nil {
		data.Status = s.broker.Status()
	}
	if s.publisher != nil {
		data.Publisher = s.publisher.Stats()
	}
	return data
}

func (s *Server) registerBrokerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-broker",
		Method:      http.MethodGet,
		Path:        "/api/broker",
		Summary:     "Broker Status",
		Description: "Active external event broker and publisher counters",
		Tags:        []string{"broker"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.BrokerStatusResponse, error) {
		return &models.BrokerStatusResponse{Body: s.brokerStatus()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-broker",
		Method:      http.MethodPost,
		Path:        "/api/broker",
		Summary:     "Reconfigure Broker",
		Description: "Switch the external event broker. On failure the current broker stays active.",
		Tags:        []string{"broker"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.BrokerConfigInput) (*models.BrokerStatusResponse, error) {
		if s.broker == nil {
			return nil, huma.Error501NotImplemented("broker reconfiguration is not enabled")
		}
		if _, err := s.broker.Switch(input.Body); err != nil {
			return nil, huma.Error502BadGateway("broker unavailable, keeping current broker", err)
		}
		return &models.BrokerStatusResponse{Body: s.brokerStatus()}, nil
	})
}
