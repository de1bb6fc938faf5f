package api

import (
	"context"
	"maps"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/cameras"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/metrics/exporters"
)

// registerSSERoutes registers /api/events. A new client first receives a
// "connected" greeting, then one "state" event per connected camera, then
// live events.
func (s *Server) registerSSERoutes() {
	eventTypes := map[string]any{"camera": events.CameraEvent{}}
	maps.Copy(eventTypes, exporters.GetEventTypes())

	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Camera lifecycle, configuration and throughput events. camera_id limits the stream to one camera.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes, func(ctx context.Context, input *models.EventsInput, send sse.Sender) {
		eventCh := make(chan any, 32)
		for _, unsub := range []func(){
			events.SubscribeToChannel[events.CameraEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CameraMetricsEvent](s.eventBus, eventCh),
		} {
			defer unsub()
		}

		if err := send.Data(events.NewCameraEvent("", events.KindConnected, map[string]any{
			"message": "SSE connection established",
		})); err != nil {
			return
		}
		var connected []cameras.Camera
		if s.cameras != nil {
			connected = s.cameras.List()
		}
		for _, cam := range connected {
			if input.CameraID != "" && cam.ID != input.CameraID {
				continue
			}
			if err := send.Data(events.NewCameraEvent(cam.ID, events.KindState, map[string]any{
				"serial": cam.Info.Serial,
				"state":  cam.State,
			})); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if input.CameraID != "" && eventCamera(event) != input.CameraID {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func eventCamera(event any) string {
	switch e := event.(type) {
	case events.CameraEvent:
		return e.CameraID
	case events.CameraMetricsEvent:
		return e.CameraID
	}
	return ""
}
