package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/metrics"
)

// EventPublisher is the part of the event bus the exporter needs.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter turns the cached camera metrics into CameraMetricsEvents for
// the /api/events stream. A camera is only republished when one of its
// values changed since the last tick, so idle cameras stay quiet.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	last     map[string]events.CameraMetricsEvent // owned by run()
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates an exporter that checks for changes every second.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: time.Second,
		last:     make(map[string]events.CameraMetricsEvent),
	}
}

// Start runs the export loop until ctx is cancelled or Stop is called.
func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishChanged()
		}
	}
}

func (s *SSEExporter) publishChanged() {
	current := metrics.GetAllCameraMetrics()
	for cameraID, m := range current {
		ev := metricsEvent(cameraID, m)
		if prev, ok := s.last[cameraID]; ok && prev == ev {
			continue
		}
		s.last[cameraID] = ev
		s.eventBus.Publish(ev)
	}
	for cameraID := range s.last {
		if _, ok := current[cameraID]; !ok {
			delete(s.last, cameraID)
		}
	}
}

func metricsEvent(cameraID string, m *metrics.CameraMetrics) events.CameraMetricsEvent {
	return events.CameraMetricsEvent{
		EventType:   "camera_metrics",
		CameraID:    cameraID,
		FPS:         strconv.FormatFloat(m.FPS, 'f', 2, 64),
		LossRate:    strconv.FormatFloat(m.LossRate, 'f', 4, 64),
		Delivered:   strconv.FormatFloat(m.Delivered, 'f', 0, 64),
		Dropped:     strconv.FormatFloat(m.TotalDropped(), 'f', 0, 64),
		Subscribers: int(m.Subscribers),
	}
}

// GetEventTypes returns the SSE event names this exporter produces.
func GetEventTypes() map[string]any {
	return map[string]any{
		"camera-metrics": events.CameraMetricsEvent{},
	}
}
