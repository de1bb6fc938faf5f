package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/logging"
)

func toLogEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// LogEventBridge returns a logging callback that republishes every log
// entry on bus. Entries keep the sequence number the ring buffer gave them.
func LogEventBridge(bus *events.Bus) logging.LogCallback {
	return func(entry logging.LogEntry) {
		bus.Publish(toLogEvent(entry))
	}
}

func recentLogs(limit int) []events.LogEntryEvent {
	out := []events.LogEntryEvent{}
	buffer := logging.GetBuffer()
	if buffer == nil {
		return out
	}
	for _, entry := range buffer.Last(limit) {
		out = append(out, toLogEvent(entry))
	}
	return out
}

// registerLogRoutes registers log history and the log streaming SSE endpoint.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Most recent entries of the in-memory log buffer, oldest first",
		Tags:        []string{"logs"},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.LogsInput) (*models.LogsResponse, error) {
		entries := recentLogs(input.Limit)
		return &models.LogsResponse{
			Body: models.LogsData{Entries: entries, Count: len(entries)},
		}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying history so nothing falls in between.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var replayed uint64
		for _, event := range recentLogs(0) {
			if err := send.Data(event); err != nil {
				return
			}
			replayed = event.Seq
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				// Entries written while history was replayed arrive twice.
				if entry, ok := event.(events.LogEntryEvent); ok && entry.Seq <= replayed {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
