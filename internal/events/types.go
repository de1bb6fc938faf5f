package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeCamera uint32 = iota + 1
	TypeLogEntry
	TypeCameraMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Kind names a camera notification.
type Kind string

const (
	KindConnected              Kind = "connected"
	KindDisconnected           Kind = "disconnected"
	KindReconnecting           Kind = "reconnecting"
	KindReconnected            Kind = "reconnected"
	KindCaptureStarted         Kind = "capture_started"
	KindCaptureStopped         Kind = "capture_stopped"
	KindCapturePaused          Kind = "capture_paused"
	KindImageSnapped           Kind = "image_snapped"
	KindExposureChanged        Kind = "exposure_changed"
	KindGainChanged            Kind = "gain_changed"
	KindWhiteBalanceChanged    Kind = "white_balance_changed"
	KindWhiteBalanceOnce       Kind = "white_balance_once"
	KindResolutionChanged      Kind = "resolution_changed"
	KindTriggerConfigChanged   Kind = "trigger_config_changed"
	KindSoftwareTrigger        Kind = "software_trigger"
	KindImageProcessingChanged Kind = "image_processing_changed"
	KindIOConfigChanged        Kind = "io_config_changed"
	KindNetworkConfigChanged   Kind = "network_config_changed"
	KindPacketLengthChanged    Kind = "packet_length_changed"
	KindMediaTypeChanged       Kind = "media_type_changed"
	KindParametersSaved        Kind = "parameters_saved"
	KindParametersLoaded       Kind = "parameters_loaded"
	KindSubscriptionClosed     Kind = "subscription_closed"
	KindState                  Kind = "state"
)

// CameraEvent is a lifecycle or configuration notification for one camera.
type CameraEvent struct {
	Timestamp string         `json:"timestamp" example:"2025-01-27T10:30:00.123Z" doc:"Event timestamp (RFC3339)"`
	CameraID  string         `json:"camera_id" example:"1b4e28ba-2fa1-11d2-883f-0016d3cca427" doc:"Camera session id"`
	Event     Kind           `json:"event" example:"exposure_changed" doc:"Event kind"`
	Data      map[string]any `json:"data" doc:"Kind-specific payload"`
}

// Type returns the event type identifier for CameraEvent.
func (e CameraEvent) Type() uint32 { return TypeCamera }

// NewCameraEvent stamps an event with the current time.
func NewCameraEvent(cameraID string, kind Kind, data map[string]any) CameraEvent {
	if data == nil {
		data = map[string]any{}
	}
	return CameraEvent{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		CameraID:  cameraID,
		Event:     kind,
		Data:      data,
	}
}

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"session" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// CameraMetricsEvent is a periodic throughput sample for one camera.
type CameraMetricsEvent struct {
	EventType   string `json:"type" example:"camera_metrics"`
	CameraID    string `json:"camera_id"`
	FPS         string `json:"fps" example:"29.97" doc:"Delivered frames per second"`
	LossRate    string `json:"loss_rate" example:"0.0012"`
	Delivered   string `json:"delivered"`
	Dropped     string `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Type returns the event type identifier for CameraMetricsEvent.
func (e CameraMetricsEvent) Type() uint32 { return TypeCameraMetrics }
