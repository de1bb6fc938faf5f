package models

import (
	"time"

	"github.com/smazurov/camnode/internal/broker"
	"github.com/smazurov/camnode/internal/cameras"
	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/session"
	"github.com/smazurov/camnode/internal/stats"
	"github.com/smazurov/camnode/internal/types"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Cameras int    `json:"cameras" example:"1" doc:"Connected cameras"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// CameraInput addresses a connected camera.
type CameraInput struct {
	ID string `path:"id" example:"1b4e28ba" doc:"Camera id returned by connect"`
}

// EventsInput filters the event stream.
type EventsInput struct {
	CameraID string `query:"camera_id" required:"false" doc:"Only stream events for this camera"`
}

// Discovery models
type DiscoverData struct {
	Cameras []device.Info `json:"cameras" doc:"Cameras found on the network"`
	Count   int           `json:"count" example:"1"`
}

type DiscoverResponse struct {
	Body DiscoverData
}

type CameraListData struct {
	Cameras []cameras.Camera `json:"cameras" doc:"Connected cameras"`
	Count   int              `json:"count" example:"1"`
}

type CameraListResponse struct {
	Body CameraListData
}

// Connection models
type ConnectInput struct {
	Index int `path:"index" minimum:"0" example:"0" doc:"Index from the last discovery"`
}

type ConnectData struct {
	ID         string           `json:"id" example:"1b4e28ba" doc:"Camera id for all further calls"`
	State      session.State    `json:"state" example:"idle"`
	Info       device.Info      `json:"info"`
	Capability types.Capability `json:"capability"`
}

type ConnectResponse struct {
	Body ConnectData
}

type ActionData struct {
	ID    string        `json:"id" example:"1b4e28ba"`
	State session.State `json:"state" example:"capturing"`
}

type ActionResponse struct {
	Body ActionData
}

type StatusData struct {
	session.Status
	Capability types.Capability `json:"capability"`
}

type StatusResponse struct {
	Body StatusData
}

type InfoData struct {
	ID string `json:"id" example:"1b4e28ba"`
	device.Info
}

type InfoResponse struct {
	Body InfoData
}

type CapabilityData struct {
	ID string `json:"id" example:"1b4e28ba"`
	types.Capability
}

type CapabilityResponse struct {
	Body CapabilityData
}

// Frame models
type SnapInput struct {
	ID      string `path:"id" example:"1b4e28ba" doc:"Camera id"`
	Format  string `query:"format" default:"jpeg" enum:"jpeg,jpg,png,tiff,bmp" doc:"Image format"`
	Timeout int    `query:"timeout" default:"1000" minimum:"0" doc:"Milliseconds to wait for the next frame"`
}

type SnapResponse struct {
	ContentType string `header:"Content-Type"`
	Seq         string `header:"X-Frame-Seq"`
	Timestamp   string `header:"X-Frame-Timestamp"`
	Body        []byte
}

type FrameInput struct {
	ID       string `path:"id" example:"1b4e28ba" doc:"Camera id"`
	Timeout  int    `query:"timeout" default:"1000" minimum:"0" doc:"Milliseconds to wait for a frame"`
	Encoding string `query:"encoding" default:"base64" enum:"base64,none" doc:"none returns metadata only"`
	Format   string `query:"format" default:"jpeg" enum:"jpeg,jpg,png,tiff,bmp" doc:"Image format for base64 encoding"`
	Wait     bool   `query:"wait" default:"false" doc:"Wait for a frame newer than the call instead of returning the latest"`
}

type FrameData struct {
	Seq          uint64            `json:"seq" example:"101"`
	Timestamp    time.Time         `json:"timestamp"`
	Width        int               `json:"width" example:"1280"`
	Height       int               `json:"height" example:"1024"`
	PixelFormat  types.PixelFormat `json:"pixel_format" example:"bgr8"`
	ExposureTime float64           `json:"exposure_time" example:"5000" doc:"Exposure in microseconds"`
	AnalogGain   int               `json:"analog_gain" example:"1"`
	Format       string            `json:"format,omitempty" example:"jpeg"`
	Image        string            `json:"image,omitempty" doc:"Base64 encoded image"`
}

type FrameResponse struct {
	Body FrameData
}

// StreamMessage is one websocket frame on the live stream.
type StreamMessage struct {
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"timestamp"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Image     string `json:"image"`
}

type StatisticsData struct {
	stats.Snapshot
	Subscribers int `json:"subscribers" example:"2" doc:"Open stream subscriptions"`
}

type StatisticsResponse struct {
	Body StatisticsData
}

// Configuration models
type ConfigData struct {
	ID         string         `json:"id" example:"1b4e28ba"`
	Parameters map[string]any `json:"parameters" doc:"Applied parameters by name"`
}

type ConfigResponse struct {
	Body ConfigData
}

type ExposureInput struct {
	ID   string `path:"id"`
	Body cameras.Exposure
}

type GainInput struct {
	ID   string `path:"id"`
	Body cameras.Gain
}

type WhiteBalanceInput struct {
	ID   string `path:"id"`
	Body cameras.WhiteBalance
}

type ResolutionInput struct {
	ID   string `path:"id"`
	Body cameras.Resolution
}

type TriggerInput struct {
	ID   string `path:"id"`
	Body cameras.Trigger
}

type ImageProcessingInput struct {
	ID   string `path:"id"`
	Body cameras.ImageProcessing
}

type IOInput struct {
	ID   string `path:"id"`
	Pin  int    `path:"pin" minimum:"0" doc:"GPIO pin index"`
	Body struct {
		Mode  types.IOMode `json:"mode" minimum:"0" maximum:"4" doc:"0 trigger in, 1 strobe out, 2 gp in, 3 gp out, 4 pwm out"`
		State *int         `json:"state,omitempty" doc:"Output level for general outputs"`
	}
}

type NetworkInput struct {
	ID   string `path:"id"`
	Body cameras.Network
}

type PacketLengthInput struct {
	ID   string `path:"id"`
	Body cameras.PacketLength
}

type PacketLengthData struct {
	ID    string `json:"id" example:"1b4e28ba"`
	Bytes int    `json:"bytes" example:"1500" doc:"Stream packet size reported by the camera"`
}

type PacketLengthResponse struct {
	Body PacketLengthData
}

// ParameterInput names one device parameter to read back.
type ParameterInput struct {
	ID    string `path:"id"`
	Param string `path:"param" example:"exposure_time" doc:"Parameter name as used in the config map"`
}

type ParameterData struct {
	ID    string `json:"id" example:"1b4e28ba"`
	Param string `json:"param" example:"exposure_time"`
	Value any    `json:"value" doc:"Value reported by the camera"`
}

type ParameterResponse struct {
	Body ParameterData
}

type MediaTypeInput struct {
	ID   string `path:"id"`
	Body cameras.MediaType
}

type TeamInput struct {
	ID   string `path:"id"`
	Team int    `query:"team" default:"0" minimum:"0" maximum:"3" doc:"Parameter set index"`
}

type TeamData struct {
	ID   string `json:"id"`
	Team int    `json:"team"`
}

type TeamResponse struct {
	Body TeamData
}

// Broker models
type BrokerStatusData struct {
	broker.Status
	Publisher events.PublisherStats `json:"publisher"`
}

type BrokerStatusResponse struct {
	Body BrokerStatusData
}

type BrokerConfigInput struct {
	Body broker.Config
}

// Log models
type LogsInput struct {
	Limit int `query:"limit" default:"200" minimum:"1" maximum:"1000" doc:"Most recent entries to return"`
}

type LogsData struct {
	Entries []events.LogEntryEvent `json:"entries"`
	Count   int                    `json:"count"`
}

type LogsResponse struct {
	Body LogsData
}

// Fault injection models
type LinkLossInput struct {
	ID         string `path:"id" doc:"Camera id"`
	DurationMs int    `query:"duration_ms" default:"1000" minimum:"0" maximum:"600000" doc:"How long the link stays down"`
}

type FailOpensInput struct {
	ID    string `path:"id" doc:"Camera id"`
	Count int    `query:"count" default:"1" minimum:"0" doc:"Open attempts to fail"`
}
