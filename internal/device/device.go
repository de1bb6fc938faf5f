// Package device is the boundary between the capture engine and the vendor
// camera driver. Drivers deliver frames through callbacks; Conn turns those
// callbacks into a pull-style NextFrame primitive.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/camnode/internal/types"
)

// Info describes a discovered camera.
type Info struct {
	Index         int    `json:"index" doc:"Enumeration index"`
	Serial        string `json:"serial" doc:"Physical serial number"`
	ProductSeries string `json:"product_series"`
	ProductName   string `json:"product_name"`
	FriendlyName  string `json:"friendly_name"`
	SensorType    string `json:"sensor_type" doc:"mono or color"`
	PortType      string `json:"port_type" doc:"Transport, e.g. GigE"`
	Instance      int    `json:"instance"`
}

// RawFrame is a frame as delivered by the driver, before sequencing.
type RawFrame struct {
	Width        int
	Height       int
	Format       types.PixelFormat
	ExposureTime float64 // microseconds, from the frame header
	AnalogGain   int
	Captured     time.Time
	Data         []byte

	// Skipped counts frames the driver delivered that were replaced in the
	// handoff slot before this one was taken.
	Skipped uint64
}

// Driver enumerates and opens cameras.
type Driver interface {
	Enumerate(ctx context.Context) ([]Info, error)
	Open(ctx context.Context, info Info) (Handle, error)
}

// Handle is an open camera as exposed by the driver. Callbacks may be
// invoked from driver-owned goroutines.
type Handle interface {
	Close() error
	Configure(param Param, value any) error
	Query(param Param) (any, error)
	SetCaptureEnabled(enabled bool) error
	SoftwareTrigger() error
	SetFrameCallback(fn func(RawFrame))
	SetLinkCallback(fn func(up bool))
	Capability() types.Capability
}

// Find enumerates devices and returns the one with the given serial.
func Find(ctx context.Context, drv Driver, serial string) (Info, error) {
	infos, err := drv.Enumerate(ctx)
	if err != nil {
		return Info{}, classify("enumerate", Transient, err)
	}
	for _, info := range infos {
		if info.Serial == serial {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("serial %s: %w", serial, ErrNotFound)
}
