// Package sim implements a simulated GigE camera driver. It produces a
// moving gradient test pattern and supports fault injection so the capture
// engine can run and be tested without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/types"
)

// Options configures the simulated cameras.
type Options struct {
	Cameras      int
	FPS          float64
	Width        int
	Height       int
	Mono         bool
	SerialPrefix string
}

// DefaultOptions returns one 640x480 color camera at 30 fps.
func DefaultOptions() Options {
	return Options{
		Cameras:      1,
		FPS:          30,
		Width:        640,
		Height:       480,
		SerialPrefix: "SIM",
	}
}

var (
	// ErrUnknownSerial is returned by the fault injection helpers.
	ErrUnknownSerial = errors.New("sim: unknown serial")
	errBusy          = device.NewError(device.Transient, "open", errors.New("device busy"))
	errUnplugged     = device.NewError(device.Transient, "open", errors.New("device not reachable"))
)

type camera struct {
	info device.Info

	unpluggedUntil time.Time
	failOpens      int
	open           *handle
}

// Driver is a device.Driver over a fixed set of simulated cameras.
type Driver struct {
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	cameras []*camera
}

// New creates a simulated driver.
func New(opts Options) *Driver {
	def := DefaultOptions()
	if opts.Cameras <= 0 {
		opts.Cameras = def.Cameras
	}
	if opts.FPS <= 0 {
		opts.FPS = def.FPS
	}
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.SerialPrefix == "" {
		opts.SerialPrefix = def.SerialPrefix
	}

	d := &Driver{opts: opts, now: time.Now}
	sensor := "color"
	if opts.Mono {
		sensor = "mono"
	}
	for i := 0; i < opts.Cameras; i++ {
		d.cameras = append(d.cameras, &camera{info: device.Info{
			Index:         i,
			Serial:        fmt.Sprintf("%s%05d", opts.SerialPrefix, i+1),
			ProductSeries: "GE",
			ProductName:   "SIM-GE500",
			FriendlyName:  fmt.Sprintf("Simulated Camera %d", i+1),
			SensorType:    sensor,
			PortType:      "GigE",
			Instance:      i,
		}})
	}
	return d
}

// Enumerate lists cameras that are currently reachable.
func (d *Driver) Enumerate(_ context.Context) ([]device.Info, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	infos := make([]device.Info, 0, len(d.cameras))
	for _, c := range d.cameras {
		if now.Before(c.unpluggedUntil) {
			continue
		}
		info := c.info
		info.Index = len(infos)
		infos = append(infos, info)
	}
	return infos, nil
}

// Open opens the camera with info's serial.
func (d *Driver) Open(_ context.Context, info device.Info) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.lookup(info.Serial)
	if c == nil {
		return nil, device.ErrNotFound
	}
	if d.now().Before(c.unpluggedUntil) {
		return nil, errUnplugged
	}
	if c.failOpens > 0 {
		c.failOpens--
		return nil, errUnplugged
	}
	if c.open != nil {
		return nil, errBusy
	}

	h := newHandle(d, c)
	c.open = h
	return h, nil
}

func (d *Driver) lookup(serial string) *camera {
	for _, c := range d.cameras {
		if c.info.Serial == serial {
			return c
		}
	}
	return nil
}

func (d *Driver) release(c *camera, h *handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.open == h {
		c.open = nil
	}
}

// InjectLinkLoss drops the link of the camera for the given duration. The
// open handle dies and the camera disappears from enumeration until the
// duration has passed.
func (d *Driver) InjectLinkLoss(serial string, dur time.Duration) error {
	d.mu.Lock()
	c := d.lookup(serial)
	if c == nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSerial, serial)
	}
	c.unpluggedUntil = d.now().Add(dur)
	h := c.open
	c.open = nil
	d.mu.Unlock()

	if h != nil {
		h.kill()
	}
	return nil
}

// FailOpens makes the next n open attempts for serial fail transiently.
func (d *Driver) FailOpens(serial string, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.lookup(serial)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSerial, serial)
	}
	c.failOpens = n
	return nil
}

// HardwareEdge simulates an external trigger edge on the camera's input.
func (d *Driver) HardwareEdge(serial string) error {
	d.mu.Lock()
	c := d.lookup(serial)
	if c == nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSerial, serial)
	}
	h := c.open
	d.mu.Unlock()

	if h == nil {
		return device.ErrClosed
	}
	h.edge()
	return nil
}

// Serials returns the serial numbers of all simulated cameras.
func (d *Driver) Serials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.cameras))
	for i, c := range d.cameras {
		out[i] = c.info.Serial
	}
	return out
}

func (d *Driver) capability() types.Capability {
	return types.Capability{
		MonoSensor:      d.opts.Mono,
		MaxWidth:        d.opts.Width,
		MaxHeight:       d.opts.Height,
		ExposureMin:     10,
		ExposureMax:     1_000_000,
		AnalogGainMin:   1,
		AnalogGainMax:   64,
		InputIOCount:    1,
		OutputIOCount:   2,
		ParameterTeams:  4,
		SupportsTrigger: true,
	}
}
