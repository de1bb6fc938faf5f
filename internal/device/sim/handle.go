package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/types"
)

const (
	defaultExposure     = 10_000.0 // microseconds
	defaultPacketLength = 1500     // bytes
)

type handle struct {
	drv  *Driver
	cam  *camera
	caps types.Capability

	mu        sync.Mutex
	values    map[device.Param]any
	io        map[int]types.IOConfig
	capturing bool
	dead      bool
	frameCb   func(device.RawFrame)
	linkCb    func(bool)
	counter   uint64

	triggers chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newHandle(d *Driver, c *camera) *handle {
	caps := d.capability()
	format := types.PixelBGR8
	if caps.MonoSensor {
		format = types.PixelMono8
	}
	h := &handle{
		drv:  d,
		cam:  c,
		caps: caps,
		values: map[device.Param]any{
			device.ParamExposureTime: defaultExposure,
			device.ParamAnalogGain:   1,
			device.ParamTriggerMode:  int(types.TriggerContinuous),
			device.ParamTriggerCount: 1,
			device.ParamWidth:        caps.MaxWidth,
			device.ParamHeight:       caps.MaxHeight,
			device.ParamOffsetX:      0,
			device.ParamOffsetY:      0,
			device.ParamMediaType:    string(format),
			device.ParamGainR:        100,
			device.ParamGainG:        100,
			device.ParamGainB:        100,
			device.ParamPacketLength: defaultPacketLength,
		},
		io:       make(map[int]types.IOConfig),
		triggers: make(chan struct{}, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.run(d.opts.FPS)
	return h
}

func (h *handle) run(fps float64) {
	defer close(h.done)

	timer := time.NewTimer(h.period(fps))
	defer timer.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-timer.C:
			if h.mode() == types.TriggerContinuous {
				h.emit()
			}
			timer.Reset(h.period(fps))
		case <-h.triggers:
			// A triggered frame is ready after one exposure.
			select {
			case <-time.After(h.exposure()):
			case <-h.stop:
				return
			}
			count := h.intValue(device.ParamTriggerCount)
			if count < 1 {
				count = 1
			}
			for i := 0; i < count; i++ {
				h.emit()
			}
		}
	}
}

func (h *handle) period(fps float64) time.Duration {
	p := time.Duration(float64(time.Second) / fps)
	if exp := h.exposure(); exp > p {
		p = exp
	}
	return p
}

func (h *handle) exposure() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	us, _ := h.values[device.ParamExposureTime].(float64)
	return time.Duration(us * float64(time.Microsecond))
}

func (h *handle) mode() types.TriggerMode {
	return types.TriggerMode(h.intValue(device.ParamTriggerMode))
}

func (h *handle) intValue(p device.Param) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, _ := h.values[p].(int)
	return v
}

func (h *handle) emit() {
	h.mu.Lock()
	if h.dead || !h.capturing || h.frameCb == nil {
		h.mu.Unlock()
		return
	}
	h.counter++
	n := h.counter
	width, _ := h.values[device.ParamWidth].(int)
	height, _ := h.values[device.ParamHeight].(int)
	format := types.PixelFormat(h.values[device.ParamMediaType].(string))
	exposure, _ := h.values[device.ParamExposureTime].(float64)
	gain, _ := h.values[device.ParamAnalogGain].(int)
	cb := h.frameCb
	h.mu.Unlock()

	cb(device.RawFrame{
		Width:        width,
		Height:       height,
		Format:       format,
		ExposureTime: exposure,
		AnalogGain:   gain,
		Captured:     time.Now(),
		Data:         pattern(width, height, format.Channels(), n),
	})
}

// pattern renders a diagonal gradient that scrolls by one pixel per frame.
func pattern(width, height, channels int, n uint64) []byte {
	buf := make([]byte, width*height*channels)
	shift := int(n % 256)
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := byte((x + y + shift) & 0xff)
			for c := 0; c < channels; c++ {
				buf[i] = v + byte(c*40)
				i++
			}
		}
	}
	return buf
}

func (h *handle) edge() {
	if h.mode() != types.TriggerHardware {
		return
	}
	select {
	case h.triggers <- struct{}{}:
	default:
	}
}

// kill simulates the cable being pulled: the producer stops and the link
// callback reports down.
func (h *handle) kill() {
	h.mu.Lock()
	h.dead = true
	cb := h.linkCb
	h.mu.Unlock()

	h.stopOnce.Do(func() { close(h.stop) })
	if cb != nil {
		cb(false)
	}
}

func (h *handle) Close() error {
	h.mu.Lock()
	h.dead = true
	h.frameCb = nil
	h.linkCb = nil
	h.mu.Unlock()

	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
	h.drv.release(h.cam, h)
	return nil
}

func (h *handle) alive() error {
	if h.dead {
		return device.ErrLinkLost
	}
	return nil
}

func (h *handle) Configure(p device.Param, v any) error {
	value, err := device.Normalize(p, v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.alive(); err != nil {
		return err
	}
	if err := h.validate(p, value); err != nil {
		return device.NewError(device.Configuration, "configure "+string(p), err)
	}

	switch p {
	case device.ParamWhiteBalance1:
		// One-shot calibration, nothing to remember.
		return nil
	case device.ParamIO:
		io := value.(types.IOConfig)
		h.io[io.Pin] = io
		return nil
	}
	h.values[p] = value
	return nil
}

func (h *handle) validate(p device.Param, v any) error {
	switch p {
	case device.ParamExposureTime:
		us := v.(float64)
		if us < h.caps.ExposureMin || us > h.caps.ExposureMax {
			return fmt.Errorf("exposure %.0fus outside [%.0f, %.0f]", us, h.caps.ExposureMin, h.caps.ExposureMax)
		}
	case device.ParamAnalogGain:
		g := v.(int)
		if g < h.caps.AnalogGainMin || g > h.caps.AnalogGainMax {
			return fmt.Errorf("analog gain %d outside [%d, %d]", g, h.caps.AnalogGainMin, h.caps.AnalogGainMax)
		}
	case device.ParamTriggerMode:
		if !types.TriggerMode(v.(int)).Valid() {
			return fmt.Errorf("trigger mode %d not supported", v.(int))
		}
	case device.ParamWidth, device.ParamHeight, device.ParamOffsetX, device.ParamOffsetY:
		roi := types.ROI{
			Width:   h.values[device.ParamWidth].(int),
			Height:  h.values[device.ParamHeight].(int),
			OffsetX: h.values[device.ParamOffsetX].(int),
			OffsetY: h.values[device.ParamOffsetY].(int),
		}
		switch p {
		case device.ParamWidth:
			roi.Width = v.(int)
		case device.ParamHeight:
			roi.Height = v.(int)
		case device.ParamOffsetX:
			roi.OffsetX = v.(int)
		case device.ParamOffsetY:
			roi.OffsetY = v.(int)
		}
		// Size and offset are written one at a time, so only the
		// dimension being written is checked against the sensor.
		if roi.Width <= 0 || roi.Height <= 0 || roi.OffsetX < 0 || roi.OffsetY < 0 {
			return fmt.Errorf("%s=%d is not valid", p, v.(int))
		}
		if roi.Width > h.caps.MaxWidth || roi.Height > h.caps.MaxHeight {
			return fmt.Errorf("%s=%d exceeds sensor %dx%d", p, v.(int), h.caps.MaxWidth, h.caps.MaxHeight)
		}
	case device.ParamMediaType:
		f, err := types.ParsePixelFormat(v.(string))
		if err != nil {
			return err
		}
		if h.caps.MonoSensor && f != types.PixelMono8 {
			return errors.New("mono sensor only supports mono8")
		}
	case device.ParamIO:
		io := v.(types.IOConfig)
		if io.Pin < 0 || io.Pin >= h.caps.InputIOCount+h.caps.OutputIOCount {
			return fmt.Errorf("io pin %d does not exist", io.Pin)
		}
		if io.Mode < types.IOTriggerInput || io.Mode > types.IOPWMOutput {
			return fmt.Errorf("io mode %d not supported", io.Mode)
		}
	case device.ParamNetwork:
		return v.(types.NetworkConfig).Validate()
	case device.ParamPacketLength:
		if n := v.(int); n < 576 || n > 9000 {
			return fmt.Errorf("packet length %d outside [576, 9000]", n)
		}
	}
	return nil
}

func (h *handle) Query(p device.Param) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.alive(); err != nil {
		return nil, err
	}
	v, ok := h.values[p]
	if !ok {
		return nil, device.NewError(device.Configuration, "query", fmt.Errorf("parameter %s not set", p))
	}
	return v, nil
}

func (h *handle) SetCaptureEnabled(enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.alive(); err != nil {
		return err
	}
	h.capturing = enabled
	return nil
}

func (h *handle) SoftwareTrigger() error {
	if h.mode() != types.TriggerSoftware {
		return device.NewError(device.Configuration, "trigger", errors.New("camera is not in software trigger mode"))
	}
	h.mu.Lock()
	err := h.alive()
	h.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case h.triggers <- struct{}{}:
		return nil
	default:
		return device.NewError(device.Transient, "trigger", errors.New("trigger queue full"))
	}
}

func (h *handle) SetFrameCallback(fn func(device.RawFrame)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frameCb = fn
}

func (h *handle) SetLinkCallback(fn func(bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.linkCb = fn
}

func (h *handle) Capability() types.Capability {
	return h.caps
}
