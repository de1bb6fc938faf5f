package cameras

import (
	"fmt"

	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/types"
)

// Config is a typed group of camera parameters changed together.
type Config interface {
	// Settings translates the group into device writes, in order.
	Settings(caps types.Capability) ([]device.Setting, error)
	// Event is the notification emitted once the group is applied.
	Event() events.Kind
}

// Exposure sets manual exposure or the auto exposure target.
type Exposure struct {
	ExposureTime *float64 `json:"exposure_time,omitempty" doc:"Exposure time in microseconds"`
	AutoExposure *bool    `json:"auto_exposure,omitempty"`
	AETarget     *int     `json:"ae_target,omitempty" minimum:"0" maximum:"255" doc:"Auto exposure brightness target"`
}

func (c Exposure) Event() events.Kind { return events.KindExposureChanged }

func (c Exposure) Settings(caps types.Capability) ([]device.Setting, error) {
	var out []device.Setting
	if c.AutoExposure != nil {
		out = append(out, device.Setting{Param: device.ParamAutoExposure, Value: *c.AutoExposure})
	}
	if c.ExposureTime != nil {
		if caps.ExposureMax > 0 && (*c.ExposureTime < caps.ExposureMin || *c.ExposureTime > caps.ExposureMax) {
			return nil, invalidConfig("exposure_time %.1f outside [%.1f, %.1f]", *c.ExposureTime, caps.ExposureMin, caps.ExposureMax)
		}
		out = append(out, device.Setting{Param: device.ParamExposureTime, Value: *c.ExposureTime})
	}
	if c.AETarget != nil {
		out = append(out, device.Setting{Param: device.ParamAETarget, Value: *c.AETarget})
	}
	return nonEmpty(out)
}

// Gain sets the sensor analog gain.
type Gain struct {
	AnalogGain int `json:"analog_gain" minimum:"1" doc:"Analog gain multiplier"`
}

func (c Gain) Event() events.Kind { return events.KindGainChanged }

func (c Gain) Settings(caps types.Capability) ([]device.Setting, error) {
	if caps.AnalogGainMax > 0 && (c.AnalogGain < caps.AnalogGainMin || c.AnalogGain > caps.AnalogGainMax) {
		return nil, invalidConfig("analog_gain %d outside [%d, %d]", c.AnalogGain, caps.AnalogGainMin, caps.AnalogGainMax)
	}
	return []device.Setting{{Param: device.ParamAnalogGain, Value: c.AnalogGain}}, nil
}

// WhiteBalance sets automatic or manual white balance.
type WhiteBalance struct {
	Auto      *bool           `json:"auto,omitempty"`
	ColorTemp *int            `json:"color_temp_preset,omitempty" minimum:"0" doc:"Color temperature preset index"`
	Gains     *types.RGBGains `json:"gains,omitempty"`
}

func (c WhiteBalance) Event() events.Kind { return events.KindWhiteBalanceChanged }

func (c WhiteBalance) Settings(caps types.Capability) ([]device.Setting, error) {
	if caps.MonoSensor {
		return nil, invalidConfig("white balance is not available on a mono sensor")
	}
	var out []device.Setting
	if c.Auto != nil {
		out = append(out, device.Setting{Param: device.ParamAutoWB, Value: *c.Auto})
	}
	if c.ColorTemp != nil {
		out = append(out, device.Setting{Param: device.ParamColorTemp, Value: *c.ColorTemp})
	}
	if g := c.Gains; g != nil {
		for _, v := range []int{g.R, g.G, g.B} {
			if v < 0 || v > 400 {
				return nil, invalidConfig("rgb gain %d outside [0, 400]", v)
			}
		}
		out = append(out,
			device.Setting{Param: device.ParamGainR, Value: g.R},
			device.Setting{Param: device.ParamGainG, Value: g.G},
			device.Setting{Param: device.ParamGainB, Value: g.B},
		)
	}
	return nonEmpty(out)
}

// Resolution sets the region of interest.
type Resolution struct {
	types.ROI
}

func (c Resolution) Event() events.Kind { return events.KindResolutionChanged }

func (c Resolution) Settings(caps types.Capability) ([]device.Setting, error) {
	if err := c.ROI.Fits(caps.MaxWidth, caps.MaxHeight); err != nil {
		return nil, invalidConfig("%v", err)
	}
	return []device.Setting{
		{Param: device.ParamWidth, Value: c.Width},
		{Param: device.ParamHeight, Value: c.Height},
		{Param: device.ParamOffsetX, Value: c.OffsetX},
		{Param: device.ParamOffsetY, Value: c.OffsetY},
	}, nil
}

// Trigger sets the acquisition mode and its timing.
type Trigger struct {
	Mode    *string `json:"mode,omitempty" enum:"continuous,software,hardware"`
	Delay   *int    `json:"delay_us,omitempty" minimum:"0" doc:"Delay between trigger and exposure in microseconds"`
	Count   *int    `json:"count,omitempty" minimum:"1" doc:"Frames captured per trigger"`
	ExtType *int    `json:"ext_trigger_type,omitempty" minimum:"0" maximum:"3" doc:"0 rising, 1 falling, 2 high, 3 low"`
}

func (c Trigger) Event() events.Kind { return events.KindTriggerConfigChanged }

func (c Trigger) Settings(caps types.Capability) ([]device.Setting, error) {
	var out []device.Setting
	if c.Mode != nil {
		mode, err := types.ParseTriggerMode(*c.Mode)
		if err != nil {
			return nil, invalidConfig("%v", err)
		}
		if mode != types.TriggerContinuous && !caps.SupportsTrigger {
			return nil, invalidConfig("camera does not support %s trigger", mode)
		}
		out = append(out, device.Setting{Param: device.ParamTriggerMode, Value: int(mode)})
	}
	if c.Delay != nil {
		if *c.Delay < 0 {
			return nil, invalidConfig("trigger delay %d must not be negative", *c.Delay)
		}
		out = append(out, device.Setting{Param: device.ParamTriggerDelay, Value: *c.Delay})
	}
	if c.Count != nil {
		if *c.Count < 1 {
			return nil, invalidConfig("trigger count %d must be at least 1", *c.Count)
		}
		out = append(out, device.Setting{Param: device.ParamTriggerCount, Value: *c.Count})
	}
	if c.ExtType != nil {
		out = append(out, device.Setting{Param: device.ParamExtTriggerType, Value: *c.ExtType})
	}
	return nonEmpty(out)
}

// ImageProcessing sets the ISP controls.
type ImageProcessing struct {
	Gamma       *int  `json:"gamma,omitempty" minimum:"0" maximum:"1000"`
	Contrast    *int  `json:"contrast,omitempty" minimum:"0" maximum:"200"`
	Saturation  *int  `json:"saturation,omitempty" minimum:"0" maximum:"200"`
	Sharpness   *int  `json:"sharpness,omitempty" minimum:"0" maximum:"100"`
	Monochrome  *bool `json:"monochrome,omitempty"`
	Inverse     *bool `json:"inverse,omitempty"`
	NoiseFilter *bool `json:"noise_filter,omitempty"`
}

func (c ImageProcessing) Event() events.Kind { return events.KindImageProcessingChanged }

func (c ImageProcessing) Settings(caps types.Capability) ([]device.Setting, error) {
	var out []device.Setting
	ints := []struct {
		p   device.Param
		v   *int
		max int
	}{
		{device.ParamGamma, c.Gamma, 1000},
		{device.ParamContrast, c.Contrast, 200},
		{device.ParamSaturation, c.Saturation, 200},
		{device.ParamSharpness, c.Sharpness, 100},
	}
	for _, f := range ints {
		if f.v == nil {
			continue
		}
		if *f.v < 0 || *f.v > f.max {
			return nil, invalidConfig("%s %d outside [0, %d]", f.p, *f.v, f.max)
		}
		out = append(out, device.Setting{Param: f.p, Value: *f.v})
	}
	bools := []struct {
		p device.Param
		v *bool
	}{
		{device.ParamMonochrome, c.Monochrome},
		{device.ParamInverse, c.Inverse},
		{device.ParamNoiseFilter, c.NoiseFilter},
	}
	for _, f := range bools {
		if f.v != nil {
			out = append(out, device.Setting{Param: f.p, Value: *f.v})
		}
	}
	if c.Saturation != nil && caps.MonoSensor {
		return nil, invalidConfig("saturation is not available on a mono sensor")
	}
	return nonEmpty(out)
}

// IO configures one GPIO pin.
type IO struct {
	types.IOConfig
}

func (c IO) Event() events.Kind { return events.KindIOConfigChanged }

func (c IO) Settings(caps types.Capability) ([]device.Setting, error) {
	pins := caps.InputIOCount + caps.OutputIOCount
	if c.Pin < 0 || c.Pin >= pins {
		return nil, invalidConfig("pin %d outside [0, %d)", c.Pin, pins)
	}
	if c.Mode < types.IOTriggerInput || c.Mode > types.IOPWMOutput {
		return nil, invalidConfig("io mode %d is not valid", c.Mode)
	}
	if c.State != nil && c.Mode != types.IOGeneralOutput {
		return nil, invalidConfig("state only applies to general outputs, pin %d is %s", c.Pin, c.Mode)
	}
	return []device.Setting{{Param: device.ParamIO, Value: c.IOConfig}}, nil
}

// Network sets the camera's IP configuration.
type Network struct {
	types.NetworkConfig
}

func (c Network) Event() events.Kind { return events.KindNetworkConfigChanged }

func (c Network) Settings(types.Capability) ([]device.Setting, error) {
	if err := c.Validate(); err != nil {
		return nil, invalidConfig("%v", err)
	}
	return []device.Setting{{Param: device.ParamNetwork, Value: c.NetworkConfig}}, nil
}

// Packet lengths a GigE stream channel accepts, in bytes.
const (
	MinPacketLength = 576
	MaxPacketLength = 9000
)

// PacketLength sets the GigE stream packet size. Larger packets raise
// throughput on links that carry jumbo frames.
type PacketLength struct {
	Bytes int `json:"bytes" minimum:"576" maximum:"9000" example:"1500" doc:"Stream packet size in bytes"`
}

func (c PacketLength) Event() events.Kind { return events.KindPacketLengthChanged }

func (c PacketLength) Settings(types.Capability) ([]device.Setting, error) {
	if c.Bytes < MinPacketLength || c.Bytes > MaxPacketLength {
		return nil, invalidConfig("packet length %d outside [%d, %d]", c.Bytes, MinPacketLength, MaxPacketLength)
	}
	return []device.Setting{{Param: device.ParamPacketLength, Value: c.Bytes}}, nil
}

// MediaType sets the output pixel format.
type MediaType struct {
	Format string `json:"format" enum:"mono8,bgr8,rgb8,mono,color"`
}

func (c MediaType) Event() events.Kind { return events.KindMediaTypeChanged }

func (c MediaType) Settings(caps types.Capability) ([]device.Setting, error) {
	f, err := types.ParsePixelFormat(c.Format)
	if err != nil {
		return nil, invalidConfig("%v", err)
	}
	if caps.MonoSensor && f != types.PixelMono8 {
		return nil, invalidConfig("mono sensor only supports %s", types.PixelMono8)
	}
	return []device.Setting{{Param: device.ParamMediaType, Value: string(f)}}, nil
}

func nonEmpty(s []device.Setting) ([]device.Setting, error) {
	if len(s) == 0 {
		return nil, invalidConfig("no parameters given")
	}
	return s, nil
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// payload renders applied settings for an event.
func payload(settings []device.Setting) map[string]any {
	out := make(map[string]any, len(settings))
	for _, s := range settings {
		switch v := s.Value.(type) {
		case types.IOConfig:
			entry := map[string]any{"pin": v.Pin, "mode": v.Mode.String()}
			if v.State != nil {
				entry["state"] = *v.State
			}
			out[string(s.Param)] = entry
		case types.NetworkConfig:
			out[string(s.Param)] = map[string]any{
				"ip_address":  v.IPAddress,
				"subnet_mask": v.SubnetMask,
				"gateway":     v.Gateway,
				"persistent":  v.Persistent,
			}
		default:
			if s.Param == device.ParamTriggerMode {
				if n, ok := v.(int); ok {
					out[string(s.Param)] = types.TriggerMode(n).String()
					continue
				}
			}
			out[string(s.Param)] = v
		}
	}
	return out
}
