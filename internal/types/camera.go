package types

import (
	"fmt"
	"net/netip"
	"strings"
)

// PixelFormat identifies the layout of a raw frame buffer.
type PixelFormat string

const (
	PixelMono8 PixelFormat = "mono8" // 1 byte per pixel
	PixelBGR8  PixelFormat = "bgr8"  // 3 bytes per pixel, blue first
	PixelRGB8  PixelFormat = "rgb8"  // 3 bytes per pixel, red first
)

// Channels returns the number of bytes per pixel, or 0 for unknown formats.
func (f PixelFormat) Channels() int {
	switch f {
	case PixelMono8:
		return 1
	case PixelBGR8, PixelRGB8:
		return 3
	default:
		return 0
	}
}

// ParsePixelFormat accepts the canonical names plus the vendor "mono"/"color" aliases.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mono8", "mono":
		return PixelMono8, nil
	case "bgr8", "color":
		return PixelBGR8, nil
	case "rgb8":
		return PixelRGB8, nil
	default:
		return "", fmt.Errorf("unknown pixel format %q", s)
	}
}

// TriggerMode selects what paces frame acquisition.
type TriggerMode int

const (
	TriggerContinuous TriggerMode = iota
	TriggerSoftware
	TriggerHardware
)

func (m TriggerMode) String() string {
	switch m {
	case TriggerContinuous:
		return "continuous"
	case TriggerSoftware:
		return "software"
	case TriggerHardware:
		return "hardware"
	default:
		return fmt.Sprintf("trigger(%d)", int(m))
	}
}

// Valid reports whether m is one of the known modes.
func (m TriggerMode) Valid() bool {
	return m >= TriggerContinuous && m <= TriggerHardware
}

// ParseTriggerMode accepts either the mode name or its numeric vendor code.
func ParseTriggerMode(s string) (TriggerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continuous", "0":
		return TriggerContinuous, nil
	case "software", "1":
		return TriggerSoftware, nil
	case "hardware", "2":
		return TriggerHardware, nil
	default:
		return 0, fmt.Errorf("unknown trigger mode %q", s)
	}
}

// ROI is the sensor region read out for each frame.
type ROI struct {
	Width   int `json:"width" toml:"width" minimum:"1" doc:"Output width in pixels"`
	Height  int `json:"height" toml:"height" minimum:"1" doc:"Output height in pixels"`
	OffsetX int `json:"offset_x" toml:"offset_x" minimum:"0" doc:"Horizontal offset"`
	OffsetY int `json:"offset_y" toml:"offset_y" minimum:"0" doc:"Vertical offset"`
}

// Fits reports whether the region lies inside a sensor of the given size.
func (r ROI) Fits(maxWidth, maxHeight int) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("roi size %dx%d must be positive", r.Width, r.Height)
	}
	if r.OffsetX < 0 || r.OffsetY < 0 {
		return fmt.Errorf("roi offset %d,%d must not be negative", r.OffsetX, r.OffsetY)
	}
	if r.OffsetX+r.Width > maxWidth || r.OffsetY+r.Height > maxHeight {
		return fmt.Errorf("roi %dx%d+%d+%d exceeds sensor %dx%d",
			r.Width, r.Height, r.OffsetX, r.OffsetY, maxWidth, maxHeight)
	}
	return nil
}

// IOMode is the function assigned to a GPIO pin.
type IOMode int

const (
	IOTriggerInput IOMode = iota
	IOStrobeOutput
	IOGeneralInput
	IOGeneralOutput
	IOPWMOutput
)

func (m IOMode) String() string {
	switch m {
	case IOTriggerInput:
		return "trigger_input"
	case IOStrobeOutput:
		return "strobe_output"
	case IOGeneralInput:
		return "general_input"
	case IOGeneralOutput:
		return "general_output"
	case IOPWMOutput:
		return "pwm_output"
	default:
		return fmt.Sprintf("io_mode(%d)", int(m))
	}
}

// Output reports whether the pin drives a signal.
func (m IOMode) Output() bool {
	return m == IOStrobeOutput || m == IOGeneralOutput || m == IOPWMOutput
}

// IOConfig configures one GPIO pin. State only applies to general outputs.
type IOConfig struct {
	Pin   int    `json:"pin" minimum:"0" doc:"Pin index"`
	Mode  IOMode `json:"mode" minimum:"0" maximum:"4" doc:"0 trigger in, 1 strobe out, 2 gp in, 3 gp out, 4 pwm out"`
	State *int   `json:"state,omitempty" doc:"Output level for general outputs"`
}

// NetworkConfig is the camera's GigE address configuration.
type NetworkConfig struct {
	IPAddress  string `json:"ip_address" doc:"Camera IPv4 address"`
	SubnetMask string `json:"subnet_mask" doc:"Subnet mask"`
	Gateway    string `json:"gateway" doc:"Default gateway"`
	Persistent bool   `json:"persistent" doc:"Store the address in camera flash"`
}

// Validate checks that all three addresses are IPv4.
func (n NetworkConfig) Validate() error {
	for name, v := range map[string]string{
		"ip_address":  n.IPAddress,
		"subnet_mask": n.SubnetMask,
		"gateway":     n.Gateway,
	} {
		addr, err := netip.ParseAddr(v)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("%s %q is not an IPv4 address", name, v)
		}
	}
	return nil
}

// RGBGains are the per-channel digital gains used for manual white balance.
type RGBGains struct {
	R int `json:"r" minimum:"0" maximum:"400"`
	G int `json:"g" minimum:"0" maximum:"400"`
	B int `json:"b" minimum:"0" maximum:"400"`
}

// Capability describes what a connected camera supports.
type Capability struct {
	MonoSensor      bool    `json:"mono_sensor"`
	HardwareISP     bool    `json:"hardware_isp"`
	MaxWidth        int     `json:"max_width"`
	MaxHeight       int     `json:"max_height"`
	ExposureMin     float64 `json:"exposure_min_us"`
	ExposureMax     float64 `json:"exposure_max_us"`
	AnalogGainMin   int     `json:"analog_gain_min"`
	AnalogGainMax   int     `json:"analog_gain_max"`
	InputIOCount    int     `json:"input_io_count"`
	OutputIOCount   int     `json:"output_io_count"`
	ParameterTeams  int     `json:"parameter_teams"`
	SupportsTrigger bool    `json:"supports_trigger"`
}
