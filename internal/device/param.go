package device

import (
	"fmt"
	"math"
	"sort"

	"github.com/smazurov/camnode/internal/types"
)

// Param names a configurable camera parameter.
type Param string

const (
	ParamExposureTime   Param = "exposure_time" // microseconds
	ParamAutoExposure   Param = "auto_exposure"
	ParamAETarget       Param = "ae_target"
	ParamAnalogGain     Param = "analog_gain"
	ParamGainR          Param = "gain_r"
	ParamGainG          Param = "gain_g"
	ParamGainB          Param = "gain_b"
	ParamAutoWB         Param = "auto_white_balance"
	ParamColorTemp      Param = "color_temp_preset"
	ParamWhiteBalance1  Param = "white_balance_once"
	ParamGamma          Param = "gamma"
	ParamContrast       Param = "contrast"
	ParamSaturation     Param = "saturation"
	ParamSharpness      Param = "sharpness"
	ParamMonochrome     Param = "monochrome"
	ParamInverse        Param = "inverse"
	ParamNoiseFilter    Param = "noise_filter"
	ParamTriggerMode    Param = "trigger_mode"
	ParamTriggerDelay   Param = "trigger_delay" // microseconds
	ParamTriggerCount   Param = "trigger_count"
	ParamExtTriggerType Param = "ext_trigger_type"
	ParamWidth          Param = "width"
	ParamHeight         Param = "height"
	ParamOffsetX        Param = "offset_x"
	ParamOffsetY        Param = "offset_y"
	ParamMediaType      Param = "media_type"
	ParamIO             Param = "io_config"
	ParamNetwork        Param = "network_config"
	ParamPacketLength   Param = "packet_length"
)

// Kind is the canonical Go type a parameter value is normalized to.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
	KindIO
	KindNetwork
)

type paramSpec struct {
	kind Kind
	// persistent params are stored in parameter sets and replayed after reconnect
	persistent bool
	// oneShot params trigger an action and are never remembered
	oneShot bool
}

var paramSpecs = map[Param]paramSpec{
	ParamExposureTime:   {kind: KindFloat, persistent: true},
	ParamAutoExposure:   {kind: KindBool, persistent: true},
	ParamAETarget:       {kind: KindInt, persistent: true},
	ParamAnalogGain:     {kind: KindInt, persistent: true},
	ParamGainR:          {kind: KindInt, persistent: true},
	ParamGainG:          {kind: KindInt, persistent: true},
	ParamGainB:          {kind: KindInt, persistent: true},
	ParamAutoWB:         {kind: KindBool, persistent: true},
	ParamColorTemp:      {kind: KindInt, persistent: true},
	ParamWhiteBalance1:  {kind: KindBool, oneShot: true},
	ParamGamma:          {kind: KindInt, persistent: true},
	ParamContrast:       {kind: KindInt, persistent: true},
	ParamSaturation:     {kind: KindInt, persistent: true},
	ParamSharpness:      {kind: KindInt, persistent: true},
	ParamMonochrome:     {kind: KindBool, persistent: true},
	ParamInverse:        {kind: KindBool, persistent: true},
	ParamNoiseFilter:    {kind: KindBool, persistent: true},
	ParamTriggerMode:    {kind: KindInt, persistent: true},
	ParamTriggerDelay:   {kind: KindInt, persistent: true},
	ParamTriggerCount:   {kind: KindInt, persistent: true},
	ParamExtTriggerType: {kind: KindInt, persistent: true},
	ParamWidth:          {kind: KindInt, persistent: true},
	ParamHeight:         {kind: KindInt, persistent: true},
	ParamOffsetX:        {kind: KindInt, persistent: true},
	ParamOffsetY:        {kind: KindInt, persistent: true},
	ParamMediaType:      {kind: KindString, persistent: true},
	ParamIO:             {kind: KindIO},
	ParamNetwork:        {kind: KindNetwork},
	ParamPacketLength:   {kind: KindInt},
}

// Known reports whether p is a recognised parameter.
func (p Param) Known() bool {
	_, ok := paramSpecs[p]
	return ok
}

// Kind returns the value kind of p.
func (p Param) Kind() Kind {
	return paramSpecs[p].kind
}

// Persistent reports whether p belongs in a saved parameter set.
func (p Param) Persistent() bool {
	return paramSpecs[p].persistent
}

// OneShot reports whether p is an action rather than a setting.
func (p Param) OneShot() bool {
	return paramSpecs[p].oneShot
}

// Params returns every known parameter in name order.
func Params() []Param {
	out := make([]Param, 0, len(paramSpecs))
	for p := range paramSpecs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Setting is one parameter write.
type Setting struct {
	Param Param
	Value any
}

// Key identifies the slot a setting occupies in an applied-configuration map.
// I/O settings are keyed per pin.
func (s Setting) Key() string {
	if io, ok := s.Value.(types.IOConfig); ok {
		return fmt.Sprintf("%s.%d", s.Param, io.Pin)
	}
	return string(s.Param)
}

// Normalize converts v to the canonical type for p. Numeric values decoded
// from JSON or TOML (float64, int64) are accepted for integer parameters as
// long as they are whole numbers.
func Normalize(p Param, v any) (any, error) {
	spec, ok := paramSpecs[p]
	if !ok {
		return nil, NewError(Configuration, "normalize", fmt.Errorf("unknown parameter %q", p))
	}
	bad := func() error {
		return NewError(Configuration, "normalize", fmt.Errorf("parameter %s: unexpected value %v (%T)", p, v, v))
	}

	switch spec.kind {
	case KindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int32:
			return int(n), nil
		case int64:
			return int(n), nil
		case uint32:
			return int(n), nil
		case types.TriggerMode:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, bad()
			}
			return int(n), nil
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindString:
		switch s := v.(type) {
		case string:
			return s, nil
		case types.PixelFormat:
			return string(s), nil
		}
	case KindIO:
		if io, ok := v.(types.IOConfig); ok {
			return io, nil
		}
	case KindNetwork:
		if n, ok := v.(types.NetworkConfig); ok {
			return n, nil
		}
	}
	return nil, bad()
}
