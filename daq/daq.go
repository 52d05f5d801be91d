/*Package daq describes analog input and output boards as used by the
feedback loop, and the conversions between volts and the integer codes the
converters work in.

Backends implement Board.  Mock is an in-memory board, mccdaq provides
Measurement Computing hardware.  Guard wraps any Board so that a single
failed or hung call never stalls the caller.
*/
package daq

import (
	"context"
	"io"
	"math"
)

// Sampler reads analog input channels
type Sampler interface {
	// ReadChannel returns the raw converter code and its value in volts
	ReadChannel(ctx context.Context, channel int) (raw int, volts float64, err error)
}

// Actuator writes analog output channels
type Actuator interface {
	// WriteChannel writes a raw converter code to a channel
	WriteChannel(ctx context.Context, channel int, code int) error
}

// Board is a DAQ board with both input and output channels
type Board interface {
	Sampler
	Actuator
	io.Closer
}

// Scale is an affine map between volts and converter codes
//
//	code = ZeroCode + floor(volts*SpanCounts / SpanVolts)
//
// The slope is kept as a ratio so hand calibrations such as 410 counts per
// 3 V convert without first rounding 410/3.
type Scale struct {
	// ZeroCode is the code corresponding to zero volts, e.g. 2048 for a 12 bit
	// bipolar part
	ZeroCode int `yaml:"ZeroCode" koanf:"ZeroCode"`

	// SpanCounts codes correspond to SpanVolts volts
	SpanCounts float64 `yaml:"SpanCounts" koanf:"SpanCounts"`
	SpanVolts  float64 `yaml:"SpanVolts" koanf:"SpanVolts"`

	// MinCode and MaxCode are the limits of the converter
	MinCode int `yaml:"MinCode" koanf:"MinCode"`
	MaxCode int `yaml:"MaxCode" koanf:"MaxCode"`
}

// NewScale derives a Scale from the bit depth and voltage span of a converter.
// A 12 bit +/-15V part has ZeroCode 2048 and 4096 counts per 30 V.
func NewScale(bits int, vmin, vmax float64) Scale {
	counts := 1 << uint(bits)
	span := vmax - vmin
	return Scale{
		ZeroCode:   int(math.Round(-vmin * float64(counts) / span)),
		SpanCounts: float64(counts),
		SpanVolts:  span,
		MinCode:    0,
		MaxCode:    counts - 1}
}

// CountsPerVolt is the slope of the conversion
func (s Scale) CountsPerVolt() float64 {
	return s.SpanCounts / s.SpanVolts
}

// Code converts volts to a converter code, clipped to the converter limits.
// NaN maps to ZeroCode.
func (s Scale) Code(volts float64) int {
	if math.IsNaN(volts) {
		return s.ZeroCode
	}
	f := float64(s.ZeroCode) + math.Floor(volts*s.SpanCounts/s.SpanVolts)
	if f < float64(s.MinCode) {
		return s.MinCode
	}
	if f > float64(s.MaxCode) {
		return s.MaxCode
	}
	return int(f)
}

// Volts converts a converter code to volts
func (s Scale) Volts(code int) float64 {
	return float64(code-s.ZeroCode) * s.SpanVolts / s.SpanCounts
}

// Valid returns true if the scale can be used for conversion
func (s Scale) Valid() bool {
	cpv := s.CountsPerVolt()
	return s.SpanCounts > 0 && s.SpanVolts > 0 && cpv > 0 && !math.IsInf(cpv, 0) && s.MinCode < s.MaxCode &&
		s.ZeroCode >= s.MinCode && s.ZeroCode <= s.MaxCode
}
