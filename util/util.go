// Package util contains misc internal utilities.
package util

import (
	"encoding/json"
	"math"
)

// Limiter holds a min and max value and checks whether values fall inside
// the open interval (Min, Max).
type Limiter struct {
	Min float64 `yaml:"Min" koanf:"Min"`
	Max float64 `yaml:"Max" koanf:"Max"`
}

// Check returns true if Min < f < Max.  NaN is never inside the interval.
func (l Limiter) Check(f float64) bool {
	return f > l.Min && f < l.Max
}

// Valid returns true if the limiter describes a non-empty interval
func (l Limiter) Valid() bool {
	return l.Min < l.Max && !math.IsNaN(l.Min) && !math.IsNaN(l.Max)
}

// AllFinite returns true if none of fs is NaN or +/-Inf
func AllFinite(fs ...float64) bool {
	for _, f := range fs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// JSONFloat is a float64 that marshals NaN and +/-Inf as null instead of
// failing the whole encode
type JSONFloat float64

// MarshalJSON satisfies json.Marshaler
func (f JSONFloat) MarshalJSON() ([]byte, error) {
	if !AllFinite(float64(f)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

// JSONFloats converts fs to a slice of JSONFloat.  nil stays nil.
func JSONFloats(fs []float64) []JSONFloat {
	if fs == nil {
		return nil
	}
	out := make([]JSONFloat, len(fs))
	for i, f := range fs {
		out[i] = JSONFloat(f)
	}
	return out
}
