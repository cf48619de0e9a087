// Package dsp holds the allocation-free sample kernels run by the streaming
// callback.
package dsp

import (
	"encoding/binary"
	"math"
)

const (
	MaxSample = math.MaxInt16
	MinSample = math.MinInt16
)

// ClampSample rounds v half away from zero and saturates it to the signed
// 16-bit range.
func ClampSample(v float64) int16 {
	v = math.Round(v)
	if v >= MaxSample {
		return MaxSample
	}
	if v <= MinSample {
		return MinSample
	}
	if v != v {
		return 0
	}
	return int16(v)
}

// ApplyGain writes in*gain into out as little-endian signed 16-bit samples.
// When the buffers are malformed or processing panics, in is copied to out
// unchanged and ok is false.
func ApplyGain(out, in []byte, gain float64) (ok bool) {
	defer func() {
		if recover() != nil {
			copy(out, in)
			ok = false
		}
	}()

	if len(out) != len(in) || len(in)%2 != 0 {
		copy(out, in)
		return false
	}

	for i := 0; i < len(in); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(in[i:]))
		binary.LittleEndian.PutUint16(out[i:], uint16(ClampSample(float64(sample)*gain)))
	}
	return true
}

// ApplyGainSamples is ApplyGain over already decoded samples.
func ApplyGainSamples(out, in []int16, gain float64) bool {
	if len(out) != len(in) {
		copy(out, in)
		return false
	}
	for i, sample := range in {
		out[i] = ClampSample(float64(sample) * gain)
	}
	return true
}
