// Package audio defines the PCM frame type shared by all pipeline stages and
// the conversions between its byte, int16, and normalized float representations.
package audio

// Standard sample rates of the two stream endpoints. The carrier delivers
// narrowband audio; the speech backend speaks wideband.
const (
	NarrowbandRate = 8000
	WidebandRate   = 24000
)

// Frame is an ordered run of signed 16-bit linear PCM samples at a single
// sample rate. Frames are the unit of exchange between pipeline stages; a
// frame's length is whatever the producing stage emitted, not a fixed size.
type Frame struct {
	Samples    []int16
	SampleRate int
}

// SamplesToBytes converts int16 PCM samples to little-endian bytes, the wire
// layout used for raw PCM WebSocket messages.
func SamplesToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToSamples converts little-endian bytes to int16 PCM samples. A trailing
// odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return samples
}

// SamplesToFloat32 normalizes int16 PCM into [-1, 1) floats (divide by 32768),
// the representation consumed by the compressed-frame codec stage.
func SamplesToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Float32ToSamples converts normalized floats back to int16 PCM, rounding and
// clamping to the representable range.
func Float32ToSamples(f []float32) []int16 {
	out := make([]int16, len(f))
	for i, v := range f {
		s := v * 32768
		if s >= 0 {
			s += 0.5
		} else {
			s -= 0.5
		}
		switch {
		case s > 32767:
			out[i] = 32767
		case s < -32768:
			out[i] = -32768
		default:
			out[i] = int16(s)
		}
	}
	return out
}
