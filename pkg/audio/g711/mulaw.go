// Package g711 implements the μ-law half of ITU-T G.711, the 8-bit companded
// encoding used by telephony media streams. Decoding is table-driven; both
// directions are allocation-free per sample and never fail — every byte and
// every (clamped) int16 sample is representable.
//
// The round trip encode→decode is lossy by design: μ-law quantizes
// logarithmically, so reconstruction is exact only up to one quantization step
// of the sample's exponent segment.
package g711

const (
	// muLawBias is added to the magnitude before segment selection.
	muLawBias = 0x84

	// muLawClip is the largest encodable magnitude. Larger samples are clamped
	// so the biased value stays below the top of the highest segment.
	muLawClip = 32635
)

// decodeTable maps each μ-law byte to its linear PCM value. Built once at
// package initialization; never mutated afterwards.
var decodeTable = buildDecodeTable()

func buildDecodeTable() [256]int16 {
	var t [256]int16
	for i := range t {
		u := ^byte(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		magnitude := ((int32(mantissa) << 3) + muLawBias) << exponent
		magnitude -= muLawBias
		if sign != 0 {
			magnitude = -magnitude
		}
		t[i] = int16(magnitude)
	}
	return t
}

// DecodeSample expands one μ-law byte to a linear PCM sample.
func DecodeSample(b byte) int16 {
	return decodeTable[b]
}

// EncodeSample compresses one linear PCM sample to a μ-law byte. The magnitude
// is clamped, biased, and the smallest exponent segment that holds the biased
// value is selected by scanning from the most significant segment down.
func EncodeSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

// Decode expands a μ-law byte stream to linear PCM samples.
func Decode(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = decodeTable[b]
	}
	return out
}

// Encode compresses linear PCM samples to a μ-law byte stream.
func Encode(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeSample(s)
	}
	return out
}
