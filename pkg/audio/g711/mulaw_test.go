package g711_test

import (
	"testing"

	"github.com/trunkline/trunkline/pkg/audio/g711"
)

func TestEncodeSample_CanonicalValues(t *testing.T) {
	cases := []struct {
		in   int16
		want byte
	}{
		{0, 0xFF},      // silence
		{32767, 0x80},  // positive full scale
		{-32768, 0x00}, // negative full scale
		{32124, 0x80},  // largest exactly representable magnitude
		{-32124, 0x00},
	}
	for _, c := range cases {
		if got := g711.EncodeSample(c.in); got != c.want {
			t.Errorf("EncodeSample(%d): got 0x%02X, want 0x%02X", c.in, got, c.want)
		}
	}
}

func TestDecodeSample_CanonicalValues(t *testing.T) {
	cases := []struct {
		in   byte
		want int16
	}{
		{0xFF, 0},
		{0x7F, 0}, // negative zero decodes to 0
		{0x80, 32124},
		{0x00, -32124},
	}
	for _, c := range cases {
		if got := g711.DecodeSample(c.in); got != c.want {
			t.Errorf("DecodeSample(0x%02X): got %d, want %d", c.in, got, c.want)
		}
	}
}

// Every byte except negative zero must survive a decode→encode round trip
// unchanged: decoded values are segment midpoints, which re-encode to the same
// segment and mantissa.
func TestDecodeEncode_Idempotent(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		if b == 0x7F {
			// -0 collapses to +0, which encodes as 0xFF.
			continue
		}
		got := g711.EncodeSample(g711.DecodeSample(b))
		if got != b {
			t.Errorf("byte 0x%02X: re-encoded to 0x%02X", b, got)
		}
	}
}

// The encode→decode error must stay within one quantization step of the
// sample's segment. Segment e covers magnitudes with step 2^(e+3); the decoder
// returns midpoints, so the error bound is half a step.
func TestEncodeDecode_BoundedError(t *testing.T) {
	for s := -32768; s <= 32767; s++ {
		in := int16(s)
		enc := g711.EncodeSample(in)
		out := g711.DecodeSample(enc)

		exponent := (^enc >> 4) & 0x07
		step := int32(8) << exponent

		want := int32(in)
		// Magnitudes beyond the clip point quantize as if clamped.
		if want > 32635 {
			want = 32635
		}
		if want < -32635 {
			want = -32635
		}

		diff := int32(out) - want
		if diff < 0 {
			diff = -diff
		}
		if diff > step/2 {
			t.Fatalf("sample %d: encoded 0x%02X decoded %d, error %d exceeds half step %d",
				in, enc, out, diff, step/2)
		}
	}
}

func TestEncodeDecode_Slices(t *testing.T) {
	samples := []int16{0, 100, -100, 5000, -5000, 32767, -32768}
	enc := g711.Encode(samples)
	if len(enc) != len(samples) {
		t.Fatalf("encoded length: got %d, want %d", len(enc), len(samples))
	}
	dec := g711.Decode(enc)
	if len(dec) != len(samples) {
		t.Fatalf("decoded length: got %d, want %d", len(dec), len(samples))
	}
	for i := range samples {
		if g711.DecodeSample(enc[i]) != dec[i] {
			t.Errorf("sample %d: slice and per-sample decode disagree", i)
		}
	}
}

func TestDecode_EveryByteRepresentable(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	out := g711.Decode(data)
	if len(out) != 256 {
		t.Fatalf("expected 256 samples, got %d", len(out))
	}
	// Decoded magnitudes stay inside the canonical ±32124 range.
	for i, s := range out {
		if s > 32124 || s < -32124 {
			t.Errorf("byte 0x%02X decoded out of range: %d", i, s)
		}
	}
}
