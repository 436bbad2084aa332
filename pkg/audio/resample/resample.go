// Package resample converts PCM between the carrier's 8 kHz narrowband rate
// and the speech backend's 24 kHz wideband rate. The ratio is an exact 1:3,
// implemented as polyphase FIR filtering with a windowed-sinc low-pass —
// never sample repetition or dropping, which would alias audibly.
//
// Both directions are streaming: filter history is carried across Process
// calls so chunk boundaries do not produce discontinuities, and the
// downsampler buffers trailing samples that do not complete a group of three
// rather than dropping them, keeping long-run duration exact.
//
// The filters are deterministic — identical input always yields identical
// output.
package resample

import "math"

const (
	// factor is the rational conversion ratio between the two rates.
	factor = 3

	// tapsPerPhase is the FIR length of each polyphase branch. The full
	// prototype filter has factor*tapsPerPhase taps.
	tapsPerPhase = 16

	filterLen = factor * tapsPerPhase
)

// prototype is the shared low-pass prototype: a Hamming-windowed sinc with
// cutoff at 1/3 of the wideband Nyquist (4 kHz at 24 kHz). Built once at
// package initialization; never mutated.
var prototype = designLowPass(filterLen, 1.0/factor)

// designLowPass returns an n-tap windowed-sinc low-pass filter. cutoff is
// normalized to Nyquist (1.0 = Nyquist). The taps are not normalized; callers
// scale for their own DC gain requirements.
func designLowPass(n int, cutoff float64) []float64 {
	h := make([]float64, n)
	center := float64(n-1) / 2
	for i := range h {
		x := float64(i) - center
		var s float64
		if x == 0 {
			s = cutoff
		} else {
			s = math.Sin(math.Pi*cutoff*x) / (math.Pi * x)
		}
		// Hamming window.
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		h[i] = s * w
	}
	return h
}

// Upsampler converts 8 kHz PCM to 24 kHz. Each Process call emits exactly
// three output samples per input sample. Not safe for concurrent use; create
// one per stream direction.
type Upsampler struct {
	// phases holds the polyphase decomposition of the prototype, each branch
	// normalized to unity DC gain so a constant input maps to the same
	// constant output.
	phases [factor][]float64

	// hist holds the last tapsPerPhase-1 input samples.
	hist []float64
}

// NewUpsampler returns a ready Upsampler with zeroed filter state.
func NewUpsampler() *Upsampler {
	u := &Upsampler{hist: make([]float64, tapsPerPhase-1)}
	for p := 0; p < factor; p++ {
		branch := make([]float64, tapsPerPhase)
		var sum float64
		for k := 0; k < tapsPerPhase; k++ {
			branch[k] = prototype[p+k*factor]
			sum += branch[k]
		}
		for k := range branch {
			branch[k] /= sum
		}
		u.phases[p] = branch
	}
	return u
}

// Process interpolates in by three. The returned slice has length exactly
// 3*len(in).
func (u *Upsampler) Process(in []int16) []int16 {
	buf := make([]float64, len(u.hist)+len(in))
	copy(buf, u.hist)
	for i, s := range in {
		buf[len(u.hist)+i] = float64(s)
	}

	out := make([]int16, 0, len(in)*factor)
	for i := tapsPerPhase - 1; i < len(buf); i++ {
		for p := 0; p < factor; p++ {
			var acc float64
			for k, c := range u.phases[p] {
				acc += c * buf[i-k]
			}
			out = append(out, clampSample(acc))
		}
	}

	copy(u.hist, buf[len(buf)-(tapsPerPhase-1):])
	return out
}

// Downsampler converts 24 kHz PCM to 8 kHz. Each output sample consumes three
// input samples; trailing samples that do not complete a group of three are
// buffered and consumed by the next Process call. Not safe for concurrent use.
type Downsampler struct {
	taps []float64

	// buf holds filterLen-1 samples of filter history followed by any
	// unconsumed partial group carried from the previous call.
	buf []float64
}

// NewDownsampler returns a ready Downsampler with zeroed filter state.
func NewDownsampler() *Downsampler {
	taps := make([]float64, filterLen)
	var sum float64
	for i, c := range prototype {
		taps[i] = c
		sum += c
	}
	for i := range taps {
		taps[i] /= sum
	}
	return &Downsampler{
		taps: taps,
		buf:  make([]float64, filterLen-1),
	}
}

// Process decimates in by three. Across a stream, the total output length is
// exactly the floor of the total input length divided by three.
func (d *Downsampler) Process(in []int16) []int16 {
	for _, s := range in {
		d.buf = append(d.buf, float64(s))
	}

	var out []int16
	// Each iteration consumes one group of three inputs past the history
	// prefix and produces one output centered on that group.
	for len(d.buf) >= filterLen+factor-1 {
		end := filterLen + factor - 2
		var acc float64
		for k, c := range d.taps {
			acc += c * d.buf[end-k]
		}
		out = append(out, clampSample(acc))
		d.buf = d.buf[factor:]
	}
	return out
}

func clampSample(v float64) int16 {
	if v >= 0 {
		v += 0.5
	} else {
		v -= 0.5
	}
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
