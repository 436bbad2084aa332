// Package opusframe packetizes 24 kHz mono PCM into Opus frames for the
// speech backend's compressed transport mode, and depacketizes the backend's
// Opus frames back to PCM.
//
// Both directions are push/pull: callers feed samples (or wire bytes)
// continuously and drain whatever complete frames the codec has produced.
// Frame boundaries belong to the codec — the encoder emits one packet per
// 20 ms of accumulated input, and the decoder emits one PCM chunk per wire
// frame. Neither type is safe for concurrent use; each stream direction owns
// its own instance.
//
// PCM at this stage is normalized float32 in [-1, 1]; conversion to and from
// the pipeline's int16 representation lives in the audio package.
package opusframe

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/trunkline/trunkline/pkg/audio"
)

const (
	sampleRate = audio.WidebandRate
	channels   = 1

	// frameSize is 20 ms of samples at 24 kHz, the codec's framing unit.
	frameSize = sampleRate * 20 / 1000

	// maxPacketBytes bounds a single encoded packet. Opus at voice bitrates
	// stays far below this.
	maxPacketBytes = 4000
)

// Encoder accumulates normalized PCM and produces Opus packets.
type Encoder struct {
	enc     *gopus.Encoder
	pending []int16
	frames  [][]byte
}

// NewEncoder creates an Encoder for 24 kHz mono voice audio.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opusframe: create encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// PushPCM appends normalized samples to the encoder's input. Every full 20 ms
// of accumulated input is encoded immediately and queued for PullFrame.
// Leftover samples stay buffered for the next push.
func (e *Encoder) PushPCM(samples []float32) error {
	e.pending = append(e.pending, audio.Float32ToSamples(samples)...)
	for len(e.pending) >= frameSize {
		pkt, err := e.enc.Encode(e.pending[:frameSize], frameSize, maxPacketBytes)
		if err != nil {
			return fmt.Errorf("opusframe: encode: %w", err)
		}
		e.frames = append(e.frames, pkt)
		e.pending = e.pending[frameSize:]
	}
	return nil
}

// PullFrame returns the next queued Opus packet, or false when none is ready.
// Never blocks.
func (e *Encoder) PullFrame() ([]byte, bool) {
	if len(e.frames) == 0 {
		return nil, false
	}
	f := e.frames[0]
	e.frames = e.frames[1:]
	return f, true
}

// Decoder consumes Opus packets and produces normalized PCM.
type Decoder struct {
	dec *gopus.Decoder
	pcm [][]float32
}

// NewDecoder creates a Decoder for 24 kHz mono audio.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opusframe: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// PushBytes decodes one wire frame and queues the resulting PCM for PullPCM.
// A corrupt frame returns an error and leaves the decoder usable for the next
// frame.
func (d *Decoder) PushBytes(frame []byte) error {
	samples, err := d.dec.Decode(frame, frameSize, false)
	if err != nil {
		return fmt.Errorf("opusframe: decode: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}
	d.pcm = append(d.pcm, audio.SamplesToFloat32(samples))
	return nil
}

// PullPCM returns the next decoded PCM chunk, or false when none is ready.
// Never blocks.
func (d *Decoder) PullPCM() ([]float32, bool) {
	if len(d.pcm) == 0 {
		return nil, false
	}
	p := d.pcm[0]
	d.pcm = d.pcm[1:]
	return p, true
}
