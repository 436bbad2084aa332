// Package bridge implements the duplex audio bridge at the heart of
// Trunkline: per-call sessions that terminate the carrier's media WebSocket
// on one side and the speech backend's audio WebSocket on the other,
// transcoding μ-law 8 kHz to linear PCM 24 kHz (optionally Opus-framed) in
// both directions until either side ends the call.
//
// A [Session] owns both transport handles exclusively for its lifetime and
// runs one pump per direction. The pumps share nothing but the running flag
// and observability counters; teardown is a single idempotent path that
// closes both transports, which is what actually unblocks a pump stuck in a
// receive.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/audio/g711"
	"github.com/trunkline/trunkline/pkg/audio/opusframe"
	"github.com/trunkline/trunkline/pkg/audio/resample"
	"github.com/trunkline/trunkline/pkg/transport"
)

// Backend wire framing: a one-byte type tag precedes every message when the
// compressed transport stage is enabled.
const (
	frameTypeControl = 0x00
	frameTypeAudio   = 0x01
)

// defaultHandshakeTimeout bounds the wait for the backend's ready byte.
const defaultHandshakeTimeout = 10 * time.Second

// ErrHandshake is returned when the backend violates the handshake protocol:
// its first message must be exactly the single control byte 0x00 before any
// audio flows. Audio ahead of the handshake is fatal to the session, never
// silently accepted.
var ErrHandshake = errors.New("bridge: backend handshake violation")

// State is a session's lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// BackendDialer opens the connection to the speech backend. Injected so tests
// can substitute an in-memory transport.
type BackendDialer func(ctx context.Context) (transport.MessageConn, error)

// SessionConfig carries everything a Session needs. Carrier, DialBackend, and
// Registry are required.
type SessionConfig struct {
	// CallID is the carrier-assigned call identifier, or "unknown".
	CallID string

	// Carrier is the already-accepted media stream connection.
	Carrier transport.MessageConn

	// DialBackend opens the speech backend connection when the session runs.
	DialBackend BackendDialer

	// OpusFramed selects the compressed transport stage: audio to and from
	// the backend is Opus-framed with a one-byte type prefix and gated on a
	// handshake. When false the backend speaks raw little-endian PCM.
	OpusFramed bool

	// HandshakeTimeout bounds the wait for the backend's ready byte.
	// Defaults to 10s.
	HandshakeTimeout time.Duration

	// Registry is where the session deregisters itself on teardown.
	Registry *Registry

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is the per-call state machine bridging one carrier stream to one
// backend stream. Create with [NewSession], drive with [Session.Run]; Run
// returns once both pumps have exited and the session is fully torn down.
type Session struct {
	callID           string
	carrier          transport.MessageConn
	dialBackend      BackendDialer
	opusFramed       bool
	handshakeTimeout time.Duration
	registry         *Registry
	metrics          *observe.Metrics

	// backend is set by Run before the pumps start and is never reassigned.
	backend transport.MessageConn

	// Transcoding state. Each field is mutated by exactly one pump.
	up   *resample.Upsampler
	down *resample.Downsampler
	enc  *opusframe.Encoder
	dec  *opusframe.Decoder

	running   atomic.Bool
	state     atomic.Int32
	closeOnce sync.Once

	// Directional frame counters, observability only. Benign races with
	// readers are acceptable; nothing branches on them.
	framesFromCarrier atomic.Int64
	framesFromBackend atomic.Int64

	errMu  sync.Mutex
	errVal error
}

// NewSession creates a session in the connecting state. It does not touch the
// network; Run does.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Carrier == nil || cfg.DialBackend == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("bridge: session config missing carrier, dialer, or registry")
	}
	if cfg.CallID == "" {
		cfg.CallID = "unknown"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{
		callID:           cfg.CallID,
		carrier:          cfg.Carrier,
		dialBackend:      cfg.DialBackend,
		opusFramed:       cfg.OpusFramed,
		handshakeTimeout: cfg.HandshakeTimeout,
		registry:         cfg.Registry,
		metrics:          cfg.Metrics,
		up:               resample.NewUpsampler(),
		down:             resample.NewDownsampler(),
	}
	s.state.Store(int32(StateConnecting))

	if cfg.OpusFramed {
		enc, err := opusframe.NewEncoder()
		if err != nil {
			return nil, fmt.Errorf("bridge: %w", err)
		}
		dec, err := opusframe.NewDecoder()
		if err != nil {
			return nil, fmt.Errorf("bridge: %w", err)
		}
		s.enc = enc
		s.dec = dec
	}

	return s, nil
}

// CallID returns the carrier-assigned call identifier.
func (s *Session) CallID() string { return s.callID }

// State returns the session's current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// FrameCounts reports how many audio frames each side has delivered so far.
// Counts are approximate while the session is live.
func (s *Session) FrameCounts() (fromCarrier, fromBackend int64) {
	return s.framesFromCarrier.Load(), s.framesFromBackend.Load()
}

// Err returns the first terminal error recorded by the session, or nil for a
// graceful teardown.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.errVal
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// Run connects to the backend, performs the handshake when the compressed
// stage is enabled, then runs both pumps until either side terminates. It
// always leaves the session closed and deregistered, whichever side failed
// first, and returns the first terminal error (nil for a graceful stop).
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	start := time.Now()

	backend, err := s.dialBackend(ctx)
	if err != nil {
		err = fmt.Errorf("bridge: connect backend: %w", err)
		s.setErr(err)
		return err
	}
	s.backend = backend

	if s.opusFramed {
		if err := s.awaitHandshake(ctx); err != nil {
			s.setErr(err)
			return err
		}
	}

	s.running.Store(true)
	s.state.Store(int32(StateActive))
	slog.Info("bridge: session active", "call_id", s.callID, "opus_framed", s.opusFramed)

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
		s.metrics.SessionDuration.Record(context.Background(), time.Since(start).Seconds())
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpCarrierToBackend(gctx) })
	g.Go(func() error { return s.pumpBackendToCarrier(gctx) })

	err = g.Wait()
	if err != nil {
		s.setErr(err)
	}

	in, out := s.FrameCounts()
	slog.Info("bridge: session closed",
		"call_id", s.callID,
		"frames_from_carrier", in,
		"frames_from_backend", out,
		"err", err,
	)
	return err
}

// awaitHandshake blocks until the backend's ready byte arrives. The first
// backend message must be exactly the single byte 0x00; anything else —
// including audio — is a protocol violation fatal to the session.
func (s *Session) awaitHandshake(ctx context.Context) error {
	hsCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	msg, err := s.backend.Receive(hsCtx)
	if err != nil {
		return fmt.Errorf("bridge: backend handshake: %w", err)
	}
	if len(msg) != 1 || msg[0] != frameTypeControl {
		return fmt.Errorf("%w: first message % x", ErrHandshake, firstBytes(msg, 4))
	}
	return nil
}

// Close tears the session down: flips the running flag, closes both
// transports (unblocking any pump mid-receive), and deregisters the call id.
// Safe to call from any goroutine any number of times; transports are closed
// and the registry entry removed exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		s.running.Store(false)

		if s.backend != nil {
			_ = s.backend.Close()
		}
		_ = s.carrier.Close()

		s.registry.Deregister(s.callID)
		s.state.Store(int32(StateClosed))
	})
	return nil
}

// pumpCarrierToBackend forwards carrier media to the backend: parse event →
// μ-law decode → upsample ×3 → (Opus frame | raw PCM) → send. Malformed
// frames are logged and dropped; transport failures and the stop event end
// the pump and with it the session.
func (s *Session) pumpCarrierToBackend(ctx context.Context) error {
	defer s.Close()

	for s.running.Load() {
		data, err := s.carrier.Receive(ctx)
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			return fmt.Errorf("bridge: carrier receive: %w", err)
		}

		evt, err := ParseStreamEvent(data)
		if err != nil {
			slog.Warn("bridge: dropping malformed carrier message", "call_id", s.callID, "err", err)
			s.recordTranscodeError(ctx, "carrier_to_backend")
			continue
		}

		switch evt.Type {
		case EventMedia:
			if err := s.forwardToBackend(ctx, evt.Payload); err != nil {
				if !s.running.Load() {
					return nil
				}
				return err
			}

		case EventStop:
			slog.Info("bridge: carrier stream stopped", "call_id", s.callID)
			return nil

		case EventStart:
			slog.Debug("bridge: duplicate start event", "call_id", s.callID)

		case EventDTMF:
			slog.Info("bridge: dtmf received", "call_id", s.callID, "digit", evt.Digit)

		default:
			slog.Debug("bridge: ignoring unknown carrier event", "call_id", s.callID, "event", evt.RawType)
		}
	}
	return nil
}

// forwardToBackend transcodes one μ-law chunk and sends it. Codec failures
// are frame-local (logged, dropped); only transport failures propagate.
func (s *Session) forwardToBackend(ctx context.Context, mulaw []byte) error {
	if len(mulaw) == 0 {
		return nil
	}

	pcm24 := s.up.Process(g711.Decode(mulaw))
	s.framesFromCarrier.Add(1)
	s.recordFrame(ctx, "carrier_to_backend")

	if !s.opusFramed {
		if !s.running.Load() {
			return nil
		}
		if err := s.backend.Send(ctx, audio.SamplesToBytes(pcm24)); err != nil {
			return fmt.Errorf("bridge: backend send: %w", err)
		}
		return nil
	}

	if err := s.enc.PushPCM(audio.SamplesToFloat32(pcm24)); err != nil {
		slog.Warn("bridge: dropping frame on encode failure", "call_id", s.callID, "err", err)
		s.recordTranscodeError(ctx, "carrier_to_backend")
		return nil
	}
	for {
		frame, ok := s.enc.PullFrame()
		if !ok {
			return nil
		}
		msg := make([]byte, 0, len(frame)+1)
		msg = append(msg, frameTypeAudio)
		msg = append(msg, frame...)

		if !s.running.Load() {
			return nil
		}
		if err := s.backend.Send(ctx, msg); err != nil {
			return fmt.Errorf("bridge: backend send: %w", err)
		}
	}
}

// pumpBackendToCarrier forwards backend audio to the carrier: (strip prefix +
// Opus decode | raw PCM) → downsample ÷3 → μ-law encode → playAudio envelope
// → send. A backend frame with an unknown type tag is a protocol violation
// and ends the session.
func (s *Session) pumpBackendToCarrier(ctx context.Context) error {
	defer s.Close()

	for s.running.Load() {
		data, err := s.backend.Receive(ctx)
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			return fmt.Errorf("bridge: backend receive: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		var pcm24 []int16
		if s.opusFramed {
			switch data[0] {
			case frameTypeControl:
				// Post-handshake control messages carry nothing the bridge
				// acts on.
				continue

			case frameTypeAudio:
				if err := s.dec.PushBytes(data[1:]); err != nil {
					slog.Warn("bridge: dropping frame on decode failure", "call_id", s.callID, "err", err)
					s.recordTranscodeError(ctx, "backend_to_carrier")
					continue
				}
				for {
					chunk, ok := s.dec.PullPCM()
					if !ok {
						break
					}
					pcm24 = append(pcm24, audio.Float32ToSamples(chunk)...)
				}

			default:
				return fmt.Errorf("bridge: unexpected backend frame type 0x%02x", data[0])
			}
		} else {
			pcm24 = audio.BytesToSamples(data)
		}
		if len(pcm24) == 0 {
			continue
		}

		s.framesFromBackend.Add(1)
		s.recordFrame(ctx, "backend_to_carrier")

		pcm8 := s.down.Process(pcm24)
		if len(pcm8) == 0 {
			continue
		}

		env, err := EncodePlayAudio(g711.Encode(pcm8))
		if err != nil {
			slog.Warn("bridge: dropping frame on envelope failure", "call_id", s.callID, "err", err)
			s.recordTranscodeError(ctx, "backend_to_carrier")
			continue
		}

		if !s.running.Load() {
			return nil
		}
		if err := s.carrier.Send(ctx, env); err != nil {
			if !s.running.Load() {
				return nil
			}
			return fmt.Errorf("bridge: carrier send: %w", err)
		}
	}
	return nil
}

func (s *Session) recordFrame(ctx context.Context, direction string) {
	s.metrics.FramesForwarded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

func (s *Session) recordTranscodeError(ctx context.Context, direction string) {
	s.metrics.TranscodeErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// firstBytes returns at most n leading bytes of b, for log-safe previews.
func firstBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
