package bridge_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/trunkline/trunkline/internal/bridge"
	"github.com/trunkline/trunkline/pkg/audio"
	"github.com/trunkline/trunkline/pkg/transport"
	"github.com/trunkline/trunkline/pkg/transport/mock"
)

// mediaEvent builds a carrier media message wrapping the given μ-law bytes.
func mediaEvent(mulaw []byte) []byte {
	return []byte(`{"event":"media","media":{"payload":"` +
		base64.StdEncoding.EncodeToString(mulaw) + `"}}`)
}

var stopEvent = []byte(`{"event":"stop"}`)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// dialTo returns a BackendDialer handing out the given connection.
func dialTo(conn transport.MessageConn) bridge.BackendDialer {
	return func(context.Context) (transport.MessageConn, error) {
		return conn, nil
	}
}

func newRawSession(t *testing.T, carrier, backend *mock.Conn, reg *bridge.Registry) *bridge.Session {
	t.Helper()
	sess, err := bridge.NewSession(bridge.SessionConfig{
		CallID:      "abc123",
		Carrier:     carrier,
		DialBackend: dialTo(backend),
		Registry:    reg,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := reg.Register(sess.CallID(), sess); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return sess
}

func TestSession_EndToEndRawPCM(t *testing.T) {
	carrier := mock.NewConn(16)
	backend := mock.NewConn(16)
	reg := bridge.NewRegistry()
	sess := newRawSession(t, carrier, backend, reg)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	// One 20 ms carrier chunk: 160 μ-law bytes at 8 kHz.
	carrier.Incoming <- mediaEvent(make([]byte, 160))

	// The backend must receive it upsampled: 480 samples of 16-bit PCM.
	waitFor(t, "backend audio", func() bool { return len(backend.Sent()) >= 1 })
	if got := len(backend.Sent()[0]); got != 960 {
		t.Errorf("backend message: got %d bytes, want 960", got)
	}

	// Backend replies with 480 samples of wideband PCM; the carrier must see
	// a playAudio envelope holding 160 μ-law bytes.
	backend.Incoming <- audio.SamplesToBytes(make([]int16, 480))
	waitFor(t, "carrier audio", func() bool { return len(carrier.Sent()) >= 1 })

	var env struct {
		Event string `json:"event"`
		Media struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(carrier.Sent()[0], &env); err != nil {
		t.Fatalf("carrier message is not a JSON envelope: %v", err)
	}
	if env.Event != "playAudio" {
		t.Errorf("event: got %q, want playAudio", env.Event)
	}
	payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	if len(payload) != 160 {
		t.Errorf("payload: got %d μ-law bytes, want 160", len(payload))
	}

	// Graceful stop from the carrier tears everything down.
	carrier.Incoming <- stopEvent
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sess.State() != bridge.StateClosed {
		t.Errorf("state: got %v, want closed", sess.State())
	}
	if reg.Lookup("abc123") != nil {
		t.Error("session still registered after teardown")
	}
	if carrier.CallCountClose() != 1 || backend.CallCountClose() != 1 {
		t.Errorf("close counts: carrier %d backend %d, want 1 each",
			carrier.CallCountClose(), backend.CallCountClose())
	}

	in, out := sess.FrameCounts()
	if in != 1 || out != 1 {
		t.Errorf("frame counts: got %d/%d, want 1/1", in, out)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	carrier := mock.NewConn(1)
	backend := mock.NewConn(1)
	reg := bridge.NewRegistry()
	sess := newRawSession(t, carrier, backend, reg)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	waitFor(t, "session active", func() bool { return sess.State() == bridge.StateActive })

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run after Close: %v", err)
	}

	// Repeated Close must not close the transports again.
	if carrier.CallCountClose() != 1 {
		t.Errorf("carrier closed %d times, want 1", carrier.CallCountClose())
	}
	if backend.CallCountClose() != 1 {
		t.Errorf("backend closed %d times, want 1", backend.CallCountClose())
	}
	if reg.Len() != 0 {
		t.Errorf("registry still holds %d sessions", reg.Len())
	}
}

func TestSession_MalformedCarrierFramesDropped(t *testing.T) {
	carrier := mock.NewConn(16)
	backend := mock.NewConn(16)
	reg := bridge.NewRegistry()
	sess := newRawSession(t, carrier, backend, reg)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	carrier.Incoming <- []byte(`not even json`)
	carrier.Incoming <- []byte(`{"event":"media"}`)
	carrier.Incoming <- mediaEvent(make([]byte, 80))
	waitFor(t, "backend audio", func() bool { return len(backend.Sent()) >= 1 })

	carrier.Incoming <- stopEvent
	if err := <-done; err != nil {
		t.Fatalf("Run: malformed frames must not kill the session: %v", err)
	}
	if len(backend.Sent()) != 1 {
		t.Errorf("backend received %d messages, want 1", len(backend.Sent()))
	}
}

func TestSession_BackendDisconnectEndsSession(t *testing.T) {
	carrier := mock.NewConn(16)
	backend := mock.NewConn(16)
	reg := bridge.NewRegistry()
	sess := newRawSession(t, carrier, backend, reg)

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	waitFor(t, "session active", func() bool { return sess.State() == bridge.StateActive })

	backend.CloseIncoming()

	err := <-done
	if err == nil {
		t.Fatal("expected an error when the backend drops mid-call")
	}
	if sess.State() != bridge.StateClosed {
		t.Errorf("state: got %v, want closed", sess.State())
	}
	if reg.Len() != 0 {
		t.Error("session still registered after backend disconnect")
	}
	if carrier.CallCountClose() != 1 {
		t.Errorf("carrier closed %d times, want 1", carrier.CallCountClose())
	}
}

func TestSession_BackendDialFailure(t *testing.T) {
	carrier := mock.NewConn(1)
	reg := bridge.NewRegistry()
	sess, err := bridge.NewSession(bridge.SessionConfig{
		CallID:  "abc123",
		Carrier: carrier,
		DialBackend: func(context.Context) (transport.MessageConn, error) {
			return nil, errors.New("connection refused")
		},
		Registry: reg,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := sess.Run(context.Background()); err == nil {
		t.Fatal("expected Run to fail when the backend is unreachable")
	}
	if sess.State() != bridge.StateClosed {
		t.Errorf("state: got %v, want closed", sess.State())
	}
	if carrier.CallCountClose() != 1 {
		t.Errorf("carrier closed %d times, want 1", carrier.CallCountClose())
	}
}

func TestSession_HandshakeViolationIsFatal(t *testing.T) {
	carrier := mock.NewConn(16)
	backend := mock.NewConn(16)
	reg := bridge.NewRegistry()
	sess, err := bridge.NewSession(bridge.SessionConfig{
		CallID:      "abc123",
		Carrier:     carrier,
		DialBackend: dialTo(backend),
		OpusFramed:  true,
		Registry:    reg,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// Audio before the ready byte violates the protocol.
	backend.Incoming <- []byte{0x01, 0xAA, 0xBB}

	err = sess.Run(context.Background())
	if !errors.Is(err, bridge.ErrHandshake) {
		t.Fatalf("Run: got %v, want ErrHandshake", err)
	}
	if sess.State() != bridge.StateClosed {
		t.Errorf("state: got %v, want closed", sess.State())
	}
}

func TestSession_HandshakeTimeout(t *testing.T) {
	carrier := mock.NewConn(1)
	backend := mock.NewConn(1) // never sends the ready byte
	reg := bridge.NewRegistry()
	sess, err := bridge.NewSession(bridge.SessionConfig{
		CallID:           "abc123",
		Carrier:          carrier,
		DialBackend:      dialTo(backend),
		OpusFramed:       true,
		HandshakeTimeout: 50 * time.Millisecond,
		Registry:         reg,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	start := time.Now()
	if err := sess.Run(context.Background()); err == nil {
		t.Fatal("expected a handshake timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("handshake wait took %v, timeout not applied", elapsed)
	}
}

func TestSession_UnknownBackendFrameTypeIsFatal(t *testing.T) {
	carrier := mock.NewConn(16)
	backend := mock.NewConn(16)
	reg := bridge.NewRegistry()
	sess, err := bridge.NewSession(bridge.SessionConfig{
		CallID:      "abc123",
		Carrier:     carrier,
		DialBackend: dialTo(backend),
		OpusFramed:  true,
		Registry:    reg,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	backend.Incoming <- []byte{0x00}       // ready byte
	backend.Incoming <- []byte{0x02, 0x01} // unknown frame type

	err = sess.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "frame type") {
		t.Fatalf("Run: got %v, want unexpected frame type error", err)
	}
}

func TestNewSession_MissingDependencies(t *testing.T) {
	_, err := bridge.NewSession(bridge.SessionConfig{})
	if err == nil {
		t.Fatal("expected an error for an empty config")
	}
}
