package bridge

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/pkg/transport"
)

// Handler accepts the carrier's inbound media WebSocket and runs one
// [Session] per connection, for the lifetime of the HTTP request.
type Handler struct {
	registry         *Registry
	dialBackend      BackendDialer
	opusFramed       bool
	handshakeTimeout time.Duration
	metrics          *observe.Metrics
}

// HandlerConfig carries the Handler's dependencies. Registry and DialBackend
// are required.
type HandlerConfig struct {
	Registry         *Registry
	DialBackend      BackendDialer
	OpusFramed       bool
	HandshakeTimeout time.Duration
	Metrics          *observe.Metrics
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Handler{
		registry:         cfg.Registry,
		dialBackend:      cfg.DialBackend,
		opusFramed:       cfg.OpusFramed,
		handshakeTimeout: cfg.HandshakeTimeout,
		metrics:          cfg.Metrics,
	}
}

// ServeHTTP upgrades the request, reads the first stream message to learn the
// call id, registers a session, and runs it to completion. The handler
// goroutine is the session's lifetime: when ServeHTTP returns, the call is
// fully torn down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("bridge: websocket accept failed", "err", err)
		return
	}
	conn := transport.NewTextConn(c)

	ctx := r.Context()

	// The first message establishes the session's identity. The carrier
	// sends a start event; anything else runs the call under "unknown".
	first, err := conn.Receive(ctx)
	if err != nil {
		slog.Warn("bridge: carrier stream ended before first message", "err", err)
		_ = conn.Close()
		return
	}

	callID := "unknown"
	if evt, perr := ParseStreamEvent(first); perr != nil {
		slog.Warn("bridge: malformed first carrier message", "err", perr)
	} else if evt.Type == EventStart && evt.CallID != "" {
		callID = evt.CallID
	} else {
		slog.Warn("bridge: stream did not open with a start event", "event", evt.RawType)
	}

	sess, err := NewSession(SessionConfig{
		CallID:           callID,
		Carrier:          conn,
		DialBackend:      h.dialBackend,
		OpusFramed:       h.opusFramed,
		HandshakeTimeout: h.handshakeTimeout,
		Registry:         h.registry,
		Metrics:          h.metrics,
	})
	if err != nil {
		slog.Error("bridge: create session failed", "call_id", callID, "err", err)
		_ = conn.Close()
		return
	}

	if err := h.registry.Register(callID, sess); err != nil {
		// Duplicate call id: the existing session keeps the id, this stream
		// is refused.
		_ = conn.Close()
		return
	}

	slog.Info("bridge: new call", "call_id", callID)
	// Run logs its own outcome; errors here are already recorded on the
	// session.
	_ = sess.Run(ctx)
}
