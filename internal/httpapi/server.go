// Package httpapi wires Trunkline's HTTP surface: the carrier-facing answer
// document and media WebSocket, the operator-facing call origination API, and
// the usual health and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trunkline/trunkline/internal/bridge"
	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/dialer"
	"github.com/trunkline/trunkline/internal/health"
	"github.com/trunkline/trunkline/internal/observe"
)

// maxLeadUpload bounds the size of an uploaded CSV lead file.
const maxLeadUpload = 4 << 20

// Server owns the HTTP routes. Construct with [New], mount with
// [Server.Routes].
type Server struct {
	cfg      *config.Config
	registry *bridge.Registry
	stream   http.Handler
	dialer   *dialer.Client
	metrics  *observe.Metrics
}

// New creates a Server. stream is the carrier media WebSocket handler; dial
// may be nil when carrier credentials are not configured, which disables the
// origination endpoints with a 503.
func New(cfg *config.Config, registry *bridge.Registry, stream http.Handler, dial *dialer.Client) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		stream:   stream,
		dialer:   dial,
		metrics:  observe.DefaultMetrics(),
	}
}

// Routes returns the fully assembled handler, all routes behind the
// observability middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Carrier-facing.
	mux.Handle("/stream", s.stream)
	mux.HandleFunc("GET /answer", s.handleAnswer)
	mux.HandleFunc("POST /answer", s.handleAnswer)

	// Operator-facing.
	mux.HandleFunc("POST /call", s.handleCall)
	mux.HandleFunc("POST /batch-call", s.handleBatchCall)
	mux.HandleFunc("POST /upload-leads", s.handleUploadLeads)
	mux.HandleFunc("GET /calls", s.handleCallLog)
	mux.HandleFunc("GET /bridge/calls", s.handleActiveCalls)

	// Probes and metrics.
	health.New(health.Checker{
		Name:  "registry",
		Check: s.checkRegistry,
	}).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// StreamURL returns the public wss:// endpoint the carrier's media stream
// should connect to.
func (s *Server) StreamURL() string {
	return fmt.Sprintf("wss://%s/stream", s.cfg.Server.PublicHost)
}

// AnswerURL returns the public answer-document endpoint handed to the carrier
// when placing calls.
func (s *Server) AnswerURL() string {
	return fmt.Sprintf("https://%s/answer", s.cfg.Server.PublicHost)
}

// handleAnswer serves the carrier answer document that starts bidirectional
// streaming to the bridge.
func (s *Server) handleAnswer(w http.ResponseWriter, _ *http.Request) {
	body, err := dialer.AnswerXML(s.StreamURL())
	if err != nil {
		slog.Error("httpapi: render answer document", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(body)
}

type callRequest struct {
	Phone string `json:"phone"`
}

type batchCallRequest struct {
	Phones       []string `json:"phones"`
	DelaySeconds float64  `json:"delay_seconds"`
}

// handleCall places a single outbound call.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if s.dialer == nil {
		http.Error(w, "call origination is not configured", http.StatusServiceUnavailable)
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		http.Error(w, "body must be JSON with a phone field", http.StatusBadRequest)
		return
	}

	rec, err := s.dialer.PlaceCall(r.Context(), req.Phone)
	if err != nil {
		slog.Error("httpapi: place call", "to", req.Phone, "err", err)
		writeJSON(w, http.StatusBadGateway, rec)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleBatchCall places calls to a list of numbers sequentially with pacing.
// The batch runs in the request goroutine, mirroring the pacing semantics of
// a single operator-driven campaign.
func (s *Server) handleBatchCall(w http.ResponseWriter, r *http.Request) {
	if s.dialer == nil {
		http.Error(w, "call origination is not configured", http.StatusServiceUnavailable)
		return
	}

	var req batchCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Phones) == 0 {
		http.Error(w, "body must be JSON with a non-empty phones list", http.StatusBadRequest)
		return
	}

	delay := s.cfg.Dialer.CallDelay
	if req.DelaySeconds > 0 {
		delay = secondsToDuration(req.DelaySeconds)
	}

	records := s.dialer.CallBatch(r.Context(), req.Phones, delay)
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(records),
		"results": records,
	})
}

// handleUploadLeads accepts a CSV file with a phone column and starts calling
// the leads in the background.
func (s *Server) handleUploadLeads(w http.ResponseWriter, r *http.Request) {
	if s.dialer == nil {
		http.Error(w, "call origination is not configured", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseMultipartForm(maxLeadUpload); err != nil {
		http.Error(w, "expected multipart form upload", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	phones, err := dialer.ParseLeads(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("httpapi: leads uploaded, starting batch", "count", len(phones))

	// The batch outlives the upload request; it stops with process shutdown.
	go s.dialer.CallBatch(context.WithoutCancel(r.Context()), phones, s.cfg.Dialer.CallDelay)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": fmt.Sprintf("calling %d leads", len(phones)),
		"phones":  phones,
	})
}

// handleCallLog returns the dialer's in-memory call log.
func (s *Server) handleCallLog(w http.ResponseWriter, _ *http.Request) {
	if s.dialer == nil {
		writeJSON(w, http.StatusOK, map[string]any{"total": 0, "calls": []dialer.CallRecord{}})
		return
	}
	log := s.dialer.Log()
	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(log),
		"calls": log,
	})
}

// handleActiveCalls lists the call ids of live bridge sessions.
func (s *Server) handleActiveCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"calls": s.registry.ActiveIDs(),
	})
}

func (s *Server) checkRegistry(_ context.Context) error {
	if s.registry == nil {
		return fmt.Errorf("registry not initialised")
	}
	return nil
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
