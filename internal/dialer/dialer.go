// Package dialer originates outbound calls through the telephony carrier's
// REST API and tracks their outcomes in an in-memory call log.
//
// The dialer only places calls; once a lead answers, the carrier fetches the
// answer document and opens the media WebSocket, and the bridge takes over.
// No call state is persisted — the log lives for the process lifetime.
package dialer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/observe"
)

// defaultBaseURL is the carrier's REST endpoint.
const defaultBaseURL = "https://api.plivo.com"

// defaultTimeout bounds one REST call.
const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithBaseURL overrides the carrier API base URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// Client places outbound calls against the carrier REST API.
// All exported methods are safe for concurrent use.
type Client struct {
	httpc      *http.Client
	authID     string
	authToken  string
	fromNumber string
	baseURL    string
	answerURL  string
	metrics    *observe.Metrics

	mu  sync.Mutex
	log []CallRecord
}

// New creates a Client from the carrier configuration. answerURL is the
// public endpoint the carrier fetches when a lead picks up.
func New(carrier config.CarrierConfig, answerURL string, opts ...Option) (*Client, error) {
	if carrier.AuthID == "" || carrier.AuthToken == "" {
		return nil, fmt.Errorf("dialer: carrier credentials are required")
	}
	if carrier.FromNumber == "" {
		return nil, fmt.Errorf("dialer: carrier from_number is required")
	}

	c := &Client{
		httpc:      &http.Client{Timeout: defaultTimeout},
		authID:     carrier.AuthID,
		authToken:  carrier.AuthToken,
		fromNumber: carrier.FromNumber,
		baseURL:    defaultBaseURL,
		answerURL:  answerURL,
		metrics:    observe.DefaultMetrics(),
	}
	if carrier.APIBaseURL != "" {
		c.baseURL = strings.TrimRight(carrier.APIBaseURL, "/")
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CallRecord is one entry of the in-memory call log.
type CallRecord struct {
	Phone    string    `json:"phone"`
	CallUUID string    `json:"call_uuid,omitempty"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	PlacedAt time.Time `json:"placed_at"`
}

// createCallRequest is the carrier API body for originating a call.
type createCallRequest struct {
	From         string `json:"from"`
	To           string `json:"to"`
	AnswerURL    string `json:"answer_url"`
	AnswerMethod string `json:"answer_method"`
}

// createCallResponse is the carrier API response for a placed call.
type createCallResponse struct {
	RequestUUID string `json:"request_uuid"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// PlaceCall originates one outbound call to the given E.164 number. The
// returned record is also appended to the call log, success or failure.
func (c *Client) PlaceCall(ctx context.Context, to string) (CallRecord, error) {
	rec := CallRecord{
		Phone:    to,
		Status:   "initiated",
		PlacedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(createCallRequest{
		From:         c.fromNumber,
		To:           to,
		AnswerURL:    c.answerURL,
		AnswerMethod: http.MethodPost,
	})
	if err != nil {
		return CallRecord{}, fmt.Errorf("dialer: marshal call request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/Account/%s/Call/", c.baseURL, c.authID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CallRecord{}, fmt.Errorf("dialer: build call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.authID, c.authToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.recordFailure(ctx, &rec, err)
		return rec, fmt.Errorf("dialer: place call to %s: %w", to, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.recordFailure(ctx, &rec, err)
		return rec, fmt.Errorf("dialer: read call response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("dialer: carrier returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
		c.recordFailure(ctx, &rec, err)
		return rec, err
	}

	var cr createCallResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		c.recordFailure(ctx, &rec, err)
		return rec, fmt.Errorf("dialer: decode call response: %w", err)
	}

	rec.CallUUID = cr.RequestUUID
	c.appendLog(rec)
	c.metrics.RecordCallPlaced(ctx, "initiated")

	slog.Info("dialer: call initiated", "to", to, "call_uuid", cr.RequestUUID)
	return rec, nil
}

// CallBatch places calls to each number sequentially, pausing delay between
// calls. Individual failures are recorded and skipped; the batch stops early
// only when ctx is cancelled.
func (c *Client) CallBatch(ctx context.Context, phones []string, delay time.Duration) []CallRecord {
	records := make([]CallRecord, 0, len(phones))
	for i, phone := range phones {
		rec, err := c.PlaceCall(ctx, phone)
		if err != nil {
			slog.Error("dialer: batch call failed", "to", phone, "err", err)
		}
		records = append(records, rec)

		if i == len(phones)-1 {
			break
		}
		select {
		case <-ctx.Done():
			slog.Info("dialer: batch cancelled", "placed", len(records), "total", len(phones))
			return records
		case <-time.After(delay):
		}
	}
	return records
}

// Log returns a snapshot of the call log, oldest first.
func (c *Client) Log() []CallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CallRecord, len(c.log))
	copy(out, c.log)
	return out
}

func (c *Client) appendLog(rec CallRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, rec)
}

func (c *Client) recordFailure(ctx context.Context, rec *CallRecord, err error) {
	rec.Status = "failed"
	rec.Error = err.Error()
	c.appendLog(*rec)
	c.metrics.RecordCallPlaced(ctx, "failed")
}
