// Package mock provides a channel-backed in-memory implementation of the
// [transport.MessageConn] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every sent message so tests
// can assert on payloads, and exposes exported fields that control error
// returns.
//
// Typical usage:
//
//	conn := mock.NewConn(16)
//	conn.Incoming <- []byte(`{"event":"stop"}`) // deliver a message
//	got, err := conn.Receive(ctx)
//	conn.CloseIncoming()                        // simulate peer disconnect
package mock

import (
	"context"
	"sync"

	"github.com/trunkline/trunkline/pkg/transport"
)

// Compile-time assertion that Conn satisfies transport.MessageConn.
var _ transport.MessageConn = (*Conn)(nil)

// Conn is an in-memory [transport.MessageConn]. Feed inbound messages through
// Incoming; inspect outbound messages with [Conn.Sent].
type Conn struct {
	// Incoming delivers messages to Receive. Close it (via CloseIncoming) to
	// make Receive return an error, simulating a peer disconnect.
	Incoming chan []byte

	// SendErr, when non-nil, is returned by every Send call.
	SendErr error

	// CloseErr is returned by the first Close call.
	CloseErr error

	mu             sync.Mutex
	sent           [][]byte
	callCountClose int
	incomingClosed bool

	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn creates a Conn whose Incoming channel has the given buffer depth.
func NewConn(buf int) *Conn {
	return &Conn{
		Incoming: make(chan []byte, buf),
		closed:   make(chan struct{}),
	}
}

// Receive returns the next message from Incoming. It unblocks with an error
// when the context is cancelled, the connection is closed, or Incoming is
// closed.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, transport.ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, transport.ErrClosed
	case msg, ok := <-c.Incoming:
		if !ok {
			return nil, transport.ErrClosed
		}
		return msg, nil
	}
}

// Send records data. Returns SendErr if set, or [transport.ErrClosed] after
// Close.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if c.SendErr != nil {
		return c.SendErr
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	c.mu.Lock()
	c.sent = append(c.sent, cp)
	c.mu.Unlock()
	return nil
}

// Close marks the connection closed and unblocks pending Receives. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.mu.Lock()
	c.callCountClose++
	c.mu.Unlock()
	return c.CloseErr
}

// CloseIncoming closes the Incoming channel, simulating a graceful peer
// disconnect. Safe to call once.
func (c *Conn) CloseIncoming() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.incomingClosed {
		c.incomingClosed = true
		close(c.Incoming)
	}
}

// Sent returns a copy of all payloads passed to Send, in order.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// CallCountClose reports how many times Close was called.
func (c *Conn) CallCountClose() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCountClose
}
