// Package transport abstracts the two message-framed streaming connections a
// bridge session owns: the carrier's media stream and the speech backend's
// audio stream. The real implementation wraps WebSocket framing; tests use the
// channel-backed implementation in the mock subpackage.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Receive and Send after the connection has been
// closed locally.
var ErrClosed = errors.New("transport: connection closed")

// MessageConn is one bidirectional message-framed connection. Receive blocks
// until a whole message arrives, the context is cancelled, or the connection
// fails; closing the connection from another goroutine unblocks a pending
// Receive with an error.
//
// Implementations must allow one concurrent reader and one concurrent writer;
// Close may be called from any goroutine and must be idempotent.
type MessageConn interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	Close() error
}
