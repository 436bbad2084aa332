package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
)

// Compile-time assertion that WSConn satisfies MessageConn.
var _ MessageConn = (*WSConn)(nil)

// WSConn adapts a [websocket.Conn] to the [MessageConn] interface. Outbound
// messages are written with the frame type fixed at construction: the carrier
// stream carries JSON text frames, the backend stream carries binary frames.
type WSConn struct {
	conn    *websocket.Conn
	msgType websocket.MessageType

	closeOnce sync.Once
	closeErr  error
}

// NewTextConn wraps conn for a JSON text-framed stream.
func NewTextConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn, msgType: websocket.MessageText}
}

// NewBinaryConn wraps conn for a binary-framed stream.
func NewBinaryConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn, msgType: websocket.MessageBinary}
}

// Receive reads the next whole message, regardless of its frame type.
func (c *WSConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return data, nil
}

// Send writes data as one message using the connection's frame type.
func (c *WSConn) Send(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, c.msgType, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close performs a normal WebSocket closure. Idempotent; a pending Receive on
// another goroutine unblocks with an error.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return c.closeErr
}

// DialBackend opens the binary-framed connection to the speech backend. voice
// selects the backend's voice/persona via a query parameter and may be empty.
func DialBackend(ctx context.Context, baseURL, voice string) (*WSConn, error) {
	wsURL := baseURL
	if voice != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("transport: parse backend url %q: %w", baseURL, err)
		}
		q := u.Query()
		q.Set("voice", voice)
		u.RawQuery = q.Encode()
		wsURL = u.String()
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{},
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial backend: %w", err)
	}
	// The backend can burst large PCM messages.
	conn.SetReadLimit(1 << 20)

	return NewBinaryConn(conn), nil
}
