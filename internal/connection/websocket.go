package connection

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// DefaultPongWait is the time allowed to read the next frame or pong.
	DefaultPongWait = 60 * time.Second

	// Largest inbound frame accepted.
	maxMessageSize = 64 << 10
)

// DialerOption configures a WebSocketDialer.
type DialerOption func(*WebSocketDialer)

// WithPongWait sets how long a connection may stay silent before Read fails.
// Pings are sent twice per wait.
func WithPongWait(d time.Duration) DialerOption {
	return func(w *WebSocketDialer) {
		if d > 0 {
			w.pongWait = d
		}
	}
}

// WebSocketDialer dials endpoints with gorilla/websocket.
type WebSocketDialer struct {
	dialer   *websocket.Dialer
	pongWait time.Duration
}

// NewWebSocketDialer returns a dialer backed by websocket.DefaultDialer.
func NewWebSocketDialer(opts ...DialerOption) *WebSocketDialer {
	d := &WebSocketDialer{dialer: websocket.DefaultDialer, pongWait: DefaultPongWait}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial implements Dialer. The returned connection pings the peer and fails
// reads once no frame or pong arrived within the pong wait.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	c := &wsConn{conn: conn, pongWait: d.pongWait, done: make(chan struct{})}
	conn.SetReadLimit(maxMessageSize)
	_ = c.extendDeadline()
	conn.SetPongHandler(func(string) error {
		return c.extendDeadline()
	})
	go c.pingLoop(d.pongWait / 2)
	return c, nil
}

// wsConn adapts *websocket.Conn to Conn. Writes must be serialized by the caller.
type wsConn struct {
	conn     *websocket.Conn
	pongWait time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) extendDeadline() error {
	return errors.Wrap(c.conn.SetReadDeadline(time.Now().Add(c.pongWait)), "set read deadline")
}

// pingLoop uses WriteControl, which gorilla allows concurrently with other writes.
func (c *wsConn) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Read skips non-text frames; the wire format is text only.
func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.extendDeadline()
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
