package relay

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// ErrFrameTooLarge is returned by Read for frames over the size limit.
var ErrFrameTooLarge = errors.New("frame too large")

// Conn is the server side of one subscriber connection, framed with gobwas/ws.
// Every frame written, including pong and close replies to client control
// frames, goes out under one lock.
type Conn struct {
	conn     net.Conn
	pongWait time.Duration
	reader   *wsutil.Reader
	mu       sync.Mutex
}

// NewConn wraps an upgraded connection. Read fails once nothing arrived from
// the client for pongWait; zero disables the deadline.
func NewConn(conn net.Conn, pongWait time.Duration) *Conn {
	c := &Conn{conn: conn, pongWait: pongWait}
	control := c.lockedControlHandler()
	c.reader = &wsutil.Reader{
		Source:         conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	return c
}

func (c *Conn) lockedControlHandler() wsutil.FrameHandlerFunc {
	handle := wsutil.ControlFrameHandler(c.conn, ws.StateServerSide)
	return func(h ws.Header, r io.Reader) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return handle(h, r)
	}
}

// Read returns the next text message from the client. Control frames are
// answered; binary messages are skipped. Must be called from one goroutine.
func (c *Conn) Read() ([]byte, error) {
	control := c.reader.OnIntermediate
	for {
		if c.pongWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		}
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, c.reader); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		data, err := io.ReadAll(io.LimitReader(c.reader, maxMessageSize+1))
		if err != nil {
			return nil, err
		}
		if len(data) > maxMessageSize {
			return nil, ErrFrameTooLarge
		}
		return data, nil
	}
}

// Write sends a text frame to the client.
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerText(c.conn, data)
}

// Ping sends a ping frame; the client's pong extends the read deadline.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(c.conn, ws.OpPing, nil)
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
	return c.conn.Close()
}

// RemoteAddr returns the client address for logging.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
