package connection

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

var errDialRefused = errors.New("connection refused")

// mockConn is an in-memory Conn for testing.
type mockConn struct {
	readCh    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	writtenMu sync.Mutex
	written   [][]byte
	writeErr  error
}

func newMockConn() *mockConn {
	return &mockConn{
		readCh: make(chan []byte, 10),
		closed: make(chan struct{}),
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-m.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-m.readCh:
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return "mock"
}

// push queues an inbound frame.
func (m *mockConn) push(raw string) {
	m.readCh <- []byte(raw)
}

// fail simulates the peer going away.
func (m *mockConn) fail() {
	_ = m.Close()
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockConn) getWritten() []string {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	out := make([]string, len(m.written))
	for i, w := range m.written {
		out[i] = string(w)
	}
	return out
}

// mockDialer hands out queued connections; a nil entry is a failed dial.
// Once the queue is drained every dial fails.
type mockDialer struct {
	mu    sync.Mutex
	queue []*mockConn
	dials int
}

func newMockDialer(conns ...*mockConn) *mockDialer {
	return &mockDialer{queue: conns}
}

func (d *mockDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.queue) == 0 {
		return nil, errDialRefused
	}
	next := d.queue[0]
	d.queue = d.queue[1:]
	if next == nil {
		return nil, errDialRefused
	}
	return next, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Compile-time check that mockConn implements Conn
var _ Conn = (*mockConn)(nil)
