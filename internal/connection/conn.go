// Package connection owns the single live socket between a chat client and a
// channel endpoint, reconnecting with backoff when it drops.
package connection

import "context"

// Conn abstracts one physical bidirectional connection.
// This interface isolates transport details from the reconnect logic.
type Conn interface {
	// Read blocks until the next text frame arrives.
	// It returns an error once the connection is closed or broken.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single text frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection and unblocks pending reads.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens physical connections to an endpoint URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}
