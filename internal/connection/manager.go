package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Send while the manager is not Open.
// Frames are never queued; callers decide whether to drop or retry.
var ErrNotConnected = errors.New("not connected")

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the default gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithBackoff sets the first reconnect delay and the ceiling delays grow to.
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(m *Manager) {
		m.policy = newReconnectPolicy(initial, ceiling)
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log.With().Str("component", "connection").Logger()
	}
}

// WithRawMessageHandler registers the inbound frame callback before dialing,
// so no frame can arrive unobserved.
func WithRawMessageHandler(fn func(raw string)) Option {
	return func(m *Manager) {
		m.onRaw = orNoopRaw(fn)
	}
}

// WithStateHandler registers the state change callback before dialing.
func WithStateHandler(fn func(State)) Option {
	return func(m *Manager) {
		m.onState = orNoopState(fn)
	}
}

// Manager keeps exactly one physical connection to an endpoint alive.
//
// State transitions: Connecting -> Open on a successful dial; Open ->
// Reconnecting on any read or write error; Connecting -> Reconnecting on a
// failed dial; Reconnecting -> Connecting when the backoff timer fires; any
// state -> Closed on Close. Callbacks are serialized and never run
// concurrently with each other.
type Manager struct {
	url    string
	dialer Dialer
	policy *reconnectPolicy
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	conn    Conn
	gen     uint64 // bumped whenever conn is dropped; stale goroutines compare against it
	timer   *time.Timer
	onRaw   func(string)
	onState func(State)

	writeMu sync.Mutex

	// callbacks run one at a time from queue; a notification raised inside a
	// callback is queued behind it
	queueMu  sync.Mutex
	queue    []func()
	draining bool
	closed   atomic.Bool
}

// Open returns a Manager in state Connecting and dials url in the background.
// It never blocks on the network.
func Open(url string, opts ...Option) *Manager {
	m := &Manager{
		url:     url,
		dialer:  NewWebSocketDialer(),
		policy:  newReconnectPolicy(DefaultInitialDelay, DefaultMaxDelay),
		log:     zerolog.Nop(),
		state:   StateConnecting,
		onRaw:   orNoopRaw(nil),
		onState: orNoopState(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.notifyState(StateConnecting)
	go m.connect(0)
	return m
}

// URL returns the endpoint the manager connects to.
func (m *Manager) URL() string {
	return m.url
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnRawMessage replaces the inbound frame callback.
func (m *Manager) OnRawMessage(fn func(raw string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRaw = orNoopRaw(fn)
}

// OnStateChange replaces the state change callback.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = orNoopState(fn)
}

// Send writes raw as one frame. It fails immediately with ErrNotConnected
// unless the manager is Open. A failed write drops the connection and starts
// reconnecting; the frame is not retried.
func (m *Manager) Send(raw string) error {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		state := m.state
		m.mu.Unlock()
		return errors.Wrapf(ErrNotConnected, "send in state %s", state)
	}
	conn, gen := m.conn, m.gen
	m.mu.Unlock()

	m.writeMu.Lock()
	err := conn.Write(m.ctx, []byte(raw))
	m.writeMu.Unlock()
	if err != nil {
		m.drop(gen, conn, err)
		return errors.Wrap(err, "send frame")
	}
	return nil
}

// Close moves the manager to Closed, closes the socket and cancels any
// pending dial or reconnect timer. It is idempotent and may be called from
// within a callback. Queued callbacks are discarded and none starts after
// Close returns, but one already running on another goroutine may still be
// finishing when Close returns.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	m.state = StateClosed
	m.stopTimerLocked()
	conn := m.conn
	m.conn = nil
	m.gen++
	m.mu.Unlock()

	m.cancel()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	m.queueMu.Lock()
	m.queue = nil
	m.queueMu.Unlock()

	m.log.Debug().Str("url", m.url).Msg("connection closed")
	return errors.Wrap(err, "close connection")
}

func (m *Manager) connect(gen uint64) {
	conn, err := m.dialer.Dial(m.ctx, m.url)

	m.mu.Lock()
	if m.closed.Load() || gen != m.gen {
		m.mu.Unlock()
		if err == nil && conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		delay := m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("url", m.url).Dur("retry_in", delay).Msg("dial failed")
		m.notifyState(StateReconnecting)
		return
	}
	m.conn = conn
	m.state = StateOpen
	m.policy.Reset()
	m.mu.Unlock()

	m.log.Info().Str("url", m.url).Str("remote", conn.RemoteAddr()).Msg("connected")
	m.notifyState(StateOpen)
	go m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.Read(m.ctx)
		if err != nil {
			m.drop(gen, conn, err)
			return
		}
		m.mu.Lock()
		fn := m.onRaw
		m.mu.Unlock()
		raw := string(data)
		m.deliver(func() { fn(raw) })
	}
}

// drop discards conn after a read or write failure and schedules a reconnect,
// unless conn is no longer the current connection.
func (m *Manager) drop(gen uint64, conn Conn, cause error) {
	m.mu.Lock()
	if m.closed.Load() || gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	delay := m.scheduleReconnectLocked()
	m.mu.Unlock()

	_ = conn.Close()
	m.log.Warn().Err(cause).Str("url", m.url).Dur("retry_in", delay).Msg("connection lost")
	m.notifyState(StateReconnecting)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if m.closed.Load() || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	m.connect(gen)
}

// scheduleReconnectLocked enters Reconnecting and arms the only reconnect timer.
func (m *Manager) scheduleReconnectLocked() time.Duration {
	m.stopTimerLocked()
	m.gen++
	gen := m.gen
	delay := m.policy.Next()
	m.state = StateReconnecting
	m.timer = time.AfterFunc(delay, func() {
		m.reconnect(gen)
	})
	return delay
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) notifyState(s State) {
	m.mu.Lock()
	fn := m.onState
	m.mu.Unlock()
	m.deliver(func() { fn(s) })
}

// deliver queues fn and drains the queue unless another call is already
// draining it. Callbacks therefore run one at a time in the order they were
// raised, and a callback that causes another notification (Send failing from
// inside a handler) does not wait on itself.
func (m *Manager) deliver(fn func()) {
	m.queueMu.Lock()
	m.queue = append(m.queue, fn)
	if m.draining {
		m.queueMu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.queueMu.Unlock()
		if !m.closed.Load() {
			next()
		}
		m.queueMu.Lock()
	}
	m.draining = false
	m.queueMu.Unlock()
}

func orNoopRaw(fn func(string)) func(string) {
	if fn == nil {
		return func(string) {}
	}
	return fn
}

func orNoopState(fn func(State)) func(State) {
	if fn == nil {
		return func(State) {}
	}
	return fn
}
