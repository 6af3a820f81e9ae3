package connection

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testInitialDelay = 10 * time.Millisecond
	testMaxDelay     = 40 * time.Millisecond
	waitTimeout      = time.Second
)

func recordStates() (chan State, Option) {
	states := make(chan State, 32)
	return states, WithStateHandler(func(s State) { states <- s })
}

func recordFrames() (chan string, Option) {
	frames := make(chan string, 32)
	return frames, WithRawMessageHandler(func(raw string) { frames <- raw })
}

func waitForState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %s", want)
		}
	}
}

func TestOpen_TransitionsToOpen(t *testing.T) {
	conn := newMockConn()
	states, onState := recordStates()

	m := Open("ws://example/chat", WithDialer(newMockDialer(conn)), onState)
	defer m.Close()

	assert.Equal(t, StateConnecting, <-states)
	waitForState(t, states, StateOpen)
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, "ws://example/chat", m.URL())
}

func TestManager_Send_NotConnected(t *testing.T) {
	dialStarted := make(chan struct{})
	blocking := DialerFunc(func(ctx context.Context, url string) (Conn, error) {
		close(dialStarted)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	m := Open("ws://example/chat", WithDialer(blocking))
	<-dialStarted

	err := m.Send("hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.Equal(t, StateConnecting, m.State())

	require.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.State())
	assert.True(t, errors.Is(m.Send("hello"), ErrNotConnected))
}

func TestManager_Send(t *testing.T) {
	conn := newMockConn()
	states, onState := recordStates()

	m := Open("ws://example/chat", WithDialer(newMockDialer(conn)), onState)
	defer m.Close()
	waitForState(t, states, StateOpen)

	require.NoError(t, m.Send(`{"type":"message"}`))
	assert.Equal(t, []string{`{"type":"message"}`}, conn.getWritten())
}

func TestManager_DeliversFramesInOrder(t *testing.T) {
	conn := newMockConn()
	frames, onRaw := recordFrames()

	m := Open("ws://example/chat", WithDialer(newMockDialer(conn)), onRaw)
	defer m.Close()

	for _, raw := range []string{"1", "2", "3"} {
		conn.push(raw)
	}

	for _, want := range []string{"1", "2", "3"} {
		select {
		case got := <-frames:
			assert.Equal(t, want, got)
		case <-time.After(waitTimeout):
			t.Fatalf("timeout waiting for frame %s", want)
		}
	}
}

func TestManager_OnRawMessageReplacesHandler(t *testing.T) {
	conn := newMockConn()
	states, onState := recordStates()
	first, onRaw := recordFrames()

	m := Open("ws://example/chat", WithDialer(newMockDialer(conn)), onRaw, onState)
	defer m.Close()
	waitForState(t, states, StateOpen)

	second := make(chan string, 1)
	m.OnRawMessage(func(raw string) { second <- raw })
	conn.push("frame")

	select {
	case got := <-second:
		assert.Equal(t, "frame", got)
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for frame")
	}
	assert.Empty(t, first)
}

func TestManager_ReconnectResumesDelivery(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	states, onState := recordStates()
	frames, onRaw := recordFrames()

	m := Open("ws://example/chat",
		WithDialer(newMockDialer(first, second)),
		WithBackoff(testInitialDelay, testMaxDelay),
		onState, onRaw,
	)
	defer m.Close()
	waitForState(t, states, StateOpen)

	first.push("before")
	require.Equal(t, "before", <-frames)

	first.fail()
	assert.Equal(t, StateReconnecting, <-states)
	assert.Equal(t, StateConnecting, <-states)
	assert.Equal(t, StateOpen, <-states)

	second.push("after")
	select {
	case got := <-frames:
		assert.Equal(t, "after", got)
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for frame after reconnect")
	}
	assert.Empty(t, frames, "no duplicate delivery")

	require.NoError(t, m.Send("hello"))
	assert.Empty(t, first.getWritten())
	assert.Equal(t, []string{"hello"}, second.getWritten())

	m.mu.Lock()
	next := m.policy.Next()
	m.mu.Unlock()
	assert.Equal(t, testInitialDelay, next, "backoff resets once open again")
}

func TestManager_RetriesFailedDials(t *testing.T) {
	conn := newMockConn()
	dialer := newMockDialer(nil, nil, conn)
	states, onState := recordStates()

	m := Open("ws://example/chat",
		WithDialer(dialer),
		WithBackoff(testInitialDelay, testMaxDelay),
		onState,
	)
	defer m.Close()

	want := []State{
		StateConnecting, StateReconnecting,
		StateConnecting, StateReconnecting,
		StateConnecting, StateOpen,
	}
	for _, w := range want {
		select {
		case got := <-states:
			assert.Equal(t, w, got)
		case <-time.After(waitTimeout):
			t.Fatalf("timeout waiting for state %s", w)
		}
	}
	assert.Equal(t, 3, dialer.dialCount())
}

func TestManager_WriteFailureStartsReconnecting(t *testing.T) {
	conn := newMockConn()
	conn.writeErr = errors.New("broken pipe")
	states, onState := recordStates()

	m := Open("ws://example/chat",
		WithDialer(newMockDialer(conn)),
		WithBackoff(time.Hour, time.Hour),
		onState,
	)
	defer m.Close()
	waitForState(t, states, StateOpen)

	require.Error(t, m.Send("hello"))
	waitForState(t, states, StateReconnecting)
	assert.True(t, conn.isClosed())
	assert.True(t, errors.Is(m.Send("again"), ErrNotConnected))
}

func TestManager_Close(t *testing.T) {
	conn := newMockConn()
	states, onState := recordStates()
	frames, onRaw := recordFrames()

	m := Open("ws://example/chat", WithDialer(newMockDialer(conn)), onState, onRaw)
	waitForState(t, states, StateOpen)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, StateClosed, m.State())
	assert.True(t, conn.isClosed())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, states)
	assert.Empty(t, frames)
}

func TestManager_CloseCancelsReconnectTimer(t *testing.T) {
	dialer := newMockDialer()
	states, onState := recordStates()

	m := Open("ws://example/chat",
		WithDialer(dialer),
		WithBackoff(testInitialDelay, testMaxDelay),
		onState,
	)
	waitForState(t, states, StateReconnecting)

	require.NoError(t, m.Close())
	dials := dialer.dialCount()

	time.Sleep(5 * testMaxDelay)
	assert.Equal(t, dials, dialer.dialCount())
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_CloseFromCallback(t *testing.T) {
	conn := newMockConn()
	done := make(chan struct{})

	var m *Manager
	m = Open("ws://example/chat",
		WithDialer(newMockDialer(conn)),
		WithRawMessageHandler(func(string) {
			_ = m.Close()
			close(done)
		}),
	)
	conn.push("bye")

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Close from callback did not return")
	}
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_SendFromRawHandlerWhileWriteFails(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	first.writeErr = errors.New("broken pipe")
	states, onState := recordStates()
	replies := make(chan error, 4)

	var m *Manager
	m = Open("ws://example/chat",
		WithDialer(newMockDialer(first, second)),
		WithBackoff(testInitialDelay, testMaxDelay),
		onState,
		WithRawMessageHandler(func(string) {
			replies <- m.Send("reply")
		}),
	)
	defer m.Close()
	waitForState(t, states, StateOpen)

	first.push("ping")
	select {
	case err := <-replies:
		assert.Error(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Send from raw handler did not return")
	}

	waitForState(t, states, StateReconnecting)
	waitForState(t, states, StateOpen)

	second.push("ping")
	select {
	case err := <-replies:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Send from raw handler did not return after reconnect")
	}
	assert.Equal(t, []string{"reply"}, second.getWritten())
}

func TestManager_SendFromStateHandlerWhileWriteFails(t *testing.T) {
	first, second := newMockConn(), newMockConn()
	first.writeErr = errors.New("broken pipe")
	states := make(chan State, 32)
	sent := make(chan error, 4)
	release := make(chan struct{})

	dialer := newMockDialer(first, second)
	gated := DialerFunc(func(ctx context.Context, url string) (Conn, error) {
		<-release
		return dialer.Dial(ctx, url)
	})

	var m *Manager
	m = Open("ws://example/chat",
		WithDialer(gated),
		WithBackoff(testInitialDelay, testMaxDelay),
		WithStateHandler(func(s State) {
			states <- s
			if s == StateOpen {
				sent <- m.Send("hello")
			}
		}),
	)
	defer m.Close()
	close(release)

	select {
	case err := <-sent:
		assert.Error(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Send from state handler did not return")
	}
	select {
	case err := <-sent:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("manager did not reopen after a failed send")
	}

	assert.Equal(t, []string{"hello"}, second.getWritten())
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, 2, dialer.dialCount())
}

func TestManager_CloseDiscardsQueuedCallbacks(t *testing.T) {
	conn := newMockConn()
	frames := make(chan string, 4)

	var m *Manager
	m = Open("ws://example/chat",
		WithDialer(newMockDialer(conn)),
		WithRawMessageHandler(func(raw string) {
			frames <- raw
			if raw == "first" {
				_ = m.Close()
			}
		}),
	)
	conn.push("first")
	conn.push("second")

	// second is never delivered once Close ran inside the first callback
	require.Equal(t, "first", <-frames)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, frames)
	assert.Equal(t, StateClosed, m.State())
}

func TestReconnectPolicy(t *testing.T) {
	p := newReconnectPolicy(testInitialDelay, testMaxDelay)

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, p.Next())
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}, got)

	p.Reset()
	assert.Equal(t, testInitialDelay, p.Next())
}

func TestReconnectPolicy_CeilingBelowInitial(t *testing.T) {
	p := newReconnectPolicy(time.Second, time.Millisecond)
	assert.Equal(t, time.Second, p.Next())
	assert.Equal(t, time.Second, p.Next())
}
