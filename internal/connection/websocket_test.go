package connection_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chatlink/internal/connection"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestWebSocketDialer_ReadWrite(t *testing.T) {
	received := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		_ = c.WriteMessage(websocket.BinaryMessage, []byte("ignored"))
		_ = c.WriteMessage(websocket.TextMessage, []byte("welcome"))

		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
		_, _, _ = c.ReadMessage()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := connection.NewWebSocketDialer().Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer conn.Close()

	assert.NotEmpty(t, conn.RemoteAddr())

	data, err := conn.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(data))

	require.NoError(t, conn.Write(context.Background(), []byte("hello")))
	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestWebSocketDialer_DialFailure(t *testing.T) {
	_, err := connection.NewWebSocketDialer().Dial(context.Background(), "ws://127.0.0.1:1/none")
	assert.Error(t, err)
}

func TestOpen_OverWebSocket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	frames := make(chan string, 1)
	opened := make(chan struct{}, 1)
	m := connection.Open("ws"+strings.TrimPrefix(server.URL, "http"),
		connection.WithRawMessageHandler(func(raw string) { frames <- raw }),
		connection.WithStateHandler(func(s connection.State) {
			if s == connection.StateOpen {
				opened <- struct{}{}
			}
		}),
	)
	defer m.Close()

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for open")
	}

	require.NoError(t, m.Send("echo"))
	select {
	case got := <-frames:
		assert.Equal(t, "echo", got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for echo")
	}
}

func TestWebSocketDialer_AnswersPings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// reading lets gorilla answer the client's pings
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	dialer := connection.NewWebSocketDialer(connection.WithPongWait(100 * time.Millisecond))
	conn, err := dialer.Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)
	defer conn.Close()

	read := make(chan error, 1)
	go func() {
		_, err := conn.Read(context.Background())
		read <- err
	}()

	select {
	case err := <-read:
		t.Fatalf("read failed on a live peer: %v", err)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestOpen_SilentPeerTriggersReconnect(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// never read, so pings go unanswered
		<-release
	}))
	defer server.Close()
	defer close(release)

	states := make(chan connection.State, 16)
	m := connection.Open("ws"+strings.TrimPrefix(server.URL, "http"),
		connection.WithDialer(connection.NewWebSocketDialer(connection.WithPongWait(50*time.Millisecond))),
		connection.WithBackoff(time.Hour, time.Hour),
		connection.WithStateHandler(func(s connection.State) { states <- s }),
	)
	defer m.Close()

	want := []connection.State{connection.StateConnecting, connection.StateOpen, connection.StateReconnecting}
	for _, w := range want {
		select {
		case got := <-states:
			assert.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for state %s", w)
		}
	}
}
