package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

func TestWebSocketManagerReconnects(t *testing.T) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := connections.Add(1)
		_, hello, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, append(hello, byte('0'+n)))
		if n == 1 {
			// drop the first connection to force a reconnect
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	messages := make(chan string, 4)
	mgr := NewWebSocketManager(WebSocketOptions{
		Venue:          "test",
		Stream:         "public",
		URL:            "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
		OnConnect: func(conn *websocket.Conn) error {
			return conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		},
		OnMessage: func(message []byte) { messages <- string(message) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	require.Equal(t, "hello1", waitString(t, messages))
	require.Equal(t, "hello2", waitString(t, messages))
	assert.Eventually(t, mgr.IsConnected, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	var states []types.ConnectionState
	for ev := range mgr.Events() {
		states = append(states, ev.State)
	}
	assert.Contains(t, states, types.ConnectionConnected)
	assert.Contains(t, states, types.ConnectionReconnecting)
	assert.Equal(t, types.ConnectionDisconnected, states[len(states)-1])
}

func waitString(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}
