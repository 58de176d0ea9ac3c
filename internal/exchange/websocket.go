package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// WebSocketOptions configures a WebSocketManager
type WebSocketOptions struct {
	Venue          string
	Stream         string // name used in connection events, e.g. "public" or "private"
	URL            string
	PingInterval   time.Duration
	PingMessage    []byte // text frame sent as application heartbeat; nil sends a protocol ping
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
	// OnConnect runs after every successful dial, before messages are read.
	// It authenticates and (re)subscribes.
	OnConnect func(conn *websocket.Conn) error
	OnMessage func(message []byte)
	Logger    *logger.Logger
}

// WebSocketManager keeps one stream connected, reconnecting with backoff and
// reporting every transition on Events.
type WebSocketManager struct {
	opts   WebSocketOptions
	events chan types.ConnectionEvent

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// NewWebSocketManager creates a manager; Run starts it.
func NewWebSocketManager(opts WebSocketOptions) *WebSocketManager {
	if opts.PingInterval == 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.MaxReconnect == 0 {
		opts.MaxReconnect = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &WebSocketManager{
		opts:   opts,
		events: make(chan types.ConnectionEvent, 16),
	}
}

// Events returns connection transitions. Closed when Run returns.
func (w *WebSocketManager) Events() <-chan types.ConnectionEvent {
	return w.events
}

// IsConnected reports whether the stream is currently up
func (w *WebSocketManager) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Run dials and reads until ctx is cancelled
func (w *WebSocketManager) Run(ctx context.Context) {
	defer close(w.events)

	delay := w.opts.ReconnectDelay
	for {
		err := w.connectAndRead(ctx)
		if ctx.Err() != nil {
			w.emit(types.ConnectionDisconnected, "shutdown")
			return
		}

		reason := "stream closed"
		if err != nil {
			reason = err.Error()
		}
		w.opts.Logger.LogWarning("WebSocket", "%s stream lost: %s, reconnecting in %s", w.opts.Stream, reason, delay)
		w.emit(types.ConnectionReconnecting, reason)

		select {
		case <-ctx.Done():
			w.emit(types.ConnectionDisconnected, "shutdown")
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.opts.MaxReconnect {
			delay = w.opts.MaxReconnect
		}
	}
}

func (w *WebSocketManager) connectAndRead(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, w.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.opts.URL, err)
	}
	defer conn.Close()

	if w.opts.OnConnect != nil {
		if err := w.opts.OnConnect(conn); err != nil {
			return fmt.Errorf("on connect: %w", err)
		}
	}

	w.setConn(conn, true)
	defer w.setConn(nil, false)
	w.emit(types.ConnectionConnected, "")

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.pingLoop(readCtx, conn)
	go func() {
		<-readCtx.Done()
		// unblocks ReadMessage on shutdown
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if w.opts.OnMessage != nil {
			w.opts.OnMessage(message)
		}
	}
}

func (w *WebSocketManager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			w.mu.Lock()
			if w.opts.PingMessage != nil {
				err = conn.WriteMessage(websocket.TextMessage, w.opts.PingMessage)
			} else {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			w.mu.Unlock()
			if err != nil {
				w.opts.Logger.LogWarning("WebSocket", "failed to send ping: %v", err)
				return
			}
		}
	}
}

// WriteJSON sends a message on the current connection
func (w *WebSocketManager) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ErrNotConnected
	}
	return w.conn.WriteJSON(v)
}

func (w *WebSocketManager) setConn(conn *websocket.Conn, connected bool) {
	w.mu.Lock()
	w.conn = conn
	w.connected = connected
	w.mu.Unlock()
}

func (w *WebSocketManager) emit(state types.ConnectionState, reason string) {
	ev := types.ConnectionEvent{
		Venue:     w.opts.Venue,
		Stream:    w.opts.Stream,
		State:     state,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	select {
	case w.events <- ev:
	default:
		// a slow consumer only misses intermediate transitions
	}
}
