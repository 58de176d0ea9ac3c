package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

const venueName = "bybit"

var pingMessage = []byte(`{"op":"ping"}`)

// Stream consumes the public ticker and private execution/order topics and
// converts them to venue-neutral messages.
type Stream struct {
	client *Client
	logger *logger.Logger

	executions chan types.ExecutionReport
	ticks      chan types.MarketTick
	events     chan types.ConnectionEvent

	mu      sync.Mutex
	tickers map[string]types.MarketTick
	public  *exchange.WebSocketManager
	private *exchange.WebSocketManager
	ctx     context.Context
}

// NewStream creates a stream for the client's category and credentials
func NewStream(client *Client, log *logger.Logger) *Stream {
	if log == nil {
		log = logger.NewNop()
	}
	return &Stream{
		client:     client,
		logger:     log,
		executions: make(chan types.ExecutionReport, 1024),
		ticks:      make(chan types.MarketTick, 1024),
		events:     make(chan types.ConnectionEvent, 32),
		tickers:    make(map[string]types.MarketTick),
	}
}

// Subscription returns the stream channels
func (s *Stream) Subscription() *exchange.Subscription {
	return &exchange.Subscription{Executions: s.executions, Ticks: s.ticks, Events: s.events}
}

// IsConnected reports whether both sockets are up
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.public != nil && s.public.IsConnected() && s.private != nil && s.private.IsConnected()
}

// Start launches both sockets; channels close once ctx is done and both have stopped
func (s *Stream) Start(ctx context.Context, symbols []string) {
	topics := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		topics = append(topics, "tickers."+strings.ToUpper(sym))
	}

	public := exchange.NewWebSocketManager(exchange.WebSocketOptions{
		Venue:       venueName,
		Stream:      "public",
		URL:         s.client.PublicStreamURL(),
		PingMessage: pingMessage,
		Logger:      s.logger,
		OnConnect: func(conn *websocket.Conn) error {
			if len(topics) == 0 {
				return nil
			}
			return conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": topics})
		},
		OnMessage: s.handlePublic,
	})

	private := exchange.NewWebSocketManager(exchange.WebSocketOptions{
		Venue:       venueName,
		Stream:      "private",
		URL:         s.client.PrivateStreamURL(),
		PingMessage: pingMessage,
		Logger:      s.logger,
		OnConnect: func(conn *websocket.Conn) error {
			if err := conn.WriteJSON(map[string]interface{}{
				"op":   "auth",
				"args": authArgs(s.client.apiKey, s.client.apiSecret, time.Now()),
			}); err != nil {
				return err
			}
			return conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": []string{"execution", "order"}})
		},
		OnMessage: s.handlePrivate,
	})

	s.mu.Lock()
	s.public, s.private, s.ctx = public, private, ctx
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, mgr := range []*exchange.WebSocketManager{public, private} {
		mgr := mgr
		wg.Add(2)
		go func() {
			defer wg.Done()
			mgr.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			for ev := range mgr.Events() {
				select {
				case s.events <- ev:
				default:
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(s.executions)
		close(s.ticks)
		close(s.events)
	}()
}

// authArgs builds the private stream auth arguments: key, expiry, signature
func authArgs(apiKey, apiSecret string, now time.Time) []interface{} {
	expires := now.Add(10 * time.Second).UnixMilli()
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(fmt.Sprintf("GET/realtime%d", expires)))
	return []interface{}{apiKey, expires, hex.EncodeToString(mac.Sum(nil))}
}

func (s *Stream) handlePublic(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.LogWarning("Bybit stream", "bad public message: %v", err)
		return
	}
	if !strings.HasPrefix(env.Topic, "tickers.") {
		s.logControl(env)
		return
	}

	var t wsTicker
	if err := json.Unmarshal(env.Data, &t); err != nil {
		s.logger.LogWarning("Bybit stream", "bad ticker payload: %v", err)
		return
	}
	tick, ok := s.mergeTicker(t, time.UnixMilli(env.Ts).UTC())
	if !ok {
		return
	}

	select {
	case s.ticks <- tick:
	default:
		// ticks are superseded by the next one; never block the reader
	}
}

// mergeTicker applies a snapshot or delta onto the last known ticker
func (s *Stream) mergeTicker(t wsTicker, ts time.Time) (types.MarketTick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.tickers[t.Symbol]
	cur.Symbol = t.Symbol
	if v := parseDecimal(t.LastPrice); v.IsPositive() {
		cur.Last = v.InexactFloat64()
	}
	if v := parseDecimal(t.Bid1Price); v.IsPositive() {
		cur.Bid = v.InexactFloat64()
	}
	if v := parseDecimal(t.Ask1Price); v.IsPositive() {
		cur.Ask = v.InexactFloat64()
	}
	if v := parseDecimal(t.Volume24h); v.IsPositive() {
		cur.Volume = v.InexactFloat64()
	}
	cur.Timestamp = ts
	s.tickers[t.Symbol] = cur
	return cur, cur.Price() > 0
}

func (s *Stream) handlePrivate(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.LogWarning("Bybit stream", "bad private message: %v", err)
		return
	}

	switch env.Topic {
	case "execution":
		var execs []wsExecution
		if err := json.Unmarshal(env.Data, &execs); err != nil {
			s.logger.LogWarning("Bybit stream", "bad execution payload: %v", err)
			return
		}
		for _, e := range execs {
			if report, ok := executionToReport(e); ok {
				s.deliver(report)
			}
		}
	case "order":
		var orders []wsOrder
		if err := json.Unmarshal(env.Data, &orders); err != nil {
			s.logger.LogWarning("Bybit stream", "bad order payload: %v", err)
			return
		}
		for _, o := range orders {
			if report, ok := orderToReport(o); ok {
				s.deliver(report)
			}
		}
	default:
		s.logControl(env)
	}
}

// deliver blocks: execution reports must not be dropped
func (s *Stream) deliver(report types.ExecutionReport) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case s.executions <- report:
	case <-ctx.Done():
	}
}

func (s *Stream) logControl(env wsEnvelope) {
	if env.Success != nil && !*env.Success {
		s.logger.LogWarning("Bybit stream", "%s failed: %s", env.Op, env.RetMsg)
	}
}

func executionToReport(e wsExecution) (types.ExecutionReport, bool) {
	if e.ExecType != "" && e.ExecType != "Trade" {
		return types.ExecutionReport{}, false
	}
	qty := parseDecimal(e.ExecQty)
	if !qty.IsPositive() {
		return types.ExecutionReport{}, false
	}

	status := types.ExecStatusPartiallyFilled
	if parseDecimal(e.LeavesQty).IsZero() {
		status = types.ExecStatusFilled
	}

	return types.ExecutionReport{
		OrderID:      e.OrderLinkID,
		VenueOrderID: e.OrderID,
		FillID:       e.ExecID,
		Symbol:       e.Symbol,
		Side:         convertSide(e.Side),
		Quantity:     qty.InexactFloat64(),
		Price:        parseDecimal(e.ExecPrice).InexactFloat64(),
		Commission:   parseDecimal(e.ExecFee).InexactFloat64(),
		Status:       status,
		Timestamp:    parseTimestamp(e.ExecTime),
	}, true
}

// orderToReport forwards status-only transitions; fills come from executions
func orderToReport(o wsOrder) (types.ExecutionReport, bool) {
	status, ok := ConvertOrderStatus(OrderStatus(o.OrderStatus))
	if !ok {
		return types.ExecutionReport{}, false
	}
	switch status {
	case types.ExecStatusNew, types.ExecStatusCancelled, types.ExecStatusRejected, types.ExecStatusExpired:
	default:
		return types.ExecutionReport{}, false
	}
	return types.ExecutionReport{
		OrderID:      o.OrderLinkID,
		VenueOrderID: o.OrderID,
		Symbol:       o.Symbol,
		Side:         convertSide(o.Side),
		Status:       status,
		Reason:       o.RejectReason,
		Timestamp:    parseTimestamp(o.UpdatedTime),
	}, true
}

// ConvertOrderStatus maps Bybit order statuses onto execution statuses
func ConvertOrderStatus(s OrderStatus) (types.ExecStatus, bool) {
	switch s {
	case OrderStatusCreated, OrderStatusNew:
		return types.ExecStatusNew, true
	case OrderStatusPartiallyFilled:
		return types.ExecStatusPartiallyFilled, true
	case OrderStatusFilled:
		return types.ExecStatusFilled, true
	case OrderStatusCancelled, OrderStatusPartiallyFilledCanceled:
		return types.ExecStatusCancelled, true
	case OrderStatusRejected:
		return types.ExecStatusRejected, true
	case OrderStatusDeactivated:
		return types.ExecStatusExpired, true
	}
	return "", false
}

func convertSide(side string) types.Side {
	if strings.EqualFold(side, string(OrderSideSell)) {
		return types.SideSell
	}
	return types.SideBuy
}

// ConvertSide maps an OMS side onto a Bybit side
func ConvertSide(side types.Side) OrderSide {
	if side == types.SideSell {
		return OrderSideSell
	}
	return OrderSideBuy
}
