package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// paperNamespace derives stable venue ids from client order ids
var paperNamespace = uuid.MustParse("6f1c2a52-2d1b-4c8e-9f59-3a3f0c6d2b10")

// PaperConfig tunes the simulated venue
type PaperConfig struct {
	FeeRate     float64 // commission as a fraction of notional
	SlippageBps float64 // applied against the taker on market orders
}

type paperOrder struct {
	req       exchange.SubmitRequest
	venueID   string
	status    types.ExecStatus
	filledQty float64
	avgPrice  float64
	fills     int
	updated   time.Time
}

// PaperVenue fills orders against the latest tick it was fed. Market orders
// fill immediately at the touch; limit orders rest until a tick crosses them.
// Output depends only on inputs, so runs are reproducible.
type PaperVenue struct {
	cfg    PaperConfig
	logger *logger.Logger
	clock  func() time.Time

	mu         sync.Mutex
	prices     map[string]types.MarketTick
	orders     map[string]*paperOrder
	pending    []types.ExecutionReport
	executions chan types.ExecutionReport
	events     chan types.ConnectionEvent
	connected  bool
}

// NewPaperVenue creates a paper venue
func NewPaperVenue(cfg PaperConfig, log *logger.Logger, clock func() time.Time) *PaperVenue {
	if log == nil {
		log = logger.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &PaperVenue{
		cfg:        cfg,
		logger:     log.Component("paper"),
		clock:      clock,
		prices:     make(map[string]types.MarketTick),
		orders:     make(map[string]*paperOrder),
		executions: make(chan types.ExecutionReport, 1024),
		events:     make(chan types.ConnectionEvent, 4),
	}
}

// GetName returns the venue name
func (p *PaperVenue) GetName() string { return "paper" }

// IsDemo always returns true
func (p *PaperVenue) IsDemo() bool { return true }

// Connect implements exchange.Venue
func (p *PaperVenue) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// Disconnect implements exchange.Venue
func (p *PaperVenue) Disconnect() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

// IsConnected implements exchange.Venue
func (p *PaperVenue) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Subscribe returns the execution stream. The paper venue has no market data
// of its own; it is fed through OnTick.
func (p *PaperVenue) Subscribe(ctx context.Context, symbols []string) (*exchange.Subscription, error) {
	select {
	case p.events <- types.ConnectionEvent{
		Venue:     "paper",
		Stream:    "executions",
		State:     types.ConnectionConnected,
		Timestamp: p.clock().UTC(),
	}:
	default:
	}
	return &exchange.Subscription{Executions: p.executions, Events: p.events}, nil
}

// SubmitOrder implements exchange.Venue
func (p *PaperVenue) SubmitOrder(ctx context.Context, req exchange.SubmitRequest) (*exchange.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.orders[req.ClientOrderID]; exists {
		return nil, &exchange.ExchangeError{Code: "DUPLICATE_CLIENT_ID", Message: "order already exists at venue", IsTimeout: true}
	}

	tick, ok := p.prices[req.Symbol]
	if !ok || tick.Price() <= 0 {
		return &exchange.SubmitResult{Accepted: false, RejectReason: "no market data for " + req.Symbol}, nil
	}

	order := &paperOrder{
		req:     req,
		venueID: uuid.NewSHA1(paperNamespace, []byte(req.ClientOrderID)).String(),
		status:  types.ExecStatusNew,
		updated: p.clock().UTC(),
	}
	p.orders[req.ClientOrderID] = order

	result := &exchange.SubmitResult{VenueOrderID: order.venueID, Accepted: true}

	price, marketable := p.executionPrice(order, tick)
	if !marketable {
		if req.TimeInForce == types.TimeInForceIOC || req.TimeInForce == types.TimeInForceFOK {
			order.status = types.ExecStatusExpired
			p.pending = append(p.pending, types.ExecutionReport{
				OrderID:      req.ClientOrderID,
				VenueOrderID: order.venueID,
				Symbol:       req.Symbol,
				Side:         req.Side,
				Status:       types.ExecStatusExpired,
				Reason:       fmt.Sprintf("%s limit %.8g not marketable", req.TimeInForce, req.Price),
				Timestamp:    order.updated,
			})
			p.flushLocked()
		}
		return result, nil
	}
	fillID := p.fill(order, price)
	result.FillID = fillID
	result.FillQty = req.Quantity
	result.FillPrice = price
	result.Commission = req.Quantity * price * p.cfg.FeeRate
	return result, nil
}

// executionPrice returns the fill price when the order can trade against tick
func (p *PaperVenue) executionPrice(order *paperOrder, tick types.MarketTick) (float64, bool) {
	buy := order.req.Side == types.SideBuy
	touch := tick.Price()
	if buy && tick.Ask > 0 {
		touch = tick.Ask
	} else if !buy && tick.Bid > 0 {
		touch = tick.Bid
	}

	if order.req.Type != types.OrderTypeLimit {
		slip := touch * p.cfg.SlippageBps / 10000
		if buy {
			return touch + slip, true
		}
		return touch - slip, true
	}

	if buy && touch <= order.req.Price {
		return touch, true
	}
	if !buy && touch >= order.req.Price {
		return touch, true
	}
	return 0, false
}

// fill executes the whole remaining quantity. Caller holds p.mu.
func (p *PaperVenue) fill(order *paperOrder, price float64) string {
	order.fills++
	order.filledQty = order.req.Quantity
	order.avgPrice = price
	order.status = types.ExecStatusFilled
	order.updated = p.clock().UTC()
	return uuid.NewSHA1(paperNamespace, []byte(fmt.Sprintf("%s:%d", order.req.ClientOrderID, order.fills))).String()
}

// OnTick records the price and fills resting limit orders it crosses
func (p *PaperVenue) OnTick(tick types.MarketTick) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prices[tick.Symbol] = tick

	for _, order := range p.orders {
		if order.req.Symbol != tick.Symbol || order.status != types.ExecStatusNew {
			continue
		}
		price, ok := p.executionPrice(order, tick)
		if !ok {
			continue
		}
		fillID := p.fill(order, price)
		p.pending = append(p.pending, types.ExecutionReport{
			OrderID:      order.req.ClientOrderID,
			VenueOrderID: order.venueID,
			FillID:       fillID,
			Symbol:       order.req.Symbol,
			Side:         order.req.Side,
			Quantity:     order.req.Quantity,
			Price:        price,
			Commission:   order.req.Quantity * price * p.cfg.FeeRate,
			Status:       types.ExecStatusFilled,
			Timestamp:    order.updated,
		})
	}
	p.flushLocked()
}

// flushLocked moves pending reports to the channel without blocking; what
// does not fit is retried on the next tick.
func (p *PaperVenue) flushLocked() {
	sent := 0
loop:
	for _, report := range p.pending {
		select {
		case p.executions <- report:
			sent++
		default:
			break loop
		}
	}
	p.pending = p.pending[sent:]
	if len(p.pending) > 0 {
		p.logger.LogWarning("Paper venue", "%d execution reports waiting for consumer", len(p.pending))
	}
}

// CancelOrder implements exchange.Venue
func (p *PaperVenue) CancelOrder(ctx context.Context, req exchange.CancelRequest) (*exchange.CancelResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[req.ClientOrderID]
	if !ok {
		return &exchange.CancelResult{Success: false, Reason: "order not found"}, nil
	}
	if order.status != types.ExecStatusNew {
		return &exchange.CancelResult{Success: false, Reason: "order is " + string(order.status)}, nil
	}
	order.status = types.ExecStatusCancelled
	order.updated = p.clock().UTC()
	return &exchange.CancelResult{Success: true}, nil
}

// QueryOrder implements exchange.Venue
func (p *PaperVenue) QueryOrder(ctx context.Context, req exchange.QueryRequest) (*exchange.OrderQueryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[req.ClientOrderID]
	if !ok {
		return &exchange.OrderQueryResult{Found: false, ClientOrderID: req.ClientOrderID}, nil
	}
	return &exchange.OrderQueryResult{
		Found:         true,
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  order.venueID,
		Status:        order.status,
		FilledQty:     order.filledQty,
		AvgPrice:      order.avgPrice,
		UpdatedTime:   order.updated,
	}, nil
}
