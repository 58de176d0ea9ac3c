package adapters

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/exchange/bybit"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// BybitAdapter implements the Venue contract for Bybit v5
type BybitAdapter struct {
	client *bybit.Client
	config *config.BybitConfig
	logger *logger.Logger

	mu        sync.Mutex
	stream    *bybit.Stream
	connected bool
}

// NewBybitAdapter creates a new Bybit adapter instance
func NewBybitAdapter(cfg *config.BybitConfig, log *logger.Logger) (*BybitAdapter, error) {
	if cfg == nil {
		return nil, &exchange.ExchangeError{
			Code:    "MISSING_CONFIG",
			Message: "Bybit configuration is required",
		}
	}
	if log == nil {
		log = logger.NewNop()
	}

	client := bybit.NewClient(bybit.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Testnet:   cfg.Testnet,
		Demo:      cfg.Demo,
		Category:  cfg.Category,
	})

	return &BybitAdapter{
		client: client,
		config: cfg,
		logger: log.Component("bybit"),
	}, nil
}

// GetName returns the exchange name
func (b *BybitAdapter) GetName() string {
	return "bybit"
}

// IsDemo returns whether the adapter is in demo mode
func (b *BybitAdapter) IsDemo() bool {
	return b.client.IsDemo()
}

// GetEnvironment returns the current environment string
func (b *BybitAdapter) GetEnvironment() string {
	return b.client.GetEnvironment()
}

// Connect marks the REST side ready. Streams connect in Subscribe.
func (b *BybitAdapter) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.logger.Info("Bybit adapter ready (%s, category %s)", b.client.GetEnvironment(), b.client.Category())
	return nil
}

// Disconnect closes connection to the exchange; streams stop with their context
func (b *BybitAdapter) Disconnect() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

// IsConnected returns whether the adapter and its streams are up
func (b *BybitAdapter) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return false
	}
	return b.stream == nil || b.stream.IsConnected()
}

// SubmitOrder places the order with the client order id as orderLinkId.
// Bybit business rejections come back as Accepted=false, not as errors.
func (b *BybitAdapter) SubmitOrder(ctx context.Context, req exchange.SubmitRequest) (*exchange.SubmitResult, error) {
	params := bybit.PlaceOrderParams{
		Symbol:      req.Symbol,
		Side:        bybit.ConvertSide(req.Side),
		OrderType:   bybit.OrderTypeMarket,
		Qty:         decimal.NewFromFloat(req.Quantity),
		OrderLinkID: req.ClientOrderID,
	}
	if req.Type == types.OrderTypeLimit {
		params.OrderType = bybit.OrderTypeLimit
		params.Price = decimal.NewFromFloat(req.Price)
		params.TimeInForce = convertTimeInForce(req.TimeInForce)
	}

	ack, err := b.client.PlaceOrder(ctx, params)
	if err != nil {
		var bybitErr *bybit.BybitError
		if errors.As(err, &bybitErr) && bybitErr.Code == bybit.ErrCodeDuplicateLinkID {
			// an earlier attempt reached the venue; only a query can tell its state
			return nil, &exchange.ExchangeError{
				Code:      "DUPLICATE_CLIENT_ID",
				Message:   "order already exists at venue",
				Details:   bybitErr.Message,
				IsTimeout: true,
			}
		}
		if bybit.IsRejection(err) {
			return &exchange.SubmitResult{Accepted: false, RejectReason: bybitErr.Message}, nil
		}
		return nil, bybit.ToExchangeError(err)
	}

	return &exchange.SubmitResult{VenueOrderID: ack.OrderID, Accepted: true}, nil
}

// CancelOrder cancels by client order id
func (b *BybitAdapter) CancelOrder(ctx context.Context, req exchange.CancelRequest) (*exchange.CancelResult, error) {
	err := b.client.CancelOrder(ctx, req.Symbol, req.ClientOrderID)
	if err == nil {
		return &exchange.CancelResult{Success: true}, nil
	}
	if bybit.IsOrderNotFoundError(err) {
		return &exchange.CancelResult{Success: false, Reason: "order not found or already closed"}, nil
	}
	var bybitErr *bybit.BybitError
	if bybit.IsRejection(err) && errors.As(err, &bybitErr) {
		return &exchange.CancelResult{Success: false, Reason: bybitErr.Message}, nil
	}
	return nil, bybit.ToExchangeError(err)
}

// QueryOrder looks the order up by client order id
func (b *BybitAdapter) QueryOrder(ctx context.Context, req exchange.QueryRequest) (*exchange.OrderQueryResult, error) {
	order, found, err := b.client.GetOrderByLinkID(ctx, req.Symbol, req.ClientOrderID)
	if err != nil {
		return nil, bybit.ToExchangeError(err)
	}
	if !found {
		return &exchange.OrderQueryResult{Found: false, ClientOrderID: req.ClientOrderID}, nil
	}
	return convertQueriedOrder(order), nil
}

func convertQueriedOrder(order *bybit.Order) *exchange.OrderQueryResult {
	status, ok := bybit.ConvertOrderStatus(order.OrderStatus)
	if !ok {
		status = types.ExecStatusNew
	}
	return &exchange.OrderQueryResult{
		Found:         true,
		ClientOrderID: order.OrderLinkID,
		VenueOrderID:  order.OrderID,
		Status:        status,
		FilledQty:     order.CumExecQty.InexactFloat64(),
		AvgPrice:      order.AvgPrice.InexactFloat64(),
		RejectReason:  order.RejectReason,
		UpdatedTime:   order.UpdatedTime,
	}
}

// Subscribe starts the public and private streams
func (b *BybitAdapter) Subscribe(ctx context.Context, symbols []string) (*exchange.Subscription, error) {
	stream := bybit.NewStream(b.client, b.logger)
	stream.Start(ctx, symbols)

	b.mu.Lock()
	b.stream = stream
	b.mu.Unlock()

	return stream.Subscription(), nil
}

func convertTimeInForce(tif types.TimeInForce) bybit.TimeInForce {
	switch tif {
	case types.TimeInForceIOC:
		return bybit.TimeInForceIOC
	case types.TimeInForceFOK:
		return bybit.TimeInForceFOK
	default:
		return bybit.TimeInForceGTC
	}
}
