package exchange

import (
	"context"
	"time"

	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Venue is the execution venue contract used by the order state machine.
// Implementations own reconnect and heartbeat; they surface connection
// changes on the subscription instead of hiding them.
type Venue interface {
	// Exchange identification
	GetName() string
	IsDemo() bool

	// Trading operations
	SubmitOrder(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	CancelOrder(ctx context.Context, req CancelRequest) (*CancelResult, error)
	// QueryOrder resolves an order by client order id after an indeterminate submit.
	QueryOrder(ctx context.Context, req QueryRequest) (*OrderQueryResult, error)

	// Streams. Execution reports are delivered at least once.
	Subscribe(ctx context.Context, symbols []string) (*Subscription, error)

	// Connection management
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// TickConsumer is implemented by venues that price orders from a market-data
// feed they do not own, such as the paper venue.
type TickConsumer interface {
	OnTick(tick types.MarketTick)
}

// SubmitRequest is what the OMS sends for one order
type SubmitRequest struct {
	ClientOrderID string            `json:"client_order_id"`
	Symbol        string            `json:"symbol"`
	Side          types.Side        `json:"side"`
	Type          types.OrderType   `json:"type"` // market or limit; stops are triggered locally
	Quantity      float64           `json:"quantity"`
	Price         float64           `json:"price,omitempty"`
	TimeInForce   types.TimeInForce `json:"time_in_force,omitempty"`
}

// SubmitResult is the synchronous venue answer to a submit
type SubmitResult struct {
	VenueOrderID string  `json:"venue_order_id"`
	Accepted     bool    `json:"accepted"`
	FillID       string  `json:"fill_id,omitempty"`
	FillQty      float64 `json:"fill_qty,omitempty"`
	FillPrice    float64 `json:"fill_price,omitempty"`
	Commission   float64 `json:"commission,omitempty"`
	RejectReason string  `json:"reject_reason,omitempty"`
}

// CancelRequest identifies the order to cancel
type CancelRequest struct {
	ClientOrderID string `json:"client_order_id"`
	VenueOrderID  string `json:"venue_order_id,omitempty"`
	Symbol        string `json:"symbol"`
}

// CancelResult is the venue answer to a cancel
type CancelResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// QueryRequest identifies the order to look up
type QueryRequest struct {
	ClientOrderID string `json:"client_order_id"`
	VenueOrderID  string `json:"venue_order_id,omitempty"`
	Symbol        string `json:"symbol"`
}

// OrderQueryResult is the venue's view of one order. Found is false only when
// the venue positively answered that it has no such order.
type OrderQueryResult struct {
	Found         bool             `json:"found"`
	ClientOrderID string           `json:"client_order_id"`
	VenueOrderID  string           `json:"venue_order_id"`
	Status        types.ExecStatus `json:"status"`
	FilledQty     float64          `json:"filled_qty"`
	AvgPrice      float64          `json:"avg_price"`
	RejectReason  string           `json:"reject_reason,omitempty"`
	UpdatedTime   time.Time        `json:"updated_time"`
}

// Subscription exposes a venue's asynchronous streams. Channels are closed
// when the subscription context ends.
type Subscription struct {
	Executions <-chan types.ExecutionReport
	Ticks      <-chan types.MarketTick
	Events     <-chan types.ConnectionEvent
}

// ExchangeError represents standardized errors from exchanges
type ExchangeError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	IsRetryable bool   `json:"is_retryable"`
	IsTimeout   bool   `json:"is_timeout"`
}

func (e *ExchangeError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Timeout lets errors.IsTimeout treat venue timeouts like net timeouts
func (e *ExchangeError) Timeout() bool {
	return e.IsTimeout
}

// Temporary reports whether the call may be retried
func (e *ExchangeError) Temporary() bool {
	return e.IsRetryable
}

// Common error types
var (
	ErrInvalidSymbol = &ExchangeError{
		Code:        "INVALID_SYMBOL",
		Message:     "Invalid trading symbol",
		IsRetryable: false,
	}

	ErrRateLimitExceeded = &ExchangeError{
		Code:        "RATE_LIMIT_EXCEEDED",
		Message:     "API rate limit exceeded",
		IsRetryable: true,
	}

	ErrConnectionFailed = &ExchangeError{
		Code:        "CONNECTION_FAILED",
		Message:     "Failed to connect to exchange",
		IsRetryable: true,
	}

	ErrAuthenticationFailed = &ExchangeError{
		Code:        "AUTHENTICATION_FAILED",
		Message:     "API authentication failed",
		IsRetryable: false,
	}

	ErrNotConnected = &ExchangeError{
		Code:        "NOT_CONNECTED",
		Message:     "Venue is not connected",
		IsRetryable: true,
	}

	ErrRequestTimeout = &ExchangeError{
		Code:        "REQUEST_TIMEOUT",
		Message:     "Venue did not answer in time",
		IsRetryable: true,
		IsTimeout:   true,
	}
)
