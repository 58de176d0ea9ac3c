package types

import "time"

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buy and -1 for sell.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType represents the execution style of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// IsStop reports whether the order waits for a stop trigger.
func (t OrderType) IsStop() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// TimeInForce represents how long an order remains active.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceDay TimeInForce = "DAY"
)

// OrderIntent is the immutable request to place an order.
type OrderIntent struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	Symbol         string            `json:"symbol"`
	Side           Side              `json:"side"`
	Type           OrderType         `json:"type"`
	Quantity       float64           `json:"quantity"`
	Price          float64           `json:"price,omitempty"`
	StopPrice      float64           `json:"stopPrice,omitempty"`
	TimeInForce    TimeInForce       `json:"timeInForce,omitempty"`
	ClientOrderID  string            `json:"clientOrderId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ExecStatus is the order status carried by an execution report.
type ExecStatus string

const (
	ExecStatusNew             ExecStatus = "new"
	ExecStatusPartiallyFilled ExecStatus = "partially_filled"
	ExecStatusFilled          ExecStatus = "filled"
	ExecStatusCancelled       ExecStatus = "cancelled"
	ExecStatusRejected        ExecStatus = "rejected"
	ExecStatusExpired         ExecStatus = "expired"
)

// ExecutionReport is one message from the venue execution stream.
// Delivery is at-least-once; FillID identifies duplicates.
type ExecutionReport struct {
	OrderID      string     `json:"orderId"` // client order id assigned by the OMS
	VenueOrderID string     `json:"venueOrderId,omitempty"`
	FillID       string     `json:"fillId,omitempty"`
	Symbol       string     `json:"symbol"`
	Side         Side       `json:"side"`
	Quantity     float64    `json:"qty"`
	Price        float64    `json:"price"`
	Commission   float64    `json:"commission,omitempty"`
	Status       ExecStatus `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// IsFill reports whether the report carries executed quantity.
func (r ExecutionReport) IsFill() bool {
	return r.Quantity > 0 && r.FillID != ""
}
