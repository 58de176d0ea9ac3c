// Package oms owns order identity, idempotency, status transitions and fill
// accounting.
package oms

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Status is the lifecycle state of an order
type Status string

const (
	StatusNew       Status = "NEW"
	StatusSubmitted Status = "SUBMITTED"
	StatusAck       Status = "ACK"
	StatusRejected  Status = "REJECTED"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusFilled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsWorking reports whether the venue holds the order
func (s Status) IsWorking() bool {
	return s == StatusAck || s == StatusPartial
}

// Fill is one execution against an order
type Fill struct {
	FillID     string          `json:"fillId"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Transition records one status change
type Transition struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Order is the state of one order. Only Manager mutates it; callers get copies.
type Order struct {
	ID             string            `json:"orderId"`
	IdempotencyKey string            `json:"idempotencyKey"`
	ClientOrderID  string            `json:"clientOrderId"`
	VenueOrderID   string            `json:"venueOrderId,omitempty"`
	Route          string            `json:"route,omitempty"`
	Intent         types.OrderIntent `json:"intent"`

	Symbol      string            `json:"symbol"`
	Side        types.Side        `json:"side"`
	Type        types.OrderType   `json:"type"`
	TimeInForce types.TimeInForce `json:"timeInForce,omitempty"`

	Status            Status          `json:"status"`
	Quantity          decimal.Decimal `json:"quantity"`
	FilledQuantity    decimal.Decimal `json:"filledQuantity"`
	RemainingQuantity decimal.Decimal `json:"remainingQuantity"`
	Price             decimal.Decimal `json:"price"`
	StopPrice         decimal.Decimal `json:"stopPrice"`
	AveragePrice      decimal.Decimal `json:"averagePrice"`
	Notional          decimal.Decimal `json:"notional"`
	Commission        decimal.Decimal `json:"commission"`

	Fills       []Fill       `json:"fills"`
	Transitions []Transition `json:"transitions"`

	// Armed stops wait in NEW for their trigger price.
	Armed bool `json:"armed"`
	// Indeterminate marks a SUBMITTED order whose venue call timed out.
	Indeterminate   bool `json:"indeterminate"`
	CancelRequested bool `json:"cancelRequested"`
	cancelInFlight  bool

	RejectReason      string `json:"rejectReason,omitempty"`
	LastError         string `json:"lastError,omitempty"`
	RetryCount        int    `json:"retryCount"`
	ErrorCount        int    `json:"errorCount"`
	ReconcileAttempts int    `json:"reconcileAttempts"`

	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
	AckedAt     time.Time `json:"ackedAt,omitempty"`
	ClosedAt    time.Time `json:"closedAt,omitempty"`
}

// Clone returns a deep copy
func (o *Order) Clone() Order {
	c := *o
	c.Fills = append([]Fill(nil), o.Fills...)
	c.Transitions = append([]Transition(nil), o.Transitions...)
	if o.Intent.Metadata != nil {
		c.Intent.Metadata = make(map[string]string, len(o.Intent.Metadata))
		for k, v := range o.Intent.Metadata {
			c.Intent.Metadata[k] = v
		}
	}
	return c
}

// HasFill reports whether fillID was already applied
func (o *Order) HasFill(fillID string) bool {
	for _, f := range o.Fills {
		if f.FillID == fillID {
			return true
		}
	}
	return false
}

// AckLatency is the time from submission to acknowledgement
func (o *Order) AckLatency() time.Duration {
	if o.AckedAt.IsZero() || o.SubmittedAt.IsZero() {
		return 0
	}
	return o.AckedAt.Sub(o.SubmittedAt)
}

// Result is what every public OMS call returns. It never carries a raw
// venue error.
type Result struct {
	OrderID           string  `json:"orderId,omitempty"`
	IdempotencyKey    string  `json:"idempotencyKey"`
	Symbol            string  `json:"symbol"`
	Status            Status  `json:"status"`
	StatusMessage     string  `json:"statusMessage,omitempty"`
	RejectReason      string  `json:"rejectReason,omitempty"`
	ErrorCode         string  `json:"errorCode,omitempty"`
	Quantity          float64 `json:"quantity"`
	FilledQuantity    float64 `json:"filledQuantity"`
	RemainingQuantity float64 `json:"remainingQuantity"`
	AveragePrice      float64 `json:"averagePrice"`
	Indeterminate     bool    `json:"indeterminate,omitempty"`
	CancelQueued      bool    `json:"cancelQueued,omitempty"`
}

// Accepted reports whether the order is alive or completed normally
func (r Result) Accepted() bool {
	return r.OrderID != "" && r.Status != StatusRejected
}

func resultOf(o *Order) Result {
	return Result{
		OrderID:           o.ID,
		IdempotencyKey:    o.IdempotencyKey,
		Symbol:            o.Symbol,
		Status:            o.Status,
		StatusMessage:     statusMessage(o),
		RejectReason:      o.RejectReason,
		Quantity:          o.Quantity.InexactFloat64(),
		FilledQuantity:    o.FilledQuantity.InexactFloat64(),
		RemainingQuantity: o.RemainingQuantity.InexactFloat64(),
		AveragePrice:      o.AveragePrice.InexactFloat64(),
		Indeterminate:     o.Indeterminate,
		CancelQueued:      o.CancelRequested && !o.Status.IsTerminal(),
	}
}

func statusMessage(o *Order) string {
	switch {
	case o.Armed:
		return "stop armed, waiting for trigger price"
	case o.Indeterminate:
		return "venue outcome unknown, awaiting reconciliation"
	case o.Status == StatusSubmitted && o.CancelRequested:
		return "cancel queued until acknowledgement"
	case o.Status == StatusRejected:
		return "rejected: " + o.RejectReason
	}
	switch o.Status {
	case StatusNew:
		return "order created"
	case StatusSubmitted:
		return "submitted to venue"
	case StatusAck:
		return "acknowledged by venue"
	case StatusPartial:
		return "partially filled"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	}
	return string(o.Status)
}
