package oms

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var transitions = map[Status][]Status{
	StatusNew:       {StatusSubmitted, StatusRejected, StatusCancelled},
	StatusSubmitted: {StatusAck, StatusRejected},
	StatusAck:       {StatusPartial, StatusFilled, StatusCancelled, StatusExpired},
	StatusPartial:   {StatusPartial, StatusFilled, StatusCancelled, StatusExpired},
}

// CanTransition reports whether from -> to is a legal step
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves o to status to. NEW -> CANCELLED is only legal for an
// armed stop that never reached the venue.
func transition(o *Order, to Status, reason string, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s for order %s", o.Status, to, o.ID)
	}
	if o.Status == StatusNew && to == StatusCancelled && !o.Armed {
		return fmt.Errorf("order %s in NEW can only be cancelled while armed", o.ID)
	}

	o.Transitions = append(o.Transitions, Transition{From: o.Status, To: to, At: at, Reason: reason})
	o.Status = to
	o.UpdatedAt = at

	switch to {
	case StatusSubmitted:
		o.SubmittedAt = at
	case StatusAck:
		o.AckedAt = at
		o.Indeterminate = false
	case StatusRejected:
		o.RejectReason = reason
		o.Indeterminate = false
		o.ClosedAt = at
	case StatusFilled, StatusCancelled, StatusExpired:
		o.ClosedAt = at
		o.Armed = false
	}
	return nil
}

// applyFill adds a fill. It is a no-op for a fill id that was already applied
// and clamps quantity to what remains. It returns the quantity applied.
func applyFill(o *Order, fill Fill, at time.Time) (decimal.Decimal, error) {
	if fill.FillID == "" {
		return decimal.Zero, fmt.Errorf("fill for order %s has no fill id", o.ID)
	}
	if o.HasFill(fill.FillID) {
		return decimal.Zero, nil
	}
	if !fill.Quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("fill %s for order %s has non-positive quantity", fill.FillID, o.ID)
	}
	if !o.Status.IsWorking() {
		return decimal.Zero, fmt.Errorf("fill %s for order %s in status %s", fill.FillID, o.ID, o.Status)
	}

	qty := decimal.Min(fill.Quantity, o.RemainingQuantity)
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("fill %s for order %s exceeds quantity", fill.FillID, o.ID)
	}
	fill.Quantity = qty
	if fill.Timestamp.IsZero() {
		fill.Timestamp = at
	}

	o.Fills = append(o.Fills, fill)
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	o.RemainingQuantity = o.Quantity.Sub(o.FilledQuantity)
	o.Notional = o.Notional.Add(qty.Mul(fill.Price))
	o.Commission = o.Commission.Add(fill.Commission)
	o.AveragePrice = o.Notional.Div(o.FilledQuantity)

	next := StatusPartial
	if o.RemainingQuantity.IsZero() {
		next = StatusFilled
	}
	if err := transition(o, next, "", at); err != nil {
		return qty, err
	}
	return qty, nil
}
