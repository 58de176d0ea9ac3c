package oms

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNew, StatusSubmitted, true},
		{StatusNew, StatusAck, false},
		{StatusSubmitted, StatusAck, true},
		{StatusSubmitted, StatusRejected, true},
		{StatusSubmitted, StatusFilled, false},
		{StatusAck, StatusPartial, true},
		{StatusAck, StatusFilled, true},
		{StatusPartial, StatusPartial, true},
		{StatusPartial, StatusCancelled, true},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusAck, false},
		{StatusRejected, StatusSubmitted, false},
		{StatusExpired, StatusFilled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionRecordsHistory(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{ID: "o1", Status: StatusNew}

	require.NoError(t, transition(o, StatusSubmitted, "", at))
	o.Indeterminate = true
	require.NoError(t, transition(o, StatusAck, "", at.Add(40*time.Millisecond)))

	assert.Equal(t, StatusAck, o.Status)
	assert.False(t, o.Indeterminate)
	assert.Equal(t, 40*time.Millisecond, o.AckLatency())
	require.Len(t, o.Transitions, 2)
	assert.Equal(t, StatusNew, o.Transitions[0].From)
	assert.Equal(t, StatusAck, o.Transitions[1].To)

	err := transition(o, StatusSubmitted, "", at)
	assert.Error(t, err)
	assert.Equal(t, StatusAck, o.Status)
}

func TestNewCancelOnlyWhenArmed(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	plain := &Order{ID: "o1", Status: StatusNew}
	assert.Error(t, transition(plain, StatusCancelled, "", at))

	stop := &Order{ID: "o2", Status: StatusNew, Armed: true}
	require.NoError(t, transition(stop, StatusCancelled, "cancelled before trigger", at))
	assert.False(t, stop.Armed)
	assert.Equal(t, at, stop.ClosedAt)
}

func workingOrder(qty string) *Order {
	q := decimal.RequireFromString(qty)
	return &Order{ID: "o1", Status: StatusAck, Quantity: q, RemainingQuantity: q}
}

func TestApplyFillAveragePrice(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	o := workingOrder("1")

	qty, err := applyFill(o, Fill{FillID: "f1", Quantity: decimal.RequireFromString("0.4"), Price: decimal.RequireFromString("100")}, at)
	require.NoError(t, err)
	assert.True(t, qty.Equal(decimal.RequireFromString("0.4")))
	assert.Equal(t, StatusPartial, o.Status)

	_, err = applyFill(o, Fill{FillID: "f2", Quantity: decimal.RequireFromString("0.6"), Price: decimal.RequireFromString("101")}, at)
	require.NoError(t, err)

	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.FilledQuantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, o.RemainingQuantity.IsZero())
	assert.Equal(t, "100.6", o.AveragePrice.String())
	assert.Equal(t, at, o.Fills[0].Timestamp)
}

func TestApplyFillDedupeAndClamp(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	o := workingOrder("1")

	_, err := applyFill(o, Fill{FillID: "f1", Quantity: decimal.RequireFromString("0.5"), Price: decimal.NewFromInt(10)}, at)
	require.NoError(t, err)

	qty, err := applyFill(o, Fill{FillID: "f1", Quantity: decimal.RequireFromString("0.5"), Price: decimal.NewFromInt(10)}, at)
	require.NoError(t, err)
	assert.True(t, qty.IsZero())
	assert.Len(t, o.Fills, 1)

	qty, err = applyFill(o, Fill{FillID: "f2", Quantity: decimal.NewFromInt(3), Price: decimal.NewFromInt(10)}, at)
	require.NoError(t, err)
	assert.Equal(t, "0.5", qty.String())
	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.FilledQuantity.LessThanOrEqual(o.Quantity))
}

func TestApplyFillRejectsBadInput(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		order *Order
		fill  Fill
	}{
		{"missing id", workingOrder("1"), Fill{Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)}},
		{"zero quantity", workingOrder("1"), Fill{FillID: "f", Price: decimal.NewFromInt(1)}},
		{"terminal order", &Order{ID: "o", Status: StatusCancelled, Quantity: decimal.NewFromInt(1), RemainingQuantity: decimal.NewFromInt(1)},
			Fill{FillID: "f", Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)}},
		{"not acknowledged", &Order{ID: "o", Status: StatusSubmitted, Quantity: decimal.NewFromInt(1), RemainingQuantity: decimal.NewFromInt(1)},
			Fill{FillID: "f", Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.order.Status
			_, err := applyFill(tt.order, tt.fill, at)
			assert.Error(t, err)
			assert.Equal(t, before, tt.order.Status)
			assert.True(t, tt.order.FilledQuantity.IsZero())
		})
	}
}
