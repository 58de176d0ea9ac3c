// Package statetest holds the behaviour every order store must share.
package statetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Store is what the suite exercises
type Store interface {
	oms.Store
	oms.OrderLister
	Close() error
}

var base = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

// Order builds a stored order created n minutes after a fixed base time
func Order(id string, status oms.Status, n int) oms.Order {
	created := base.Add(time.Duration(n) * time.Minute)
	qty := decimal.NewFromFloat(1.5)
	o := oms.Order{
		ID:             id,
		IdempotencyKey: "key-" + id,
		ClientOrderID:  "cl-" + id,
		Route:          "paper",
		Intent: types.OrderIntent{
			IdempotencyKey: "key-" + id,
			Symbol:         "BTCUSDT",
			Side:           types.SideBuy,
			Type:           types.OrderTypeLimit,
			Quantity:       1.5,
			Price:          50000,
			Metadata:       map[string]string{"strategy": "test"},
		},
		Symbol:            "BTCUSDT",
		Side:              types.SideBuy,
		Type:              types.OrderTypeLimit,
		TimeInForce:       types.TimeInForceGTC,
		Status:            status,
		Quantity:          qty,
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: qty,
		Price:             decimal.NewFromInt(50000),
		CreatedAt:         created,
		UpdatedAt:         created,
	}
	if status == oms.StatusPartial || status == oms.StatusFilled {
		fill := decimal.NewFromFloat(0.5)
		if status == oms.StatusFilled {
			fill = qty
		}
		o.FilledQuantity = fill
		o.RemainingQuantity = qty.Sub(fill)
		o.AveragePrice = decimal.NewFromInt(50000)
		o.Fills = []oms.Fill{{
			FillID:    "f-" + id,
			Quantity:  fill,
			Price:     decimal.NewFromInt(50000),
			Timestamp: created.Add(time.Second),
		}}
	}
	return o
}

// Run exercises the stores returned by open. Calls with the same dir must
// return handles over the same data; a new dir must start empty.
func Run(t *testing.T, open func(t *testing.T, dir string) Store) {
	t.Run("upsert and load open", func(t *testing.T) {
		s := open(t, t.TempDir())
		ctx := context.Background()

		require.NoError(t, s.PersistOrder(ctx, Order("o-2", oms.StatusAck, 2)))
		require.NoError(t, s.PersistOrder(ctx, Order("o-1", oms.StatusSubmitted, 1)))
		require.NoError(t, s.PersistOrder(ctx, Order("o-3", oms.StatusFilled, 3)))

		pending, err := s.LoadOpenOrders(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "o-1", pending[0].ID)
		assert.Equal(t, "o-2", pending[1].ID)

		all, err := s.LoadAllOrders(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("upsert replaces by order id", func(t *testing.T) {
		s := open(t, t.TempDir())
		ctx := context.Background()

		require.NoError(t, s.PersistOrder(ctx, Order("o-1", oms.StatusAck, 1)))
		require.NoError(t, s.PersistOrder(ctx, Order("o-1", oms.StatusPartial, 1)))
		require.NoError(t, s.PersistOrder(ctx, Order("o-1", oms.StatusPartial, 1)))

		all, err := s.LoadAllOrders(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		got := all[0]
		assert.Equal(t, oms.StatusPartial, got.Status)
		require.Len(t, got.Fills, 1)
		assert.True(t, got.FilledQuantity.Equal(decimal.NewFromFloat(0.5)))
		assert.True(t, got.FilledQuantity.Add(got.RemainingQuantity).Equal(got.Quantity))
		assert.True(t, got.CreatedAt.Equal(base.Add(time.Minute)))
		assert.Equal(t, "test", got.Intent.Metadata["strategy"])

		require.NoError(t, s.PersistOrder(ctx, Order("o-1", oms.StatusFilled, 1)))
		pending, err := s.LoadOpenOrders(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("survives reopen", func(t *testing.T) {
		dir := t.TempDir()
		s := open(t, dir)
		ctx := context.Background()
		require.NoError(t, s.PersistOrder(ctx, Order("o-1", oms.StatusAck, 1)))
		require.NoError(t, s.Close())

		s = open(t, dir)
		pending, err := s.LoadOpenOrders(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "key-o-1", pending[0].IdempotencyKey)
		assert.Equal(t, oms.StatusAck, pending[0].Status)
	})
}
