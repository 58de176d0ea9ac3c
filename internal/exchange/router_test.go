package exchange_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/exchange/fake"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

func TestRouterPinsOrdersToSubmitVenue(t *testing.T) {
	live := fake.NewVenue("live")
	paper := fake.NewVenue("paper")
	route := exchange.RouteLive
	r := exchange.NewRouter(live, paper, func() exchange.Route { return route })

	ctx := context.Background()
	_, err := r.SubmitOrder(ctx, exchange.SubmitRequest{ClientOrderID: "a", Symbol: "BTCUSDT"})
	require.NoError(t, err)

	route = exchange.RoutePaper
	_, err = r.SubmitOrder(ctx, exchange.SubmitRequest{ClientOrderID: "b", Symbol: "BTCUSDT"})
	require.NoError(t, err)

	_, err = r.CancelOrder(ctx, exchange.CancelRequest{ClientOrderID: "a"})
	require.NoError(t, err)
	_, err = r.QueryOrder(ctx, exchange.QueryRequest{ClientOrderID: "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, live.SubmitCount())
	assert.Equal(t, 1, paper.SubmitCount())
	assert.Len(t, live.Cancels(), 1)
	assert.Len(t, paper.Queries(), 1)
	assert.Equal(t, exchange.RouteLive, r.RouteOf("a"))
	assert.Equal(t, exchange.RoutePaper, r.RouteOf("b"))

	r.Forget("a")
	assert.Equal(t, exchange.RoutePaper, r.RouteOf("a"))
}

func TestRouterWithoutLiveVenue(t *testing.T) {
	paper := fake.NewVenue("paper")
	r := exchange.NewRouter(nil, paper, func() exchange.Route { return exchange.RouteLive })

	_, err := r.SubmitOrder(context.Background(), exchange.SubmitRequest{ClientOrderID: "a"})
	require.NoError(t, err)

	assert.Equal(t, 1, paper.SubmitCount())
	assert.True(t, r.IsDemo())
	assert.Equal(t, "paper", r.GetName())

	r.OnTick(types.MarketTick{Symbol: "BTCUSDT", Last: 100})
	assert.Len(t, paper.Ticks(), 1)
}

func TestRouterSubscribeMergesExecutions(t *testing.T) {
	live := fake.NewVenue("live")
	paper := fake.NewVenue("paper")
	r := exchange.NewRouter(live, paper, func() exchange.Route { return exchange.RouteLive })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := r.Subscribe(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)

	live.Emit(types.ExecutionReport{OrderID: "a"})
	paper.Emit(types.ExecutionReport{OrderID: "b"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		report := <-sub.Executions
		seen[report.OrderID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}
