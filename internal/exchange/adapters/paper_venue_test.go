package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/internal/safety"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestPaperVenueMarketOrder(t *testing.T) {
	p := NewPaperVenue(PaperConfig{FeeRate: 0.001, SlippageBps: 10}, nil, fixedClock)
	p.OnTick(types.MarketTick{Symbol: "BTCUSDT", Bid: 99, Ask: 101, Last: 100})

	res, err := p.SubmitOrder(context.Background(), exchange.SubmitRequest{
		ClientOrderID: "c1", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 2,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2.0, res.FillQty)
	assert.InDelta(t, 101.101, res.FillPrice, 1e-9)
	assert.InDelta(t, 2*101.101*0.001, res.Commission, 1e-9)
	assert.NotEmpty(t, res.FillID)

	// ids are deterministic
	q := NewPaperVenue(PaperConfig{FeeRate: 0.001, SlippageBps: 10}, nil, fixedClock)
	q.OnTick(types.MarketTick{Symbol: "BTCUSDT", Bid: 99, Ask: 101, Last: 100})
	res2, err := q.SubmitOrder(context.Background(), exchange.SubmitRequest{
		ClientOrderID: "c1", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, res.VenueOrderID, res2.VenueOrderID)
	assert.Equal(t, res.FillID, res2.FillID)
}

func TestPaperVenueRejectsWithoutPrice(t *testing.T) {
	p := NewPaperVenue(PaperConfig{}, nil, fixedClock)
	res, err := p.SubmitOrder(context.Background(), exchange.SubmitRequest{ClientOrderID: "c1", Symbol: "ETHUSDT", Quantity: 1})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.RejectReason, "no market data")
}

func TestPaperVenueDuplicateClientID(t *testing.T) {
	p := NewPaperVenue(PaperConfig{}, nil, fixedClock)
	p.OnTick(types.MarketTick{Symbol: "BTCUSDT", Last: 100})
	req := exchange.SubmitRequest{ClientOrderID: "c1", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 1}

	_, err := p.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	_, err = p.SubmitOrder(context.Background(), req)

	var exErr *exchange.ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.True(t, exErr.Timeout())
}

func TestPaperVenueRestingLimitFillsOnTick(t *testing.T) {
	p := NewPaperVenue(PaperConfig{}, nil, fixedClock)
	p.OnTick(types.MarketTick{Symbol: "BTCUSDT", Bid: 99, Ask: 101, Last: 100})
	sub, err := p.Subscribe(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)

	res, err := p.SubmitOrder(context.Background(), exchange.SubmitRequest{
		ClientOrderID: "c1", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 1, Price: 95,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Zero(t, res.FillQty)

	q, err := p.QueryOrder(context.Background(), exchange.QueryRequest{ClientOrderID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, types.ExecStatusNew, q.Status)

	p.OnTick(types.MarketTick{Symbol: "BTCUSDT", Bid: 93, Ask: 94, Last: 94})

	report := <-sub.Executions
	assert.Equal(t, "c1", report.OrderID)
	assert.Equal(t, types.ExecStatusFilled, report.Status)
	assert.Equal(t, 94.0, report.Price)

	q, err = p.QueryOrder(context.Background(), exchange.QueryRequest{ClientOrderID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, types.ExecStatusFilled, q.Status)
	assert.Equal(t, 1.0, q.FilledQty)
}

func TestPaperVenueExpiresUnmarketableIOC(t *testing.T) {
	p := NewPaperVenue(PaperConfig{}, nil, fixedClock)
	p.OnTick(types.MarketTick{Symbol: "BTCUSDT", Bid: 100, Ask: 101, Last: 100})
	sub, err := p.Subscribe(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)

	gate := safety.NewRateGate("paper", config.RateGateConfig{MaxRequests: 1000, Window: config.D(time.Millisecond), MaxInFlight: 1}, nil)
	m := oms.NewManager(config.OMSConfig{}, p, gate, nil, oms.WithClock(fixedClock))
	defer m.Close()

	res := m.SubmitOrder(context.Background(), types.OrderIntent{
		IdempotencyKey: "ioc-1", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit,
		TimeInForce: types.TimeInForceIOC, Quantity: 1, Price: 90,
	})
	require.Equal(t, oms.StatusAck, res.Status)

	select {
	case report := <-sub.Executions:
		assert.Equal(t, types.ExecStatusExpired, report.Status)
		m.OnExecutionReport(report)
	default:
		t.Fatal("expected an expiry report")
	}

	o, ok := m.Order(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, oms.StatusExpired, o.Status)

	q, err := p.QueryOrder(context.Background(), exchange.QueryRequest{ClientOrderID: o.ClientOrderID})
	require.NoError(t, err)
	assert.Equal(t, types.ExecStatusExpired, q.Status)
}

func TestPaperVenueCancel(t *testing.T) {
	p := NewPaperVenue(PaperConfig{}, nil, fixedClock)
	p.OnTick(types.MarketTick{Symbol: "BTCUSDT", Bid: 99, Ask: 101})
	_, err := p.SubmitOrder(context.Background(), exchange.SubmitRequest{
		ClientOrderID: "c1", Symbol: "BTCUSDT", Side: types.SideSell, Type: types.OrderTypeLimit, Quantity: 1, Price: 110,
	})
	require.NoError(t, err)

	res, err := p.CancelOrder(context.Background(), exchange.CancelRequest{ClientOrderID: "c1"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = p.CancelOrder(context.Background(), exchange.CancelRequest{ClientOrderID: "c1"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = p.CancelOrder(context.Background(), exchange.CancelRequest{ClientOrderID: "missing"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFactoryValidateConfig(t *testing.T) {
	f := NewFactory(nil, fixedClock)

	tests := []struct {
		name    string
		cfg     config.VenueConfig
		wantErr string
	}{
		{name: "paper", cfg: config.VenueConfig{Name: "paper"}},
		{name: "missing name", cfg: config.VenueConfig{}, wantErr: "MISSING_VENUE_NAME"},
		{name: "unsupported", cfg: config.VenueConfig{Name: "kraken"}, wantErr: "UNSUPPORTED_VENUE"},
		{name: "bybit without config", cfg: config.VenueConfig{Name: "bybit"}, wantErr: "MISSING_BYBIT_CONFIG"},
		{name: "bybit without key", cfg: config.VenueConfig{Name: "bybit", Bybit: &config.BybitConfig{APISecret: "s"}}, wantErr: "MISSING_API_KEY"},
		{name: "bybit testnet and demo", cfg: config.VenueConfig{Name: "Bybit", Bybit: &config.BybitConfig{APIKey: "k", APISecret: "s", Testnet: true, Demo: true}}, wantErr: "INVALID_ENVIRONMENT_CONFIG"},
		{name: "negative fee", cfg: config.VenueConfig{Name: "paper", Paper: config.PaperConfig{FeeRate: -1}}, wantErr: "INVALID_PAPER_CONFIG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var exErr *exchange.ExchangeError
			require.ErrorAs(t, err, &exErr)
			assert.Equal(t, tt.wantErr, exErr.Code)
		})
	}
}

func TestFactoryPaperHasNoLiveVenue(t *testing.T) {
	f := NewFactory(nil, fixedClock)
	router, paper, err := f.Router(config.VenueConfig{Name: "paper"}, func() exchange.Route { return exchange.RouteLive })
	require.NoError(t, err)
	require.NotNil(t, paper)
	assert.Equal(t, "paper", router.GetName())
}
