package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/events"
	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/exchange/fake"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
	"github.com/ducminhle1904/crypto-oms/internal/safety"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	m     *Manager
	venue *fake.Venue
	clock *testClock
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.RateGate.MaxRequests = 1000
	cfg.RateGate.Window = config.D(time.Millisecond)
	cfg.RateGate.MaxInFlight = 4
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	h := &harness{
		venue: fake.NewVenue("fake"),
		clock: &testClock{now: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)},
	}
	m, err := New(cfg, Deps{
		Venue: h.venue,
		Clock: h.clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	})
	require.NoError(t, err)
	t.Cleanup(m.Orders().Close)
	h.m = m
	return h
}

// seedHistory gives symbol a 60% win rate with 2% average wins and 1%
// average losses, ending on a win.
func seedHistory(e *risk.Engine, symbol string) {
	for i := 0; i < 4; i++ {
		e.RecordTradeOutcome(risk.TradeOutcome{Symbol: symbol, PnL: -1, Return: -0.01})
	}
	for i := 0; i < 6; i++ {
		e.RecordTradeOutcome(risk.TradeOutcome{Symbol: symbol, PnL: 2, Return: 0.02})
	}
}

func signal(symbol string, value, confidence float64) types.Signal {
	return types.Signal{Symbol: symbol, Value: value, Confidence: confidence}
}

func TestNewRequiresVenue(t *testing.T) {
	_, err := New(testConfig(), Deps{})
	assert.Error(t, err)
}

func TestValidateSignalRejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		cfg    func(cfg *config.Config)
		signal types.Signal
		reason string
	}{
		{name: "approved", signal: signal("BTCUSDT", 0.5, 0.8)},
		{name: "out of range", signal: signal("BTCUSDT", 1.5, 0.8), reason: ReasonInvalidSignal},
		{name: "low confidence", signal: signal("BTCUSDT", 0.5, 0.4), reason: ReasonLowConfidence},
		{name: "weak signal", signal: signal("BTCUSDT", 0.05, 0.9), reason: ReasonWeakSignal},
		{
			name:   "disabled symbol",
			cfg:    func(cfg *config.Config) { cfg.DisabledSymbols = []string{"ethusdt"} },
			signal: signal("ETHUSDT", 0.5, 0.8),
			reason: ReasonSymbolDisabled,
		},
		{
			name:   "halted",
			setup:  func(h *harness) { h.m.Breaker().Halt("operator") },
			signal: signal("BTCUSDT", 0.5, 0.8),
			reason: ReasonHalted,
		},
		{
			name: "daily trade cap",
			cfg:  func(cfg *config.Config) { cfg.Risk.MaxDailyTrades = 2 },
			setup: func(h *harness) {
				h.m.Risk().IncrementTradeCount()
				h.m.Risk().IncrementTradeCount()
			},
			signal: signal("BTCUSDT", 0.5, 0.8),
			reason: ReasonDailyTradeLimit,
		},
		{
			name:   "outside trading hours",
			cfg:    func(cfg *config.Config) { cfg.Risk.TradingHours = config.TradingHours{Start: "13:00", End: "21:00"} },
			signal: signal("BTCUSDT", 0.5, 0.8),
			reason: ReasonOutsideHours,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			h := newHarness(t, cfg)
			if tt.setup != nil {
				tt.setup(h)
			}
			before := h.m.Risk().Metrics()

			d := h.m.ValidateSignal(tt.signal)

			assert.Equal(t, tt.reason == "", d.Approved)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, before.DailyTradeCount, h.m.Risk().Metrics().DailyTradeCount)
		})
	}
}

func TestCriticalDrawdownBlocksSignals(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Risk().RecordTradeOutcome(risk.TradeOutcome{Symbol: "BTCUSDT", PnL: -600})

	violations := h.m.Risk().CheckCircuitBreakers()
	require.NotEmpty(t, violations)
	assert.Equal(t, risk.ViolationDrawdown, violations[0].Type)
	assert.Equal(t, risk.SeverityCritical, violations[0].Severity)

	d := h.m.ValidateSignal(signal("BTCUSDT", 0.8, 0.9))
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonCriticalViolation, d.Reason)

	decision := h.m.EvaluateRisk()
	assert.Equal(t, safety.ActionHalt, decision.Action)
	assert.True(t, h.m.Breaker().IsHalted())

	d = h.m.ValidateSignal(signal("BTCUSDT", 0.8, 0.9))
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonHalted, d.Reason)

	size := h.m.CalculatePositionSize(signal("BTCUSDT", 0.8, 0.9), 100)
	assert.Zero(t, size.Size)
	assert.NotEmpty(t, size.Warnings)
}

func TestCorrelatedPositionsHalveSize(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.KellyFractionCap = 1
	cfg.Risk.MaxPosUSD = 1e9
	cfg.Risk.MaxExposureUSD = 1e10
	h := newHarness(t, cfg)
	e := h.m.Risk()
	seedHistory(e, "BTCUSDT")
	e.ApplyFill(risk.Fill{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 0.01, Price: 100})
	e.ApplyFill(risk.Fill{Symbol: "ETHUSDT", Side: types.SideBuy, Quantity: 0.01, Price: 100})

	e.SetCorrelation("BTCUSDT", "ETHUSDT", 0.1)
	free := h.m.CalculatePositionSize(signal("BTCUSDT", 0.8, 0.9), 100)

	e.SetCorrelation("BTCUSDT", "ETHUSDT", 0.85)
	reduced := h.m.CalculatePositionSize(signal("BTCUSDT", 0.8, 0.9), 100)

	require.Positive(t, free.Size)
	assert.Equal(t, 0.5, reduced.Adjustments.Correlation)
	assert.InDelta(t, free.Size*0.5, reduced.Size, 1e-9)
	assert.Contains(t, reduced.Warnings, "high correlation 0.85 with open positions")

	hedge := h.m.CalculatePositionSize(signal("BTCUSDT", -0.8, 0.9), 100)
	assert.Equal(t, 1.0, hedge.Adjustments.Correlation)

	violations, unsubscribe := h.m.Bus().Subscribe(8, events.RiskViolation)
	defer unsubscribe()
	decision := h.m.EvaluateRisk()

	var found bool
	for _, v := range decision.Violations {
		if v.Type == risk.ViolationCorrelation {
			found = true
			assert.Equal(t, risk.SeverityMedium, v.Severity)
		}
	}
	assert.True(t, found)
	assert.Equal(t, safety.ActionWarn, decision.Action)

	select {
	case ev := <-violations:
		assert.Equal(t, string(risk.ViolationCorrelation), ev.Violation.Type)
	default:
		t.Fatal("expected a risk_violation event")
	}
}

func TestExecuteSignalSubmitsOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxPosUSD = 1e6
	cfg.Risk.MaxExposureUSD = 1e6
	h := newHarness(t, cfg)
	h.venue.SubmitFunc = func(ctx context.Context, req exchange.SubmitRequest) (*exchange.SubmitResult, error) {
		return &exchange.SubmitResult{
			VenueOrderID: "V-" + req.ClientOrderID,
			Accepted:     true,
			FillQty:      req.Quantity,
			FillPrice:    100,
		}, nil
	}
	seedHistory(h.m.Risk(), "BTCUSDT")
	h.m.OnTick(context.Background(), types.MarketTick{Symbol: "BTCUSDT", Last: 100})

	sig := signal("BTCUSDT", 0.8, 0.9)
	sig.Timestamp = h.clock.Now()
	res := h.m.ExecuteSignal(context.Background(), sig)

	require.True(t, res.Decision.Approved, res.Decision.Message)
	require.NotNil(t, res.Sizing)
	require.NotNil(t, res.Order)
	assert.Equal(t, 0.25, res.Sizing.KellyFraction)
	assert.InDelta(t, 125000, res.Sizing.SizeUSD, 1e-6)
	assert.Equal(t, oms.StatusFilled, res.Order.Status)
	assert.InDelta(t, 1250, res.Order.FilledQuantity, 1e-9)

	pos, ok := h.m.Risk().Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 1250, pos.Size, 1e-9)
	assert.Equal(t, 1, h.m.Risk().Metrics().DailyTradeCount)

	again := h.m.ExecuteSignal(context.Background(), sig)
	require.NotNil(t, again.Order)
	assert.Equal(t, res.Order.OrderID, again.Order.OrderID)
	assert.Equal(t, 1, h.venue.SubmitCount())
	assert.Equal(t, 1, h.m.Risk().Metrics().DailyTradeCount)

	stats := h.m.SignalStats()
	assert.Equal(t, 2, stats.TotalSignals)
	assert.Equal(t, 2, stats.Executed)
}

func TestExecuteSignalWithoutPriceOrEdge(t *testing.T) {
	h := newHarness(t, nil)

	res := h.m.ExecuteSignal(context.Background(), signal("BTCUSDT", 0.8, 0.9))
	assert.Equal(t, ReasonNoPrice, res.Decision.Reason)

	h.m.OnTick(context.Background(), types.MarketTick{Symbol: "BTCUSDT", Bid: 99, Ask: 101})
	res = h.m.ExecuteSignal(context.Background(), signal("BTCUSDT", 0.8, 0.9))
	assert.Equal(t, ReasonZeroSize, res.Decision.Reason)
	assert.Nil(t, res.Order)
	assert.Zero(t, h.venue.SubmitCount())
}

func TestReduceActionScalesSizes(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.HighPolicy = map[string]string{"consecutive_losses": "reduce"}
	cfg.Risk.MaxConsecutiveLosses = 3
	cfg.Risk.KellyFractionCap = 1
	cfg.Risk.MaxPosUSD = 1e9
	cfg.Risk.MaxExposureUSD = 1e10
	h := newHarness(t, cfg)
	e := h.m.Risk()
	seedHistory(e, "BTCUSDT")

	full := h.m.CalculatePositionSize(signal("BTCUSDT", 0.8, 0.9), 100)

	for i := 0; i < 3; i++ {
		e.RecordTradeOutcome(risk.TradeOutcome{Symbol: "ETHUSDT", PnL: -1, Return: -0.001})
	}
	decision := h.m.EvaluateRisk()
	require.Equal(t, safety.ActionReduce, decision.Action)
	assert.False(t, h.m.Breaker().IsHalted())

	reduced := h.m.CalculatePositionSize(signal("BTCUSDT", 0.8, 0.9), 100)
	assert.Equal(t, 0.5, reduced.Adjustments.Multiplier)
	assert.InDelta(t, full.Size*0.5, reduced.Size, 1e-9)
}

func TestEmergencyStopCancelsWorkingOrders(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	a := h.m.SubmitOrder(ctx, types.OrderIntent{IdempotencyKey: "a", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 1, Price: 90})
	b := h.m.SubmitOrder(ctx, types.OrderIntent{IdempotencyKey: "b", Symbol: "ETHUSDT", Side: types.SideSell, Type: types.OrderTypeLimit, Quantity: 1, Price: 3000})
	stop := h.m.SubmitOrder(ctx, types.OrderIntent{IdempotencyKey: "s", Symbol: "BTCUSDT", Side: types.SideSell, Type: types.OrderTypeStop, Quantity: 1, StopPrice: 80})
	require.Equal(t, oms.StatusAck, a.Status)
	require.Equal(t, oms.StatusAck, b.Status)
	require.Equal(t, oms.StatusNew, stop.Status)

	halts, unsubscribe := h.m.Bus().Subscribe(4, events.Halt)
	defer unsubscribe()

	results := h.m.EmergencyStop(ctx, "operator kill switch")

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, oms.StatusCancelled, r.Status)
	}
	assert.Len(t, h.venue.Cancels(), 2)
	assert.True(t, h.m.Breaker().IsHalted())
	assert.True(t, h.m.Risk().Emergency())
	assert.Equal(t, exchange.RoutePaper, h.m.Route())

	select {
	case ev := <-halts:
		assert.Equal(t, "operator kill switch", ev.Mode.Reason)
		assert.True(t, ev.Mode.Manual)
	default:
		t.Fatal("expected a halt event")
	}

	blocked := h.m.SubmitOrder(ctx, types.OrderIntent{IdempotencyKey: "c", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Quantity: 1})
	assert.Equal(t, oms.StatusRejected, blocked.Status)
	assert.Equal(t, ReasonHalted, blocked.RejectReason)

	err := h.m.Resume("too early")
	require.Error(t, err)
	assert.True(t, h.m.Risk().Emergency())

	h.clock.Advance(6 * time.Minute)
	require.NoError(t, h.m.Resume("all clear"))
	assert.False(t, h.m.Breaker().IsHalted())
	assert.False(t, h.m.Risk().Emergency())
	assert.Equal(t, safety.ModePaper, h.m.Breaker().Mode())
}

func TestRouteFollowsMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = config.ModeLive
	h := newHarness(t, cfg)
	assert.Equal(t, exchange.RouteLive, h.m.Route())

	h.m.Breaker().Halt("test")
	assert.Equal(t, exchange.RoutePaper, h.m.Route())

	h.clock.Advance(10 * time.Minute)
	require.NoError(t, h.m.Resume("test over"))
	assert.Equal(t, exchange.RoutePaper, h.m.Route())

	require.Error(t, h.m.PromoteLive("too early"))
	h.clock.Advance(10 * time.Minute)
	require.NoError(t, h.m.PromoteLive("stable"))
	assert.Equal(t, exchange.RouteLive, h.m.Route())
}

func TestOnTickTriggersStopsAndFeedsVenue(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	stop := h.m.SubmitOrder(ctx, types.OrderIntent{IdempotencyKey: "s", Symbol: "BTCUSDT", Side: types.SideSell, Type: types.OrderTypeStop, Quantity: 1, StopPrice: 95})

	assert.Empty(t, h.m.OnTick(ctx, types.MarketTick{Symbol: "BTCUSDT", Last: 96}))
	triggered := h.m.OnTick(ctx, types.MarketTick{Symbol: "BTCUSDT", Last: 94})

	require.Len(t, triggered, 1)
	assert.Equal(t, stop.OrderID, triggered[0].OrderID)
	assert.Equal(t, oms.StatusAck, triggered[0].Status)
	assert.Len(t, h.venue.Ticks(), 2)
	price, ok := h.m.Risk().LastPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 94.0, price)
}

func TestHaltKeepsStopsArmed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	stop := h.m.SubmitOrder(ctx, types.OrderIntent{IdempotencyKey: "s", Symbol: "BTCUSDT", Side: types.SideSell, Type: types.OrderTypeStop, Quantity: 1, StopPrice: 95})
	require.Equal(t, oms.StatusNew, stop.Status)

	h.m.EmergencyStop(ctx, "operator kill switch")
	assert.Empty(t, h.m.OnTick(ctx, types.MarketTick{Symbol: "BTCUSDT", Last: 90}))

	assert.Zero(t, h.venue.SubmitCount())
	o, ok := h.m.Orders().Order(stop.OrderID)
	require.True(t, ok)
	assert.Equal(t, oms.StatusNew, o.Status)
	assert.True(t, o.Armed)

	h.clock.Advance(6 * time.Minute)
	require.NoError(t, h.m.Resume("all clear"))

	triggered := h.m.OnTick(ctx, types.MarketTick{Symbol: "BTCUSDT", Last: 90})
	require.Len(t, triggered, 1)
	assert.Equal(t, stop.OrderID, triggered[0].OrderID)
	assert.Equal(t, oms.StatusAck, triggered[0].Status)
	assert.Equal(t, 1, h.venue.SubmitCount())
}

func TestSetSymbolEnabled(t *testing.T) {
	h := newHarness(t, nil)
	h.m.SetSymbolEnabled("btcusdt", false)
	assert.Equal(t, ReasonSymbolDisabled, h.m.ValidateSignal(signal("BTCUSDT", 0.5, 0.8)).Reason)

	h.m.SetSymbolEnabled("BTCUSDT", true)
	assert.True(t, h.m.ValidateSignal(signal("BTCUSDT", 0.5, 0.8)).Approved)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.m.SubmitOrder(ctx, types.OrderIntent{IdempotencyKey: "a", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 1, Price: 90})
	h.m.Breaker().Halt("maintenance")

	snap := h.m.Status()

	assert.True(t, snap.Halted)
	assert.Equal(t, "maintenance", snap.HaltReason)
	assert.Equal(t, safety.ModeHalt, snap.Mode)
	assert.Equal(t, 1, snap.OpenOrders)
	assert.InDelta(t, 0.2, snap.OrdersPerMinute, 1e-12)
	assert.Equal(t, int64(1), snap.RateGate.Completed)
}

func TestRunProcessesVenueStreams(t *testing.T) {
	h := newHarness(t, nil)
	res := h.m.SubmitOrder(context.Background(), types.OrderIntent{IdempotencyKey: "a", Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Quantity: 1, Price: 90})
	require.Equal(t, oms.StatusAck, res.Status)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.m.Run(ctx) }()

	h.venue.Emit(types.ExecutionReport{OrderID: res.OrderID, FillID: "f1", Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: 1, Price: 90, Status: types.ExecStatusFilled})
	h.venue.EmitEvent(types.ConnectionEvent{Venue: "fake", Stream: "private", State: types.ConnectionReconnecting})

	assert.Eventually(t, func() bool {
		return h.m.Orders().Result(res.OrderID).Status == oms.StatusFilled
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !h.m.Health().Connected() }, time.Second, 5*time.Millisecond)

	pos, ok := h.m.Risk().Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.Size)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.False(t, h.venue.IsConnected())
}
