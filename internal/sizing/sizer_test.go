package sizing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		RiskBudget:         10000,
		MaxPosUSD:          5000,
		MaxExposureUSD:     20000,
		KellyFractionCap:   0.25,
		TargetAnnVol:       0.12,
		StopLossPct:        0.02,
		MaxCorrelation:     0.7,
		MaxRiskPerTradePct: 0.02,
	}
}

func ptr(v float64) *float64 { return &v }

func TestConfidenceAdjustment(t *testing.T) {
	tests := []struct {
		confidence, want float64
	}{
		{0.3, 0.15},
		{0.5, 0.5},
		{0.7, 0.7},
		{0.8, 0.8},
		{0.9, 0.85},
		{1.0, 0.9},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.1f", tt.confidence), func(t *testing.T) {
			assert.InDelta(t, tt.want, ConfidenceAdjustment(tt.confidence), 1e-12)
		})
	}
}

func TestVolatilityAdjustment(t *testing.T) {
	tests := []struct {
		name             string
		target, expected float64
		want             float64
	}{
		{"on target", 0.12, 0.12, 1},
		{"calm market", 0.12, 0.10, 1.2},
		{"clamped high", 0.12, 0.01, 2},
		{"clamped low", 0.12, 2.0, 0.1},
		{"unknown", 0.12, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, VolatilityAdjustment(tt.target, tt.expected), 1e-12)
		})
	}
}

func TestCorrelationAdjustment(t *testing.T) {
	tests := []struct {
		rho, want float64
	}{
		{0.85, 0.5},
		{-0.8, 0.5},
		{0.6, 0.7},
		{0.49, 1},
		{0.3, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.rho), func(t *testing.T) {
			assert.Equal(t, tt.want, CorrelationAdjustment(tt.rho, 0.7))
		})
	}
}

func TestSizeKellyCappedWithinPositionLimit(t *testing.T) {
	engine := risk.NewEngine(testRiskConfig())
	sizer := NewSizer(engine, nil)

	res := sizer.Size(Context{
		Symbol:             "EURUSD",
		Signal:             0.8,
		Confidence:         0.9,
		Price:              1.1,
		ExpectedVolatility: 0.10,
		Stats:              &risk.WinStats{WinRate: 0.6, AvgWin: 0.02, AvgLoss: 0.01, Trades: 50},
	})

	assert.InDelta(t, 0.4, res.RawKelly, 1e-12)
	assert.Equal(t, 0.25, res.KellyFraction)
	assert.Equal(t, types.SideBuy, res.Side)
	assert.InDelta(t, 0.85, res.Adjustments.Confidence, 1e-12)
	assert.InDelta(t, 1.2, res.Adjustments.Volatility, 1e-12)
	assert.InDelta(t, 2500, res.RiskAmount, 1e-9)
	assert.LessOrEqual(t, res.SizeUSD, 5000.0)
	assert.InDelta(t, 5000, res.SizeUSD, 1e-9)
	assert.Equal(t, "symbol", res.CappedBy)
	assert.InDelta(t, 5000/1.1, res.Size, 1e-9)
	assert.NotEmpty(t, res.Warnings)
}

func TestSizeNeverExceedsCaps(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxExposureUSD = 3000
	engine := risk.NewEngine(cfg)
	sizer := NewSizer(engine, nil)

	for _, signal := range []float64{-1, -0.5, 0.2, 0.6, 1} {
		for _, confidence := range []float64{0.2, 0.6, 0.95} {
			res := sizer.Size(Context{
				Symbol:             "BTCUSDT",
				Signal:             signal,
				Confidence:         confidence,
				Price:              50000,
				ExpectedVolatility: 0.05,
				Stats:              &risk.WinStats{WinRate: 0.9, AvgWin: 0.05, AvgLoss: 0.01},
			})
			assert.LessOrEqual(t, res.KellyFraction, cfg.KellyFractionCap)
			assert.LessOrEqual(t, res.Size*res.Price, cfg.MaxPosUSD+1e-9)
			assert.LessOrEqual(t, res.Size*res.Price, cfg.MaxExposureUSD+1e-9)
		}
	}
}

func TestSizeSellSideFromSignal(t *testing.T) {
	sizer := NewSizer(risk.NewEngine(testRiskConfig()), nil)
	res := sizer.Size(Context{Symbol: "ETHUSDT", Signal: -0.7, Confidence: 0.7, Price: 2000})
	assert.Equal(t, types.SideSell, res.Side)
}

func TestSizeNoEdgeIsZero(t *testing.T) {
	sizer := NewSizer(risk.NewEngine(testRiskConfig()), nil)

	res := sizer.Size(Context{
		Symbol:     "BTCUSDT",
		Signal:     1,
		Confidence: 0.9,
		Price:      100,
		Stats:      &risk.WinStats{WinRate: 0.3, AvgWin: 0.01, AvgLoss: 0.01},
	})

	assert.Zero(t, res.KellyFraction)
	assert.Zero(t, res.Size)
	assert.Contains(t, res.Warnings, "no positive edge for BTCUSDT")
}

func TestSizeInvalidPriceWarns(t *testing.T) {
	sizer := NewSizer(risk.NewEngine(testRiskConfig()), nil)
	res := sizer.Size(Context{Symbol: "BTCUSDT", Signal: 1, Confidence: 0.9})
	assert.Zero(t, res.Size)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "invalid price")
}

func TestSizeCorrelationHalvesFraction(t *testing.T) {
	cfg := testRiskConfig()
	cfg.KellyFractionCap = 1
	cfg.MaxPosUSD = 1e9
	cfg.MaxExposureUSD = 1e9
	sizer := NewSizer(risk.NewEngine(cfg), nil)
	base := Context{
		Symbol:             "ETHUSDT",
		Signal:             1,
		Confidence:         0.8,
		Price:              2000,
		ExpectedVolatility: 0.12,
		Stats:              &risk.WinStats{WinRate: 0.6, AvgWin: 0.02, AvgLoss: 0.01},
		Correlation:        ptr(0.1),
	}
	correlated := base
	correlated.Correlation = ptr(0.85)

	free := sizer.Size(base)
	halved := sizer.Size(correlated)

	assert.InDelta(t, free.Size*0.5, halved.Size, 1e-9)
	assert.Contains(t, halved.Warnings, "high correlation 0.85 with open positions")
}

func TestSizeMultiplierReduces(t *testing.T) {
	cfg := testRiskConfig()
	cfg.KellyFractionCap = 1
	cfg.MaxPosUSD = 1e9
	cfg.MaxExposureUSD = 1e9
	sizer := NewSizer(risk.NewEngine(cfg), nil)
	c := Context{Symbol: "BTCUSDT", Signal: 1, Confidence: 0.8, Price: 100, ExpectedVolatility: 0.12,
		Stats: &risk.WinStats{WinRate: 0.6, AvgWin: 0.02, AvgLoss: 0.01}}

	full := sizer.Size(c)
	c.Multiplier = 0.5
	reduced := sizer.Size(c)

	assert.InDelta(t, full.KellyFraction*0.5, reduced.KellyFraction, 1e-12)
}

func TestSizeDefaultStatsWarn(t *testing.T) {
	sizer := NewSizer(risk.NewEngine(testRiskConfig()), nil)
	res := sizer.Size(Context{Symbol: "BTCUSDT", Signal: 1, Confidence: 0.9, Price: 100})
	// default stats have no edge
	assert.Zero(t, res.RawKelly)
	assert.Contains(t, res.Warnings[0], "default win statistics")
}

func TestSizePortfolioScalesToRiskShare(t *testing.T) {
	cfg := testRiskConfig()
	cfg.RiskBudget = 1000
	cfg.MaxPosUSD = 20000
	cfg.MaxExposureUSD = 100000
	cfg.MaxRiskPerTradePct = 0
	sizer := NewSizer(risk.NewEngine(cfg), nil)

	stats := &risk.WinStats{WinRate: 0.6, AvgWin: 0.02, AvgLoss: 0.01}
	var contexts []Context
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"} {
		contexts = append(contexts, Context{Symbol: sym, Signal: 1, Confidence: 0.9, Price: 100, ExpectedVolatility: 0.10, Stats: stats})
	}

	results, scale := sizer.SizePortfolio(contexts)

	require.Len(t, results, 4)
	assert.InDelta(t, 0.8, scale, 1e-12)
	total := 0.0
	for _, r := range results {
		assert.InDelta(t, 200, r.RiskAtStop, 1e-9)
		assert.InDelta(t, 10000, r.SizeUSD, 1e-9)
		assert.Equal(t, scale, r.Adjustments.Portfolio)
		total += r.RiskAtStop
	}
	assert.InDelta(t, 800, total, 1e-9)
}

func TestSizePortfolioWithinBudgetUnchanged(t *testing.T) {
	sizer := NewSizer(risk.NewEngine(testRiskConfig()), nil)
	stats := &risk.WinStats{WinRate: 0.6, AvgWin: 0.02, AvgLoss: 0.01}

	results, scale := sizer.SizePortfolio([]Context{
		{Symbol: "BTCUSDT", Signal: 0.5, Confidence: 0.9, Price: 100, ExpectedVolatility: 0.12, Stats: stats},
	})

	assert.Equal(t, 1.0, scale)
	assert.Equal(t, 1.0, results[0].Adjustments.Portfolio)
}
