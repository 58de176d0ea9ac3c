// Package sizing turns a signal into a bounded order size using the Kelly
// criterion, volatility targeting, and confidence and correlation
// adjustments.
package sizing

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

const (
	minVolAdjustment = 0.1
	maxVolAdjustment = 2.0
	// portfolioRiskShare caps the summed risk of positions sized together
	portfolioRiskShare = 0.8
	// capWarnRatio is how far caps may cut the size before it is reported
	capWarnRatio = 0.5
)

// Estimator is the read side of the risk engine the sizer needs.
// *risk.Engine implements it.
type Estimator interface {
	Config() config.RiskConfig
	WinStats(symbol string) risk.WinStats
	Volatility(symbol string) float64
	MaxCorrelation(symbol string, side types.Side) float64
	SymbolCapacityUSD(symbol string, side types.Side) float64
	ExposureCapacityUSD() float64
}

// Context is the input for one sizing decision. Optional fields left nil or
// zero are read from the Estimator.
type Context struct {
	Symbol             string
	Side               types.Side // derived from the signal sign when empty
	Signal             float64
	Confidence         float64
	Price              float64
	ExpectedVolatility float64
	Stats              *risk.WinStats
	Correlation        *float64
	// Multiplier scales the final fraction, e.g. the breaker's reduce factor
	Multiplier float64
}

// Adjustments are the factors applied to the raw Kelly fraction
type Adjustments struct {
	Signal      float64 `json:"signal"`
	Confidence  float64 `json:"confidence"`
	Volatility  float64 `json:"volatility"`
	Correlation float64 `json:"correlation"`
	Multiplier  float64 `json:"multiplier"`
	Portfolio   float64 `json:"portfolio"`
}

// Result is the sizing outcome. Degraded conditions are reported as warnings.
type Result struct {
	Symbol        string      `json:"symbol"`
	Side          types.Side  `json:"side"`
	Price         float64     `json:"price"`
	RawKelly      float64     `json:"rawKelly"`
	KellyFraction float64     `json:"kellyFraction"`
	Adjustments   Adjustments `json:"adjustments"`
	RiskAmount    float64     `json:"riskAmount"` // budget times final fraction
	BaseSize      float64     `json:"baseSize"`
	Size          float64     `json:"size"`
	SizeUSD       float64     `json:"sizeUsd"`
	RiskAtStop    float64     `json:"riskAtStop"` // loss if the stop is hit at the final size
	CappedBy      string      `json:"cappedBy,omitempty"`
	Warnings      []string    `json:"warnings,omitempty"`
}

func (r *Result) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Sizer computes position sizes
type Sizer struct {
	est    Estimator
	logger *logger.Logger
}

// NewSizer creates a sizer reading risk state from est
func NewSizer(est Estimator, log *logger.Logger) *Sizer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Sizer{est: est, logger: log.Component("sizing")}
}

// ConfidenceAdjustment penalizes confidence below 0.5 and damps it above 0.8
func ConfidenceAdjustment(confidence float64) float64 {
	switch {
	case confidence < 0.5:
		return confidence * 0.5
	case confidence <= 0.8:
		return confidence
	default:
		return 0.8 + (confidence-0.8)*0.5
	}
}

// VolatilityAdjustment scales toward the target volatility within [0.1, 2]
func VolatilityAdjustment(target, expected float64) float64 {
	if expected <= 0 || target <= 0 {
		return 1
	}
	return math.Max(minVolAdjustment, math.Min(maxVolAdjustment, target/expected))
}

// CorrelationAdjustment halves the size above maxCorrelation and cuts it to
// 70% above 0.7 of it
func CorrelationAdjustment(correlation, maxCorrelation float64) float64 {
	rho := math.Abs(correlation)
	switch {
	case maxCorrelation <= 0:
		return 1
	case rho > maxCorrelation:
		return 0.5
	case rho > 0.7*maxCorrelation:
		return 0.7
	default:
		return 1
	}
}

// Size runs the sizing pipeline for one signal
func (s *Sizer) Size(c Context) Result {
	cfg := s.est.Config()
	res := Result{Symbol: c.Symbol, Side: c.Side, Price: c.Price}
	if res.Side == "" {
		res.Side = types.SideBuy
		if c.Signal < 0 {
			res.Side = types.SideSell
		}
	}
	res.Adjustments.Portfolio = 1

	if c.Price <= 0 || math.IsNaN(c.Price) {
		res.warn("invalid price %.8f, size set to zero", c.Price)
		return res
	}
	if cfg.StopLossPct <= 0 {
		res.warn("stop loss percentage is not configured, size set to zero")
		return res
	}

	stats := s.est.WinStats(c.Symbol)
	if c.Stats != nil {
		stats = *c.Stats
	}
	res.RawKelly = risk.Kelly(stats.WinRate, stats.AvgWin, stats.AvgLoss)
	if stats.Defaults {
		res.warn("fewer than %d trades for %s, using default win statistics", risk.MinTradesForStats, c.Symbol)
	}

	expectedVol := c.ExpectedVolatility
	if expectedVol <= 0 {
		expectedVol = s.est.Volatility(c.Symbol)
	}
	correlation := s.est.MaxCorrelation(c.Symbol, res.Side)
	if c.Correlation != nil {
		correlation = *c.Correlation
	}
	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	adj := &res.Adjustments
	adj.Signal = math.Min(math.Abs(c.Signal), 1)
	adj.Confidence = ConfidenceAdjustment(c.Confidence)
	adj.Volatility = VolatilityAdjustment(cfg.TargetAnnVol, expectedVol)
	adj.Correlation = CorrelationAdjustment(correlation, cfg.MaxCorrelation)
	adj.Multiplier = multiplier

	fraction := res.RawKelly * adj.Signal * adj.Confidence * adj.Volatility * adj.Correlation * adj.Multiplier
	if cfg.KellyFractionCap > 0 && fraction > cfg.KellyFractionCap {
		res.warn("kelly fraction %.4f capped at %.4f", fraction, cfg.KellyFractionCap)
		fraction = cfg.KellyFractionCap
	}
	res.KellyFraction = fraction

	if c.Confidence < 0.5 {
		res.warn("low confidence %.2f", c.Confidence)
	}
	if cfg.TargetAnnVol > 0 && expectedVol > 1.5*cfg.TargetAnnVol {
		res.warn("high volatility %.4f against target %.4f", expectedVol, cfg.TargetAnnVol)
	}
	if adj.Correlation < 1 {
		res.warn("high correlation %.2f with open positions", math.Abs(correlation))
	}
	if res.KellyFraction <= 0 {
		res.warn("no positive edge for %s", c.Symbol)
		return res
	}

	res.RiskAmount = cfg.RiskBudget * res.KellyFraction
	res.BaseSize = res.RiskAmount / (c.Price * cfg.StopLossPct)
	baseUSD := res.BaseSize * c.Price

	sizeUSD := baseUSD
	if symbolCap := s.est.SymbolCapacityUSD(c.Symbol, res.Side); symbolCap < sizeUSD {
		sizeUSD = symbolCap
		res.CappedBy = "symbol"
	}
	if exposureCap := s.est.ExposureCapacityUSD(); exposureCap < sizeUSD {
		sizeUSD = exposureCap
		res.CappedBy = "exposure"
	}
	res.SizeUSD = sizeUSD
	res.Size = sizeUSD / c.Price
	res.RiskAtStop = sizeUSD * cfg.StopLossPct

	if baseUSD > 0 && sizeUSD < baseUSD*capWarnRatio {
		res.warn("size reduced by %s cap from %.2f to %.2f USD", res.CappedBy, baseUSD, sizeUSD)
	}
	if cfg.MaxRiskPerTradePct > 0 && res.RiskAtStop > cfg.RiskBudget*cfg.MaxRiskPerTradePct {
		res.warn("risk per trade %.2f exceeds limit %.2f", res.RiskAtStop, cfg.RiskBudget*cfg.MaxRiskPerTradePct)
	}

	s.logger.Debug("Sized %s %s: kelly=%.4f (raw %.4f) size=%.8f usd=%.2f capped=%s",
		c.Symbol, res.Side, res.KellyFraction, res.RawKelly, res.Size, res.SizeUSD, res.CappedBy)
	return res
}

// SizePortfolio sizes signals that will be opened together. When their summed
// risk at stop exceeds 80% of the risk budget, or their summed notional
// exceeds the remaining exposure capacity, every size is scaled down by the
// same factor. The factor applied is returned.
func (s *Sizer) SizePortfolio(contexts []Context) ([]Result, float64) {
	cfg := s.est.Config()
	results := make([]Result, len(contexts))
	var totalRisk, totalUSD float64
	for i, c := range contexts {
		results[i] = s.Size(c)
		totalRisk += results[i].RiskAtStop
		totalUSD += results[i].SizeUSD
	}

	scale := 1.0
	if limit := cfg.RiskBudget * portfolioRiskShare; totalRisk > limit && totalRisk > 0 {
		scale = limit / totalRisk
	}
	if capacity := s.est.ExposureCapacityUSD(); totalUSD > capacity && totalUSD > 0 {
		scale = math.Min(scale, capacity/totalUSD)
	}
	if scale >= 1 {
		return results, 1
	}

	for i := range results {
		r := &results[i]
		r.Size *= scale
		r.SizeUSD *= scale
		r.RiskAtStop *= scale
		r.Adjustments.Portfolio = scale
		r.warn("portfolio risk scaled by %.4f", scale)
	}
	s.logger.Info("Scaled %d simultaneous positions by %.4f (risk %.2f, notional %.2f)", len(results), scale, totalRisk, totalUSD)
	return results, scale
}
