package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/ids"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Engine owns positions, price history, trade history and the metrics derived
// from them. All mutation happens under mu, so a reader never sees a half
// updated snapshot.
type Engine struct {
	cfg    config.RiskConfig
	logger *logger.Logger
	clock  func() time.Time

	mu           sync.RWMutex
	positions    map[string]*Position
	prices       map[string][]float64
	trades       []TradeOutcome
	metrics      Metrics
	emergency    bool
	correlations map[[2]string]float64
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the engine logger
func WithLogger(log *logger.Logger) Option {
	return func(e *Engine) { e.logger = log.Component("risk") }
}

// NewEngine creates a risk engine
func NewEngine(cfg config.RiskConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:          cfg,
		logger:       logger.NewNop(),
		clock:        time.Now,
		positions:    make(map[string]*Position),
		prices:       make(map[string][]float64),
		correlations: make(map[[2]string]float64),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.PriceHistorySize <= 0 {
		e.cfg.PriceHistorySize = 500
	}
	if e.cfg.TradeHistoryDays <= 0 {
		e.cfg.TradeHistoryDays = 30
	}
	e.metrics.LastResetTime = e.clock().UTC()
	return e
}

// Config returns the risk configuration in use
func (e *Engine) Config() config.RiskConfig {
	return e.cfg
}

// Now returns the engine clock
func (e *Engine) Now() time.Time {
	return e.clock()
}

// maybeResetDaily clears the daily metrics once per UTC date change. Caller holds mu.
func (e *Engine) maybeResetDaily(now time.Time) {
	last := e.metrics.LastResetTime
	ny, nm, nd := now.UTC().Date()
	ly, lm, ld := last.UTC().Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	lastDay := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	if !today.After(lastDay) {
		return
	}

	e.metrics.DailyPnL = 0
	e.metrics.DailyPeakPnL = 0
	e.metrics.DailyDrawdown = 0
	e.metrics.DailyTradeCount = 0
	e.metrics.ConsecutiveLosses = 0
	e.metrics.LastResetTime = now.UTC()
	e.logger.Info("Daily risk metrics reset for %s", today.Format("2006-01-02"))
}

// OnPrice records a price and revalues positions in symbol
func (e *Engine) OnPrice(symbol string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.maybeResetDaily(e.clock())

	history := append(e.prices[symbol], price)
	if over := len(history) - e.cfg.PriceHistorySize; over > 0 {
		history = append(history[:0:0], history[over:]...)
	}
	e.prices[symbol] = history

	if pos, ok := e.positions[symbol]; ok {
		pos.CurrentPrice = price
		pos.PnL = (price - pos.EntryPrice) * pos.Size * pos.Side.Sign()
	}
	e.recompute()
}

// Fill is a venue fill applied to positions
type Fill struct {
	Symbol     string
	Side       types.Side
	Quantity   float64
	Price      float64
	Commission float64
	Timestamp  time.Time
}

// ApplyFill opens, increases, reduces or flips the symbol position and returns
// the realized PnL of the fill. Realized PnL is recorded as a trade outcome.
func (e *Engine) ApplyFill(fill Fill) float64 {
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	e.maybeResetDaily(now)
	if fill.Timestamp.IsZero() {
		fill.Timestamp = now
	}

	realized := 0.0
	closed := false
	pos, ok := e.positions[fill.Symbol]
	remaining := fill.Quantity

	if ok && pos.Side != fill.Side {
		closeQty := math.Min(remaining, pos.Size)
		realized = (fill.Price-pos.EntryPrice)*closeQty*pos.Side.Sign() - fill.Commission
		entryNotional := pos.EntryPrice * closeQty
		closed = true

		pos.Size -= closeQty
		remaining -= closeQty
		if pos.Size <= 1e-12 {
			delete(e.positions, fill.Symbol)
			ok = false
		} else {
			pos.CurrentPrice = fill.Price
			pos.PnL = (fill.Price - pos.EntryPrice) * pos.Size * pos.Side.Sign()
		}

		ret := 0.0
		if entryNotional > 0 {
			ret = realized / entryNotional
		}
		e.recordOutcome(TradeOutcome{Symbol: fill.Symbol, PnL: realized, Return: ret, Timestamp: fill.Timestamp})
	}

	if remaining > 1e-12 {
		if ok {
			total := pos.Size + remaining
			pos.EntryPrice = (pos.EntryPrice*pos.Size + fill.Price*remaining) / total
			pos.Size = total
			pos.CurrentPrice = fill.Price
			pos.PnL = (fill.Price - pos.EntryPrice) * pos.Size * pos.Side.Sign()
		} else {
			pos = &Position{
				ID:           ids.Random(),
				Symbol:       fill.Symbol,
				Side:         fill.Side,
				Size:         remaining,
				EntryPrice:   fill.Price,
				CurrentPrice: fill.Price,
				Timestamp:    fill.Timestamp,
			}
			e.positions[fill.Symbol] = pos
		}
		e.attachExits(pos)
		if !closed {
			e.metrics.DailyPnL -= fill.Commission
			e.updateDrawdown()
		}
	}

	e.recompute()
	return realized
}

// attachExits sets stop-loss and take-profit levels from the entry price
func (e *Engine) attachExits(pos *Position) {
	if e.cfg.StopLossPct > 0 {
		sl := pos.EntryPrice * (1 - pos.Side.Sign()*e.cfg.StopLossPct)
		pos.StopLoss = &sl
	}
	if e.cfg.TakeProfitPct > 0 {
		tp := pos.EntryPrice * (1 + pos.Side.Sign()*e.cfg.TakeProfitPct)
		pos.TakeProfit = &tp
	}
}

// RecordTradeOutcome records a realized trade result computed elsewhere
func (e *Engine) RecordTradeOutcome(outcome TradeOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	e.maybeResetDaily(now)
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = now
	}
	e.recordOutcome(outcome)
	e.recompute()
}

// recordOutcome updates trade history and daily metrics. Caller holds mu.
func (e *Engine) recordOutcome(outcome TradeOutcome) {
	e.trades = append(e.trades, outcome)
	e.pruneTrades(e.clock())

	e.metrics.DailyPnL += outcome.PnL
	switch {
	case outcome.PnL < 0:
		e.metrics.ConsecutiveLosses++
	case outcome.PnL > 0:
		e.metrics.ConsecutiveLosses = 0
	}
	e.updateDrawdown()

	e.logger.Trade("Trade outcome %s pnl=%.2f return=%.4f daily=%.2f", outcome.Symbol, outcome.PnL, outcome.Return, e.metrics.DailyPnL)
}

func (e *Engine) updateDrawdown() {
	if e.metrics.DailyPnL > e.metrics.DailyPeakPnL {
		e.metrics.DailyPeakPnL = e.metrics.DailyPnL
	}
	if e.cfg.RiskBudget > 0 {
		e.metrics.DailyDrawdown = (e.metrics.DailyPeakPnL - e.metrics.DailyPnL) / e.cfg.RiskBudget
	}
	if e.metrics.DailyDrawdown > e.metrics.MaxDrawdown {
		e.metrics.MaxDrawdown = e.metrics.DailyDrawdown
	}
}

func (e *Engine) pruneTrades(now time.Time) {
	cutoff := now.Add(-time.Duration(e.cfg.TradeHistoryDays) * 24 * time.Hour)
	i := 0
	for i < len(e.trades) && e.trades[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		e.trades = append(e.trades[:0:0], e.trades[i:]...)
	}
}

// IncrementTradeCount counts an order sent to the venue against the daily cap
func (e *Engine) IncrementTradeCount() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeResetDaily(e.clock())
	e.metrics.DailyTradeCount++
}

// recompute derives exposure, utilization and volatility. Caller holds mu.
func (e *Engine) recompute() {
	exposure := 0.0
	weightedVol := 0.0
	for symbol, pos := range e.positions {
		n := pos.Notional()
		exposure += n
		weightedVol += n * e.volatilityLocked(symbol)
	}
	e.metrics.TotalExposure = exposure
	if e.cfg.MaxExposureUSD > 0 {
		e.metrics.RiskUtilization = exposure / e.cfg.MaxExposureUSD
	}
	if exposure > 0 {
		e.metrics.CurrentVolatility = weightedVol / exposure
	} else {
		e.metrics.CurrentVolatility = 0
	}
}

// Metrics returns a snapshot of the current metrics
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeResetDaily(e.clock())
	return e.metrics
}

// Positions returns open positions ordered by symbol
func (e *Engine) Positions() []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the open position in symbol
func (e *Engine) Position(symbol string) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// LastPrice returns the most recent price recorded for symbol
func (e *Engine) LastPrice(symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.prices[symbol]
	if len(h) == 0 {
		return 0, false
	}
	return h[len(h)-1], true
}

// PriceHistory returns a copy of the price buffer for symbol
func (e *Engine) PriceHistory(symbol string) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]float64(nil), e.prices[symbol]...)
}

// Volatility returns annualized volatility of symbol returns, or the target
// volatility when fewer than 20 prices are known.
func (e *Engine) Volatility(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.volatilityLocked(symbol)
}

func (e *Engine) volatilityLocked(symbol string) float64 {
	history := e.prices[symbol]
	if len(history) < minVolatilityPoints {
		return e.cfg.TargetAnnVol
	}
	return stdev(returns(history)) * math.Sqrt(tradingDaysPerYear)
}

// WinStats estimates win rate and average win/loss for symbol. With fewer than
// 10 trades it returns 50% / 1% / 1%.
func (e *Engine) WinStats(symbol string) WinStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneTrades(e.clock())

	var wins, losses []float64
	for _, t := range e.trades {
		if t.Symbol != symbol {
			continue
		}
		if t.PnL > 0 {
			wins = append(wins, math.Abs(t.Return))
		} else if t.PnL < 0 {
			losses = append(losses, math.Abs(t.Return))
		}
	}
	n := len(wins) + len(losses)
	if n < MinTradesForStats {
		return WinStats{WinRate: 0.5, AvgWin: 0.01, AvgLoss: 0.01, Trades: n, Defaults: true}
	}

	stats := WinStats{
		WinRate: float64(len(wins)) / float64(n),
		AvgWin:  mean(wins),
		AvgLoss: mean(losses),
		Trades:  n,
	}
	if stats.AvgWin <= 0 {
		stats.AvgWin = 0.01
	}
	if stats.AvgLoss <= 0 {
		stats.AvgLoss = 0.01
	}
	return stats
}

// KellyFraction returns the raw Kelly fraction for symbol
func (e *Engine) KellyFraction(symbol string) float64 {
	s := e.WinStats(symbol)
	return Kelly(s.WinRate, s.AvgWin, s.AvgLoss)
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// SetCorrelation pins the correlation between two symbols, overriding the
// estimate from price history.
func (e *Engine) SetCorrelation(a, b string, rho float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.correlations[pairKey(a, b)] = rho
}

// Correlation returns the return correlation of two symbols, 0 when unknown
func (e *Engine) Correlation(a, b string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.correlationLocked(a, b)
}

func (e *Engine) correlationLocked(a, b string) float64 {
	if a == b {
		return 1
	}
	if rho, ok := e.correlations[pairKey(a, b)]; ok {
		return rho
	}
	rho, ok := pearson(returns(e.prices[a]), returns(e.prices[b]))
	if !ok {
		return 0
	}
	return rho
}

// MaxCorrelation returns the largest |correlation| between symbol and an open
// position that moves together with a new position on side. A position whose
// correlated move offsets the new side is a hedge and is skipped.
func (e *Engine) MaxCorrelation(symbol string, side types.Side) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	best := 0.0
	for other, pos := range e.positions {
		if other == symbol {
			continue
		}
		rho := e.correlationLocked(symbol, other)
		if rho*pos.Side.Sign()*side.Sign() <= 0 {
			continue
		}
		if rho = math.Abs(rho); rho > best {
			best = rho
		}
	}
	return best
}

// SymbolCapacityUSD is the notional that can still be added to symbol on side
func (e *Engine) SymbolCapacityUSD(symbol string, side types.Side) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	capacity := e.cfg.MaxPositionUSD(symbol)
	if pos, ok := e.positions[symbol]; ok && pos.Side == side {
		capacity -= pos.Notional()
	}
	return math.Max(capacity, 0)
}

// ExposureCapacityUSD is the notional left before the portfolio exposure cap
func (e *Engine) ExposureCapacityUSD() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return math.Max(e.cfg.MaxExposureUSD-e.metrics.TotalExposure, 0)
}

// SetEmergency raises or clears the emergency flag
func (e *Engine) SetEmergency(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emergency = on
	if on {
		e.logger.LogError("Emergency flag raised", fmt.Errorf("emergency stop requested"))
	} else {
		e.logger.Info("Emergency flag cleared")
	}
}

// Emergency reports whether the emergency flag is set
func (e *Engine) Emergency() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.emergency
}

// CheckCircuitBreakers returns every current violation ordered from most to
// least severe. It never changes halt state.
func (e *Engine) CheckCircuitBreakers() []Violation {
	e.mu.Lock()
	now := e.clock()
	e.maybeResetDaily(now)
	m := e.metrics
	emergency := e.emergency
	var correlated []Violation
	if e.cfg.MaxCorrelation > 0 {
		correlated = e.correlationViolationsLocked(now)
	}
	e.mu.Unlock()

	var out []Violation
	add := func(t ViolationType, s Severity, value, limit float64, format string, args ...interface{}) {
		out = append(out, Violation{
			Type:      t,
			Severity:  s,
			Message:   fmt.Sprintf(format, args...),
			Value:     value,
			Limit:     limit,
			Timestamp: now,
		})
	}

	if emergency {
		add(ViolationEmergency, SeverityCritical, 1, 0, "emergency stop flag is set")
	}

	critical := e.cfg.Drawdown.CriticalPct
	if critical <= 0 {
		critical = e.cfg.MaxDDDailyPct
	}
	if critical > 0 {
		alert := e.cfg.Drawdown.AlertPct
		if alert <= 0 {
			alert = critical * 0.8
		}
		warning := e.cfg.Drawdown.WarningPct
		if warning <= 0 {
			warning = critical * 0.5
		}
		dd := m.DailyDrawdown
		switch {
		case dd >= critical:
			add(ViolationDrawdown, SeverityCritical, dd, critical, "daily drawdown %.2f%% reached hard limit %.2f%%", dd*100, critical*100)
		case dd >= alert:
			add(ViolationDrawdown, SeverityHigh, dd, critical, "daily drawdown %.2f%% above alert level %.2f%%", dd*100, alert*100)
		case dd >= warning:
			add(ViolationDrawdown, SeverityMedium, dd, critical, "daily drawdown %.2f%% above warning level %.2f%%", dd*100, warning*100)
		}
	}

	if e.cfg.MaxExposureUSD > 0 {
		ratio := m.TotalExposure / e.cfg.MaxExposureUSD
		switch {
		case ratio >= 0.9:
			add(ViolationExposure, SeverityHigh, m.TotalExposure, e.cfg.MaxExposureUSD, "exposure $%.2f is %.0f%% of cap", m.TotalExposure, ratio*100)
		case ratio >= 0.75:
			add(ViolationExposure, SeverityMedium, m.TotalExposure, e.cfg.MaxExposureUSD, "exposure $%.2f is %.0f%% of cap", m.TotalExposure, ratio*100)
		}
	}

	if max := e.cfg.MaxConsecutiveLosses; max > 0 {
		switch {
		case m.ConsecutiveLosses >= max:
			add(ViolationConsecutiveLosses, SeverityHigh, float64(m.ConsecutiveLosses), float64(max), "%d consecutive losses", m.ConsecutiveLosses)
		case max > 1 && m.ConsecutiveLosses == max-1:
			add(ViolationConsecutiveLosses, SeverityMedium, float64(m.ConsecutiveLosses), float64(max), "%d consecutive losses, one below limit", m.ConsecutiveLosses)
		}
	}

	if max := e.cfg.MaxDailyTrades; max > 0 && m.DailyTradeCount >= max {
		add(ViolationTradeCount, SeverityMedium, float64(m.DailyTradeCount), float64(max), "daily trade count %d reached cap", m.DailyTradeCount)
	}

	if target := e.cfg.TargetAnnVol; target > 0 && m.CurrentVolatility > 1.5*target {
		add(ViolationVolatility, SeverityMedium, m.CurrentVolatility, target, "portfolio volatility %.2f%% above 1.5x target", m.CurrentVolatility*100)
	}

	out = append(out, correlated...)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}

func (e *Engine) correlationViolationsLocked(now time.Time) []Violation {
	symbols := make([]string, 0, len(e.positions))
	for s := range e.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var out []Violation
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			rho := e.correlationLocked(symbols[i], symbols[j])
			if math.Abs(rho) <= e.cfg.MaxCorrelation {
				continue
			}
			out = append(out, Violation{
				Type:      ViolationCorrelation,
				Severity:  SeverityMedium,
				Message:   fmt.Sprintf("%s and %s correlation %.2f above %.2f", symbols[i], symbols[j], rho, e.cfg.MaxCorrelation),
				Value:     rho,
				Limit:     e.cfg.MaxCorrelation,
				Timestamp: now,
			})
		}
	}
	return out
}
