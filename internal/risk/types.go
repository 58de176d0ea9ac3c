package risk

import (
	"time"

	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Severity ranks a risk violation
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4)
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ViolationType names the limit a violation refers to
type ViolationType string

const (
	ViolationEmergency         ViolationType = "emergency"
	ViolationDrawdown          ViolationType = "drawdown"
	ViolationExposure          ViolationType = "exposure"
	ViolationConsecutiveLosses ViolationType = "consecutive_losses"
	ViolationTradeCount        ViolationType = "trade_count"
	ViolationVolatility        ViolationType = "volatility"
	ViolationCorrelation       ViolationType = "high_correlation"
)

// Violation is a structured risk signal. It is not an error.
type Violation struct {
	Type      ViolationType `json:"type"`
	Severity  Severity      `json:"severity"`
	Message   string        `json:"message"`
	Value     float64       `json:"value"`
	Limit     float64       `json:"limit"`
	Timestamp time.Time     `json:"timestamp"`
}

// Position is an open position tracked from fills
type Position struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	Side         types.Side `json:"side"`
	Size         float64    `json:"size"`
	EntryPrice   float64    `json:"entry_price"`
	CurrentPrice float64    `json:"current_price"`
	PnL          float64    `json:"pnl"`
	StopLoss     *float64   `json:"stop_loss,omitempty"`
	TakeProfit   *float64   `json:"take_profit,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Notional returns |size * current price|
func (p Position) Notional() float64 {
	price := p.CurrentPrice
	if price == 0 {
		price = p.EntryPrice
	}
	n := p.Size * price
	if n < 0 {
		return -n
	}
	return n
}

// Metrics is a snapshot of the computed risk metrics
type Metrics struct {
	TotalExposure     float64   `json:"total_exposure"`
	DailyPnL          float64   `json:"daily_pnl"`
	DailyPeakPnL      float64   `json:"daily_peak_pnl"`
	DailyDrawdown     float64   `json:"daily_drawdown"`
	MaxDrawdown       float64   `json:"max_drawdown"`
	CurrentVolatility float64   `json:"current_volatility"`
	RiskUtilization   float64   `json:"risk_utilization"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	DailyTradeCount   int       `json:"daily_trade_count"`
	LastResetTime     time.Time `json:"last_reset_time"`
}

// TradeOutcome is one closed (or partially closed) trade
type TradeOutcome struct {
	Symbol    string    `json:"symbol"`
	PnL       float64   `json:"pnl"`
	Return    float64   `json:"return"` // pnl / entry notional of the closed size
	Timestamp time.Time `json:"timestamp"`
}

// WinStats are the Kelly inputs estimated from trade history
type WinStats struct {
	WinRate  float64 `json:"win_rate"`
	AvgWin   float64 `json:"avg_win"`
	AvgLoss  float64 `json:"avg_loss"`
	Trades   int     `json:"trades"`
	Defaults bool    `json:"defaults"` // true when history was too short
}
