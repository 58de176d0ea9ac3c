package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Trading modes
const (
	ModeLive  = "live"
	ModePaper = "paper"
)

// Store drivers
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the complete startup configuration of the OMS
type Config struct {
	Environment     string   `json:"environment" yaml:"environment"`
	Mode            string   `json:"mode" yaml:"mode"` // live or paper
	Symbols         []string `json:"symbols" yaml:"symbols"`
	DisabledSymbols []string `json:"disabled_symbols" yaml:"disabled_symbols"`

	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	OMS        OMSConfig        `json:"oms" yaml:"oms"`
	RateGate   RateGateConfig   `json:"rate_gate" yaml:"rate_gate"`
	Breaker    BreakerConfig    `json:"breaker" yaml:"breaker"`
	Venue      VenueConfig      `json:"venue" yaml:"venue"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// RiskConfig holds risk budget and limit configuration
type RiskConfig struct {
	RiskBudget           float64            `json:"risk_budget" yaml:"risk_budget"`                       // capital at risk, USD
	MaxPosUSD            float64            `json:"max_pos_usd" yaml:"max_pos_usd"`                       // per-symbol default cap
	MaxPosUSDPerSymbol   map[string]float64 `json:"max_pos_usd_per_symbol" yaml:"max_pos_usd_per_symbol"` // overrides
	MaxExposureUSD       float64            `json:"max_exposure_usd" yaml:"max_exposure_usd"`
	MaxDailyTrades       int                `json:"max_daily_trades" yaml:"max_daily_trades"`
	MaxConsecutiveLosses int                `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	MaxDDDailyPct        float64            `json:"max_dd_daily_pct" yaml:"max_dd_daily_pct"` // hard daily drawdown, fraction of budget
	Drawdown             DrawdownTiers      `json:"drawdown" yaml:"drawdown"`
	KellyFractionCap     float64            `json:"kelly_fraction_cap" yaml:"kelly_fraction_cap"`
	TargetAnnVol         float64            `json:"target_ann_vol" yaml:"target_ann_vol"`
	StopLossPct          float64            `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct        float64            `json:"take_profit_pct" yaml:"take_profit_pct"`
	MaxCorrelation       float64            `json:"max_correlation" yaml:"max_correlation"`
	ConfidenceThreshold  float64            `json:"confidence_threshold" yaml:"confidence_threshold"`
	MinSignalStrength    float64            `json:"min_signal_strength" yaml:"min_signal_strength"`
	MaxRiskPerTradePct   float64            `json:"max_risk_per_trade_pct" yaml:"max_risk_per_trade_pct"`
	TradingHours         TradingHours       `json:"trading_hours" yaml:"trading_hours"`
	PriceHistorySize     int                `json:"price_history_size" yaml:"price_history_size"`
	TradeHistoryDays     int                `json:"trade_history_days" yaml:"trade_history_days"`
}

// DrawdownTiers are daily drawdown thresholds as fractions of the risk budget
type DrawdownTiers struct {
	WarningPct  float64 `json:"warning_pct" yaml:"warning_pct"`
	AlertPct    float64 `json:"alert_pct" yaml:"alert_pct"`
	CriticalPct float64 `json:"critical_pct" yaml:"critical_pct"`
}

// MaxPositionUSD returns the position cap for symbol
func (r RiskConfig) MaxPositionUSD(symbol string) float64 {
	if v, ok := r.MaxPosUSDPerSymbol[symbol]; ok && v > 0 {
		return v
	}
	return r.MaxPosUSD
}

// TradingHours is a UTC window in HH:MM form. Empty means always open.
// A window whose end precedes its start wraps past midnight.
type TradingHours struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Contains reports whether t falls inside the window
func (h TradingHours) Contains(t time.Time) bool {
	if h.Start == "" || h.End == "" {
		return true
	}
	start, err1 := parseClock(h.Start)
	end, err2 := parseClock(h.End)
	if err1 != nil || err2 != nil {
		return true
	}
	u := t.UTC()
	now := u.Hour()*60 + u.Minute()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// OMSConfig configures the order state machine
type OMSConfig struct {
	SubmitTimeout        Duration `json:"submit_timeout" yaml:"submit_timeout"`
	CancelTimeout        Duration `json:"cancel_timeout" yaml:"cancel_timeout"`
	TerminalMaxAge       Duration `json:"terminal_max_age" yaml:"terminal_max_age"`
	GCInterval           Duration `json:"gc_interval" yaml:"gc_interval"`
	ReconcileInterval    Duration `json:"reconcile_interval" yaml:"reconcile_interval"`
	MaxReconcileAttempts int      `json:"max_reconcile_attempts" yaml:"max_reconcile_attempts"`
}

// RateGateConfig configures the venue call scheduler
type RateGateConfig struct {
	MaxRequests int      `json:"max_requests" yaml:"max_requests"`
	Window      Duration `json:"window" yaml:"window"`
	MaxInFlight int      `json:"max_in_flight" yaml:"max_in_flight"`
	MaxBacklog  int      `json:"max_backlog" yaml:"max_backlog"`
}

// BreakerConfig configures the circuit breaker controller
type BreakerConfig struct {
	MinHaltDuration Duration          `json:"min_halt_duration" yaml:"min_halt_duration"`
	CheckInterval   Duration          `json:"check_interval" yaml:"check_interval"`
	ReduceFactor    float64           `json:"reduce_factor" yaml:"reduce_factor"`
	HighPolicy      map[string]string `json:"high_policy" yaml:"high_policy"` // violation type -> halt|reduce
}

// VenueConfig selects and configures the execution venue
type VenueConfig struct {
	Name  string       `json:"name" yaml:"name"` // bybit or paper
	Bybit *BybitConfig `json:"bybit,omitempty" yaml:"bybit,omitempty"`
	Paper PaperConfig  `json:"paper" yaml:"paper"`
}

// PaperConfig tunes the simulated venue used in paper mode
type PaperConfig struct {
	FeeRate     float64 `json:"fee_rate" yaml:"fee_rate"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`
}

// BybitConfig holds Bybit-specific configuration
type BybitConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APISecret string `json:"api_secret" yaml:"api_secret"`
	Testnet   bool   `json:"testnet" yaml:"testnet"`
	Demo      bool   `json:"demo" yaml:"demo"`
	Category  string `json:"category" yaml:"category"` // linear, spot, inverse
}

// StoreConfig selects order persistence
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	Path   string `json:"path" yaml:"path"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// MonitoringConfig configures the HTTP surface and profiling
type MonitoringConfig struct {
	MetricsAddr   string `json:"metrics_addr" yaml:"metrics_addr"`
	PyroscopeAddr string `json:"pyroscope_addr" yaml:"pyroscope_addr"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
}

// Duration wraps time.Duration so it can be written as "30s" in YAML and JSON
type Duration struct {
	time.Duration
}

// D builds a Duration
func D(d time.Duration) Duration { return Duration{d} }

// UnmarshalYAML accepts a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalJSON accepts a duration string or nanoseconds
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	d.Duration = time.Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
