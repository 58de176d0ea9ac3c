package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML or JSON file, applies defaults,
// environment overrides and validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes config bytes and applies defaults without touching the environment
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		// Try YAML first, fall back to JSON
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.setDefaults()
	return cfg, nil
}

// Default returns a fully defaulted configuration, used by tests and paper runs
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// LoadDefaults builds the default configuration with environment overrides,
// for runs without a config file
func LoadDefaults() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads a .env file into the process environment; a missing file is not an error
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default values for missing configuration
func (c *Config) setDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Mode == "" {
		c.Mode = ModePaper
	}

	r := &c.Risk
	if r.RiskBudget == 0 {
		r.RiskBudget = 10000
	}
	if r.MaxPosUSD == 0 {
		r.MaxPosUSD = r.RiskBudget * 0.5
	}
	if r.MaxExposureUSD == 0 {
		r.MaxExposureUSD = r.RiskBudget * 2
	}
	if r.MaxDailyTrades == 0 {
		r.MaxDailyTrades = 50
	}
	if r.MaxConsecutiveLosses == 0 {
		r.MaxConsecutiveLosses = 5
	}
	if r.MaxDDDailyPct == 0 {
		r.MaxDDDailyPct = 0.05
	}
	if r.Drawdown.CriticalPct == 0 {
		r.Drawdown.CriticalPct = r.MaxDDDailyPct
	}
	if r.Drawdown.AlertPct == 0 {
		r.Drawdown.AlertPct = 0.8 * r.Drawdown.CriticalPct
	}
	if r.Drawdown.WarningPct == 0 {
		r.Drawdown.WarningPct = 0.5 * r.Drawdown.CriticalPct
	}
	if r.KellyFractionCap == 0 {
		r.KellyFractionCap = 0.25
	}
	if r.TargetAnnVol == 0 {
		r.TargetAnnVol = 0.15
	}
	if r.StopLossPct == 0 {
		r.StopLossPct = 0.02
	}
	if r.TakeProfitPct == 0 {
		r.TakeProfitPct = 0.04
	}
	if r.MaxCorrelation == 0 {
		r.MaxCorrelation = 0.7
	}
	if r.ConfidenceThreshold == 0 {
		r.ConfidenceThreshold = 0.6
	}
	if r.MinSignalStrength == 0 {
		r.MinSignalStrength = 0.1
	}
	if r.MaxRiskPerTradePct == 0 {
		r.MaxRiskPerTradePct = 0.02
	}
	if r.PriceHistorySize == 0 {
		r.PriceHistorySize = 500
	}
	if r.TradeHistoryDays == 0 {
		r.TradeHistoryDays = 30
	}

	o := &c.OMS
	if o.SubmitTimeout.Duration == 0 {
		o.SubmitTimeout = D(10 * time.Second)
	}
	if o.CancelTimeout.Duration == 0 {
		o.CancelTimeout = D(10 * time.Second)
	}
	if o.TerminalMaxAge.Duration == 0 {
		o.TerminalMaxAge = D(24 * time.Hour)
	}
	if o.GCInterval.Duration == 0 {
		o.GCInterval = D(10 * time.Minute)
	}
	if o.ReconcileInterval.Duration == 0 {
		o.ReconcileInterval = D(5 * time.Second)
	}
	if o.MaxReconcileAttempts == 0 {
		o.MaxReconcileAttempts = 3
	}

	g := &c.RateGate
	if g.MaxRequests == 0 {
		g.MaxRequests = 10
	}
	if g.Window.Duration == 0 {
		g.Window = D(time.Second)
	}
	if g.MaxInFlight == 0 {
		g.MaxInFlight = 1
	}
	if g.MaxBacklog == 0 {
		g.MaxBacklog = 100
	}

	b := &c.Breaker
	if b.MinHaltDuration.Duration == 0 {
		b.MinHaltDuration = D(5 * time.Minute)
	}
	if b.CheckInterval.Duration == 0 {
		b.CheckInterval = D(time.Second)
	}
	if b.ReduceFactor == 0 {
		b.ReduceFactor = 0.5
	}
	if b.HighPolicy == nil {
		b.HighPolicy = map[string]string{
			"exposure":           "halt",
			"drawdown":           "halt",
			"consecutive_losses": "halt",
		}
	}

	if c.Venue.Name == "" {
		c.Venue.Name = "paper"
	}
	if c.Venue.Bybit != nil && c.Venue.Bybit.Category == "" {
		c.Venue.Bybit.Category = "linear"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = StoreSQLite
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case StoreFile:
			c.Store.Path = filepath.Join("data", "orders.json")
		case StoreSQLite:
			c.Store.Path = filepath.Join("data", "orders.db")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Monitoring.MetricsAddr == "" {
		c.Monitoring.MetricsAddr = ":9090"
	}
}

// applyEnv overrides secrets and deployment-specific values from the environment
func (c *Config) applyEnv() {
	if mode := getEnv("OMS_MODE", ""); mode != "" {
		c.Mode = mode
	}
	if dsn := getEnv("OMS_STORE_DSN", ""); dsn != "" {
		c.Store.DSN = dsn
	}
	if addr := getEnv("OMS_PYROSCOPE_ADDR", ""); addr != "" {
		c.Monitoring.PyroscopeAddr = addr
	}

	key := getEnv("BYBIT_API_KEY", "")
	secret := getEnv("BYBIT_API_SECRET", "")
	if key != "" || secret != "" {
		if c.Venue.Bybit == nil {
			c.Venue.Bybit = &BybitConfig{Category: "linear"}
		}
		if key != "" {
			c.Venue.Bybit.APIKey = key
		}
		if secret != "" {
			c.Venue.Bybit.APISecret = secret
		}
	}
}

// Validate runs validation on an already built configuration
func (c *Config) Validate() error {
	return c.validate()
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Mode != ModeLive && c.Mode != ModePaper {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeLive, ModePaper, c.Mode)
	}

	r := c.Risk
	if r.RiskBudget <= 0 {
		return fmt.Errorf("risk budget must be greater than 0")
	}
	if r.MaxPosUSD <= 0 || r.MaxExposureUSD <= 0 {
		return fmt.Errorf("position and exposure caps must be greater than 0")
	}
	if r.KellyFractionCap <= 0 || r.KellyFractionCap > 1 {
		return fmt.Errorf("kelly fraction cap must be in (0, 1]")
	}
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		return fmt.Errorf("stop loss pct must be in (0, 1)")
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0, 1]")
	}
	if r.MaxCorrelation <= 0 || r.MaxCorrelation > 1 {
		return fmt.Errorf("max correlation must be in (0, 1]")
	}
	if !(r.Drawdown.WarningPct <= r.Drawdown.AlertPct && r.Drawdown.AlertPct <= r.Drawdown.CriticalPct) {
		return fmt.Errorf("drawdown tiers must satisfy warning <= alert <= critical")
	}
	if r.TradingHours.Start != "" || r.TradingHours.End != "" {
		if _, err := parseClock(r.TradingHours.Start); err != nil {
			return err
		}
		if _, err := parseClock(r.TradingHours.End); err != nil {
			return err
		}
	}

	if c.RateGate.MaxRequests <= 0 || c.RateGate.MaxInFlight <= 0 || c.RateGate.MaxBacklog < 0 {
		return fmt.Errorf("rate gate limits must be positive")
	}
	if c.Breaker.ReduceFactor <= 0 || c.Breaker.ReduceFactor > 1 {
		return fmt.Errorf("breaker reduce factor must be in (0, 1]")
	}
	for typ, action := range c.Breaker.HighPolicy {
		if action != "halt" && action != "reduce" {
			return fmt.Errorf("breaker policy for %s must be halt or reduce, got %q", typ, action)
		}
	}

	switch c.Venue.Name {
	case "paper":
	case "bybit":
		if c.Venue.Bybit == nil {
			return fmt.Errorf("bybit configuration is required")
		}
		if c.Venue.Bybit.APIKey == "" || c.Venue.Bybit.APISecret == "" {
			return fmt.Errorf("bybit API key and secret are required")
		}
	default:
		return fmt.Errorf("unsupported venue: %s", c.Venue.Name)
	}

	switch c.Store.Driver {
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for driver %s", c.Store.Driver)
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
