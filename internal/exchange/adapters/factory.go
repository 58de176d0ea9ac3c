package adapters

import (
	"fmt"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
)

// Factory creates venue instances based on configuration
type Factory struct {
	logger *logger.Logger
	clock  func() time.Time
}

// NewFactory creates a new venue factory instance
func NewFactory(log *logger.Logger, clock func() time.Time) *Factory {
	if log == nil {
		log = logger.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Factory{logger: log, clock: clock}
}

// Paper creates the simulated venue
func (f *Factory) Paper(cfg config.VenueConfig) *PaperVenue {
	return NewPaperVenue(PaperConfig{
		FeeRate:     cfg.Paper.FeeRate,
		SlippageBps: cfg.Paper.SlippageBps,
	}, f.logger, f.clock)
}

// Live creates the live venue named in cfg. A paper configuration has no live
// venue and returns nil without error.
func (f *Factory) Live(cfg config.VenueConfig) (exchange.Venue, error) {
	if err := f.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch normalize(cfg.Name) {
	case "paper":
		return nil, nil
	case "bybit":
		adapter, err := NewBybitAdapter(cfg.Bybit, f.logger)
		if err != nil {
			return nil, &exchange.ExchangeError{
				Code:    "ADAPTER_CREATION_FAILED",
				Message: "Failed to create Bybit adapter",
				Details: err.Error(),
			}
		}
		return adapter, nil
	}
	return nil, unsupported(cfg.Name)
}

// Router builds the live/paper router used by the order manager
func (f *Factory) Router(cfg config.VenueConfig, route func() exchange.Route) (*exchange.Router, *PaperVenue, error) {
	live, err := f.Live(cfg)
	if err != nil {
		return nil, nil, err
	}
	paper := f.Paper(cfg)
	return exchange.NewRouter(live, paper, route), paper, nil
}

// GetSupportedVenues returns a list of supported venue names
func (f *Factory) GetSupportedVenues() []string {
	return []string{"bybit", "paper"}
}

// ValidateConfig validates the venue configuration
func (f *Factory) ValidateConfig(cfg config.VenueConfig) error {
	if cfg.Name == "" {
		return &exchange.ExchangeError{
			Code:    "MISSING_VENUE_NAME",
			Message: "Venue name is required",
		}
	}

	switch normalize(cfg.Name) {
	case "paper":
		if cfg.Paper.FeeRate < 0 || cfg.Paper.SlippageBps < 0 {
			return &exchange.ExchangeError{
				Code:    "INVALID_PAPER_CONFIG",
				Message: "Paper fee rate and slippage must not be negative",
			}
		}
		return nil
	case "bybit":
		return f.validateBybitConfig(cfg.Bybit)
	}
	return unsupported(cfg.Name)
}

// validateBybitConfig validates Bybit-specific configuration
func (f *Factory) validateBybitConfig(cfg *config.BybitConfig) error {
	if cfg == nil {
		return &exchange.ExchangeError{
			Code:    "MISSING_BYBIT_CONFIG",
			Message: "Bybit configuration is required",
		}
	}

	if cfg.APIKey == "" {
		return &exchange.ExchangeError{
			Code:    "MISSING_API_KEY",
			Message: "Bybit API key is required",
			Details: "Set BYBIT_API_KEY environment variable or provide in config",
		}
	}

	if cfg.APISecret == "" {
		return &exchange.ExchangeError{
			Code:    "MISSING_API_SECRET",
			Message: "Bybit API secret is required",
			Details: "Set BYBIT_API_SECRET environment variable or provide in config",
		}
	}

	if cfg.Testnet && cfg.Demo {
		return &exchange.ExchangeError{
			Code:    "INVALID_ENVIRONMENT_CONFIG",
			Message: "Cannot use both testnet and demo mode simultaneously",
			Details: "Choose either testnet OR demo mode, not both",
		}
	}

	return nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func unsupported(name string) error {
	return &exchange.ExchangeError{
		Code:    "UNSUPPORTED_VENUE",
		Message: fmt.Sprintf("Venue '%s' is not supported", name),
		Details: "Supported venues: bybit, paper",
	}
}
