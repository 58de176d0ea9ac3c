package safety

import (
	"fmt"
	"math"
	"strings"

	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

var valid = ValidationResult{Valid: true}

// Validator checks order intents and signals before they reach any state
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateIntent runs every intent check and returns the first failure
func (v *Validator) ValidateIntent(intent types.OrderIntent) ValidationResult {
	if strings.TrimSpace(intent.IdempotencyKey) == "" {
		return invalid("IDEMPOTENCY_KEY_EMPTY", "idempotency key cannot be empty")
	}
	if r := v.ValidateSymbol(intent.Symbol); !r.Valid {
		return r
	}
	if intent.Side != types.SideBuy && intent.Side != types.SideSell {
		return invalid("INVALID_SIDE", "side %q must be buy or sell", intent.Side)
	}
	switch intent.Type {
	case types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeStop, types.OrderTypeStopLimit:
	default:
		return invalid("INVALID_ORDER_TYPE", "order type %q is not supported", intent.Type)
	}
	switch intent.TimeInForce {
	case "", types.TimeInForceGTC, types.TimeInForceIOC, types.TimeInForceFOK, types.TimeInForceDay:
	default:
		return invalid("INVALID_TIME_IN_FORCE", "time in force %q is not supported", intent.TimeInForce)
	}
	if r := v.ValidateQuantity(intent.Quantity, intent.Symbol); !r.Valid {
		return r
	}
	if intent.Type == types.OrderTypeLimit || intent.Type == types.OrderTypeStopLimit {
		if r := v.ValidatePrice(intent.Price, intent.Symbol); !r.Valid {
			return invalid("PRICE_REQUIRED", "%s order requires a price: %s", intent.Type, r.Message)
		}
	}
	if intent.Type.IsStop() {
		if r := v.ValidatePrice(intent.StopPrice, intent.Symbol); !r.Valid {
			return invalid("STOP_PRICE_REQUIRED", "%s order requires a stop price: %s", intent.Type, r.Message)
		}
	}
	return valid
}

// ValidateSignal checks the numeric ranges of a signal
func (v *Validator) ValidateSignal(signal types.Signal) ValidationResult {
	if r := v.ValidateSymbol(signal.Symbol); !r.Valid {
		return r
	}
	if math.IsNaN(signal.Value) || signal.Value < -1 || signal.Value > 1 {
		return invalid("SIGNAL_OUT_OF_RANGE", "signal %v for %s must be within [-1, 1]", signal.Value, signal.Symbol)
	}
	if math.IsNaN(signal.Confidence) || signal.Confidence < 0 || signal.Confidence > 1 {
		return invalid("CONFIDENCE_OUT_OF_RANGE", "confidence %v for %s must be within [0, 1]", signal.Confidence, signal.Symbol)
	}
	return valid
}

// ValidatePrice validates a price value for trading
func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	if math.IsNaN(price) {
		return invalid("INVALID_PRICE_NAN", "invalid price for %s: price is NaN", symbol)
	}
	if math.IsInf(price, 0) {
		return invalid("INVALID_PRICE_INF", "invalid price for %s: price is infinite", symbol)
	}
	if price <= 0 {
		return invalid("INVALID_PRICE_NEGATIVE", "invalid price %.8f for %s: price must be positive", price, symbol)
	}
	// prevent obvious data errors
	if price > 1e10 {
		return invalid("PRICE_OUT_OF_BOUNDS", "suspicious price %.8f for %s: exceeds reasonable bounds", price, symbol)
	}
	return valid
}

// ValidateQuantity validates a quantity value for trading
func (v *Validator) ValidateQuantity(quantity float64, symbol string) ValidationResult {
	if math.IsNaN(quantity) {
		return invalid("INVALID_QUANTITY_NAN", "invalid quantity for %s: quantity is NaN", symbol)
	}
	if math.IsInf(quantity, 0) {
		return invalid("INVALID_QUANTITY_INF", "invalid quantity for %s: quantity is infinite", symbol)
	}
	if quantity <= 0 {
		return invalid("INVALID_QUANTITY_NEGATIVE", "invalid quantity %.8f for %s: quantity must be positive", quantity, symbol)
	}
	if quantity > 1e12 {
		return invalid("QUANTITY_OUT_OF_BOUNDS", "suspicious quantity %.8f for %s: exceeds reasonable bounds", quantity, symbol)
	}
	return valid
}

// ValidateSymbol validates a trading symbol format
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return invalid("SYMBOL_EMPTY", "symbol cannot be empty")
	}
	if len(symbol) < 3 {
		return invalid("SYMBOL_TOO_SHORT", "symbol '%s' too short: minimum 3 characters required", symbol)
	}
	if len(symbol) > 20 {
		return invalid("SYMBOL_TOO_LONG", "symbol '%s' too long: maximum 20 characters allowed", symbol)
	}
	for _, char := range symbol {
		if !((char >= 'A' && char <= 'Z') || (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9')) {
			return invalid("SYMBOL_INVALID_CHARS", "symbol '%s' contains invalid characters: only alphanumeric allowed", symbol)
		}
	}
	return valid
}
