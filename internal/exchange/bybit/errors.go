package bybit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ducminhle1904/crypto-oms/internal/exchange"
)

// BybitError represents a Bybit API error with additional context
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BybitError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Bybit API error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeServerTimeout       = 10000
	ErrCodeServerError         = 10016
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeMarketClosed        = 110043
	ErrCodeDuplicateLinkID     = 110072
	ErrCodeOrderNotModifiable  = 110010
)

// ErrOutcomeUnknown marks a place request that may have reached Bybit without
// a readable answer. The order must be reconciled, not rejected.
var ErrOutcomeUnknown = errors.New("order outcome unknown")

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		return bybitErr.Code == ErrCodeRateLimitExceeded || IsServerError(err)
	}
	return false
}

// IsServerError reports a Bybit-side failure where the request may or may not
// have been processed.
func IsServerError(err error) bool {
	var bybitErr *BybitError
	if !errors.As(err, &bybitErr) {
		return false
	}
	switch bybitErr.Code {
	case ErrCodeServerTimeout,
		ErrCodeServerError,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		switch bybitErr.Code {
		case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
			return true
		}
	}
	return false
}

// IsOrderNotFoundError checks if the error is due to order not found
func IsOrderNotFoundError(err error) bool {
	var bybitErr *BybitError
	return errors.As(err, &bybitErr) && bybitErr.Code == ErrCodeOrderNotFound
}

// IsRejection reports whether Bybit refused the order itself, as opposed to
// a transport or availability problem whose outcome is unknown.
func IsRejection(err error) bool {
	var bybitErr *BybitError
	if !errors.As(err, &bybitErr) {
		return false
	}
	return !IsRetryableError(err) && !IsAuthenticationError(err)
}

// NewBybitError creates a new BybitError
func NewBybitError(code int, message string, details ...string) *BybitError {
	err := &BybitError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// WrapAPIError wraps a generic error with the operation name
func WrapAPIError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

// ParseAPIError extracts error information from the API response
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return NewBybitError(retCode, retMsg, GetErrorDescription(retCode))
}

// ToExchangeError converts Bybit errors to the venue-neutral error type.
// Errors without a Bybit code are returned unchanged so timeouts keep their identity.
func ToExchangeError(err error) error {
	if errors.Is(err, ErrOutcomeUnknown) {
		return &exchange.ExchangeError{
			Code:      "OUTCOME_UNKNOWN",
			Message:   "Order outcome unknown",
			Details:   err.Error(),
			IsTimeout: true,
		}
	}
	var bybitErr *BybitError
	if !errors.As(err, &bybitErr) {
		return err
	}

	switch {
	case IsServerError(err):
		return &exchange.ExchangeError{
			Code:        "BYBIT_" + strconv.Itoa(bybitErr.Code),
			Message:     bybitErr.Message,
			Details:     bybitErr.Details,
			IsRetryable: true,
			IsTimeout:   true,
		}
	case IsAuthenticationError(err):
		return &exchange.ExchangeError{
			Code:    exchange.ErrAuthenticationFailed.Code,
			Message: exchange.ErrAuthenticationFailed.Message,
			Details: bybitErr.Message,
		}
	case bybitErr.Code == ErrCodeRateLimitExceeded:
		return &exchange.ExchangeError{
			Code:        exchange.ErrRateLimitExceeded.Code,
			Message:     exchange.ErrRateLimitExceeded.Message,
			Details:     bybitErr.Message,
			IsRetryable: true,
		}
	case bybitErr.Code == ErrCodeSymbolNotFound:
		return &exchange.ExchangeError{
			Code:    exchange.ErrInvalidSymbol.Code,
			Message: exchange.ErrInvalidSymbol.Message,
			Details: bybitErr.Message,
		}
	}

	return &exchange.ExchangeError{
		Code:        "BYBIT_" + strconv.Itoa(bybitErr.Code),
		Message:     bybitErr.Message,
		Details:     bybitErr.Details,
		IsRetryable: IsRetryableError(err),
	}
}

// ErrorCodes maps common error codes to human-readable messages
var ErrorCodes = map[int]string{
	ErrCodeInvalidAPIKey:       "Invalid API key",
	ErrCodeInvalidSignature:    "Invalid signature",
	ErrCodeInvalidTimestamp:    "Invalid timestamp",
	ErrCodeInsufficientBalance: "Insufficient balance",
	ErrCodeOrderNotFound:       "Order not found",
	ErrCodeSymbolNotFound:      "Symbol not found",
	ErrCodeInvalidOrderType:    "Invalid order type",
	ErrCodeInvalidQuantity:     "Invalid quantity",
	ErrCodeInvalidPrice:        "Invalid price",
	ErrCodeRateLimitExceeded:   "Rate limit exceeded",
	ErrCodeServerTimeout:       "Server timeout",
	ErrCodeServerError:         "Internal server error or service restarting",
	ErrCodeMarketClosed:        "Market is closed",
	ErrCodeDuplicateLinkID:     "Duplicate orderLinkId",
	ErrCodeOrderNotModifiable:  "Order not modifiable",
}

// GetErrorDescription returns a human-readable description for an error code
func GetErrorDescription(code int) string {
	if desc, exists := ErrorCodes[code]; exists {
		return desc
	}
	return fmt.Sprintf("Unknown error code: %d", code)
}
