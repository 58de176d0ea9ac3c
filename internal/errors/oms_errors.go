package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Errors that should stop the process
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"

	// Order lifecycle errors, absorbed into the order result
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryVenue      ErrorCategory = "VENUE"
	ErrorCategoryTimeout    ErrorCategory = "TIMEOUT"
	ErrorCategoryRisk       ErrorCategory = "RISK"

	// Infrastructure errors that can be retried
	ErrorCategoryNetwork     ErrorCategory = "NETWORK"
	ErrorCategoryRateLimit   ErrorCategory = "RATE_LIMIT"
	ErrorCategoryPersistence ErrorCategory = "PERSISTENCE"
)

// OMSError represents a categorized error with context
type OMSError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Code       string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *OMSError) Error() string {
	code := ""
	if e.Code != "" {
		code = " (" + e.Code + ")"
	}
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s%s: %v", e.Category, e.Component, e.Operation, e.Message, code, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s%s", e.Category, e.Component, e.Operation, e.Message, code)
}

// Unwrap returns the underlying error for error unwrapping
func (e *OMSError) Unwrap() error {
	return e.Underlying
}

// Is matches another OMSError by category and, when set, code.
func (e *OMSError) Is(target error) bool {
	t, ok := target.(*OMSError)
	if !ok {
		return false
	}
	if t.Category != e.Category {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// IsRetryable returns whether this error can be retried
func (e *OMSError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the process
func (e *OMSError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal || e.Category == ErrorCategoryConfiguration
}

// New creates a new categorized error
func New(category ErrorCategory, component, operation, message string) *OMSError {
	return &OMSError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// Wrap wraps an existing error with component context
func Wrap(err error, category ErrorCategory, component, operation string) *OMSError {
	if err == nil {
		return nil
	}

	return &OMSError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithCode attaches a machine readable code
func (e *OMSError) WithCode(code string) *OMSError {
	e.Code = code
	return e
}

// WithContext adds context information to the error
func (e *OMSError) WithContext(key string, value interface{}) *OMSError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *OMSError) WithRetryable(retryable bool) *OMSError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryRateLimit, ErrorCategoryPersistence:
		return true
	default:
		return false
	}
}

// CategoryOf returns the category of err, or "" when err carries none.
func CategoryOf(err error) ErrorCategory {
	var omsErr *OMSError
	if stderrors.As(err, &omsErr) {
		return omsErr.Category
	}
	return ""
}

// IsCategory reports whether err (or anything it wraps) is an OMSError of the category.
func IsCategory(err error, category ErrorCategory) bool {
	var omsErr *OMSError
	for err != nil {
		if !stderrors.As(err, &omsErr) {
			return false
		}
		if omsErr.Category == category {
			return true
		}
		err = omsErr.Underlying
	}
	return false
}

// IsTimeout reports whether err means the outcome of a remote call is unknown.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if IsCategory(err, ErrorCategoryTimeout) || stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Categorize attempts to categorize a foreign error
func Categorize(err error, component, operation string) *OMSError {
	if err == nil {
		return nil
	}

	var omsErr *OMSError
	if stderrors.As(err, &omsErr) {
		return omsErr
	}

	if IsTimeout(err) {
		return Wrap(err, ErrorCategoryTimeout, component, operation)
	}
	if stderrors.Is(err, context.Canceled) {
		return Wrap(err, ErrorCategoryNetwork, component, operation).WithRetryable(false)
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "timed out") {
		return Wrap(err, ErrorCategoryTimeout, component, operation)
	}

	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests") {
		return Wrap(err, ErrorCategoryRateLimit, component, operation)
	}

	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dns") || strings.Contains(errMsg, "dial") || strings.Contains(errMsg, "eof") {
		return Wrap(err, ErrorCategoryNetwork, component, operation)
	}

	if strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "minimum") ||
		strings.Contains(errMsg, "maximum") || strings.Contains(errMsg, "insufficient") {
		return Wrap(err, ErrorCategoryVenue, component, operation).WithRetryable(false)
	}

	return Wrap(err, ErrorCategoryVenue, component, operation)
}

// Common error constructors
func NewValidationError(component, operation, code, message string) *OMSError {
	return New(ErrorCategoryValidation, component, operation, message).WithCode(code)
}

func NewVenueError(component, operation string, err error) *OMSError {
	return Wrap(err, ErrorCategoryVenue, component, operation)
}

func NewTimeoutError(component, operation string, err error) *OMSError {
	return Wrap(err, ErrorCategoryTimeout, component, operation)
}

func NewRateLimitError(component, operation, message string) *OMSError {
	return New(ErrorCategoryRateLimit, component, operation, message).WithCode("RATE_GATE_OVERFLOW")
}

func NewPersistenceError(component, operation string, err error) *OMSError {
	return Wrap(err, ErrorCategoryPersistence, component, operation)
}

func NewConfigurationError(component, operation, message string) *OMSError {
	return New(ErrorCategoryConfiguration, component, operation, message)
}

// RecoveryAction is the suggested reaction to an error
type RecoveryAction string

const (
	RecoveryActionRetry RecoveryAction = "RETRY"
	RecoveryActionSkip  RecoveryAction = "SKIP"
	RecoveryActionStop  RecoveryAction = "STOP"
	RecoveryActionWait  RecoveryAction = "WAIT"
	// Reconcile means the remote outcome is unknown and must be queried.
	RecoveryActionReconcile RecoveryAction = "RECONCILE"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *OMSError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryConfiguration:
		return RecoveryActionStop
	case ErrorCategoryRateLimit:
		return RecoveryActionWait
	case ErrorCategoryTimeout:
		return RecoveryActionReconcile
	case ErrorCategoryNetwork, ErrorCategoryPersistence:
		return RecoveryActionRetry
	case ErrorCategoryValidation, ErrorCategoryRisk:
		return RecoveryActionSkip
	case ErrorCategoryVenue:
		if e.Retryable {
			return RecoveryActionRetry
		}
		return RecoveryActionSkip
	default:
		return RecoveryActionSkip
	}
}

type errorRecord struct {
	category ErrorCategory
	at       time.Time
}

// ErrorStats tracks error statistics over a sliding window
type ErrorStats struct {
	mu               sync.Mutex
	window           time.Duration
	totalErrors      int
	errorsByCategory map[ErrorCategory]int
	recent           []errorRecord
	maxRecent        int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(window time.Duration, maxRecent int) *ErrorStats {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if maxRecent <= 0 {
		maxRecent = 1000
	}
	return &ErrorStats{
		window:           window,
		errorsByCategory: make(map[ErrorCategory]int),
		recent:           make([]errorRecord, 0, 64),
		maxRecent:        maxRecent,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err error, at time.Time) {
	category := CategoryOf(err)
	if category == "" {
		category = Categorize(err, "", "").Category
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	es.totalErrors++
	es.errorsByCategory[category]++
	es.recent = append(es.recent, errorRecord{category: category, at: at})
	if len(es.recent) > es.maxRecent {
		es.recent = es.recent[len(es.recent)-es.maxRecent:]
	}
}

// RecentCount returns how many errors were recorded within the window ending at now.
func (es *ErrorStats) RecentCount(now time.Time) int {
	es.mu.Lock()
	defer es.mu.Unlock()

	cutoff := now.Add(-es.window)
	count := 0
	for _, rec := range es.recent {
		if !rec.at.Before(cutoff) {
			count++
		}
	}
	return count
}

// GetCategoryShare returns the share of all errors that belong to category
func (es *ErrorStats) GetCategoryShare(category ErrorCategory) float64 {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.totalErrors == 0 {
		return 0.0
	}
	return float64(es.errorsByCategory[category]) / float64(es.totalErrors)
}

// Total returns the number of errors recorded since creation
func (es *ErrorStats) Total() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.totalErrors
}

// ByCategory returns a copy of the per-category counters
func (es *ErrorStats) ByCategory() map[ErrorCategory]int {
	es.mu.Lock()
	defer es.mu.Unlock()

	out := make(map[ErrorCategory]int, len(es.errorsByCategory))
	for k, v := range es.errorsByCategory {
		out[k] = v
	}
	return out
}
