package recovery

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
)

// RetryConfig defines retry behavior for different error categories
type RetryConfig struct {
	MaxRetries map[errors.ErrorCategory]int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// BackoffConfig defines backoff strategies
type BackoffConfig struct {
	Strategy   BackoffStrategy
	Multiplier float64
	Jitter     bool
}

// BackoffStrategy defines different backoff strategies
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RecoveryResult represents the decision taken for one failed attempt
type RecoveryResult struct {
	Action     errors.RecoveryAction
	Delay      time.Duration
	ShouldStop bool
	Message    string
}

// RecoveryHandler retries persistence writes, cancels and reconciliation
// queries according to the category of the error they return. Venue submits
// are never retried through it: a submit whose outcome is unknown has to be
// reconciled, not repeated.
type RecoveryHandler struct {
	errorStats    *errors.ErrorStats
	retryConfig   RetryConfig
	backoffConfig BackoffConfig
	logger        *logger.Logger
	sleep         func(ctx context.Context, d time.Duration) error
	clock         func() time.Time
}

// DefaultRetryConfig returns the retry limits used by the OMS
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: map[errors.ErrorCategory]int{
			errors.ErrorCategoryNetwork:     3,
			errors.ErrorCategoryPersistence: 3,
			errors.ErrorCategoryRateLimit:   2,
			errors.ErrorCategoryVenue:       1,
		},
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  5 * time.Second,
	}
}

// NewRecoveryHandler creates a new recovery handler
func NewRecoveryHandler(log *logger.Logger, stats *errors.ErrorStats) *RecoveryHandler {
	if log == nil {
		log = logger.NewNop()
	}
	if stats == nil {
		stats = errors.NewErrorStats(5*time.Minute, 1000)
	}
	return &RecoveryHandler{
		errorStats:  stats,
		retryConfig: DefaultRetryConfig(),
		backoffConfig: BackoffConfig{
			Strategy:   BackoffExponential,
			Multiplier: 2,
			Jitter:     true,
		},
		logger: log.Component("recovery"),
		sleep:  sleepCtx,
		clock:  time.Now,
	}
}

// WithRetryConfig replaces the retry limits
func (rh *RecoveryHandler) WithRetryConfig(cfg RetryConfig) *RecoveryHandler {
	rh.retryConfig = cfg
	return rh
}

// WithBackoff replaces the backoff strategy
func (rh *RecoveryHandler) WithBackoff(cfg BackoffConfig) *RecoveryHandler {
	rh.backoffConfig = cfg
	return rh
}

// WithSleep replaces the wait between attempts, for tests
func (rh *RecoveryHandler) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *RecoveryHandler {
	rh.sleep = sleep
	return rh
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HandleError categorizes err, records it and decides what to do next
func (rh *RecoveryHandler) HandleError(err error, component, operation string, attempt int) *RecoveryResult {
	omsErr := errors.Categorize(err, component, operation)
	rh.errorStats.RecordError(omsErr, rh.clock())

	action := omsErr.GetRecoveryAction()
	if omsErr.IsFatal() {
		return &RecoveryResult{Action: errors.RecoveryActionStop, ShouldStop: true, Message: fmt.Sprintf("fatal error in %s: %s", component, omsErr.Message)}
	}
	if action != errors.RecoveryActionRetry && action != errors.RecoveryActionWait {
		return &RecoveryResult{Action: action, ShouldStop: true, Message: fmt.Sprintf("%s error is not retried", omsErr.Category)}
	}

	maxRetries := rh.retryConfig.MaxRetries[omsErr.Category]
	if attempt >= maxRetries {
		return &RecoveryResult{
			Action:     errors.RecoveryActionStop,
			ShouldStop: true,
			Message:    fmt.Sprintf("maximum retry attempts (%d) exceeded for %s errors", maxRetries, omsErr.Category),
		}
	}

	return &RecoveryResult{
		Action:  action,
		Delay:   rh.calculateDelay(attempt),
		Message: fmt.Sprintf("retrying %s (attempt %d) after %s error", operation, attempt+2, omsErr.Category),
	}
}

// calculateDelay calculates the delay before retry based on backoff strategy
func (rh *RecoveryHandler) calculateDelay(attempt int) time.Duration {
	base := rh.retryConfig.BaseDelay

	var delay time.Duration
	switch rh.backoffConfig.Strategy {
	case BackoffExponential:
		multiplier := 1.0
		for i := 0; i < attempt; i++ {
			multiplier *= rh.backoffConfig.Multiplier
		}
		delay = time.Duration(float64(base) * multiplier)
	case BackoffLinear:
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if rh.retryConfig.MaxDelay > 0 && delay > rh.retryConfig.MaxDelay {
		delay = rh.retryConfig.MaxDelay
	}
	if rh.backoffConfig.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}
	return delay
}

// Execute runs fn until it succeeds, the error is not retryable, or the retry
// budget for its category is spent. The last error is returned categorized.
func (rh *RecoveryHandler) Execute(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.NewTimeoutError(component, operation, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				rh.logger.Info("Operation %s.%s succeeded after %d attempts", component, operation, attempt+1)
			}
			return nil
		}

		result := rh.HandleError(err, component, operation, attempt)
		if result.ShouldStop {
			if attempt > 0 {
				rh.logger.LogWarning("Recovery", "%s.%s gave up: %s", component, operation, result.Message)
			}
			return errors.Categorize(err, component, operation)
		}

		rh.logger.LogWarning("Recovery", "%s", result.Message)
		if err := rh.sleep(ctx, result.Delay); err != nil {
			return errors.NewTimeoutError(component, operation, err)
		}
	}
}

// GetErrorStats returns the error statistics shared with the status surface
func (rh *RecoveryHandler) GetErrorStats() *errors.ErrorStats {
	return rh.errorStats
}
