package safety

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces operations evenly: at most maxRequests per window,
// one every window/maxRequests.
type RateLimiter struct {
	name     string
	spacing  time.Duration
	next     time.Time // earliest slot not yet handed out
	granted  int64
	clock    func() time.Time
	mutex    sync.Mutex
	sleepFor func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(name string, maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &RateLimiter{
		name:     name,
		spacing:  window / time.Duration(maxRequests),
		clock:    time.Now,
		sleepFor: sleepCtx,
	}
}

// Allow takes the next slot if it is available now
func (rl *RateLimiter) Allow() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.clock()
	if rl.next.After(now) {
		return false
	}
	rl.next = now.Add(rl.spacing)
	rl.granted++
	return true
}

// Reserve books the next slot and returns how long the caller must wait for it
func (rl *RateLimiter) Reserve() time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.clock()
	if rl.next.Before(now) {
		rl.next = now
	}
	wait := rl.next.Sub(now)
	rl.next = rl.next.Add(rl.spacing)
	rl.granted++
	return wait
}

// Wait blocks until the caller's slot arrives
func (rl *RateLimiter) Wait(ctx context.Context) error {
	wait := rl.Reserve()
	if wait <= 0 {
		return ctx.Err()
	}
	return rl.sleepFor(ctx, wait)
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

// GetStats returns current statistics about the rate limiter
func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	return RateLimiterStats{
		Name:     rl.name,
		Spacing:  rl.spacing,
		Granted:  rl.granted,
		NextSlot: rl.next,
	}
}

// RateLimiterStats holds statistics about a rate limiter
type RateLimiterStats struct {
	Name     string        `json:"name"`
	Spacing  time.Duration `json:"spacing"`
	Granted  int64         `json:"granted"`
	NextSlot time.Time     `json:"next_slot"`
}
