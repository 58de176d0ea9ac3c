package monitoring

import (
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-oms/internal/events"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
	"github.com/ducminhle1904/crypto-oms/internal/safety"
)

const defaultTrackerWindow = 5 * time.Minute

// StatusSnapshot is the read-only status surface served at /status
type StatusSnapshot struct {
	Timestamp       time.Time            `json:"timestamp"`
	Uptime          string               `json:"uptime"`
	Mode            safety.TradingMode   `json:"mode"`
	Halted          bool                 `json:"halted"`
	HaltReason      string               `json:"halt_reason,omitempty"`
	HaltedSince     time.Time            `json:"halted_since,omitempty"`
	ManualHalt      bool                 `json:"manual_halt"`
	Reducing        bool                 `json:"reducing"`
	OrdersPerMinute float64              `json:"orders_per_minute"`
	FillRate        float64              `json:"fill_rate"`
	ErrorRate       float64              `json:"error_rate"`
	AvgAckLatencyMs float64              `json:"avg_ack_latency_ms"`
	OpenOrders      int                  `json:"open_orders"`
	Indeterminate   int                  `json:"indeterminate_orders"`
	Orders          oms.Stats            `json:"orders"`
	Risk            risk.Metrics         `json:"risk"`
	Positions       []risk.Position      `json:"positions"`
	Violations      []risk.Violation     `json:"violations"`
	RateGate        safety.RateGateStats `json:"rate_gate"`
	VenueConnected  bool                 `json:"venue_connected"`
	LastTick        time.Time            `json:"last_tick,omitempty"`
}

// Inputs are the component snapshots a StatusSnapshot is built from
type Inputs struct {
	Orders         oms.Stats
	Risk           risk.Metrics
	Positions      []risk.Position
	Breaker        safety.BreakerState
	RateGate       safety.RateGateStats
	RecentErrors   int
	VenueConnected bool
	LastTick       time.Time
}

// Tracker keeps the sliding-window counters that component stats do not:
// submissions per minute and submissions in the error rate window.
type Tracker struct {
	mu          sync.Mutex
	window      time.Duration
	clock       func() time.Time
	startedAt   time.Time
	submissions []time.Time
}

// NewTracker creates a tracker over the given window (5m when zero)
func NewTracker(window time.Duration, clock func() time.Time) *Tracker {
	if window <= 0 {
		window = defaultTrackerWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{window: window, clock: clock, startedAt: clock()}
}

// Observe records order submissions from the event bus
func (t *Tracker) Observe(ev events.Event) {
	if ev.Kind != events.OrderSubmitted {
		return
	}
	at := ev.Time
	if at.IsZero() {
		at = t.clock()
	}
	t.mu.Lock()
	t.submissions = append(t.submissions, at)
	t.pruneLocked(t.clock())
	t.mu.Unlock()
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.submissions[:0]
	for _, at := range t.submissions {
		if !at.Before(cutoff) {
			kept = append(kept, at)
		}
	}
	t.submissions = kept
}

// Window returns the sliding window length
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Snapshot builds the status surface. Rates are computed over the window:
// orders per minute from submissions, error rate as errors per submission
// (or per minute when nothing was submitted), fill rate as filled orders
// over all orders that reached a terminal status.
func (t *Tracker) Snapshot(in Inputs) StatusSnapshot {
	now := t.clock()
	t.mu.Lock()
	t.pruneLocked(now)
	submitted := len(t.submissions)
	t.mu.Unlock()

	minutes := t.window.Minutes()
	snap := StatusSnapshot{
		Timestamp:       now,
		Uptime:          now.Sub(t.startedAt).Round(time.Second).String(),
		Mode:            in.Breaker.Mode,
		Halted:          in.Breaker.IsHalted,
		HaltReason:      in.Breaker.HaltReason,
		HaltedSince:     in.Breaker.HaltTimestamp,
		ManualHalt:      in.Breaker.ManualHalt,
		Reducing:        in.Breaker.Reducing,
		OrdersPerMinute: float64(submitted) / minutes,
		AvgAckLatencyMs: float64(in.Orders.AvgAckLatency) / float64(time.Millisecond),
		OpenOrders:      in.Orders.Open,
		Indeterminate:   in.Orders.Indeterminate,
		Orders:          in.Orders,
		Risk:            in.Risk,
		Positions:       in.Positions,
		Violations:      in.Breaker.Violations,
		RateGate:        in.RateGate,
		VenueConnected:  in.VenueConnected,
		LastTick:        in.LastTick,
	}
	if snap.Violations == nil {
		snap.Violations = []risk.Violation{}
	}

	terminal := in.Orders.Filled + in.Orders.Cancelled + in.Orders.Expired + in.Orders.Rejected
	if terminal > 0 {
		snap.FillRate = float64(in.Orders.Filled) / float64(terminal)
	}
	switch {
	case submitted > 0:
		snap.ErrorRate = float64(in.RecentErrors) / float64(submitted)
	case in.RecentErrors > 0:
		snap.ErrorRate = float64(in.RecentErrors) / minutes
	}
	return snap
}
