package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-oms/internal/events"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

const defaultStaleAfter = 2 * time.Minute

type HealthChecker struct {
	mu          sync.RWMutex
	startedAt   time.Time
	lastTick    time.Time
	lastPrice   map[string]float64
	isConnected bool
	halted      bool
	haltReason  string
	staleAfter  time.Duration
	clock       func() time.Time
}

type HealthStatus struct {
	Status      string             `json:"status"`
	Timestamp   time.Time          `json:"timestamp"`
	LastTick    time.Time          `json:"last_tick"`
	LastPrices  map[string]float64 `json:"last_prices,omitempty"`
	IsConnected bool               `json:"is_connected"`
	Halted      bool               `json:"halted"`
	HaltReason  string             `json:"halt_reason,omitempty"`
	Uptime      string             `json:"uptime"`
}

// NewHealthChecker creates a checker that reports degraded when no tick
// arrived within staleAfter (2m when zero)
func NewHealthChecker(staleAfter time.Duration, clock func() time.Time) *HealthChecker {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if clock == nil {
		clock = time.Now
	}
	return &HealthChecker{
		startedAt:  clock(),
		lastPrice:  make(map[string]float64),
		staleAfter: staleAfter,
		clock:      clock,
	}
}

// RecordTick notes market data activity
func (h *HealthChecker) RecordTick(tick types.MarketTick) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = tick.Timestamp
	if h.lastTick.IsZero() {
		h.lastTick = h.clock()
	}
	if p := tick.Price(); p > 0 {
		h.lastPrice[tick.Symbol] = p
	}
}

// Observe follows connection and halt events
func (h *HealthChecker) Observe(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case ev.Connection != nil:
		h.isConnected = ev.Connection.State == types.ConnectionConnected
	case ev.Kind == events.Halt && ev.Mode != nil:
		h.halted = true
		h.haltReason = ev.Mode.Reason
	case ev.Kind == events.Resume:
		h.halted = false
		h.haltReason = ""
	}
}

// SetConnected overrides the connection flag, e.g. after Connect returns
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	h.isConnected = connected
	h.mu.Unlock()
}

// LastTick returns the time of the most recent tick
func (h *HealthChecker) LastTick() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastTick
}

// Connected reports the last known venue connection state
func (h *HealthChecker) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isConnected
}

// Check builds the current health status. A halt is reported as unhealthy,
// a lost connection or stale market data as degraded.
func (h *HealthChecker) Check() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.clock()
	status := "healthy"
	if !h.isConnected || h.lastTick.IsZero() || now.Sub(h.lastTick) > h.staleAfter {
		status = "degraded"
	}
	if h.halted {
		status = "unhealthy"
	}

	prices := make(map[string]float64, len(h.lastPrice))
	for k, v := range h.lastPrice {
		prices[k] = v
	}
	return HealthStatus{
		Status:      status,
		Timestamp:   now,
		LastTick:    h.lastTick,
		LastPrices:  prices,
		IsConnected: h.isConnected,
		Halted:      h.halted,
		HaltReason:  h.haltReason,
		Uptime:      now.Sub(h.startedAt).Round(time.Second).String(),
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Check()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case "degraded":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "unhealthy":
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(health)
}

// StatusHandler serves the snapshot returned by fn as JSON
func StatusHandler(fn func() StatusSnapshot) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fn())
	})
}

// Server exposes /metrics, /health and /status
type Server struct {
	srv    *http.Server
	logger *logger.Logger
}

// NewServer builds the monitoring HTTP server
func NewServer(addr string, metrics *Metrics, health *HealthChecker, status func() StatusSnapshot, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health)
	mux.Handle("/status", StatusHandler(status))
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: log.Component("monitoring"),
	}
}

// Handler returns the routing handler, for tests
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Monitoring server listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
