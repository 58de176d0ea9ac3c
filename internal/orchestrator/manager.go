// Package orchestrator wires the order manager, risk engine, sizer and
// circuit breaker into one trading loop and exposes the status surface.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	omserrors "github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/events"
	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/monitoring"
	"github.com/ducminhle1904/crypto-oms/internal/oms"
	"github.com/ducminhle1904/crypto-oms/internal/recovery"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
	"github.com/ducminhle1904/crypto-oms/internal/safety"
	"github.com/ducminhle1904/crypto-oms/internal/sizing"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Signal rejection reasons
const (
	ReasonInvalidSignal        = "invalid_signal"
	ReasonHalted               = "trading_halted"
	ReasonCriticalViolation    = "critical_risk_violation"
	ReasonLowConfidence        = "confidence_below_threshold"
	ReasonWeakSignal           = "signal_too_weak"
	ReasonSymbolDisabled       = "symbol_disabled"
	ReasonDailyTradeLimit      = "daily_trade_limit"
	ReasonOutsideHours         = "outside_trading_hours"
	ReasonNoPrice              = "no_price"
	ReasonZeroSize             = "zero_size"
	emergencyCancelParallelism = 4
)

// SignalDecision is the outcome of signal validation
type SignalDecision struct {
	Symbol   string `json:"symbol"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ExecutionResult reports what happened to one signal
type ExecutionResult struct {
	Decision SignalDecision `json:"decision"`
	Sizing   *sizing.Result `json:"sizing,omitempty"`
	Order    *oms.Result    `json:"order,omitempty"`
}

// SignalStats counts signal handling since start
type SignalStats struct {
	TotalSignals  int            `json:"total_signals"`
	Approved      int            `json:"approved"`
	Rejected      int            `json:"rejected"`
	Executed      int            `json:"executed"`
	RejectReasons map[string]int `json:"reject_reasons"`
}

// Deps are the collaborators the orchestrator does not build itself
type Deps struct {
	// Venue receives orders, usually an *exchange.Router
	Venue   exchange.Venue
	Store   oms.Store
	Logger  *logger.Logger
	Clock   func() time.Time
	Bus     *events.Bus
	Metrics *monitoring.Metrics
	// Sleep replaces time-based backoff in retries
	Sleep func(ctx context.Context, d time.Duration) error
}

// Manager owns the lifecycle of every trading component. Components are
// created here and passed down explicitly; none of them is global.
type Manager struct {
	cfg    *config.Config
	logger *logger.Logger
	clock  func() time.Time

	venue     exchange.Venue
	bus       *events.Bus
	risk      *risk.Engine
	sizer     *sizing.Sizer
	breaker   *safety.Controller
	gate      *safety.RateGate
	validator *safety.Validator
	orders    *oms.Manager
	errStats  *omserrors.ErrorStats

	metrics *monitoring.Metrics
	tracker *monitoring.Tracker
	health  *monitoring.HealthChecker

	symbolMutex sync.RWMutex
	disabled    map[string]bool

	statsMutex  sync.Mutex
	signalStats SignalStats

	controlMutex sync.Mutex
	running      bool
}

// New builds the orchestrator and every component it owns
func New(cfg *config.Config, deps Deps) (*Manager, error) {
	if cfg == nil {
		return nil, omserrors.NewConfigurationError("orchestrator", "new", "configuration is required")
	}
	if deps.Venue == nil {
		return nil, omserrors.NewConfigurationError("orchestrator", "new", "venue is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}

	m := &Manager{
		cfg:         cfg,
		logger:      deps.Logger.Component("orchestrator"),
		clock:       deps.Clock,
		venue:       deps.Venue,
		bus:         deps.Bus,
		validator:   safety.NewValidator(),
		errStats:    omserrors.NewErrorStats(5*time.Minute, 1000),
		metrics:     deps.Metrics,
		tracker:     monitoring.NewTracker(5*time.Minute, deps.Clock),
		health:      monitoring.NewHealthChecker(0, deps.Clock),
		disabled:    make(map[string]bool),
		signalStats: SignalStats{RejectReasons: make(map[string]int)},
	}
	for _, s := range cfg.DisabledSymbols {
		m.disabled[strings.ToUpper(s)] = true
	}

	m.risk = risk.NewEngine(cfg.Risk, risk.WithClock(deps.Clock), risk.WithLogger(deps.Logger))
	m.sizer = sizing.NewSizer(m.risk, deps.Logger)
	m.breaker = safety.NewController(cfg.Breaker, safety.TradingMode(cfg.Mode), m.risk, deps.Logger, deps.Clock)
	m.breaker.OnViolation(m.onViolation)
	m.breaker.OnModeChange(m.onModeChange)
	m.metrics.SetMode(string(m.breaker.Mode()))
	m.gate = safety.NewRateGate(deps.Venue.GetName(), cfg.RateGate, deps.Logger)

	rec := recovery.NewRecoveryHandler(deps.Logger, m.errStats)
	if deps.Sleep != nil {
		rec.WithSleep(deps.Sleep)
	}
	opts := []oms.Option{
		oms.WithLogger(deps.Logger),
		oms.WithClock(deps.Clock),
		oms.WithPublisher(m),
		oms.WithErrorStats(m.errStats),
		oms.WithRecovery(rec),
		oms.WithFillHandler(m.onFill),
	}
	if f, ok := deps.Venue.(interface{ Forget(string) }); ok {
		opts = append(opts, oms.WithEvictHandler(func(o oms.Order) { f.Forget(o.ClientOrderID) }))
	}
	m.orders = oms.NewManager(cfg.OMS, deps.Venue, m.gate, deps.Store, opts...)
	return m, nil
}

// Risk returns the risk engine
func (m *Manager) Risk() *risk.Engine { return m.risk }

// Orders returns the order manager
func (m *Manager) Orders() *oms.Manager { return m.orders }

// Breaker returns the circuit breaker controller
func (m *Manager) Breaker() *safety.Controller { return m.breaker }

// Bus returns the event bus
func (m *Manager) Bus() *events.Bus { return m.bus }

// Health returns the health checker served at /health
func (m *Manager) Health() *monitoring.HealthChecker { return m.health }

// Metrics returns the Prometheus collectors
func (m *Manager) Metrics() *monitoring.Metrics { return m.metrics }

// Route decides where new orders go. Paper mode and halts route to the
// paper venue; a halted system never gets that far because signals are
// rejected first.
func (m *Manager) Route() exchange.Route {
	if m.breaker.Mode() == safety.ModeLive {
		return exchange.RouteLive
	}
	return exchange.RoutePaper
}

// Publish implements events.Publisher. Monitoring sees every event before it
// is fanned out on the bus.
func (m *Manager) Publish(ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = m.clock()
	}
	if ev.Kind == events.OrderSubmitted {
		m.risk.IncrementTradeCount()
	}
	m.tracker.Observe(ev)
	m.metrics.Observe(ev)
	m.health.Observe(ev)
	m.bus.Publish(ev)
}

func (m *Manager) onFill(order oms.Order, fill oms.Fill) {
	realized := m.risk.ApplyFill(risk.Fill{
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   fill.Quantity.InexactFloat64(),
		Price:      fill.Price.InexactFloat64(),
		Commission: fill.Commission.InexactFloat64(),
		Timestamp:  fill.Timestamp,
	})
	if realized != 0 {
		m.logger.Trade("Realized %.2f on %s from order %s", realized, order.Symbol, order.ID)
	}
}

func (m *Manager) onViolation(v risk.Violation) {
	m.Publish(events.Event{
		Kind: events.RiskViolation,
		Time: v.Timestamp,
		Violation: &events.ViolationPayload{
			Type:     string(v.Type),
			Severity: string(v.Severity),
			Message:  v.Message,
			Value:    v.Value,
			Limit:    v.Limit,
		},
	})
	if v.Severity.Rank() >= risk.SeverityHigh.Rank() {
		m.logger.Warning("Risk violation %s (%s): %s", v.Type, v.Severity, v.Message)
	}
}

func (m *Manager) onModeChange(change safety.ModeChange) {
	kind := events.ModeChanged
	switch {
	case change.To == safety.ModeHalt:
		kind = events.Halt
	case change.From == safety.ModeHalt:
		kind = events.Resume
	}
	m.Publish(events.Event{
		Kind: kind,
		Time: change.At,
		Mode: &events.ModePayload{
			From:   string(change.From),
			To:     string(change.To),
			Reason: change.Reason,
			Manual: change.Manual,
		},
	})
}

// ValidateSignal decides whether a signal may trade. It has no side effects.
func (m *Manager) ValidateSignal(signal types.Signal) SignalDecision {
	d := SignalDecision{Symbol: signal.Symbol}
	reject := func(reason, format string, args ...interface{}) SignalDecision {
		d.Reason = reason
		d.Message = fmt.Sprintf(format, args...)
		return d
	}

	if v := m.validator.ValidateSignal(signal); !v.Valid {
		return reject(ReasonInvalidSignal, "%s", v.Message)
	}
	state := m.breaker.State()
	if state.IsHalted || state.Mode == safety.ModeHalt {
		return reject(ReasonHalted, "trading halted: %s", state.HaltReason)
	}
	for _, v := range m.risk.CheckCircuitBreakers() {
		if v.Severity == risk.SeverityCritical {
			return reject(ReasonCriticalViolation, "%s", v.Message)
		}
	}

	rc := m.cfg.Risk
	if signal.Confidence < rc.ConfidenceThreshold {
		return reject(ReasonLowConfidence, "confidence %.2f below threshold %.2f", signal.Confidence, rc.ConfidenceThreshold)
	}
	if math.Abs(signal.Value) < rc.MinSignalStrength {
		return reject(ReasonWeakSignal, "signal %.2f weaker than %.2f", signal.Value, rc.MinSignalStrength)
	}
	if !m.SymbolEnabled(signal.Symbol) {
		return reject(ReasonSymbolDisabled, "%s is disabled", signal.Symbol)
	}
	if rc.MaxDailyTrades > 0 {
		if n := m.risk.Metrics().DailyTradeCount; n >= rc.MaxDailyTrades {
			return reject(ReasonDailyTradeLimit, "daily trade count %d reached cap %d", n, rc.MaxDailyTrades)
		}
	}
	if !rc.TradingHours.Contains(m.clock()) {
		return reject(ReasonOutsideHours, "outside trading hours %s-%s UTC", rc.TradingHours.Start, rc.TradingHours.End)
	}

	d.Approved = true
	return d
}

// CalculatePositionSize sizes a signal at price. While halted it returns a
// zero size with a warning. The breaker's reduce factor is applied.
func (m *Manager) CalculatePositionSize(signal types.Signal, price float64) sizing.Result {
	if m.breaker.IsHalted() {
		return sizing.Result{
			Symbol:   signal.Symbol,
			Side:     signal.Side(),
			Price:    price,
			Warnings: []string{"trading halted, size set to zero"},
		}
	}
	return m.sizer.Size(sizing.Context{
		Symbol:     signal.Symbol,
		Signal:     signal.Value,
		Confidence: signal.Confidence,
		Price:      price,
		Multiplier: m.breaker.SizeMultiplier(),
	})
}

// ExecuteSignal validates, sizes and submits a market order for signal. The
// idempotency key is derived from the signal, so a replayed signal never
// opens a second order.
func (m *Manager) ExecuteSignal(ctx context.Context, signal types.Signal) ExecutionResult {
	signal.Symbol = strings.ToUpper(signal.Symbol)
	res := ExecutionResult{Decision: m.ValidateSignal(signal)}
	if !res.Decision.Approved {
		m.countSignal(res.Decision.Reason, false)
		m.logger.Debug("Signal %s rejected: %s", signal.Symbol, res.Decision.Message)
		return res
	}

	price, ok := m.risk.LastPrice(signal.Symbol)
	if !ok {
		res.Decision = SignalDecision{Symbol: signal.Symbol, Reason: ReasonNoPrice, Message: "no market price for " + signal.Symbol}
		m.countSignal(ReasonNoPrice, false)
		return res
	}

	sized := m.CalculatePositionSize(signal, price)
	res.Sizing = &sized
	if sized.Size <= 0 {
		res.Decision = SignalDecision{Symbol: signal.Symbol, Reason: ReasonZeroSize, Message: strings.Join(sized.Warnings, "; ")}
		m.countSignal(ReasonZeroSize, false)
		return res
	}
	for _, w := range sized.Warnings {
		m.logger.Warning("Sizing %s: %s", signal.Symbol, w)
	}

	ts := signal.Timestamp
	if ts.IsZero() {
		ts = m.clock()
	}
	order := m.orders.SubmitOrder(ctx, types.OrderIntent{
		IdempotencyKey: fmt.Sprintf("signal:%s:%d", signal.Symbol, ts.UnixNano()),
		Symbol:         signal.Symbol,
		Side:           sized.Side,
		Type:           types.OrderTypeMarket,
		Quantity:       sized.Size,
		Metadata: map[string]string{
			"signal":     fmt.Sprintf("%.4f", signal.Value),
			"confidence": fmt.Sprintf("%.4f", signal.Confidence),
		},
	})
	res.Order = &order
	m.countSignal("", true)
	m.logger.Trade("Signal %s %.2f/%.2f -> %s %.8f (%s)", signal.Symbol, signal.Value, signal.Confidence, sized.Side, sized.Size, order.Status)
	return res
}

func (m *Manager) countSignal(reason string, executed bool) {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()
	m.signalStats.TotalSignals++
	if executed {
		m.signalStats.Approved++
		m.signalStats.Executed++
		return
	}
	if reason == ReasonNoPrice || reason == ReasonZeroSize {
		m.signalStats.Approved++
	} else {
		m.signalStats.Rejected++
	}
	m.signalStats.RejectReasons[reason]++
}

// SignalStats returns a copy of the signal counters
func (m *Manager) SignalStats() SignalStats {
	m.statsMutex.Lock()
	defer m.statsMutex.Unlock()
	s := m.signalStats
	s.RejectReasons = make(map[string]int, len(m.signalStats.RejectReasons))
	for k, v := range m.signalStats.RejectReasons {
		s.RejectReasons[k] = v
	}
	return s
}

// SubmitOrder passes an intent to the order manager unless trading is halted
func (m *Manager) SubmitOrder(ctx context.Context, intent types.OrderIntent) oms.Result {
	if m.breaker.IsHalted() {
		return oms.Result{
			IdempotencyKey: intent.IdempotencyKey,
			Symbol:         intent.Symbol,
			Status:         oms.StatusRejected,
			StatusMessage:  "rejected: " + ReasonHalted,
			RejectReason:   ReasonHalted,
			ErrorCode:      string(omserrors.ErrorCategoryRisk),
		}
	}
	return m.orders.SubmitOrder(ctx, intent)
}

// CancelOrder cancels by order id or client order id
func (m *Manager) CancelOrder(ctx context.Context, orderID string) oms.Result {
	return m.orders.CancelOrder(ctx, orderID)
}

// OnExecutionReport feeds a venue report to the order manager
func (m *Manager) OnExecutionReport(report types.ExecutionReport) {
	m.orders.OnExecutionReport(report)
}

// OnTick updates risk state first, then the paper venue, then local stops.
// While halted, stops stay armed and are checked again on the first tick
// after resume.
func (m *Manager) OnTick(ctx context.Context, tick types.MarketTick) []oms.Result {
	price := tick.Price()
	if price <= 0 {
		return nil
	}
	m.risk.OnPrice(tick.Symbol, price)
	m.metrics.UpdatePrice(tick.Symbol, price)
	m.health.RecordTick(tick)
	if tc, ok := m.venue.(exchange.TickConsumer); ok {
		tc.OnTick(tick)
	}
	if m.breaker.IsHalted() {
		return nil
	}
	return m.orders.CheckStops(ctx, tick.Symbol, price)
}

// OnConnectionEvent republishes a venue stream change
func (m *Manager) OnConnectionEvent(ev types.ConnectionEvent) {
	if ev.State != types.ConnectionConnected {
		m.logger.Warning("Venue %s %s stream %s: %s", ev.Venue, ev.Stream, ev.State, ev.Reason)
	}
	m.Publish(events.Event{Kind: events.VenueConnection, Time: ev.Timestamp, Connection: &ev})
}

// EvaluateRisk runs one breaker cycle and refreshes the risk metrics
func (m *Manager) EvaluateRisk() safety.Decision {
	decision := m.breaker.Evaluate()
	m.metrics.UpdateRisk(m.risk.Metrics(), decision.Violations)
	if decision.Action == safety.ActionReduce {
		m.logger.Warning("Reducing position sizes: %s", decision.Reason)
	}
	return decision
}

// EmergencyStop raises the emergency flag, halts trading and cancels every
// acknowledged or partially filled order.
func (m *Manager) EmergencyStop(ctx context.Context, reason string) []oms.Result {
	if reason == "" {
		reason = "emergency stop"
	}
	m.logger.Error("EMERGENCY STOP: %s", reason)
	m.risk.SetEmergency(true)
	m.breaker.Halt(reason)

	var working []oms.Order
	for _, o := range m.orders.OpenOrders() {
		if o.Status == oms.StatusAck || o.Status == oms.StatusPartial {
			working = append(working, o)
		}
	}
	sort.Slice(working, func(i, j int) bool { return working[i].ID < working[j].ID })

	results := make([]oms.Result, len(working))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(emergencyCancelParallelism)
	for i, o := range working {
		i, id := i, o.ID
		g.Go(func() error {
			results[i] = m.orders.CancelOrder(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Status != oms.StatusCancelled {
			m.logger.Warning("Emergency cancel of %s ended in %s: %s", r.OrderID, r.Status, r.StatusMessage)
		}
	}
	return results
}

// Resume clears the emergency flag and asks the breaker to resume. Trading
// resumes in paper mode. On failure the emergency flag is restored.
func (m *Manager) Resume(reason string) error {
	wasEmergency := m.risk.Emergency()
	m.risk.SetEmergency(false)
	if err := m.breaker.Resume(reason); err != nil {
		if wasEmergency {
			m.risk.SetEmergency(true)
		}
		return err
	}
	return nil
}

// PromoteLive moves paper trading back to live
func (m *Manager) PromoteLive(reason string) error {
	return m.breaker.PromoteLive(reason)
}

// SetSymbolEnabled enables or disables trading in symbol
func (m *Manager) SetSymbolEnabled(symbol string, enabled bool) {
	symbol = strings.ToUpper(symbol)
	m.symbolMutex.Lock()
	defer m.symbolMutex.Unlock()
	if enabled {
		delete(m.disabled, symbol)
	} else {
		m.disabled[symbol] = true
	}
	m.logger.Info("Symbol %s enabled=%t", symbol, enabled)
}

// SymbolEnabled reports whether symbol may trade
func (m *Manager) SymbolEnabled(symbol string) bool {
	m.symbolMutex.RLock()
	defer m.symbolMutex.RUnlock()
	return !m.disabled[strings.ToUpper(symbol)]
}

// Status builds the read-only status snapshot
func (m *Manager) Status() monitoring.StatusSnapshot {
	return m.tracker.Snapshot(monitoring.Inputs{
		Orders:         m.orders.Stats(),
		Risk:           m.risk.Metrics(),
		Positions:      m.risk.Positions(),
		Breaker:        m.breaker.State(),
		RateGate:       m.gate.Stats(),
		RecentErrors:   m.errStats.RecentCount(m.clock()),
		VenueConnected: m.health.Connected(),
		LastTick:       m.health.LastTick(),
	})
}

// ConsumeSignals executes signals from ch until it closes or ctx ends
func (m *Manager) ConsumeSignals(ctx context.Context, ch <-chan types.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			m.ExecuteSignal(ctx, s)
		}
	}
}

// Run connects the venue, recovers open orders and processes streams, the
// order manager loop and breaker checks until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	m.controlMutex.Lock()
	if m.running {
		m.controlMutex.Unlock()
		return fmt.Errorf("orchestrator is already running")
	}
	m.running = true
	m.controlMutex.Unlock()
	defer func() {
		m.controlMutex.Lock()
		m.running = false
		m.controlMutex.Unlock()
	}()

	if err := m.venue.Connect(ctx); err != nil {
		return omserrors.Wrap(err, omserrors.ErrorCategoryNetwork, "orchestrator", "connect")
	}
	m.health.SetConnected(m.venue.IsConnected())
	defer func() {
		if err := m.venue.Disconnect(); err != nil {
			m.logger.LogError("disconnect", err)
		}
	}()

	if n, err := m.orders.Recover(ctx); err != nil {
		m.logger.LogError("recover open orders", err)
	} else if n > 0 {
		m.logger.Info("Recovered %d open orders", n)
	}

	sub, err := m.venue.Subscribe(ctx, m.cfg.Symbols)
	if err != nil {
		return omserrors.Wrap(err, omserrors.ErrorCategoryNetwork, "orchestrator", "subscribe")
	}

	m.logger.Info("Orchestrator started: venue=%s mode=%s symbols=%v", m.venue.GetName(), m.breaker.Mode(), m.cfg.Symbols)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.consume(gctx, sub) })
	g.Go(func() error { return m.orders.Run(gctx) })
	g.Go(func() error { return m.checkLoop(gctx) })
	err = g.Wait()

	m.orders.Close()
	m.logger.Info("Orchestrator stopped")
	return err
}

func (m *Manager) consume(ctx context.Context, sub *exchange.Subscription) error {
	executions, ticks, conn := sub.Executions, sub.Ticks, sub.Events
	for executions != nil || ticks != nil || conn != nil {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-executions:
			if !ok {
				executions = nil
				continue
			}
			m.OnExecutionReport(r)
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			m.OnTick(ctx, t)
		case ev, ok := <-conn:
			if !ok {
				conn = nil
				continue
			}
			m.OnConnectionEvent(ev)
		}
	}
	<-ctx.Done()
	return nil
}

func (m *Manager) checkLoop(ctx context.Context) error {
	every := m.cfg.Breaker.CheckInterval.Duration
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.safeEvaluate()
		}
	}
}

func (m *Manager) safeEvaluate() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic in risk check: %v", r)
		}
	}()
	m.EvaluateRisk()
}
