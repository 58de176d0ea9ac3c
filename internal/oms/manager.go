package oms

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	omserrors "github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/events"
	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/internal/ids"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/recovery"
	"github.com/ducminhle1904/crypto-oms/internal/safety"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Gate admits venue calls. safety.RateGate implements it.
type Gate interface {
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) error
}

// FillHandler is called once for every fill applied to an order, in the order
// fills were applied. It must not call back into mutating Manager methods.
type FillHandler func(order Order, fill Fill)

// EvictHandler is called for each terminal order removed by GC
type EvictHandler func(order Order)

// Stats counts order lifecycle activity since start
type Stats struct {
	Created        int           `json:"created"`
	Submitted      int           `json:"submitted"`
	Acked          int           `json:"acked"`
	Rejected       int           `json:"rejected"`
	Filled         int           `json:"filled"`
	Cancelled      int           `json:"cancelled"`
	Expired        int           `json:"expired"`
	Fills          int           `json:"fills"`
	DuplicateFills int           `json:"duplicateFills"`
	IgnoredFills   int           `json:"ignoredFills"`
	UnknownReports int           `json:"unknownReports"`
	PersistFailed  int           `json:"persistFailed"`
	Evicted        int           `json:"evicted"`
	Open           int           `json:"open"`
	Indeterminate  int           `json:"indeterminate"`
	AvgAckLatency  time.Duration `json:"avgAckLatency"`
	ackLatencySum  time.Duration
}

type reservation struct {
	orderID string
	settled chan struct{}
	result  Result
}

// effects collects what a mutation must do once the manager lock is released
type effects struct {
	persist []Order
	events  []events.Event
	fills   []filled
	cancels []string
}

type filled struct {
	order Order
	fill  Fill
}

// Manager is the order state machine. One mutex guards every order, the
// idempotency index and the venue id indexes. Venue calls, persistence and
// callbacks always run with that mutex released.
type Manager struct {
	cfg       config.OMSConfig
	venue     exchange.Venue
	gate      Gate
	store     Store
	validator *safety.Validator
	recovery  *recovery.RecoveryHandler
	idgen     *ids.Generator
	publisher events.Publisher
	logger    *logger.Logger
	clock     func() time.Time
	errStats  *omserrors.ErrorStats
	onFill    []FillHandler
	onEvict   []EvictHandler

	mu       sync.Mutex
	orders   map[string]*Order
	byKey    map[string]*reservation
	byClient map[string]string
	byVenue  map[string]string
	stats    Stats

	persistFailed atomic.Int64

	// Side effects wait in outbox in mutation order; one caller at a time
	// drains it. dirty holds the newest unwritten snapshot per order and
	// writing marks orders with a writer running. All guarded by mu.
	outbox   []effects
	draining bool
	dirty    map[string]Order
	writing  map[string]bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(log *logger.Logger) Option {
	return func(m *Manager) { m.logger = log.Component("oms") }
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithPublisher sets where order events go
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithIDGenerator replaces the order id generator
func WithIDGenerator(g *ids.Generator) Option {
	return func(m *Manager) { m.idgen = g }
}

// WithFillHandler registers a fill callback
func WithFillHandler(h FillHandler) Option {
	return func(m *Manager) { m.onFill = append(m.onFill, h) }
}

// WithEvictHandler registers a GC callback
func WithEvictHandler(h EvictHandler) Option {
	return func(m *Manager) { m.onEvict = append(m.onEvict, h) }
}

// WithErrorStats shares error accounting with the status surface
func WithErrorStats(s *omserrors.ErrorStats) Option {
	return func(m *Manager) { m.errStats = s }
}

// WithRecovery sets the retry policy for cancels, queries and persistence
func WithRecovery(r *recovery.RecoveryHandler) Option {
	return func(m *Manager) { m.recovery = r }
}

// NewManager creates an order manager
func NewManager(cfg config.OMSConfig, venue exchange.Venue, gate Gate, store Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		venue:     venue,
		gate:      gate,
		store:     store,
		validator: safety.NewValidator(),
		publisher: events.Nop{},
		logger:    logger.NewNop(),
		clock:     time.Now,
		orders:    make(map[string]*Order),
		byKey:     make(map[string]*reservation),
		byClient:  make(map[string]string),
		byVenue:   make(map[string]string),
		dirty:     make(map[string]Order),
		writing:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemStore()
	}
	if m.errStats == nil {
		m.errStats = omserrors.NewErrorStats(5*time.Minute, 1000)
	}
	if m.recovery == nil {
		m.recovery = recovery.NewRecoveryHandler(m.logger, m.errStats)
	}
	if m.idgen == nil {
		m.idgen = ids.NewSeeded(m.clock().UnixNano(), m.clock)
	}
	if m.cfg.SubmitTimeout.Duration <= 0 {
		m.cfg.SubmitTimeout = config.D(5 * time.Second)
	}
	if m.cfg.CancelTimeout.Duration <= 0 {
		m.cfg.CancelTimeout = config.D(5 * time.Second)
	}
	if m.cfg.TerminalMaxAge.Duration <= 0 {
		m.cfg.TerminalMaxAge = config.D(24 * time.Hour)
	}
	if m.cfg.MaxReconcileAttempts <= 0 {
		m.cfg.MaxReconcileAttempts = 3
	}
	m.baseCtx, m.stop = context.WithCancel(context.Background())
	return m
}

// SubmitOrder validates intent and drives it to the venue. A repeated
// idempotency key never creates a second order: callers racing the first
// submission wait for it and get the same result, later callers get the
// order's current result.
func (m *Manager) SubmitOrder(ctx context.Context, intent types.OrderIntent) Result {
	if v := m.validator.ValidateIntent(intent); !v.Valid {
		m.recordError(omserrors.NewValidationError("oms", "submit", v.Code, v.Message))
		m.logger.Warning("Rejected intent %q: %s", intent.IdempotencyKey, v.Message)
		return Result{
			IdempotencyKey: intent.IdempotencyKey,
			Symbol:         intent.Symbol,
			Status:         StatusRejected,
			StatusMessage:  "rejected: " + v.Message,
			RejectReason:   v.Message,
			ErrorCode:      v.Code,
			Quantity:       intent.Quantity,
		}
	}

	m.mu.Lock()
	if r, ok := m.byKey[intent.IdempotencyKey]; ok {
		m.mu.Unlock()
		return m.awaitDuplicate(ctx, r)
	}
	if intent.ClientOrderID != "" {
		if _, taken := m.byClient[intent.ClientOrderID]; taken {
			m.mu.Unlock()
			return Result{
				IdempotencyKey: intent.IdempotencyKey,
				Symbol:         intent.Symbol,
				Status:         StatusRejected,
				StatusMessage:  "rejected: client order id already in use",
				RejectReason:   "client order id already in use",
				ErrorCode:      "DUPLICATE_CLIENT_ORDER_ID",
				Quantity:       intent.Quantity,
			}
		}
	}

	now := m.clock()
	o := newOrder(m.idgen.OrderID(), intent, now)
	r := &reservation{orderID: o.ID, settled: make(chan struct{})}
	m.orders[o.ID] = o
	m.byKey[o.IdempotencyKey] = r
	m.byClient[o.ClientOrderID] = o.ID
	m.stats.Created++

	fx := &effects{}
	m.persistLocked(o, fx)
	armed := o.Armed
	if armed {
		m.logger.Info("Armed %s stop %s %s %s @ %s", o.Side, o.ID, o.Quantity, o.Symbol, o.StopPrice)
		r.result = resultOf(o)
	}
	m.unlockAndFlush(fx)

	if !armed {
		r.result = m.dispatch(ctx, o.ID)
	}
	close(r.settled)
	return r.result
}

func newOrder(id string, intent types.OrderIntent, now time.Time) *Order {
	clientID := intent.ClientOrderID
	if clientID == "" {
		clientID = id
	}
	qty := decimal.NewFromFloat(intent.Quantity)
	o := &Order{
		ID:                id,
		IdempotencyKey:    intent.IdempotencyKey,
		ClientOrderID:     clientID,
		Symbol:            intent.Symbol,
		Side:              intent.Side,
		Type:              intent.Type,
		TimeInForce:       intent.TimeInForce,
		Status:            StatusNew,
		Quantity:          qty,
		RemainingQuantity: qty,
		Price:             decimal.NewFromFloat(intent.Price),
		StopPrice:         decimal.NewFromFloat(intent.StopPrice),
		Armed:             intent.Type.IsStop(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	o.Intent = intent
	if intent.Metadata != nil {
		o.Intent.Metadata = make(map[string]string, len(intent.Metadata))
		for k, v := range intent.Metadata {
			o.Intent.Metadata[k] = v
		}
	}
	return o
}

func (m *Manager) awaitDuplicate(ctx context.Context, r *reservation) Result {
	select {
	case <-r.settled:
		return m.Result(r.orderID)
	default:
	}
	select {
	case <-r.settled:
		return r.result
	case <-ctx.Done():
		res := m.Result(r.orderID)
		res.StatusMessage = "original submission still in progress"
		return res
	}
}

// dispatch moves a NEW order to SUBMITTED and sends it through the gate
func (m *Manager) dispatch(ctx context.Context, id string) Result {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return Result{OrderID: id, ErrorCode: "ORDER_NOT_FOUND", StatusMessage: "order not found"}
	}
	fx := &effects{}
	now := m.clock()
	if err := transition(o, StatusSubmitted, "", now); err != nil {
		res := resultOf(o)
		m.mu.Unlock()
		m.logger.Error("Dispatch %s: %v", id, err)
		return res
	}
	o.Route = m.venue.GetName()
	m.stats.Submitted++
	m.persistLocked(o, fx)
	m.eventLocked(events.OrderSubmitted, o, nil, "", fx)
	req := exchange.SubmitRequest{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Quantity:      o.Quantity.InexactFloat64(),
		Price:         o.Price.InexactFloat64(),
		TimeInForce:   o.TimeInForce,
	}
	m.unlockAndFlush(fx)

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout.Duration)
	defer cancel()

	var (
		sent bool
		res  *exchange.SubmitResult
	)
	err := m.gate.Do(callCtx, "submit", func(c context.Context) error {
		sent = true
		var err error
		res, err = m.venue.SubmitOrder(c, req)
		return err
	})
	return m.completeSubmit(id, sent, res, err)
}

func (m *Manager) completeSubmit(id string, sent bool, res *exchange.SubmitResult, err error) Result {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return Result{OrderID: id, ErrorCode: "ORDER_NOT_FOUND", StatusMessage: "order evicted before submit completed"}
	}
	fx := &effects{}
	now := m.clock()
	var code string

	switch {
	case err != nil && !sent:
		omsErr := omserrors.Categorize(err, "oms", "submit")
		m.recordError(omsErr)
		code = string(omsErr.Category)
		if o.Status == StatusSubmitted {
			reason := "not dispatched: " + omsErr.Message
			if omsErr.Category == omserrors.ErrorCategoryRateLimit {
				reason = "rate_limited"
			}
			m.rejectLocked(o, reason, now, fx)
		}

	case err != nil:
		omsErr := omserrors.Categorize(err, "oms", "submit")
		m.recordError(omsErr)
		code = string(omsErr.Category)
		o.ErrorCount++
		o.LastError = omsErr.Error()
		if o.Status != StatusSubmitted {
			// the stream already resolved it
			m.persistLocked(o, fx)
			break
		}
		if omserrors.IsTimeout(err) || omsErr.Category == omserrors.ErrorCategoryTimeout || omsErr.Category == omserrors.ErrorCategoryNetwork {
			o.Indeterminate = true
			o.UpdatedAt = now
			m.persistLocked(o, fx)
			m.eventLocked(events.OrderIndeterminate, o, nil, omsErr.Message, fx)
			m.logger.Warning("Order %s outcome unknown after %s error, will reconcile", o.ID, omsErr.Category)
		} else {
			m.rejectLocked(o, "venue_error: "+omsErr.Message, now, fx)
		}

	case res == nil || !res.Accepted:
		reason := "rejected by venue"
		if res != nil && res.RejectReason != "" {
			reason = res.RejectReason
		}
		if o.Status == StatusSubmitted {
			m.rejectLocked(o, reason, now, fx)
		}

	default:
		m.indexVenueIDLocked(o, res.VenueOrderID)
		if o.Status == StatusSubmitted {
			m.ackLocked(o, now, fx)
		}
		if res.FillQty > 0 {
			fillID := res.FillID
			if fillID == "" {
				fillID = res.VenueOrderID + ":submit"
			}
			m.fillLocked(o, Fill{
				FillID:     fillID,
				Quantity:   decimal.NewFromFloat(res.FillQty),
				Price:      decimal.NewFromFloat(res.FillPrice),
				Commission: decimal.NewFromFloat(res.Commission),
				Timestamp:  now,
			}, now, fx)
		}
	}

	result := resultOf(o)
	result.ErrorCode = code
	m.unlockAndFlush(fx)
	return result
}

// CancelOrder cancels by order id or client order id. Before acknowledgement
// the cancel is queued and sent as soon as the venue acknowledges the order.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) Result {
	m.mu.Lock()
	o, ok := m.lookupLocked(orderID)
	if !ok {
		m.mu.Unlock()
		return Result{OrderID: orderID, ErrorCode: "ORDER_NOT_FOUND", StatusMessage: "order not found"}
	}
	fx := &effects{}
	now := m.clock()

	switch {
	case o.Status.IsTerminal():
		res := resultOf(o)
		res.ErrorCode = "ORDER_TERMINAL"
		res.StatusMessage = "order already " + strings.ToLower(string(o.Status))
		m.mu.Unlock()
		return res

	case o.Status == StatusNew && o.Armed:
		if err := transition(o, StatusCancelled, "cancelled before trigger", now); err != nil {
			m.logger.Error("Cancel armed stop %s: %v", o.ID, err)
		}
		m.stats.Cancelled++
		m.persistLocked(o, fx)
		m.eventLocked(events.OrderCancelled, o, nil, "cancelled before trigger", fx)
		res := resultOf(o)
		m.unlockAndFlush(fx)
		return res

	case o.Status == StatusNew || o.Status == StatusSubmitted:
		if !o.CancelRequested {
			o.CancelRequested = true
			o.UpdatedAt = now
			m.persistLocked(o, fx)
			m.eventLocked(events.CancelQueued, o, nil, "", fx)
		}
		res := resultOf(o)
		m.unlockAndFlush(fx)
		return res
	}

	if o.cancelInFlight {
		res := resultOf(o)
		res.StatusMessage = "cancel already in flight"
		m.mu.Unlock()
		return res
	}
	o.cancelInFlight = true
	o.CancelRequested = true
	id := o.ID
	m.mu.Unlock()
	return m.sendCancel(ctx, id)
}

// sendCancel sends a cancel for a working order. The caller has set
// cancelInFlight.
func (m *Manager) sendCancel(ctx context.Context, id string) Result {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return Result{OrderID: id, ErrorCode: "ORDER_NOT_FOUND", StatusMessage: "order not found"}
	}
	if !o.Status.IsWorking() {
		o.cancelInFlight = false
		res := resultOf(o)
		m.mu.Unlock()
		return res
	}
	req := exchange.CancelRequest{ClientOrderID: o.ClientOrderID, VenueOrderID: o.VenueOrderID, Symbol: o.Symbol}
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CancelTimeout.Duration)
	defer cancel()

	var res *exchange.CancelResult
	err := m.recovery.Execute(callCtx, "oms", "cancel", func(c context.Context) error {
		return m.gate.Do(c, "cancel", func(c context.Context) error {
			var err error
			res, err = m.venue.CancelOrder(c, req)
			return err
		})
	})

	m.mu.Lock()
	o, ok = m.orders[id]
	if !ok {
		m.mu.Unlock()
		return Result{OrderID: id, ErrorCode: "ORDER_NOT_FOUND", StatusMessage: "order not found"}
	}
	o.cancelInFlight = false
	fx := &effects{}
	now := m.clock()
	var code, message string

	switch {
	case err != nil:
		omsErr := omserrors.Categorize(err, "oms", "cancel")
		o.ErrorCount++
		o.LastError = omsErr.Error()
		o.UpdatedAt = now
		m.persistLocked(o, fx)
		code = string(omsErr.Category)
		message = "cancel failed: " + omsErr.Message
		m.logger.Warning("Cancel %s failed: %v", o.ID, omsErr)
	case res == nil || !res.Success:
		o.CancelRequested = false
		o.UpdatedAt = now
		m.persistLocked(o, fx)
		message = "cancel rejected by venue"
		if res != nil && res.Reason != "" {
			message = "cancel rejected: " + res.Reason
		}
	default:
		o.CancelRequested = false
		if o.Status.IsWorking() {
			m.closeLocked(o, StatusCancelled, "cancelled", now, fx)
		}
	}

	result := resultOf(o)
	result.ErrorCode = code
	if message != "" {
		result.StatusMessage = message
	}
	m.unlockAndFlush(fx)
	return result
}

// OnExecutionReport applies one report from the venue stream. Reports are
// matched by client order id, then venue order id; unknown ones are counted
// and dropped.
func (m *Manager) OnExecutionReport(report types.ExecutionReport) {
	m.mu.Lock()
	o := m.reportOrderLocked(report)
	if o == nil {
		m.stats.UnknownReports++
		m.mu.Unlock()
		m.logger.Debug("Execution report for unknown order %q/%q", report.OrderID, report.VenueOrderID)
		return
	}
	fx := &effects{}
	now := m.clock()
	m.indexVenueIDLocked(o, report.VenueOrderID)

	if report.IsFill() {
		ts := report.Timestamp
		if ts.IsZero() {
			ts = now
		}
		m.fillLocked(o, Fill{
			FillID:     report.FillID,
			Quantity:   decimal.NewFromFloat(report.Quantity),
			Price:      decimal.NewFromFloat(report.Price),
			Commission: decimal.NewFromFloat(report.Commission),
			Timestamp:  ts,
		}, now, fx)
		m.unlockAndFlush(fx)
		return
	}

	switch report.Status {
	case types.ExecStatusNew:
		if o.Status == StatusSubmitted {
			m.ackLocked(o, now, fx)
		}
	case types.ExecStatusCancelled, types.ExecStatusExpired:
		to, reason := StatusCancelled, "cancelled by venue"
		if report.Status == types.ExecStatusExpired {
			to, reason = StatusExpired, "expired"
		}
		if report.Reason != "" {
			reason = report.Reason
		}
		if o.Status == StatusSubmitted {
			m.ackLocked(o, now, fx)
		}
		if o.Status.IsWorking() {
			o.CancelRequested = false
			m.closeLocked(o, to, reason, now, fx)
		}
	case types.ExecStatusRejected:
		if o.Status == StatusSubmitted {
			reason := report.Reason
			if reason == "" {
				reason = "rejected by venue"
			}
			m.rejectLocked(o, reason, now, fx)
		}
	}
	m.unlockAndFlush(fx)
}

// Reconcile asks the venue for the true state of an order and applies it.
// An order the venue repeatedly cannot find is rejected with
// not_found_after_reconcile.
func (m *Manager) Reconcile(ctx context.Context, orderID string) Result {
	m.mu.Lock()
	o, ok := m.lookupLocked(orderID)
	if !ok {
		m.mu.Unlock()
		return Result{OrderID: orderID, ErrorCode: "ORDER_NOT_FOUND", StatusMessage: "order not found"}
	}
	if o.Status.IsTerminal() || o.Status == StatusNew {
		res := resultOf(o)
		m.mu.Unlock()
		return res
	}
	id := o.ID
	req := exchange.QueryRequest{ClientOrderID: o.ClientOrderID, VenueOrderID: o.VenueOrderID, Symbol: o.Symbol}
	m.mu.Unlock()

	var q *exchange.OrderQueryResult
	err := m.recovery.Execute(ctx, "oms", "reconcile", func(c context.Context) error {
		return m.gate.Do(c, "query", func(c context.Context) error {
			var err error
			q, err = m.venue.QueryOrder(c, req)
			return err
		})
	})

	m.mu.Lock()
	o, ok = m.orders[id]
	if !ok {
		m.mu.Unlock()
		return Result{OrderID: id, ErrorCode: "ORDER_NOT_FOUND", StatusMessage: "order not found"}
	}
	fx := &effects{}
	now := m.clock()

	if err != nil {
		omsErr := omserrors.Categorize(err, "oms", "reconcile")
		o.ErrorCount++
		o.LastError = omsErr.Error()
		res := resultOf(o)
		res.ErrorCode = string(omsErr.Category)
		m.mu.Unlock()
		m.logger.Warning("Reconcile %s failed: %v", id, omsErr)
		return res
	}

	switch {
	case q == nil || !q.Found:
		if o.Status == StatusSubmitted {
			o.ReconcileAttempts++
			o.UpdatedAt = now
			if o.ReconcileAttempts >= m.cfg.MaxReconcileAttempts {
				m.rejectLocked(o, "not_found_after_reconcile", now, fx)
			} else {
				m.persistLocked(o, fx)
			}
		}

	case q.Status == types.ExecStatusRejected:
		if o.Status == StatusSubmitted {
			reason := q.RejectReason
			if reason == "" {
				reason = "rejected by venue"
			}
			m.rejectLocked(o, reason, now, fx)
		}

	default:
		o.ReconcileAttempts = 0
		m.indexVenueIDLocked(o, q.VenueOrderID)
		if o.Status == StatusSubmitted {
			m.ackLocked(o, now, fx)
		}
		m.catchUpFillsLocked(o, q, now, fx)
		switch q.Status {
		case types.ExecStatusCancelled:
			if o.Status.IsWorking() {
				o.CancelRequested = false
				m.closeLocked(o, StatusCancelled, "cancelled by venue", now, fx)
			}
		case types.ExecStatusExpired:
			if o.Status.IsWorking() {
				m.closeLocked(o, StatusExpired, "expired", now, fx)
			}
		}
		m.persistLocked(o, fx)
	}

	res := resultOf(o)
	m.unlockAndFlush(fx)
	return res
}

// catchUpFillsLocked books the part of the venue's filled quantity the OMS has
// not seen, priced so the order's average matches the venue's.
func (m *Manager) catchUpFillsLocked(o *Order, q *exchange.OrderQueryResult, now time.Time, fx *effects) {
	venueFilled := decimal.NewFromFloat(q.FilledQty)
	delta := venueFilled.Sub(o.FilledQuantity)
	if !delta.IsPositive() {
		return
	}
	avg := decimal.NewFromFloat(q.AvgPrice)
	price := avg.Mul(venueFilled).Sub(o.Notional).Div(delta)
	if !price.IsPositive() {
		price = avg
	}
	ref := o.VenueOrderID
	if ref == "" {
		ref = o.ClientOrderID
	}
	m.fillLocked(o, Fill{
		FillID:    fmt.Sprintf("reconcile:%s:%s", ref, venueFilled.String()),
		Quantity:  delta,
		Price:     price,
		Timestamp: now,
	}, now, fx)
}

// ReconcileIndeterminate reconciles every order whose submit outcome is unknown
func (m *Manager) ReconcileIndeterminate(ctx context.Context) []Result {
	m.mu.Lock()
	var pending []string
	for id, o := range m.orders {
		if o.Indeterminate && o.Status == StatusSubmitted {
			pending = append(pending, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(pending)

	results := make([]Result, 0, len(pending))
	for _, id := range pending {
		if ctx.Err() != nil {
			break
		}
		results = append(results, m.Reconcile(ctx, id))
	}
	return results
}

// CheckStops triggers armed stops on symbol crossed by price. A buy stop fires
// at or above its stop price, a sell stop at or below. Stops become market
// orders, stop limits become limit orders, and are then dispatched.
func (m *Manager) CheckStops(ctx context.Context, symbol string, price float64) []Result {
	if price <= 0 {
		return nil
	}
	p := decimal.NewFromFloat(price)

	m.mu.Lock()
	fx := &effects{}
	now := m.clock()
	var triggered []string
	for id, o := range m.orders {
		if !o.Armed || o.Status != StatusNew || o.Symbol != symbol {
			continue
		}
		crossed := (o.Side == types.SideBuy && p.GreaterThanOrEqual(o.StopPrice)) ||
			(o.Side == types.SideSell && p.LessThanOrEqual(o.StopPrice))
		if !crossed {
			continue
		}
		o.Armed = false
		if o.Type == types.OrderTypeStopLimit {
			o.Type = types.OrderTypeLimit
		} else {
			o.Type = types.OrderTypeMarket
			o.Price = decimal.Zero
		}
		o.UpdatedAt = now
		m.persistLocked(o, fx)
		m.eventLocked(events.StopTriggered, o, nil, fmt.Sprintf("trigger %s crossed at %s", o.StopPrice, p), fx)
		m.logger.Info("Stop %s triggered at %s (stop %s)", o.ID, p, o.StopPrice)
		triggered = append(triggered, id)
	}
	m.unlockAndFlush(fx)
	sort.Strings(triggered)

	results := make([]Result, 0, len(triggered))
	for _, id := range triggered {
		results = append(results, m.dispatch(ctx, id))
	}
	return results
}

// GC removes terminal orders older than the configured age, releasing their
// idempotency keys.
func (m *Manager) GC(now time.Time) int {
	m.mu.Lock()
	var evicted []Order
	for id, o := range m.orders {
		if !o.Status.IsTerminal() || now.Sub(o.UpdatedAt) < m.cfg.TerminalMaxAge.Duration {
			continue
		}
		delete(m.orders, id)
		if r, ok := m.byKey[o.IdempotencyKey]; ok && r.orderID == id {
			delete(m.byKey, o.IdempotencyKey)
		}
		if m.byClient[o.ClientOrderID] == id {
			delete(m.byClient, o.ClientOrderID)
		}
		if o.VenueOrderID != "" && m.byVenue[o.VenueOrderID] == id {
			delete(m.byVenue, o.VenueOrderID)
		}
		evicted = append(evicted, o.Clone())
	}
	m.stats.Evicted += len(evicted)
	m.mu.Unlock()

	for _, o := range evicted {
		for _, h := range m.onEvict {
			h(o)
		}
	}
	if len(evicted) > 0 {
		m.logger.Debug("Evicted %d terminal orders", len(evicted))
	}
	return len(evicted)
}

// Recover loads open orders from the store. Orders that were SUBMITTED when
// the process stopped are marked indeterminate so Reconcile resolves them.
// A NEW order that is not an armed stop never reached the venue, since the
// SUBMITTED write precedes every send, and is rejected.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	var orders []Order
	err := m.recovery.Execute(ctx, "oms", "recover", func(c context.Context) error {
		var err error
		orders, err = m.store.LoadOpenOrders(c)
		if err != nil {
			return omserrors.NewPersistenceError("oms", "recover", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	fx := &effects{}
	now := m.clock()
	loaded, stale := 0, 0
	for i := range orders {
		o := orders[i].Clone()
		if o.Status.IsTerminal() {
			continue
		}
		if _, exists := m.orders[o.ID]; exists {
			continue
		}
		if o.Status == StatusSubmitted {
			o.Indeterminate = true
		}
		r := &reservation{orderID: o.ID, settled: make(chan struct{}), result: resultOf(&o)}
		close(r.settled)
		m.orders[o.ID] = &o
		m.byKey[o.IdempotencyKey] = r
		m.byClient[o.ClientOrderID] = o.ID
		if o.VenueOrderID != "" {
			m.byVenue[o.VenueOrderID] = o.ID
		}
		if o.Status == StatusNew && !o.Armed {
			m.rejectLocked(&o, "not_dispatched_before_restart", now, fx)
			r.result = resultOf(&o)
			stale++
		}
		loaded++
	}
	m.unlockAndFlush(fx)
	if stale > 0 {
		m.logger.Warning("Rejected %d orders that were never dispatched", stale)
	}
	m.logger.Info("Recovered %d open orders", loaded)
	return loaded, nil
}

// Run performs periodic GC and reconciliation until ctx ends
func (m *Manager) Run(ctx context.Context) error {
	gcEvery := m.cfg.GCInterval.Duration
	if gcEvery <= 0 {
		gcEvery = time.Minute
	}
	reconcileEvery := m.cfg.ReconcileInterval.Duration
	if reconcileEvery <= 0 {
		reconcileEvery = 10 * time.Second
	}
	gcTicker := time.NewTicker(gcEvery)
	defer gcTicker.Stop()
	reconcileTicker := time.NewTicker(reconcileEvery)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-gcTicker.C:
			m.GC(m.clock())
		case <-reconcileTicker.C:
			m.ReconcileIndeterminate(ctx)
		}
	}
}

// Close stops queued cancels and waits for the ones in flight
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}

// Wait blocks until queued cancels dispatched after acknowledgement finish
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Order returns a copy of an order by order id or client order id
func (m *Manager) Order(id string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(id)
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// Result returns the current result of an order
func (m *Manager) Result(id string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookupLocked(id)
	if !ok {
		return Result{OrderID: id, ErrorCode: "ORDER_NOT_FOUND", StatusMessage: "order not found"}
	}
	return resultOf(o)
}

// Orders returns copies of every tracked order, oldest first
func (m *Manager) Orders() []Order {
	return m.collect(func(*Order) bool { return true })
}

// OpenOrders returns copies of the non-terminal orders, oldest first
func (m *Manager) OpenOrders() []Order {
	return m.collect(func(o *Order) bool { return !o.Status.IsTerminal() })
}

func (m *Manager) collect(keep func(*Order) bool) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats returns lifecycle counters and current gauges
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.PersistFailed = int(m.persistFailed.Load())
	s.Open, s.Indeterminate = 0, 0
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			s.Open++
		}
		if o.Indeterminate {
			s.Indeterminate++
		}
	}
	if s.Acked > 0 {
		s.AvgAckLatency = s.ackLatencySum / time.Duration(s.Acked)
	}
	return s
}

func (m *Manager) lookupLocked(id string) (*Order, bool) {
	if o, ok := m.orders[id]; ok {
		return o, true
	}
	if oid, ok := m.byClient[id]; ok {
		o, ok := m.orders[oid]
		return o, ok
	}
	return nil, false
}

func (m *Manager) reportOrderLocked(r types.ExecutionReport) *Order {
	if r.OrderID != "" {
		if id, ok := m.byClient[r.OrderID]; ok {
			return m.orders[id]
		}
	}
	if r.VenueOrderID != "" {
		if id, ok := m.byVenue[r.VenueOrderID]; ok {
			return m.orders[id]
		}
	}
	return nil
}

func (m *Manager) indexVenueIDLocked(o *Order, venueID string) {
	if venueID == "" || o.VenueOrderID != "" {
		return
	}
	o.VenueOrderID = venueID
	m.byVenue[venueID] = o.ID
}

func (m *Manager) ackLocked(o *Order, now time.Time, fx *effects) {
	if err := transition(o, StatusAck, "", now); err != nil {
		m.logger.Error("Ack %s: %v", o.ID, err)
		return
	}
	m.stats.Acked++
	m.stats.ackLatencySum += o.AckLatency()
	m.persistLocked(o, fx)
	m.eventLocked(events.OrderAcknowledged, o, nil, "", fx)
	if o.CancelRequested && !o.cancelInFlight {
		o.cancelInFlight = true
		fx.cancels = append(fx.cancels, o.ID)
	}
}

func (m *Manager) rejectLocked(o *Order, reason string, now time.Time, fx *effects) {
	if err := transition(o, StatusRejected, reason, now); err != nil {
		m.logger.Error("Reject %s: %v", o.ID, err)
		return
	}
	o.CancelRequested = false
	m.stats.Rejected++
	m.persistLocked(o, fx)
	m.eventLocked(events.OrderRejected, o, nil, reason, fx)
	m.logger.Warning("Order %s rejected: %s", o.ID, reason)
}

func (m *Manager) closeLocked(o *Order, to Status, reason string, now time.Time, fx *effects) {
	if err := transition(o, to, reason, now); err != nil {
		m.logger.Error("Close %s: %v", o.ID, err)
		return
	}
	kind := events.OrderCancelled
	if to == StatusExpired {
		kind = events.OrderExpired
		m.stats.Expired++
	} else {
		m.stats.Cancelled++
	}
	m.persistLocked(o, fx)
	m.eventLocked(kind, o, nil, reason, fx)
}

// fillLocked applies a fill. A fill on a SUBMITTED order implies the venue
// acknowledged it.
func (m *Manager) fillLocked(o *Order, fill Fill, now time.Time, fx *effects) {
	if o.Status == StatusSubmitted {
		m.ackLocked(o, now, fx)
	}
	if o.HasFill(fill.FillID) {
		m.stats.DuplicateFills++
		return
	}
	qty, err := applyFill(o, fill, now)
	if err != nil {
		m.stats.IgnoredFills++
		m.logger.Warning("Ignored fill: %v", err)
		return
	}
	if !qty.IsPositive() {
		m.stats.DuplicateFills++
		return
	}
	fill.Quantity = qty
	if fill.Timestamp.IsZero() {
		fill.Timestamp = now
	}
	m.stats.Fills++
	kind := events.OrderPartiallyFilled
	if o.Status == StatusFilled {
		kind = events.OrderFilled
		m.stats.Filled++
		o.CancelRequested = false
	}
	m.persistLocked(o, fx)
	m.eventLocked(kind, o, &fill, "", fx)
	fx.fills = append(fx.fills, filled{order: o.Clone(), fill: fill})
	m.logger.Trade("%s %s %s @ %s (order %s, %s/%s)", o.Side, qty, o.Symbol, fill.Price, o.ID, o.FilledQuantity, o.Quantity)
}

func (m *Manager) persistLocked(o *Order, fx *effects) {
	snap := o.Clone()
	for i := range fx.persist {
		if fx.persist[i].ID == snap.ID {
			fx.persist[i] = snap
			return
		}
	}
	fx.persist = append(fx.persist, snap)
}

func (m *Manager) eventLocked(kind events.Kind, o *Order, fill *Fill, reason string, fx *effects) {
	p := &events.OrderPayload{
		OrderID:        o.ID,
		IdempotencyKey: o.IdempotencyKey,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Status:         string(o.Status),
		Quantity:       o.Quantity.InexactFloat64(),
		FilledQuantity: o.FilledQuantity.InexactFloat64(),
		AveragePrice:   o.AveragePrice.InexactFloat64(),
		Reason:         reason,
	}
	if fill != nil {
		p.FillID = fill.FillID
		p.FillQuantity = fill.Quantity.InexactFloat64()
		p.FillPrice = fill.Price.InexactFloat64()
	}
	if kind == events.OrderAcknowledged {
		p.AckLatencyMs = float64(o.AckLatency()) / float64(time.Millisecond)
	}
	fx.events = append(fx.events, events.Event{Kind: kind, Time: o.UpdatedAt.UTC(), Order: p})
}

// unlockAndFlush releases mu and performs the collected side effects.
// Persistence failures are logged and counted; they never change order status.
// No other lock is ever held together with mu.
func (m *Manager) unlockAndFlush(fx *effects) {
	ids := make([]string, 0, len(fx.persist))
	for _, o := range fx.persist {
		m.dirty[o.ID] = o
		ids = append(ids, o.ID)
	}
	queued := len(fx.events) > 0 || len(fx.fills) > 0 || len(fx.cancels) > 0
	if queued {
		m.outbox = append(m.outbox, effects{events: fx.events, fills: fx.fills, cancels: fx.cancels})
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.writeBack(id)
	}
	if queued {
		m.drainOutbox()
	}
}

// writeBack persists the newest snapshot of one order until none is left.
// If a writer for the order is already running the caller returns at once and
// that writer picks the newer snapshot up; older snapshots are overwritten in
// dirty and never reach the store.
func (m *Manager) writeBack(id string) {
	m.mu.Lock()
	if m.writing[id] {
		m.mu.Unlock()
		return
	}
	m.writing[id] = true
	for {
		o, ok := m.dirty[id]
		if !ok {
			delete(m.writing, id)
			m.mu.Unlock()
			return
		}
		delete(m.dirty, id)
		m.mu.Unlock()

		if err := m.persist(o); err != nil {
			m.persistFailed.Add(1)
			m.logger.Error("Persist order %s (%s): %v", o.ID, o.Status, err)
		}
		m.mu.Lock()
	}
}

func (m *Manager) drainOutbox() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		m.mu.Unlock()
		for i := range batch {
			m.deliver(&batch[i])
		}
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *Manager) deliver(fx *effects) {
	for _, ev := range fx.events {
		m.publisher.Publish(ev)
	}
	for _, f := range fx.fills {
		for _, h := range m.onFill {
			h(f.order, f.fill)
		}
	}
	for _, id := range fx.cancels {
		m.wg.Add(1)
		go func(id string) {
			defer m.wg.Done()
			m.sendCancel(m.baseCtx, id)
		}(id)
	}
}

func (m *Manager) persist(o Order) error {
	ctx, cancel := context.WithTimeout(m.baseCtx, 5*time.Second)
	defer cancel()
	return m.recovery.Execute(ctx, "oms", "persist", func(c context.Context) error {
		if err := m.store.PersistOrder(c, o); err != nil {
			return omserrors.NewPersistenceError("oms", "persist", err)
		}
		return nil
	})
}

func (m *Manager) recordError(err error) {
	if err == nil {
		return
	}
	m.errStats.RecordError(err, m.clock())
}
