package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ducminhle1904/crypto-oms/internal/events"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Metrics holds the Prometheus collectors of one OMS instance. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	orderEvents    *prometheus.CounterVec
	fillsTotal     *prometheus.CounterVec
	fillNotional   *prometheus.HistogramVec
	ackLatency     prometheus.Histogram
	currentPrice   *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec
	halted         prometheus.Gauge
	tradingMode    *prometheus.GaugeVec
	exposure       prometheus.Gauge
	dailyPnL       prometheus.Gauge
	dailyDrawdown  prometheus.Gauge
	violations     *prometheus.GaugeVec
	venueConnected prometheus.Gauge
}

// NewMetrics creates and registers the OMS collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orderEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oms_order_events_total",
				Help: "Order lifecycle events by kind",
			},
			[]string{"kind"},
		),
		fillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oms_fills_total",
				Help: "Fills applied to orders",
			},
			[]string{"symbol", "side"},
		),
		fillNotional: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oms_fill_notional_usd",
				Help:    "Distribution of fill notional",
				Buckets: prometheus.ExponentialBuckets(10, 4, 8),
			},
			[]string{"symbol"},
		),
		ackLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oms_ack_latency_seconds",
				Help:    "Time from submission to venue acknowledgement",
				Buckets: prometheus.DefBuckets,
			},
		),
		currentPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oms_current_price",
				Help: "Last traded or mid price per symbol",
			},
			[]string{"symbol"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oms_errors_total",
				Help: "Errors by category",
			},
			[]string{"category"},
		),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_halted",
			Help: "1 while trading is halted",
		}),
		tradingMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oms_trading_mode",
				Help: "1 for the active trading mode",
			},
			[]string{"mode"},
		),
		exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_total_exposure_usd",
			Help: "Sum of open position notionals",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_daily_pnl_usd",
			Help: "Realized and unrealized PnL since the UTC day started",
		}),
		dailyDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_daily_drawdown_usd",
			Help: "Drawdown from the intraday PnL peak",
		}),
		violations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oms_active_violations",
				Help: "Risk violations found by the last check, by severity",
			},
			[]string{"severity"},
		),
		venueConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_venue_connected",
			Help: "1 while the venue streams are connected",
		}),
	}

	m.registry.MustRegister(
		m.orderEvents,
		m.fillsTotal,
		m.fillNotional,
		m.ackLatency,
		m.currentPrice,
		m.errorsTotal,
		m.halted,
		m.tradingMode,
		m.exposure,
		m.dailyPnL,
		m.dailyDrawdown,
		m.violations,
		m.venueConnected,
	)
	return m
}

// Registry exposes the registry, for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe updates collectors from a bus event
func (m *Metrics) Observe(ev events.Event) {
	switch {
	case ev.Order != nil:
		m.orderEvents.WithLabelValues(string(ev.Kind)).Inc()
		o := ev.Order
		if o.FillQuantity > 0 {
			m.fillsTotal.WithLabelValues(o.Symbol, string(o.Side)).Inc()
			m.fillNotional.WithLabelValues(o.Symbol).Observe(o.FillQuantity * o.FillPrice)
		}
		if ev.Kind == events.OrderAcknowledged && o.AckLatencyMs > 0 {
			m.ackLatency.Observe(o.AckLatencyMs / float64(time.Second/time.Millisecond))
		}
	case ev.Mode != nil:
		switch ev.Kind {
		case events.Halt:
			m.halted.Set(1)
		case events.Resume:
			m.halted.Set(0)
		}
		m.SetMode(ev.Mode.To)
	case ev.Connection != nil:
		if ev.Connection.State == types.ConnectionConnected {
			m.venueConnected.Set(1)
		} else {
			m.venueConnected.Set(0)
		}
	}
}

// SetMode marks mode as the active trading mode
func (m *Metrics) SetMode(mode string) {
	for _, candidate := range []string{"live", "paper", "halt"} {
		v := 0.0
		if candidate == mode {
			v = 1
		}
		m.tradingMode.WithLabelValues(candidate).Set(v)
	}
}

// UpdatePrice records the latest price of symbol
func (m *Metrics) UpdatePrice(symbol string, price float64) {
	m.currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordError counts one error of the category
func (m *Metrics) RecordError(category string) {
	m.errorsTotal.WithLabelValues(category).Inc()
}

// UpdateRisk publishes the risk metrics and the violation counts
func (m *Metrics) UpdateRisk(metrics risk.Metrics, violations []risk.Violation) {
	m.exposure.Set(metrics.TotalExposure)
	m.dailyPnL.Set(metrics.DailyPnL)
	m.dailyDrawdown.Set(metrics.DailyDrawdown)

	counts := map[risk.Severity]int{}
	for _, v := range violations {
		counts[v.Severity]++
	}
	for _, s := range []risk.Severity{risk.SeverityLow, risk.SeverityMedium, risk.SeverityHigh, risk.SeverityCritical} {
		m.violations.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}
