package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/crypto-oms/internal/ids"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Kind identifies an event type
type Kind string

const (
	OrderSubmitted       Kind = "order_submitted"
	OrderAcknowledged    Kind = "order_acknowledged"
	OrderRejected        Kind = "order_rejected"
	OrderPartiallyFilled Kind = "order_partially_filled"
	OrderFilled          Kind = "order_filled"
	OrderCancelled       Kind = "order_cancelled"
	OrderExpired         Kind = "order_expired"
	OrderIndeterminate   Kind = "order_indeterminate"
	CancelQueued         Kind = "cancel_queued"
	StopTriggered        Kind = "stop_triggered"
	RiskViolation        Kind = "risk_violation"
	Halt                 Kind = "halt"
	Resume               Kind = "resume"
	ModeChanged          Kind = "mode_changed"
	VenueConnection      Kind = "venue_connection"
)

// OrderPayload describes an order at the moment the event fired.
// Fill fields are set only for fill events.
type OrderPayload struct {
	OrderID        string     `json:"orderId"`
	IdempotencyKey string     `json:"idempotencyKey"`
	Symbol         string     `json:"symbol"`
	Side           types.Side `json:"side"`
	Status         string     `json:"status"`
	Quantity       float64    `json:"quantity"`
	FilledQuantity float64    `json:"filledQuantity"`
	AveragePrice   float64    `json:"averagePrice"`
	FillID         string     `json:"fillId,omitempty"`
	FillQuantity   float64    `json:"fillQuantity,omitempty"`
	FillPrice      float64    `json:"fillPrice,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	AckLatencyMs   float64    `json:"ackLatencyMs,omitempty"`
}

// ViolationPayload carries one risk violation
type ViolationPayload struct {
	Type     string  `json:"type"`
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
}

// ModePayload carries a trading mode or halt state change
type ModePayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
	Manual bool   `json:"manual"`
}

// Event is a typed message; exactly one payload pointer is set, matching Kind.
type Event struct {
	ID         string                 `json:"id"`
	Kind       Kind                   `json:"kind"`
	Time       time.Time              `json:"time"`
	Order      *OrderPayload          `json:"order,omitempty"`
	Violation  *ViolationPayload      `json:"violation,omitempty"`
	Mode       *ModePayload           `json:"mode,omitempty"`
	Connection *types.ConnectionEvent `json:"connection,omitempty"`
}

// Publisher receives events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Nop discards events
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(Event) {}

type subscription struct {
	ch    chan Event
	kinds map[Kind]struct{}
}

func (s *subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to buffered subscriber channels. A subscriber that
// falls behind loses events rather than stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	nextID  int
	dropped atomic.Uint64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe returns a channel receiving the given kinds (all kinds when none
// are given) and a function that unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{ch: make(chan Event, buffer), kinds: make(map[Kind]struct{}, len(kinds))}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish implements Publisher
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = ids.Random()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Recorder keeps every published event in memory. Used in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher
func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded kinds in publish order
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// Multi publishes to several publishers
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ev Event) {
	for _, p := range m {
		p.Publish(ev)
	}
}
