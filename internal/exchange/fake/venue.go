// Package fake provides a scripted in-memory venue for tests.
package fake

import (
	"context"
	"sync"

	"github.com/ducminhle1904/crypto-oms/internal/exchange"
	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Venue records every call and answers with the configured hooks. Without a
// hook, submits are accepted with venue id "V-<client id>", cancels succeed
// and queries report not found.
type Venue struct {
	Name string

	SubmitFunc func(ctx context.Context, req exchange.SubmitRequest) (*exchange.SubmitResult, error)
	CancelFunc func(ctx context.Context, req exchange.CancelRequest) (*exchange.CancelResult, error)
	QueryFunc  func(ctx context.Context, req exchange.QueryRequest) (*exchange.OrderQueryResult, error)

	mu        sync.Mutex
	submits   []exchange.SubmitRequest
	cancels   []exchange.CancelRequest
	queries   []exchange.QueryRequest
	ticks     []types.MarketTick
	gate      chan struct{}
	connected bool

	executions chan types.ExecutionReport
	events     chan types.ConnectionEvent
}

// NewVenue creates a fake venue
func NewVenue(name string) *Venue {
	if name == "" {
		name = "fake"
	}
	return &Venue{
		Name:       name,
		executions: make(chan types.ExecutionReport, 64),
		events:     make(chan types.ConnectionEvent, 8),
	}
}

// Hold makes submits block until Release is called or their context ends
func (v *Venue) Hold() {
	v.mu.Lock()
	v.gate = make(chan struct{})
	v.mu.Unlock()
}

// Release unblocks held submits
func (v *Venue) Release() {
	v.mu.Lock()
	if v.gate != nil {
		close(v.gate)
		v.gate = nil
	}
	v.mu.Unlock()
}

// Emit pushes an execution report onto the subscription stream
func (v *Venue) Emit(report types.ExecutionReport) {
	v.executions <- report
}

// EmitEvent pushes a connection event onto the subscription stream
func (v *Venue) EmitEvent(ev types.ConnectionEvent) {
	v.events <- ev
}

// SubmitCount returns the number of SubmitOrder calls
func (v *Venue) SubmitCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.submits)
}

// Submits returns a copy of the recorded submit requests
func (v *Venue) Submits() []exchange.SubmitRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.SubmitRequest(nil), v.submits...)
}

// Cancels returns a copy of the recorded cancel requests
func (v *Venue) Cancels() []exchange.CancelRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.CancelRequest(nil), v.cancels...)
}

// Queries returns a copy of the recorded query requests
func (v *Venue) Queries() []exchange.QueryRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]exchange.QueryRequest(nil), v.queries...)
}

// Ticks returns the ticks received through OnTick
func (v *Venue) Ticks() []types.MarketTick {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]types.MarketTick(nil), v.ticks...)
}

// GetName implements exchange.Venue
func (v *Venue) GetName() string { return v.Name }

// IsDemo implements exchange.Venue
func (v *Venue) IsDemo() bool { return true }

// SubmitOrder implements exchange.Venue
func (v *Venue) SubmitOrder(ctx context.Context, req exchange.SubmitRequest) (*exchange.SubmitResult, error) {
	v.mu.Lock()
	v.submits = append(v.submits, req)
	gate := v.gate
	fn := v.SubmitFunc
	v.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return &exchange.SubmitResult{VenueOrderID: "V-" + req.ClientOrderID, Accepted: true}, nil
}

// CancelOrder implements exchange.Venue
func (v *Venue) CancelOrder(ctx context.Context, req exchange.CancelRequest) (*exchange.CancelResult, error) {
	v.mu.Lock()
	v.cancels = append(v.cancels, req)
	fn := v.CancelFunc
	v.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &exchange.CancelResult{Success: true}, nil
}

// QueryOrder implements exchange.Venue
func (v *Venue) QueryOrder(ctx context.Context, req exchange.QueryRequest) (*exchange.OrderQueryResult, error) {
	v.mu.Lock()
	v.queries = append(v.queries, req)
	fn := v.QueryFunc
	v.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &exchange.OrderQueryResult{Found: false, ClientOrderID: req.ClientOrderID}, nil
}

// OnTick implements exchange.TickConsumer
func (v *Venue) OnTick(tick types.MarketTick) {
	v.mu.Lock()
	v.ticks = append(v.ticks, tick)
	v.mu.Unlock()
}

// Subscribe implements exchange.Venue
func (v *Venue) Subscribe(ctx context.Context, symbols []string) (*exchange.Subscription, error) {
	return &exchange.Subscription{Executions: v.executions, Events: v.events}, nil
}

// Connect implements exchange.Venue
func (v *Venue) Connect(ctx context.Context) error {
	v.mu.Lock()
	v.connected = true
	v.mu.Unlock()
	return nil
}

// Disconnect implements exchange.Venue
func (v *Venue) Disconnect() error {
	v.mu.Lock()
	v.connected = false
	v.mu.Unlock()
	return nil
}

// IsConnected implements exchange.Venue
func (v *Venue) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}
