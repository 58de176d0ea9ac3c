package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/ducminhle1904/crypto-oms/pkg/types"
)

// Route names the venue an order is sent to
type Route string

const (
	RouteLive  Route = "live"
	RoutePaper Route = "paper"
)

// Router dispatches new orders to the live or paper venue depending on the
// current trading mode, and pins every order to the venue that received it so
// cancels and queries follow the order.
type Router struct {
	live  Venue
	paper Venue
	route func() Route

	mu     sync.RWMutex
	pinned map[string]Route
}

// NewRouter creates a router. live may be nil, in which case every order goes to paper.
func NewRouter(live, paper Venue, route func() Route) *Router {
	return &Router{
		live:   live,
		paper:  paper,
		route:  route,
		pinned: make(map[string]Route),
	}
}

// GetName implements Venue
func (r *Router) GetName() string {
	if r.live == nil {
		return r.paper.GetName()
	}
	return fmt.Sprintf("%s+%s", r.live.GetName(), r.paper.GetName())
}

// IsDemo implements Venue
func (r *Router) IsDemo() bool {
	return r.live == nil || r.live.IsDemo()
}

func (r *Router) venueFor(route Route) Venue {
	if route == RouteLive && r.live != nil {
		return r.live
	}
	return r.paper
}

func (r *Router) routeOf(clientOrderID string) Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if route, ok := r.pinned[clientOrderID]; ok {
		return route
	}
	return r.current()
}

func (r *Router) current() Route {
	if r.live == nil {
		return RoutePaper
	}
	return r.route()
}

// RouteOf returns the venue an order was sent to
func (r *Router) RouteOf(clientOrderID string) Route {
	return r.routeOf(clientOrderID)
}

// Forget drops the pin for an order that was garbage collected
func (r *Router) Forget(clientOrderID string) {
	r.mu.Lock()
	delete(r.pinned, clientOrderID)
	r.mu.Unlock()
}

// SubmitOrder implements Venue
func (r *Router) SubmitOrder(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	route := r.current()
	r.mu.Lock()
	r.pinned[req.ClientOrderID] = route
	r.mu.Unlock()
	return r.venueFor(route).SubmitOrder(ctx, req)
}

// CancelOrder implements Venue
func (r *Router) CancelOrder(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	return r.venueFor(r.routeOf(req.ClientOrderID)).CancelOrder(ctx, req)
}

// QueryOrder implements Venue
func (r *Router) QueryOrder(ctx context.Context, req QueryRequest) (*OrderQueryResult, error) {
	return r.venueFor(r.routeOf(req.ClientOrderID)).QueryOrder(ctx, req)
}

// OnTick forwards market data to venues that price from it
func (r *Router) OnTick(tick types.MarketTick) {
	if tc, ok := r.paper.(TickConsumer); ok {
		tc.OnTick(tick)
	}
}

// Subscribe merges the streams of both venues. Market data comes from the
// live venue when there is one.
func (r *Router) Subscribe(ctx context.Context, symbols []string) (*Subscription, error) {
	var subs []*Subscription
	for _, v := range []Venue{r.live, r.paper} {
		if v == nil {
			continue
		}
		sub, err := v.Subscribe(ctx, symbols)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", v.GetName(), err)
		}
		subs = append(subs, sub)
	}

	executions := make(chan types.ExecutionReport, 256)
	ticks := make(chan types.MarketTick, 256)
	conn := make(chan types.ConnectionEvent, 16)

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(3)
		go forward(ctx, &wg, sub.Executions, executions)
		go forward(ctx, &wg, sub.Ticks, ticks)
		go forward(ctx, &wg, sub.Events, conn)
	}
	go func() {
		wg.Wait()
		close(executions)
		close(ticks)
		close(conn)
	}()

	return &Subscription{Executions: executions, Ticks: ticks, Events: conn}, nil
}

func forward[T any](ctx context.Context, wg *sync.WaitGroup, in <-chan T, out chan<- T) {
	defer wg.Done()
	if in == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Connect implements Venue
func (r *Router) Connect(ctx context.Context) error {
	if r.live != nil {
		if err := r.live.Connect(ctx); err != nil {
			return err
		}
	}
	return r.paper.Connect(ctx)
}

// Disconnect implements Venue
func (r *Router) Disconnect() error {
	var firstErr error
	if r.live != nil {
		firstErr = r.live.Disconnect()
	}
	if err := r.paper.Disconnect(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// IsConnected implements Venue
func (r *Router) IsConnected() bool {
	if r.live != nil && !r.live.IsConnected() {
		return false
	}
	return r.paper.IsConnected()
}
