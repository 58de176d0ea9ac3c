package oms

import (
	"context"
	"sort"
	"sync"
)

// Store persists order state. PersistOrder is an idempotent upsert keyed by
// order id; LoadOpenOrders returns every non-terminal order.
type Store interface {
	PersistOrder(ctx context.Context, order Order) error
	LoadOpenOrders(ctx context.Context) ([]Order, error)
}

// OrderLister is implemented by stores that can return every order, including
// terminal ones. The blotter export uses it.
type OrderLister interface {
	LoadAllOrders(ctx context.Context) ([]Order, error)
}

// MemStore keeps orders in memory
type MemStore struct {
	mu     sync.RWMutex
	orders map[string]Order
	writes int
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{orders: make(map[string]Order)}
}

// PersistOrder implements Store
func (s *MemStore) PersistOrder(ctx context.Context, order Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order.Clone()
	s.writes++
	return nil
}

// LoadOpenOrders implements Store
func (s *MemStore) LoadOpenOrders(ctx context.Context) ([]Order, error) {
	return s.load(func(o Order) bool { return !o.Status.IsTerminal() }), nil
}

// LoadAllOrders implements OrderLister
func (s *MemStore) LoadAllOrders(ctx context.Context) ([]Order, error) {
	return s.load(func(Order) bool { return true }), nil
}

// Get returns the stored copy of an order
func (s *MemStore) Get(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Writes returns how many upserts were made
func (s *MemStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemStore) load(keep func(Order) bool) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
