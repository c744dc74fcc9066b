// FILE: store.go
// Package main – OrderStore contract and the in-memory implementation.
//
// All mutation of a single order is serialized on a per-id lock so the
// simulator tick, the sync loop and API handlers can hit the same order
// concurrently without interleaving read-modify-write cycles. The global
// map lock is only held long enough to fetch or insert index entries.

package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OrderStore is the persistence boundary for orders. Implementations must
// serialize updates per order id and keep terminal states sticky.
type OrderStore interface {
	Create(ctx context.Context, in CreateOrderInput) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context) ([]Order, error)
	ListOpen(ctx context.Context) ([]Order, error)
	ListLinked(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, status OrderStatus, patch *OrderPatch) (Order, error)
	Delete(ctx context.Context, id string) error
}

// MemoryOrderStore keeps everything in a map; the default backend when no
// database DSN is configured.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	locks  map[string]*sync.Mutex
	now    func() time.Time
}

// NewMemoryOrderStore returns an empty store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]*Order),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// lockFor returns the per-id mutex, creating it on first use. Lock entries
// are never removed; ids are UUIDs and deletion is rare.
func (s *MemoryOrderStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

func (s *MemoryOrderStore) Create(_ context.Context, in CreateOrderInput) (Order, error) {
	in, err := in.normalize()
	if err != nil {
		return Order{}, err
	}
	now := s.now().UTC()
	// profit stays null until the first mark-to-market pass
	o := &Order{
		ID:              uuid.NewString(),
		Symbol:          in.Symbol,
		Side:            OrderSide(in.Side),
		Quantity:        in.Quantity,
		Leverage:        in.Leverage,
		EntryPrice:      in.EntryPrice,
		TakeProfitPrice: in.TakeProfitPrice,
		StopLossPrice:   in.StopLossPrice,
		Timeframe:       in.Timeframe,
		Status:          StatusOpen,
		Signal:          in.Signal,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
	return o.clone(), nil
}

func (s *MemoryOrderStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	o, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o.clone(), nil
}

func (s *MemoryOrderStore) List(_ context.Context) ([]Order, error) {
	s.mu.RLock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.clone())
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryOrderStore) ListOpen(ctx context.Context) ([]Order, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if o.Status == StatusOpen {
			out = append(out, o)
		}
	}
	return out, nil
}

// ListLinked returns orders that carry a remote order id and are still in
// play. Terminal orders keep their link for display but leave the sweep.
func (s *MemoryOrderStore) ListLinked(ctx context.Context) ([]Order, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if o.Linked() && !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

// UpdateStatus applies a status transition plus optional patch fields under
// the order's lock. Terminal states are sticky: once FILLED, CLOSED or
// CANCELLED, every further call returns the order unchanged, whatever the
// requested status or patch. On the first transition into a terminal state
// CloseTime is set exactly once (a patch-provided CloseTime wins, else now).
// A patch Remote link never overwrites an existing remote order id.
func (s *MemoryOrderStore) UpdateStatus(_ context.Context, id string, status OrderStatus, patch *OrderPatch) (Order, error) {
	if !status.Valid() {
		return Order{}, &ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}
	lk := s.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	s.mu.RLock()
	o, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return Order{}, ErrOrderNotFound
	}

	if o.Status.Terminal() {
		return o.clone(), nil
	}

	now := s.now().UTC()
	applyPatch(o, patch)
	if status != o.Status {
		o.Status = status
		if status.Terminal() && o.CloseTime == nil {
			ct := now
			if patch != nil && patch.CloseTime != nil {
				ct = patch.CloseTime.UTC()
			}
			o.CloseTime = &ct
		}
	}
	o.UpdatedAt = now
	return o.clone(), nil
}

// applyPatch merges non-nil patch fields into o. Caller holds the order lock.
func applyPatch(o *Order, p *OrderPatch) {
	if p == nil {
		return
	}
	if p.Profit != nil {
		v := *p.Profit
		o.Profit = &v
	}
	if p.ProfitPercent != nil {
		v := *p.ProfitPercent
		o.ProfitPercent = &v
	}
	if p.CloseReason != "" {
		o.CloseReason = p.CloseReason
	}
	if p.ClosePrice != nil {
		v := *p.ClosePrice
		o.ClosePrice = &v
	}
	if p.Remote != nil {
		if o.Remote == nil {
			v := *p.Remote
			o.Remote = &v
		} else {
			// remote order id is immutable once set
			if o.Remote.OrderID == "" {
				o.Remote.OrderID = p.Remote.OrderID
			}
			if p.Remote.Status != "" {
				o.Remote.Status = p.Remote.Status
			}
			if !p.Remote.UpdatedAt.IsZero() {
				o.Remote.UpdatedAt = p.Remote.UpdatedAt
			}
		}
	}
}

func (s *MemoryOrderStore) Delete(_ context.Context, id string) error {
	lk := s.lockFor(id)
	lk.Lock()
	defer lk.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}

func sortNewestFirst(orders []Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
