// FILE: sync.go
// Package main – testnet reconciliation. Orders that were mirrored onto the
// exchange testnet carry a RemoteLink; this service periodically asks the
// exchange for the authoritative status of each link, maps it onto our
// lifecycle, and recomputes PnL/ROE from the live position when one exists.
// One order's failure never stops the sweep: each linked order is synced in
// its own goroutine and errors are collected per order.

package main

import (
	"context"
	"log"
	"math"
	"strings"
	"sync"
	"time"
)

// RemoteOrder is the exchange's view of a mirrored order.
type RemoteOrder struct {
	OrderID     string
	Symbol      string
	Status      string
	Side        string
	Price       float64
	AvgPrice    float64
	ExecutedQty float64
	UpdateTime  time.Time
}

// PositionInfo is a live futures position snapshot.
type PositionInfo struct {
	Symbol           string
	PositionAmt      float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedProfit float64
	Leverage         float64
}

// ExchangeClient is the slice of the testnet API the sync service needs.
type ExchangeClient interface {
	OrderStatus(ctx context.Context, symbol, orderID string) (*RemoteOrder, error)
	PositionRisk(ctx context.Context, symbol string) ([]PositionInfo, error)
}

// mapRemoteStatus folds exchange order statuses onto the local lifecycle.
// Unrecognized statuses map to OPEN so a new exchange-side state never
// terminates an order by accident.
func mapRemoteStatus(remote string) OrderStatus {
	switch strings.ToUpper(remote) {
	case "NEW", "PARTIALLY_FILLED":
		return StatusOpen
	case "FILLED":
		return StatusFilled
	case "CANCELED", "CANCELLED", "REJECTED", "EXPIRED":
		return StatusCancelled
	case "TRADE_CLOSED":
		return StatusClosed
	default:
		return StatusOpen
	}
}

// SyncResult summarizes one reconciliation sweep.
type SyncResult struct {
	Checked int      `json:"checked"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// TestnetSyncService reconciles linked orders against the exchange.
type TestnetSyncService struct {
	store  OrderStore
	client ExchangeClient
	sched  *Scheduler
}

// NewTestnetSyncService wires the reconciliation loop.
func NewTestnetSyncService(store OrderStore, client ExchangeClient, interval time.Duration) *TestnetSyncService {
	s := &TestnetSyncService{store: store, client: client}
	s.sched = NewScheduler("testnet-sync", interval, func(ctx context.Context) {
		res := s.SyncAll(ctx)
		if res.Checked > 0 {
			log.Printf("[SYNC] swept %d linked order(s): %d updated, %d failed",
				res.Checked, res.Updated, res.Failed)
		}
	})
	return s
}

// Start launches the loop; returns false if already running.
func (s *TestnetSyncService) Start(ctx context.Context) bool {
	ok := s.sched.Start(ctx)
	if ok {
		log.Printf("[SYNC] testnet sync started (interval %s)", s.sched.interval)
	}
	return ok
}

// Stop halts the loop; returns false if it was not running.
func (s *TestnetSyncService) Stop() bool {
	ok := s.sched.Stop()
	if ok {
		log.Printf("[SYNC] testnet sync stopped")
	}
	return ok
}

// Running reports whether the loop is active.
func (s *TestnetSyncService) Running() bool { return s.sched.Running() }

// SyncAll reconciles every linked order concurrently and reports the tally.
func (s *TestnetSyncService) SyncAll(ctx context.Context) SyncResult {
	var res SyncResult
	linked, err := s.store.ListLinked(ctx)
	if err != nil {
		log.Printf("[SYNC] list linked orders: %v", err)
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	res.Checked = len(linked)
	if len(linked) == 0 {
		return res
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, o := range linked {
		wg.Add(1)
		go func(o Order) {
			defer wg.Done()
			updated, err := s.syncOne(ctx, o)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, o.ID+": "+err.Error())
				log.Printf("[SYNC] order %s: %v", o.ID, err)
				return
			}
			if updated {
				res.Updated++
			}
		}(o)
	}
	wg.Wait()
	syncSweeps.Inc()
	return res
}

// SyncOrder reconciles a single order on demand.
func (s *TestnetSyncService) SyncOrder(ctx context.Context, id string) (Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !o.Linked() {
		return Order{}, &ValidationError{Field: "remote", Reason: "order is not linked to a testnet order"}
	}
	if _, err := s.syncOne(ctx, o); err != nil {
		return Order{}, err
	}
	return s.store.Get(ctx, id)
}

// syncOne pulls the remote state for one order and applies it. Returns
// whether the local record changed state.
func (s *TestnetSyncService) syncOne(ctx context.Context, o Order) (bool, error) {
	remote, err := s.client.OrderStatus(ctx, o.Symbol, o.Remote.OrderID)
	if err != nil {
		return false, err
	}
	if remote == nil {
		// the exchange no longer knows this order; leave the local record alone
		log.Printf("[SYNC] order %s: remote order %s not found on exchange", o.ID, o.Remote.OrderID)
		return false, nil
	}

	mapped := mapRemoteStatus(remote.Status)
	patch := &OrderPatch{
		Remote: &RemoteLink{
			OrderID:   o.Remote.OrderID,
			Status:    remote.Status,
			UpdatedAt: remote.UpdateTime,
		},
	}
	if mapped.Terminal() {
		patch.CloseReason = "Testnet: " + strings.ToUpper(remote.Status)
		if remote.AvgPrice > 0 {
			p := remote.AvgPrice
			patch.ClosePrice = &p
		}
		// the close moment is the exchange's, not ours
		if !remote.UpdateTime.IsZero() {
			ct := remote.UpdateTime
			patch.CloseTime = &ct
		}
	}

	// A FILLED entry order has a live position behind it: take the
	// exchange's unrealized PnL and compute ROE off the position's own
	// margin and leverage rather than trusting the local mark.
	if mapped == StatusFilled {
		if pos := s.findPosition(ctx, o.Symbol); pos != nil && pos.PositionAmt != 0 {
			profit := round2(pos.UnrealizedProfit)
			patch.Profit = &profit
			margin := pos.EntryPrice * math.Abs(pos.PositionAmt)
			if pos.Leverage > 0 {
				margin /= pos.Leverage
			}
			if margin > 0 {
				roe := round2(pos.UnrealizedProfit / margin * 100)
				patch.ProfitPercent = &roe
			}
		}
	}

	before := o.Status
	updated, err := s.store.UpdateStatus(ctx, o.ID, mapped, patch)
	if err != nil {
		return false, err
	}
	changed := updated.Status != before
	if changed {
		log.Printf("[SYNC] order %s: %s -> %s (remote %s)", o.ID, before, updated.Status, remote.Status)
		syncTransitions.WithLabelValues(string(updated.Status)).Inc()
	}
	return changed, nil
}

func (s *TestnetSyncService) findPosition(ctx context.Context, symbol string) *PositionInfo {
	positions, err := s.client.PositionRisk(ctx, symbol)
	if err != nil {
		log.Printf("[SYNC] position risk %s: %v", symbol, err)
		return nil
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}
