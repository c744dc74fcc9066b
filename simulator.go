// FILE: simulator.go
// Package main – the market simulation loop. Every tick it marks all open
// orders to a per-symbol price, persists the refreshed PnL, and fires
// TP/SL transitions. Prices come from the configured oracle; when that
// fails the loop degrades to a bounded random walk off the last price it
// saw, so the simulation keeps moving through upstream outages.

package main

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"
)

// MarketSimulator drives mark-to-market evaluation on a fixed interval.
type MarketSimulator struct {
	store  OrderStore
	oracle PriceOracle
	sched  *Scheduler

	volatility float64
	maxMove    float64

	mu        sync.Mutex
	rng       *rand.Rand
	lastPrice map[string]float64
	lastQuote map[string]PriceQuote
}

// NewMarketSimulator wires the loop. oracle may be nil, in which case
// every price is synthesized from the orders' entry prices.
func NewMarketSimulator(store OrderStore, oracle PriceOracle, interval time.Duration, volatility, maxMove float64) *MarketSimulator {
	m := &MarketSimulator{
		store:      store,
		oracle:     oracle,
		volatility: volatility,
		maxMove:    maxMove,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		lastPrice:  make(map[string]float64),
		lastQuote:  make(map[string]PriceQuote),
	}
	m.sched = NewScheduler("market-simulator", interval, func(ctx context.Context) {
		if _, err := m.Tick(ctx); err != nil {
			log.Printf("[SIM] tick failed: %v", err)
		}
	})
	return m
}

// Start launches the loop; returns false if already running.
func (m *MarketSimulator) Start(ctx context.Context) bool {
	ok := m.sched.Start(ctx)
	if ok {
		log.Printf("[SIM] market simulation started (interval %s)", m.sched.interval)
	}
	return ok
}

// Stop halts the loop; returns false if it was not running.
func (m *MarketSimulator) Stop() bool {
	ok := m.sched.Stop()
	if ok {
		log.Printf("[SIM] market simulation stopped")
	}
	return ok
}

// Running reports whether the loop is active.
func (m *MarketSimulator) Running() bool { return m.sched.Running() }

// Tick evaluates every open order once and returns how many were touched.
// A failure for one symbol is logged and skipped; the remaining symbols
// still evaluate.
func (m *MarketSimulator) Tick(ctx context.Context) (int, error) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	if len(open) == 0 {
		return 0, nil
	}

	bySymbol := make(map[string][]Order)
	for _, o := range open {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}

	evaluated := 0
	for symbol, orders := range bySymbol {
		price, err := m.nextPrice(ctx, symbol, orders[0].EntryPrice)
		if err != nil {
			log.Printf("[SIM] %s: price unavailable, skipping %d order(s): %v", symbol, len(orders), err)
			continue
		}
		for i := range orders {
			if err := m.evaluate(ctx, &orders[i], price); err != nil {
				log.Printf("[SIM] %s: evaluate order %s: %v", symbol, orders[i].ID, err)
				continue
			}
			evaluated++
			ordersEvaluated.Inc()
		}
	}
	simulatorTicks.Inc()
	return evaluated, nil
}

// ForceUpdate runs one evaluation pass immediately, outside the schedule.
func (m *MarketSimulator) ForceUpdate(ctx context.Context) (int, error) {
	return m.Tick(ctx)
}

// CurrentPrice returns the last quote the simulator produced for symbol,
// fetching a fresh one when none is cached.
func (m *MarketSimulator) CurrentPrice(ctx context.Context, symbol string) (PriceQuote, error) {
	m.mu.Lock()
	q, ok := m.lastQuote[symbol]
	m.mu.Unlock()
	if ok {
		return q, nil
	}
	if m.oracle == nil {
		return PriceQuote{}, &ValidationError{Field: "symbol", Reason: "no price observed yet for " + symbol}
	}
	return m.oracle.Price(ctx, symbol)
}

// nextPrice produces this tick's price for symbol. The oracle quote, when
// available, becomes the new base; otherwise the walk continues from the
// last price (seeded from seed on the very first miss). A bounded random
// move is applied either way so the simulation always has motion.
func (m *MarketSimulator) nextPrice(ctx context.Context, symbol string, seed float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.lastPrice[symbol]
	source := "simulated"
	fallback := false
	if m.oracle != nil {
		if q, err := m.oracle.Price(ctx, symbol); err == nil {
			base = q.Price
			source = q.Source
			fallback = q.Fallback
		} else if base == 0 {
			log.Printf("[SIM] %s: oracle failed, walking from entry price: %v", symbol, err)
		}
	}
	if base == 0 {
		base = seed
	}
	if base <= 0 {
		return 0, &ValidationError{Field: "price", Reason: "no usable base price for " + symbol}
	}

	change := (m.rng.Float64()*2 - 1) * m.volatility
	if change > m.maxMove {
		change = m.maxMove
	} else if change < -m.maxMove {
		change = -m.maxMove
	}
	price := base * (1 + change)

	m.lastPrice[symbol] = price
	m.lastQuote[symbol] = PriceQuote{
		Symbol:    symbol,
		Price:     price,
		Source:    source,
		Fallback:  fallback,
		FetchedAt: time.Now().UTC(),
	}
	marketPrice.WithLabelValues(symbol).Set(price)
	return price, nil
}

// evaluate writes the refreshed PnL and applies a TP/SL transition when hit.
func (m *MarketSimulator) evaluate(ctx context.Context, o *Order, price float64) error {
	res := ComputeProfit(o, price)
	patch := &OrderPatch{Profit: &res.Profit, ProfitPercent: &res.ProfitPercent}

	status, reason, hit := CheckTriggers(o, price)
	if !hit {
		_, err := m.store.UpdateStatus(ctx, o.ID, StatusOpen, patch)
		return err
	}

	patch.CloseReason = reason
	patch.ClosePrice = &price
	updated, err := m.store.UpdateStatus(ctx, o.ID, status, patch)
	if err != nil {
		return err
	}
	if updated.Status == status {
		log.Printf("[SIM] %s order %s %s at %.2f (%s, profit %.2f)",
			o.Symbol, o.ID, status, price, reason, res.Profit)
		ordersClosed.WithLabelValues(string(status), reason).Inc()
	}
	return nil
}
