package main

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapOracle struct {
	prices map[string]float64
	fail   map[string]bool
}

func (o *mapOracle) Name() string { return "map" }

func (o *mapOracle) Price(_ context.Context, symbol string) (PriceQuote, error) {
	if o.fail[symbol] {
		return PriceQuote{}, errors.New("feed down for " + symbol)
	}
	p, ok := o.prices[symbol]
	if !ok {
		return PriceQuote{}, errors.New("unknown symbol " + symbol)
	}
	return PriceQuote{Symbol: symbol, Price: p, Source: o.Name()}, nil
}

func newTestSimulator(store OrderStore, oracle PriceOracle) *MarketSimulator {
	return NewMarketSimulator(store, oracle, time.Minute, 0.002, 0.005)
}

func TestTickWritesProfitEveryPass(t *testing.T) {
	store := NewMemoryOrderStore()
	sim := newTestSimulator(store, &mapOracle{prices: map[string]float64{"BTCUSDT": 50000}})
	o := newTestOrder(t, store, SideBuy)

	n, err := sim.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, after.Profit)
	assert.True(t, after.UpdatedAt.After(o.UpdatedAt) || !after.UpdatedAt.Equal(o.UpdatedAt))

	// second pass touches it again even if nothing triggered
	n, err = sim.Tick(context.Background())
	require.NoError(t, err)
	if after.Status == StatusOpen {
		assert.Equal(t, 1, n)
	}
}

func TestTickPriceStaysBounded(t *testing.T) {
	store := NewMemoryOrderStore()
	sim := newTestSimulator(store, &mapOracle{prices: map[string]float64{"BTCUSDT": 50000}})
	newTestOrder(t, store, SideBuy)

	for i := 0; i < 20; i++ {
		_, err := sim.Tick(context.Background())
		require.NoError(t, err)
		q, err := sim.CurrentPrice(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		// each tick rebases on the 50000 oracle quote, so the jitter is
		// bounded by maxMove around it
		assert.LessOrEqual(t, math.Abs(q.Price-50000)/50000, 0.005+1e-12)
	}
}

func TestTickTakeProfitCloses(t *testing.T) {
	store := NewMemoryOrderStore()
	sim := newTestSimulator(store, &mapOracle{prices: map[string]float64{"BTCUSDT": 52000}})
	o, err := store.Create(context.Background(), CreateOrderInput{
		Symbol: "BTCUSDT", Side: "BUY", EntryPrice: 50000,
		TakeProfitPrice: 51000, StopLossPrice: 49500,
		Quantity: 0.01, Leverage: 10,
	})
	require.NoError(t, err)

	_, err = sim.Tick(context.Background())
	require.NoError(t, err)

	after, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, after.Status)
	assert.Equal(t, ReasonTPHit, after.CloseReason)
	require.NotNil(t, after.CloseTime)
	require.NotNil(t, after.ClosePrice)
	require.NotNil(t, after.Profit)
	assert.Greater(t, *after.Profit, 0.0)
}

func TestTickStopLossCloses(t *testing.T) {
	store := NewMemoryOrderStore()
	sim := newTestSimulator(store, &mapOracle{prices: map[string]float64{"BTCUSDT": 49000}})
	o, err := store.Create(context.Background(), CreateOrderInput{
		Symbol: "BTCUSDT", Side: "BUY", EntryPrice: 50000,
		TakeProfitPrice: 51000, StopLossPrice: 49500,
		Quantity: 0.01, Leverage: 10,
	})
	require.NoError(t, err)

	_, err = sim.Tick(context.Background())
	require.NoError(t, err)

	after, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, after.Status)
	assert.Equal(t, ReasonSLHit, after.CloseReason)
	require.NotNil(t, after.Profit)
	assert.Less(t, *after.Profit, 0.0)
}

func TestTickClosedOrdersStayClosed(t *testing.T) {
	store := NewMemoryOrderStore()
	sim := newTestSimulator(store, &mapOracle{prices: map[string]float64{"BTCUSDT": 52000}})
	o, err := store.Create(context.Background(), CreateOrderInput{
		Symbol: "BTCUSDT", Side: "BUY", EntryPrice: 50000,
		TakeProfitPrice: 51000, Quantity: 0.01,
	})
	require.NoError(t, err)

	_, err = sim.Tick(context.Background())
	require.NoError(t, err)
	closed, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFilled, closed.Status)

	// further ticks leave the terminal record untouched
	n, err := sim.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	again, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, closed.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, *closed.CloseTime, *again.CloseTime)
}

// One symbol's feed failing must not stop evaluation of the others.
func TestTickSymbolFailureIsolation(t *testing.T) {
	store := NewMemoryOrderStore()
	oracle := &mapOracle{
		prices: map[string]float64{"ETHUSDT": 3000},
		fail:   map[string]bool{"BTCUSDT": true},
	}
	sim := newTestSimulator(store, oracle)

	btc := newTestOrder(t, store, SideBuy) // BTCUSDT, walks from entry price
	eth, err := store.Create(context.Background(), CreateOrderInput{
		Symbol: "ETHUSDT", Side: "SELL", EntryPrice: 3100,
		Quantity: 1,
	})
	require.NoError(t, err)

	n, err := sim.Tick(context.Background())
	require.NoError(t, err)
	// the failed feed degrades to a walk off the entry price, so both still evaluate
	assert.Equal(t, 2, n)

	afterETH, err := store.Get(context.Background(), eth.ID)
	require.NoError(t, err)
	require.NotNil(t, afterETH.Profit)
	assert.NotZero(t, *afterETH.Profit)

	afterBTC, err := store.Get(context.Background(), btc.ID)
	require.NoError(t, err)
	require.NotNil(t, afterBTC.Profit)
}

func TestForceUpdateReturnsCount(t *testing.T) {
	store := NewMemoryOrderStore()
	sim := newTestSimulator(store, &mapOracle{prices: map[string]float64{"BTCUSDT": 50000}})
	newTestOrder(t, store, SideBuy)
	newTestOrder(t, store, SideSell)

	n, err := sim.ForceUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSimulatorStartStop(t *testing.T) {
	store := NewMemoryOrderStore()
	sim := NewMarketSimulator(store, &mapOracle{prices: map[string]float64{}}, 50*time.Millisecond, 0.002, 0.005)

	require.True(t, sim.Start(context.Background()))
	assert.False(t, sim.Start(context.Background()))
	assert.True(t, sim.Running())

	require.True(t, sim.Stop())
	assert.False(t, sim.Running())
	assert.False(t, sim.Stop())
}
