package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceOraclePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"50123.45000000"}`))
	}))
	defer srv.Close()

	q, err := NewBinanceOracle(srv.URL).Price(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", q.Symbol)
	assert.Equal(t, 50123.45, q.Price)
	assert.Equal(t, "binance", q.Source)
	assert.False(t, q.Fallback)
}

func TestBinanceOracleHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewBinanceOracle(srv.URL).Price(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 400")
}

func TestBinanceOracleKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","101.0","99.0","100.5","12.3",1700000299999,"0",0,"0","0","0"],
			[1700000300000,"100.5","102.0","100.1","101.7","9.8",1700000599999,"0",0,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	candles, err := NewBinanceOracle(srv.URL).Klines(context.Background(), "BTCUSDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 101.0, candles[0].High)
	assert.Equal(t, 99.0, candles[0].Low)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 12.3, candles[0].Volume)
	assert.True(t, candles[1].Time.After(candles[0].Time))
}

func TestCoinGeckoOraclePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/simple/price", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":50321.0}}`))
	}))
	defer srv.Close()

	q, err := NewCoinGeckoOracle(srv.URL).Price(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50321.0, q.Price)
	assert.Equal(t, "coingecko", q.Source)
}

func TestCoinGeckoOracleUnknownSymbol(t *testing.T) {
	_, err := NewCoinGeckoOracle("http://127.0.0.1:0").Price(context.Background(), "WATUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no coin id")
}

type flakyOracle struct {
	err  error
	name string
	q    PriceQuote
}

func (f *flakyOracle) Name() string { return f.name }

func (f *flakyOracle) Price(context.Context, string) (PriceQuote, error) {
	if f.err != nil {
		return PriceQuote{}, f.err
	}
	return f.q, nil
}

func TestFallbackOraclePrefersPrimary(t *testing.T) {
	primary := &flakyOracle{name: "binance", q: PriceQuote{Symbol: "BTCUSDT", Price: 50000, Source: "binance"}}
	secondary := &flakyOracle{name: "coingecko", q: PriceQuote{Symbol: "BTCUSDT", Price: 50500, Source: "coingecko"}}

	q, err := NewFallbackOracle(primary, secondary).Price(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, q.Price)
	assert.Equal(t, "binance", q.Source)
	assert.False(t, q.Fallback)
}

func TestFallbackOracleTagsFallback(t *testing.T) {
	primary := &flakyOracle{name: "binance", err: errors.New("down")}
	secondary := &flakyOracle{name: "coingecko", q: PriceQuote{Symbol: "BTCUSDT", Price: 50500, Source: "coingecko"}}

	q, err := NewFallbackOracle(primary, secondary).Price(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 50500.0, q.Price)
	assert.Equal(t, "coingecko", q.Source)
	assert.True(t, q.Fallback)
}

func TestFallbackOracleBothDown(t *testing.T) {
	primary := &flakyOracle{name: "binance", err: errors.New("down")}
	secondary := &flakyOracle{name: "coingecko", err: errors.New("also down")}

	_, err := NewFallbackOracle(primary, secondary).Price(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all price sources failed")
}
