// FILE: oracle.go
// Package main – market price sources. The simulator asks a PriceOracle for
// the latest trade price per symbol; in production that is Binance spot,
// with CoinGecko as a degraded fallback. Every quote carries an explicit
// Source tag so downstream consumers (and the /api/market/price endpoint)
// can tell real data from the fallback feed.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PriceQuote is one observed price with provenance.
type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Fallback  bool      `json:"fallback,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// PriceOracle fetches the latest price for a trading symbol.
type PriceOracle interface {
	Price(ctx context.Context, symbol string) (PriceQuote, error)
	Name() string
}

// ---------------------------------------------------------------------------
// Binance spot

// BinanceOracle reads ticker prices from the public Binance spot API.
type BinanceOracle struct {
	baseURL string
	httpc   *http.Client
}

// NewBinanceOracle targets baseURL (default https://api.binance.com when empty).
func NewBinanceOracle(baseURL string) *BinanceOracle {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BinanceOracle) Name() string { return "binance" }

func (b *BinanceOracle) Price(ctx context.Context, symbol string) (PriceQuote, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", b.baseURL, url.QueryEscape(strings.ToUpper(symbol)))
	var payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := getJSON(ctx, b.httpc, u, &payload); err != nil {
		return PriceQuote{}, fmt.Errorf("binance price %s: %w", symbol, err)
	}
	p, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("binance price %s: parse %q: %w", symbol, payload.Price, err)
	}
	return PriceQuote{Symbol: strings.ToUpper(symbol), Price: p, Source: b.Name(), FetchedAt: time.Now().UTC()}, nil
}

// Klines fetches recent candles for indicator computation. Values are
// ordered oldest first, matching what the indicator helpers expect.
func (b *BinanceOracle) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	u := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		b.baseURL, url.QueryEscape(strings.ToUpper(symbol)), url.QueryEscape(interval), limit)
	var raw [][]json.RawMessage
	if err := getJSON(ctx, b.httpc, u, &raw); err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	out := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		var openMs int64
		var o, h, l, c, v string
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			continue
		}
		for i, dst := range []*string{&o, &h, &l, &c, &v} {
			if err := json.Unmarshal(k[i+1], dst); err != nil {
				return nil, fmt.Errorf("binance klines %s: malformed field %d: %w", symbol, i+1, err)
			}
		}
		cd := Candle{Time: time.UnixMilli(openMs).UTC()}
		var err error
		if cd.Open, err = strconv.ParseFloat(o, 64); err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		if cd.High, err = strconv.ParseFloat(h, 64); err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		if cd.Low, err = strconv.ParseFloat(l, 64); err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		if cd.Close, err = strconv.ParseFloat(c, 64); err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		if cd.Volume, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		out = append(out, cd)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// CoinGecko fallback

// coinGeckoIDs maps the exchange symbols we trade to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	"BTCUSDT":  "bitcoin",
	"ETHUSDT":  "ethereum",
	"BNBUSDT":  "binancecoin",
	"SOLUSDT":  "solana",
	"XRPUSDT":  "ripple",
	"ADAUSDT":  "cardano",
	"DOGEUSDT": "dogecoin",
}

// CoinGeckoOracle reads USD spot prices from the CoinGecko simple API.
// Slower and coarser than Binance; used only when the primary source fails.
type CoinGeckoOracle struct {
	baseURL string
	httpc   *http.Client
}

func NewCoinGeckoOracle(baseURL string) *CoinGeckoOracle {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &CoinGeckoOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *CoinGeckoOracle) Name() string { return "coingecko" }

func (g *CoinGeckoOracle) Price(ctx context.Context, symbol string) (PriceQuote, error) {
	sym := strings.ToUpper(symbol)
	id, ok := coinGeckoIDs[sym]
	if !ok {
		return PriceQuote{}, fmt.Errorf("coingecko: no coin id for symbol %s", sym)
	}
	u := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd", g.baseURL, url.QueryEscape(id))
	var payload map[string]map[string]float64
	if err := getJSON(ctx, g.httpc, u, &payload); err != nil {
		return PriceQuote{}, fmt.Errorf("coingecko price %s: %w", sym, err)
	}
	p, ok := payload[id]["usd"]
	if !ok || p <= 0 {
		return PriceQuote{}, fmt.Errorf("coingecko price %s: empty response", sym)
	}
	return PriceQuote{Symbol: sym, Price: p, Source: g.Name(), FetchedAt: time.Now().UTC()}, nil
}

// ---------------------------------------------------------------------------
// Fallback chain

// FallbackOracle tries the primary source first and falls back to the
// secondary on any error, tagging the quote so callers can see which feed
// actually answered.
type FallbackOracle struct {
	primary   PriceOracle
	secondary PriceOracle
}

func NewFallbackOracle(primary, secondary PriceOracle) *FallbackOracle {
	return &FallbackOracle{primary: primary, secondary: secondary}
}

func (f *FallbackOracle) Name() string { return f.primary.Name() }

func (f *FallbackOracle) Price(ctx context.Context, symbol string) (PriceQuote, error) {
	q, err := f.primary.Price(ctx, symbol)
	if err == nil {
		return q, nil
	}
	if f.secondary == nil {
		return PriceQuote{}, err
	}
	q2, err2 := f.secondary.Price(ctx, symbol)
	if err2 != nil {
		return PriceQuote{}, fmt.Errorf("all price sources failed: %v; fallback: %w", err, err2)
	}
	q2.Fallback = true
	return q2, nil
}

// getJSON performs a GET and decodes a JSON body, treating non-2xx as errors.
func getJSON(ctx context.Context, c *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return json.Unmarshal(body, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
