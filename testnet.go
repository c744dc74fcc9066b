// FILE: testnet.go
// Package main – Binance futures testnet client. Mirrors real orders onto
// the testnet so the sync service has an authoritative counterpart to
// reconcile against. Signed endpoints use the standard HMAC-SHA256 query
// signature with an X-MBX-APIKEY header.

package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TestnetClient talks to the Binance USDⓈ-M futures testnet REST API.
type TestnetClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	hc         *http.Client
}

// NewTestnetClient builds a client for base (default
// https://testnet.binancefuture.com when empty).
func NewTestnetClient(apiKey, apiSecret, base string, recvWindowMs int64) *TestnetClient {
	if base == "" {
		base = "https://testnet.binancefuture.com"
	}
	if recvWindowMs <= 0 {
		recvWindowMs = 60000
	}
	return &TestnetClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(base, "/"),
		recvWindow: recvWindowMs,
		hc:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether API credentials were provided.
func (tc *TestnetClient) Configured() bool {
	return tc.apiKey != "" && tc.apiSecret != ""
}

func (tc *TestnetClient) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(tc.apiSecret))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

func (tc *TestnetClient) get(ctx context.Context, path string, q url.Values) ([]byte, int, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", strconv.FormatInt(tc.recvWindow, 10))
	q.Set("signature", tc.sign(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-MBX-APIKEY", tc.apiKey)
	return tc.do(req, path)
}

func (tc *TestnetClient) post(ctx context.Context, path string, q url.Values) ([]byte, int, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	q.Set("recvWindow", strconv.FormatInt(tc.recvWindow, 10))
	q.Set("signature", tc.sign(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.baseURL+path, strings.NewReader(q.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-MBX-APIKEY", tc.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return tc.do(req, path)
}

func (tc *TestnetClient) do(req *http.Request, op string) ([]byte, int, error) {
	res, err := tc.hc.Do(req)
	if err != nil {
		return nil, 0, &RemoteError{Op: op, Transient: true, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, res.StatusCode, &RemoteError{Op: op, Status: res.StatusCode, Transient: true, Err: err}
	}
	if res.StatusCode >= 500 {
		return body, res.StatusCode, &RemoteError{Op: op, Status: res.StatusCode, Transient: true,
			Err: fmt.Errorf("%s", truncate(string(body), 200))}
	}
	if res.StatusCode >= 400 && res.StatusCode != http.StatusNotFound {
		return body, res.StatusCode, &RemoteError{Op: op, Status: res.StatusCode,
			Err: fmt.Errorf("%s", truncate(string(body), 200))}
	}
	return body, res.StatusCode, nil
}

type binanceOrderResp struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
	UpdateTime  int64  `json:"updateTime"`
}

func (r binanceOrderResp) toRemote() *RemoteOrder {
	price, _ := strconv.ParseFloat(r.Price, 64)
	avg, _ := strconv.ParseFloat(r.AvgPrice, 64)
	qty, _ := strconv.ParseFloat(r.ExecutedQty, 64)
	return &RemoteOrder{
		OrderID:     strconv.FormatInt(r.OrderID, 10),
		Symbol:      r.Symbol,
		Status:      r.Status,
		Side:        r.Side,
		Price:       price,
		AvgPrice:    avg,
		ExecutedQty: qty,
		UpdateTime:  time.UnixMilli(r.UpdateTime).UTC(),
	}
}

// PlaceOrder submits a MARKET order and returns the exchange record.
func (tc *TestnetClient) PlaceOrder(ctx context.Context, symbol string, side OrderSide, quantity float64) (*RemoteOrder, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("side", string(side))
	q.Set("type", "MARKET")
	q.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	body, _, err := tc.post(ctx, "/fapi/v1/order", q)
	if err != nil {
		return nil, err
	}
	var resp binanceOrderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &RemoteError{Op: "place order", Err: err}
	}
	return resp.toRemote(), nil
}

// PlaceTPSL attaches reduce-only TAKE_PROFIT_MARKET and STOP_MARKET orders
// on the opposite side of an open position. A zero price skips that leg.
func (tc *TestnetClient) PlaceTPSL(ctx context.Context, symbol string, side OrderSide, tpPrice, slPrice float64) error {
	opposite := SideSell
	if side == SideSell {
		opposite = SideBuy
	}
	place := func(orderType string, stopPrice float64) error {
		q := url.Values{}
		q.Set("symbol", strings.ToUpper(symbol))
		q.Set("side", string(opposite))
		q.Set("type", orderType)
		q.Set("stopPrice", strconv.FormatFloat(stopPrice, 'f', -1, 64))
		q.Set("closePosition", "true")
		_, _, err := tc.post(ctx, "/fapi/v1/order", q)
		return err
	}
	if tpPrice > 0 {
		if err := place("TAKE_PROFIT_MARKET", tpPrice); err != nil {
			return err
		}
	}
	if slPrice > 0 {
		if err := place("STOP_MARKET", slPrice); err != nil {
			return err
		}
	}
	return nil
}

// OrderStatus looks up one order. A 404 or "order does not exist" response
// returns (nil, nil): the order is unknown to the exchange, not an error.
func (tc *TestnetClient) OrderStatus(ctx context.Context, symbol, orderID string) (*RemoteOrder, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("orderId", orderID)
	body, status, err := tc.get(ctx, "/fapi/v1/order", q)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		var re *RemoteError
		// Binance reports unknown orders as 400 with code -2013
		if errors.As(err, &re) && strings.Contains(re.Err.Error(), "-2013") {
			return nil, nil
		}
		return nil, err
	}
	var resp binanceOrderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &RemoteError{Op: "order status", Err: err}
	}
	return resp.toRemote(), nil
}

// PositionRisk returns the live positions for symbol.
func (tc *TestnetClient) PositionRisk(ctx context.Context, symbol string) ([]PositionInfo, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	body, _, err := tc.get(ctx, "/fapi/v2/positionRisk", q)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &RemoteError{Op: "position risk", Err: err}
	}
	out := make([]PositionInfo, 0, len(raw))
	for _, p := range raw {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		out = append(out, PositionInfo{
			Symbol:           p.Symbol,
			PositionAmt:      amt,
			EntryPrice:       entry,
			MarkPrice:        mark,
			UnrealizedProfit: upnl,
			Leverage:         lev,
		})
	}
	return out, nil
}

// AssetBalance is one asset line from the futures account balance.
type AssetBalance struct {
	Asset            string  `json:"asset"`
	Balance          float64 `json:"balance"`
	AvailableBalance float64 `json:"availableBalance"`
}

// AccountBalance returns the futures wallet balances.
func (tc *TestnetClient) AccountBalance(ctx context.Context) ([]AssetBalance, error) {
	body, _, err := tc.get(ctx, "/fapi/v2/balance", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &RemoteError{Op: "account balance", Err: err}
	}
	out := make([]AssetBalance, 0, len(raw))
	for _, b := range raw {
		bal, _ := strconv.ParseFloat(b.Balance, 64)
		avail, _ := strconv.ParseFloat(b.AvailableBalance, 64)
		out = append(out, AssetBalance{Asset: b.Asset, Balance: bal, AvailableBalance: avail})
	}
	return out, nil
}

// Ping hits the unsigned connectivity endpoint.
func (tc *TestnetClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.baseURL+"/fapi/v1/ping", nil)
	if err != nil {
		return err
	}
	_, _, err = tc.do(req, "ping")
	return err
}

// SetLeverage configures the account leverage for symbol before placing orders.
func (tc *TestnetClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("leverage", strconv.Itoa(leverage))
	_, _, err := tc.post(ctx, "/fapi/v1/leverage", q)
	return err
}
