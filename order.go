// FILE: order.go
// Package main – Order entity, status machine, and creation-input normalization.
//
// The Order is the single mutable record the whole bot revolves around. Its
// lifecycle is a small DAG: OPEN is the only entry state, and FILLED, CLOSED
// and CANCELLED are terminal. Terminal states are sticky — no edge leaves
// them, which the store enforces on every update (see store.go).
//
// Incoming creation payloads (TradingView webhooks, the REST API, older
// dashboard clients) use two generations of field names; normalize() folds
// the aliases (action/side, price_entry/entryPrice, tp_price/sl_price) into
// the canonical schema before a record is created.

package main

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OrderSide is the side of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the local lifecycle state of an order.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"    // take-profit path
	StatusClosed    OrderStatus = "CLOSED"    // stop-loss / manual close path
	StatusCancelled OrderStatus = "CANCELLED" // rejected, expired or cancelled remotely
)

// Terminal reports whether s is a sink state of the lifecycle DAG.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusClosed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the four known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusFilled, StatusClosed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SignalValues is the indicator snapshot that produced an order.
type SignalValues struct {
	PlusDI  float64 `json:"plusDI"`
	MinusDI float64 `json:"minusDI"`
	ADX     float64 `json:"adx"`
}

// RemoteLink ties a local order to its authoritative testnet counterpart.
// OrderID is set exactly once when the order is linked; only Status and
// UpdatedAt move afterwards, driven by the sync service.
type RemoteLink struct {
	OrderID   string    `json:"remoteOrderId"`
	Status    string    `json:"remoteStatus,omitempty"`
	UpdatedAt time.Time `json:"remoteUpdatedAt,omitempty"`
}

// Order is the canonical simulated-position record.
type Order struct {
	ID              string        `json:"id"`
	Symbol          string        `json:"symbol"`
	Side            OrderSide     `json:"side"`
	Quantity        float64       `json:"quantity"`
	Leverage        float64       `json:"leverage,omitempty"`
	EntryPrice      float64       `json:"entryPrice"`
	TakeProfitPrice float64       `json:"takeProfitPrice"`
	StopLossPrice   float64       `json:"stopLossPrice"`
	Timeframe       string        `json:"timeframe,omitempty"`
	Status          OrderStatus   `json:"status"`
	Profit          *float64      `json:"profit"`
	ProfitPercent   *float64      `json:"profitPercent"`
	CloseReason     string        `json:"closeReason,omitempty"`
	ClosePrice      *float64      `json:"closePrice,omitempty"`
	Signal          *SignalValues `json:"signal,omitempty"`
	Remote          *RemoteLink   `json:"remote,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	CloseTime       *time.Time    `json:"closeTime"`
}

// Linked reports whether the order has a testnet counterpart to reconcile.
func (o *Order) Linked() bool {
	return o.Remote != nil && o.Remote.OrderID != ""
}

// clone returns a deep copy so store callers never share pointers with the index.
func (o Order) clone() Order {
	c := o
	if o.Profit != nil {
		v := *o.Profit
		c.Profit = &v
	}
	if o.ProfitPercent != nil {
		v := *o.ProfitPercent
		c.ProfitPercent = &v
	}
	if o.ClosePrice != nil {
		v := *o.ClosePrice
		c.ClosePrice = &v
	}
	if o.CloseTime != nil {
		v := *o.CloseTime
		c.CloseTime = &v
	}
	if o.Signal != nil {
		v := *o.Signal
		c.Signal = &v
	}
	if o.Remote != nil {
		v := *o.Remote
		c.Remote = &v
	}
	return c
}

// CreateOrderInput accepts both the canonical schema and the legacy aliases
// used by the webhook pipeline and older clients.
type CreateOrderInput struct {
	Symbol string `json:"symbol"`

	Side   string `json:"side"`
	Action string `json:"action"` // alias for side

	EntryPrice float64 `json:"entryPrice"`
	Price      float64 `json:"price"`       // alias
	PriceEntry float64 `json:"price_entry"` // alias

	TakeProfitPrice float64 `json:"takeProfitPrice"`
	TPPrice         float64 `json:"tp_price"` // alias

	StopLossPrice float64 `json:"stopLossPrice"`
	SLPrice       float64 `json:"sl_price"` // alias

	Quantity  float64       `json:"quantity"`
	Leverage  float64       `json:"leverage"`
	Timeframe string        `json:"timeframe"`
	Signal    *SignalValues `json:"signal,omitempty"`
}

// normalize folds aliases into the canonical fields and validates the result.
func (in CreateOrderInput) normalize() (CreateOrderInput, error) {
	out := in
	if out.Side == "" {
		out.Side = out.Action
	}
	out.Side = strings.ToUpper(strings.TrimSpace(out.Side))
	out.Symbol = strings.ToUpper(strings.TrimSpace(out.Symbol))

	if out.EntryPrice == 0 {
		if out.Price != 0 {
			out.EntryPrice = out.Price
		} else {
			out.EntryPrice = out.PriceEntry
		}
	}
	if out.TakeProfitPrice == 0 {
		out.TakeProfitPrice = out.TPPrice
	}
	if out.StopLossPrice == 0 {
		out.StopLossPrice = out.SLPrice
	}

	if out.Symbol == "" {
		return out, &ValidationError{Field: "symbol", Reason: "symbol is required"}
	}
	switch OrderSide(out.Side) {
	case SideBuy, SideSell:
	default:
		return out, &ValidationError{Field: "side", Reason: fmt.Sprintf("side must be BUY or SELL, got %q", out.Side)}
	}
	if out.EntryPrice <= 0 {
		return out, &ValidationError{Field: "entryPrice", Reason: "entry price must be > 0"}
	}
	if out.Quantity <= 0 {
		return out, &ValidationError{Field: "quantity", Reason: "quantity must be > 0"}
	}
	return out, nil
}

// OrderPatch carries the optional fields an updateStatus call may merge.
// Nil pointers mean "leave as is".
type OrderPatch struct {
	Profit        *float64
	ProfitPercent *float64
	CloseReason   string
	ClosePrice    *float64
	CloseTime     *time.Time
	Remote        *RemoteLink
}

// round2 rounds to two decimal places, the precision profit is reported at.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
