// FILE: signal.go
// Package main – incoming signal validation and the order-opening pipeline.
//
// A signal is an indicator snapshot (ADX, +DI, -DI) for a symbol/timeframe.
// Validation gates on configured thresholds; an accepted signal opens a
// simulated order with derived TP/SL levels and, when testnet mirroring is
// enabled, places the matching order on the exchange and links it.

package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
)

// TradingSignal is the webhook payload. Indicator fields are pointers so a
// missing field is distinguishable from a legitimate zero.
type TradingSignal struct {
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	PlusDI    *float64 `json:"plusDI"`
	MinusDI   *float64 `json:"minusDI"`
	ADX       *float64 `json:"adx"`
	Price     float64  `json:"price,omitempty"`
}

// SignalDecision is the outcome of validating one signal.
type SignalDecision struct {
	Valid  bool      `json:"valid"`
	Side   OrderSide `json:"side,omitempty"`
	Reason string    `json:"reason"`
}

// ValidateSignal checks required fields and applies the directional rules:
//
//	BUY  when +DI > plusDIThreshold, -DI < minusDIThreshold and ADX >= adxMinimum
//	SELL when -DI > plusDIThreshold, +DI < minusDIThreshold and ADX >= adxMinimum
//
// The SELL branch compares each DI against the opposite side's threshold.
// That asymmetry is inherited behavior the strategy was tuned around; do
// not "fix" it without re-tuning the thresholds.
func ValidateSignal(sig TradingSignal, cfg StrategyConfig) (SignalDecision, error) {
	if strings.TrimSpace(sig.Symbol) == "" {
		return SignalDecision{}, &ValidationError{Field: "symbol", Reason: "symbol is required"}
	}
	if strings.TrimSpace(sig.Timeframe) == "" {
		return SignalDecision{}, &ValidationError{Field: "timeframe", Reason: "timeframe is required"}
	}
	indicators := []struct {
		name string
		v    *float64
	}{
		{"plusDI", sig.PlusDI},
		{"minusDI", sig.MinusDI},
		{"adx", sig.ADX},
	}
	for _, in := range indicators {
		// an incomplete snapshot is a rejection, not a malformed request
		if in.v == nil {
			return SignalDecision{Reason: "Missing required signal data: " + in.name}, nil
		}
		if math.IsNaN(*in.v) || math.IsInf(*in.v, 0) {
			return SignalDecision{}, &ValidationError{Field: in.name, Reason: in.name + " must be a finite number"}
		}
	}

	plusDI, minusDI, adx := *sig.PlusDI, *sig.MinusDI, *sig.ADX
	if adx < cfg.ADXMinimum {
		return SignalDecision{
			Reason: fmt.Sprintf("ADX %.2f below minimum %.2f", adx, cfg.ADXMinimum),
		}, nil
	}
	if plusDI > cfg.PlusDIThreshold && minusDI < cfg.MinusDIThreshold {
		return SignalDecision{
			Valid: true, Side: SideBuy,
			Reason: fmt.Sprintf("+DI %.2f > %.2f and -DI %.2f < %.2f", plusDI, cfg.PlusDIThreshold, minusDI, cfg.MinusDIThreshold),
		}, nil
	}
	if minusDI > cfg.PlusDIThreshold && plusDI < cfg.MinusDIThreshold {
		return SignalDecision{
			Valid: true, Side: SideSell,
			Reason: fmt.Sprintf("-DI %.2f > %.2f and +DI %.2f < %.2f", minusDI, cfg.PlusDIThreshold, plusDI, cfg.MinusDIThreshold),
		}, nil
	}
	return SignalDecision{Reason: "DI values do not satisfy entry conditions"}, nil
}

// TPSL is a derived take-profit / stop-loss pair.
type TPSL struct {
	TakeProfit float64 `json:"takeProfit"`
	StopLoss   float64 `json:"stopLoss"`
}

// CalculateTPSL derives the exit levels from the entry price and the
// configured percentages. BUY exits above/below entry; SELL is mirrored.
// Levels are kept at eight decimals to stay inside exchange tick precision.
func CalculateTPSL(side OrderSide, entryPrice, tpPercent, slPercent float64) TPSL {
	var tp, sl float64
	if side == SideBuy {
		tp = entryPrice * (1 + tpPercent/100)
		sl = entryPrice * (1 - slPercent/100)
	} else {
		tp = entryPrice * (1 - tpPercent/100)
		sl = entryPrice * (1 + slPercent/100)
	}
	return TPSL{TakeProfit: round8(tp), StopLoss: round8(sl)}
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// SignalProcessor turns accepted signals into orders.
type SignalProcessor struct {
	store   OrderStore
	oracle  PriceOracle
	testnet *TestnetClient
	cfg     *Config
}

func NewSignalProcessor(store OrderStore, oracle PriceOracle, testnet *TestnetClient, cfg *Config) *SignalProcessor {
	return &SignalProcessor{store: store, oracle: oracle, testnet: testnet, cfg: cfg}
}

// ProcessResult reports what a signal produced.
type ProcessResult struct {
	Decision SignalDecision `json:"decision"`
	Order    *Order         `json:"order,omitempty"`
}

// Process validates the signal, resolves an entry price, opens the order
// and mirrors it to the testnet when enabled. A rejected signal is not an
// error: the decision explains why nothing was opened.
func (p *SignalProcessor) Process(ctx context.Context, sig TradingSignal) (ProcessResult, error) {
	decision, err := ValidateSignal(sig, p.cfg.Strategy)
	if err != nil {
		return ProcessResult{}, err
	}
	if !decision.Valid {
		log.Printf("[SIGNAL] %s %s rejected: %s", sig.Symbol, sig.Timeframe, decision.Reason)
		signalsRejected.Inc()
		return ProcessResult{Decision: decision}, nil
	}

	entry := sig.Price
	if entry <= 0 {
		q, err := p.oracle.Price(ctx, sig.Symbol)
		if err != nil {
			return ProcessResult{}, fmt.Errorf("resolve entry price: %w", err)
		}
		entry = q.Price
	}

	tpsl := CalculateTPSL(decision.Side, entry, p.cfg.Strategy.TakeProfitPercent, p.cfg.Strategy.StopLossPercent)
	order, err := p.store.Create(ctx, CreateOrderInput{
		Symbol:          sig.Symbol,
		Side:            string(decision.Side),
		EntryPrice:      entry,
		TakeProfitPrice: tpsl.TakeProfit,
		StopLossPrice:   tpsl.StopLoss,
		Quantity:        p.cfg.Strategy.Quantity,
		Leverage:        p.cfg.Strategy.Leverage,
		Timeframe:       sig.Timeframe,
		Signal: &SignalValues{
			PlusDI:  *sig.PlusDI,
			MinusDI: *sig.MinusDI,
			ADX:     *sig.ADX,
		},
	})
	if err != nil {
		return ProcessResult{}, err
	}
	log.Printf("[SIGNAL] %s %s accepted (%s): order %s opened at %.2f (TP %.2f / SL %.2f)",
		sig.Symbol, sig.Timeframe, decision.Side, order.ID, entry, tpsl.TakeProfit, tpsl.StopLoss)
	signalsAccepted.WithLabelValues(string(decision.Side)).Inc()

	if p.cfg.Testnet.Enabled && p.testnet != nil && p.testnet.Configured() {
		if linked, err := p.mirrorToTestnet(ctx, order, tpsl); err != nil {
			// the simulated order stands on its own when mirroring fails
			log.Printf("[SIGNAL] order %s: testnet mirror failed: %v", order.ID, err)
		} else {
			order = linked
		}
	}
	return ProcessResult{Decision: decision, Order: &order}, nil
}

// mirrorToTestnet places the matching exchange order plus its TP/SL legs
// and links the remote id onto the local record.
func (p *SignalProcessor) mirrorToTestnet(ctx context.Context, order Order, tpsl TPSL) (Order, error) {
	if lev := int(p.cfg.Strategy.Leverage); lev > 0 {
		if err := p.testnet.SetLeverage(ctx, order.Symbol, lev); err != nil {
			log.Printf("[SIGNAL] order %s: set leverage: %v", order.ID, err)
		}
	}
	remote, err := p.testnet.PlaceOrder(ctx, order.Symbol, order.Side, order.Quantity)
	if err != nil {
		return Order{}, err
	}
	if err := p.testnet.PlaceTPSL(ctx, order.Symbol, order.Side, tpsl.TakeProfit, tpsl.StopLoss); err != nil {
		log.Printf("[SIGNAL] order %s: attach TP/SL: %v", order.ID, err)
	}
	linked, err := p.store.UpdateStatus(ctx, order.ID, StatusOpen, &OrderPatch{
		Remote: &RemoteLink{OrderID: remote.OrderID, Status: remote.Status, UpdatedAt: remote.UpdateTime},
	})
	if err != nil {
		return Order{}, err
	}
	log.Printf("[SIGNAL] order %s linked to testnet order %s (%s)", order.ID, remote.OrderID, remote.Status)
	return linked, nil
}
