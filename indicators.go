// FILE: indicators.go
// Package main – directional-movement indicators for the signal pipeline.
//
// The entry rules run on ADX, +DI and -DI. Real values come from talib over
// exchange candles; the simulated generator exists for the dashboard and for
// exercising the pipeline without market data.

package main

import (
	"math/rand"
	"time"

	"github.com/markcheno/go-talib"
)

// Candle is one OHLCV bar, oldest-first in slices.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IndicatorSnapshot is the latest ADX/DI reading for a symbol.
type IndicatorSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	PlusDI    float64   `json:"plusDI"`
	MinusDI   float64   `json:"minusDI"`
	ADX       float64   `json:"adx"`
	Price     float64   `json:"price"`
	Simulated bool      `json:"simulated,omitempty"`
	Time      time.Time `json:"time"`
}

const adxPeriod = 14

// ComputeIndicators runs the 14-period directional movement suite over
// candles and returns the most recent values. Needs at least 2*period bars
// for ADX to stabilize.
func ComputeIndicators(symbol, timeframe string, candles []Candle) (IndicatorSnapshot, error) {
	if len(candles) < adxPeriod*2 {
		return IndicatorSnapshot{}, &ValidationError{
			Field:  "candles",
			Reason: "not enough candles for ADX computation",
		}
	}
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
	}
	plusDI := talib.PlusDI(high, low, closes, adxPeriod)
	minusDI := talib.MinusDI(high, low, closes, adxPeriod)
	adx := talib.Adx(high, low, closes, adxPeriod)
	last := len(candles) - 1
	return IndicatorSnapshot{
		Symbol:    symbol,
		Timeframe: timeframe,
		PlusDI:    round2(plusDI[last]),
		MinusDI:   round2(minusDI[last]),
		ADX:       round2(adx[last]),
		Price:     closes[last],
		Time:      candles[last].Time,
	}, nil
}

// SimulateIndicators produces a random but plausible snapshot: DI values in
// [10,40), ADX in [15,45). Useful for demos and pipeline tests.
func SimulateIndicators(symbol, timeframe string, price float64) IndicatorSnapshot {
	return IndicatorSnapshot{
		Symbol:    symbol,
		Timeframe: timeframe,
		PlusDI:    round2(10 + rand.Float64()*30),
		MinusDI:   round2(10 + rand.Float64()*30),
		ADX:       round2(15 + rand.Float64()*30),
		Price:     price,
		Simulated: true,
		Time:      time.Now().UTC(),
	}
}
