// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Primary metrics the bot updates during operation:
//   • bot_signals_accepted_total{side}      – signals that opened an order
//   • bot_signals_rejected_total            – signals rejected by the entry rules
//   • bot_orders_created_total{side}        – orders created (any path)
//   • bot_orders_closed_total{status,reason} – terminal transitions by cause
//   • bot_orders_evaluated_total            – per-order mark-to-market passes
//   • bot_simulator_ticks_total             – simulation loop iterations
//   • bot_sync_sweeps_total                 – testnet reconciliation sweeps
//   • bot_sync_transitions_total{status}    – remote-driven status changes
//   • bot_market_price{symbol}              – last simulated price (gauge)
//
// Registered in init() and served at /metrics (Prometheus text format).

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	signalsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_accepted_total",
			Help: "Signals that passed validation and opened an order",
		},
		[]string{"side"}, // BUY|SELL
	)

	signalsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_signals_rejected_total",
			Help: "Signals rejected by the entry rules",
		},
	)

	ordersCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_created_total",
			Help: "Orders created",
		},
		[]string{"side"},
	)

	ordersClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_closed_total",
			Help: "Terminal order transitions split by status and reason",
		},
		[]string{"status", "reason"},
	)

	ordersEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_orders_evaluated_total",
			Help: "Per-order mark-to-market evaluations",
		},
	)

	simulatorTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_simulator_ticks_total",
			Help: "Market simulation loop iterations",
		},
	)

	syncSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_sync_sweeps_total",
			Help: "Testnet reconciliation sweeps",
		},
	)

	syncTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_sync_transitions_total",
			Help: "Status changes driven by testnet reconciliation",
		},
		[]string{"status"},
	)

	marketPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_market_price",
			Help: "Last price the simulator evaluated a symbol at",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(signalsAccepted, signalsRejected)
	prometheus.MustRegister(ordersCreated, ordersClosed, ordersEvaluated)
	prometheus.MustRegister(simulatorTicks, syncSweeps, syncTransitions)
	prometheus.MustRegister(marketPrice)
}
