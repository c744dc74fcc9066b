// FILE: main.go
// Package main – program entrypoint.
//
// Boot sequence:
//   1) loadDotEnv()               – read .env (no shell exports required)
//   2) cfg := loadConfigFromEnv() – build runtime Config
//   3) pick the order store (Postgres when ORDERS_DB_DSN is set, else memory)
//   4) wire oracles, testnet client, simulator, sync service, signal pipeline
//   5) optionally auto-start the background loops
//   6) serve the API until SIGINT/SIGTERM, then drain
//
// Example:
//   AUTO_START_SIMULATION=true go run .

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	loadDotEnv()
	cfg := loadConfigFromEnv()

	// ---- Order store ----
	var store OrderStore
	if cfg.DatabaseDSN != "" {
		pg, err := NewPostgresOrderStore(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("postgres store: %v", err)
		}
		store = pg
		log.Printf("[BOOT] orders persisted to postgres")
	} else {
		store = NewMemoryOrderStore()
		log.Printf("[BOOT] orders kept in memory")
	}

	// ---- Price feed ----
	binance := NewBinanceOracle(cfg.Market.BinanceBase)
	coingecko := NewCoinGeckoOracle(cfg.Market.CoinGeckoBase)
	var oracle PriceOracle
	switch strings.ToLower(cfg.Market.Source) {
	case "coingecko":
		oracle = NewFallbackOracle(coingecko, binance)
	default:
		oracle = NewFallbackOracle(binance, coingecko)
	}

	// ---- Testnet ----
	var testnet *TestnetClient
	if cfg.Testnet.Enabled {
		testnet = NewTestnetClient(cfg.Testnet.APIKey, cfg.Testnet.APISecret, cfg.Testnet.BaseURL, cfg.Testnet.RecvWindowMs)
		if !testnet.Configured() {
			log.Printf("[BOOT] testnet enabled but credentials missing; mirroring disabled")
		}
	}

	// ---- Services ----
	sim := NewMarketSimulator(store, oracle, cfg.Simulator.Interval, cfg.Simulator.Volatility, cfg.Simulator.MaxMove)
	var exchange ExchangeClient
	if testnet != nil {
		exchange = testnet
	} else {
		exchange = noopExchange{}
	}
	syncSvc := NewTestnetSyncService(store, exchange, cfg.Sync.Interval)
	processor := NewSignalProcessor(store, oracle, testnet, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Simulator.AutoStart {
		sim.Start(ctx)
	}
	if cfg.Sync.AutoStart && testnet != nil && testnet.Configured() {
		syncSvc.Start(ctx)
	}

	// ---- HTTP ----
	server := NewServer(cfg, store, sim, syncSvc, processor, oracle, binance, testnet)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: server.Handler()}
	go func() {
		log.Printf("[BOOT] listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[BOOT] shutting down")
	sim.Stop()
	syncSvc.Stop()

	shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

// noopExchange backs the sync service when no testnet client is configured.
// Nothing is ever linked in that case, so its methods are unreachable in
// practice; they fail loudly if that assumption breaks.
type noopExchange struct{}

func (noopExchange) OrderStatus(context.Context, string, string) (*RemoteOrder, error) {
	return nil, &RemoteError{Op: "order status", Err: errors.New("testnet client not configured")}
}

func (noopExchange) PositionRisk(context.Context, string) ([]PositionInfo, error) {
	return nil, &RemoteError{Op: "position risk", Err: errors.New("testnet client not configured")}
}
