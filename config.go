// FILE: config.go
// Package main – runtime configuration model and loader.
//
// All knobs come from environment variables with defaults that match the
// BTCUSDT/5m strategy the bot ships with. A .env file in the working
// directory (or at DOTENV_PATH) is loaded first, without overriding
// variables already present in the process environment.
//
// Typical flow (see main.go):
//   loadDotEnv()
//   cfg := loadConfigFromEnv()

package main

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// StrategyConfig holds the signal thresholds and order sizing knobs.
type StrategyConfig struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`

	PlusDIThreshold  float64 `json:"plusDIThreshold"`
	MinusDIThreshold float64 `json:"minusDIThreshold"`
	ADXMinimum       float64 `json:"adxMinimum"`

	TakeProfitPercent float64 `json:"takeProfitPercent"`
	StopLossPercent   float64 `json:"stopLossPercent"`
	Leverage          float64 `json:"leverage"`
	Quantity          float64 `json:"quantity"`
}

// SimulatorConfig controls the market simulation loop.
type SimulatorConfig struct {
	Interval   time.Duration `json:"interval"`
	Volatility float64       `json:"volatility"`
	MaxMove    float64       `json:"maxMove"`
	AutoStart  bool          `json:"autoStart"`
}

// SyncConfig controls the testnet reconciliation loop.
type SyncConfig struct {
	Interval  time.Duration `json:"interval"`
	AutoStart bool          `json:"autoStart"`
}

// TestnetConfig holds exchange testnet credentials and addressing.
type TestnetConfig struct {
	Enabled      bool   `json:"enabled"`
	APIKey       string `json:"-"`
	APISecret    string `json:"-"`
	BaseURL      string `json:"baseURL"`
	RecvWindowMs int64  `json:"recvWindowMs"`
}

// MarketConfig selects the price feed.
type MarketConfig struct {
	Source        string `json:"source"` // "binance" or "coingecko"
	BinanceBase   string `json:"binanceBase"`
	CoinGeckoBase string `json:"coinGeckoBase"`
}

// Config is the full runtime configuration.
type Config struct {
	Port         int    `json:"port"`
	WebhookToken string `json:"-"`
	DatabaseDSN  string `json:"-"`

	Strategy  StrategyConfig  `json:"strategy"`
	Simulator SimulatorConfig `json:"simulator"`
	Sync      SyncConfig      `json:"sync"`
	Testnet   TestnetConfig   `json:"testnet"`
	Market    MarketConfig    `json:"market"`
}

// loadDotEnv loads a .env file if one exists. Process env always wins.
func loadDotEnv() {
	path := getEnv("DOTENV_PATH", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Printf("[CONFIG] %s: %v", path, err)
		return
	}
	log.Printf("[CONFIG] loaded %s", path)
}

// loadConfigFromEnv populates Config from the environment.
func loadConfigFromEnv() *Config {
	return &Config{
		Port:         getEnvInt("PORT", 3000),
		WebhookToken: getEnv("WEBHOOK_TOKEN", ""),
		DatabaseDSN:  getEnv("ORDERS_DB_DSN", ""),
		Strategy: StrategyConfig{
			Symbol:            getEnv("SYMBOL", "BTCUSDT"),
			Timeframe:         getEnv("TIMEFRAME", "5m"),
			PlusDIThreshold:   getEnvFloat("PLUS_DI_THRESHOLD", 25),
			MinusDIThreshold:  getEnvFloat("MINUS_DI_THRESHOLD", 20),
			ADXMinimum:        getEnvFloat("ADX_MINIMUM", 20),
			TakeProfitPercent: getEnvFloat("TAKE_PROFIT_PERCENT", 2),
			StopLossPercent:   getEnvFloat("STOP_LOSS_PERCENT", 1),
			Leverage:          getEnvFloat("LEVERAGE", 10),
			Quantity:          getEnvFloat("ORDER_QUANTITY", 0.001),
		},
		Simulator: SimulatorConfig{
			Interval:   time.Duration(getEnvInt("SIMULATION_INTERVAL_SEC", 60)) * time.Second,
			Volatility: getEnvFloat("SIMULATION_VOLATILITY", 0.002),
			MaxMove:    getEnvFloat("SIMULATION_MAX_PRICE_MOVE", 0.005),
			AutoStart:  getEnvBool("AUTO_START_SIMULATION", false),
		},
		Sync: SyncConfig{
			Interval:  time.Duration(getEnvInt("TESTNET_SYNC_INTERVAL_SEC", 30)) * time.Second,
			AutoStart: getEnvBool("AUTO_START_TESTNET_SYNC", false),
		},
		Testnet: TestnetConfig{
			Enabled:      getEnvBool("TESTNET_ENABLED", false),
			APIKey:       getEnv("TESTNET_API_KEY", ""),
			APISecret:    getEnv("TESTNET_API_SECRET", ""),
			BaseURL:      getEnv("TESTNET_BASE_URL", "https://testnet.binancefuture.com"),
			RecvWindowMs: int64(getEnvInt("TESTNET_RECV_WINDOW_MS", 60000)),
		},
		Market: MarketConfig{
			Source:        getEnv("MARKET_DATA_SOURCE", "binance"),
			BinanceBase:   getEnv("BINANCE_API_BASE", "https://api.binance.com"),
			CoinGeckoBase: getEnv("COINGECKO_API_BASE", "https://api.coingecko.com"),
		},
	}
}
