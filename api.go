// FILE: api.go
// Package main – HTTP surface. Gin router exposing the webhook intake, the
// order CRUD + lifecycle endpoints, control of the two background loops,
// market data lookups and the Prometheus exposition endpoint.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var validTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "12h": true,
	"1d": true, "1w": true,
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("timeframe", func(fl validator.FieldLevel) bool {
			return validTimeframes[fl.Field().String()]
		})
	}
}

// Server bundles the router with everything the handlers reach.
type Server struct {
	cfg       *Config
	store     OrderStore
	sim       *MarketSimulator
	sync      *TestnetSyncService
	processor *SignalProcessor
	oracle    PriceOracle
	binance   *BinanceOracle
	testnet   *TestnetClient
	engine    *gin.Engine
}

// NewServer builds the router. gin runs in release mode; request logging
// stays on the standard logger like everything else.
func NewServer(cfg *Config, store OrderStore, sim *MarketSimulator, syncSvc *TestnetSyncService,
	processor *SignalProcessor, oracle PriceOracle, binance *BinanceOracle, testnet *TestnetClient) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		store:     store,
		sim:       sim,
		sync:      syncSvc,
		processor: processor,
		oracle:    oracle,
		binance:   binance,
		testnet:   testnet,
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler exposes the router for the HTTP server and for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.POST("/webhook", s.requireWebhookToken, s.handleWebhook)

		api.GET("/orders", s.handleListOrders)
		api.POST("/orders", s.handleCreateOrder)
		api.GET("/orders/:id", s.handleGetOrder)
		api.DELETE("/orders/:id", s.handleDeleteOrder)
		api.PUT("/orders/:id/status", s.handleUpdateStatus)
		api.GET("/orders/:id/profit", s.handleOrderProfit)
		api.POST("/orders/:id/link-testnet", s.handleLinkTestnet)
		api.POST("/orders/:id/sync", s.handleSyncOrder)

		api.POST("/simulation/start", s.handleSimStart)
		api.POST("/simulation/stop", s.handleSimStop)
		api.GET("/simulation/status", s.handleSimStatus)
		api.POST("/simulation/force-update", s.handleSimForceUpdate)

		api.POST("/testnet-sync/start", s.handleSyncStart)
		api.POST("/testnet-sync/stop", s.handleSyncStop)
		api.GET("/testnet-sync/status", s.handleSyncStatus)
		api.POST("/testnet-sync/run", s.handleSyncRun)

		api.GET("/testnet/balance", s.handleTestnetBalance)
		api.GET("/testnet/test-connection", s.handleTestnetPing)

		api.GET("/market/price", s.handleMarketPrice)
		api.GET("/market/indicators", s.handleMarketIndicators)

		api.GET("/config", s.handleConfig)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var ve *ValidationError
	var te *TerminalStateError
	var re *RemoteError
	switch {
	case errors.Is(err, ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.As(err, &te):
		c.JSON(http.StatusConflict, gin.H{"error": te.Error()})
	case errors.As(err, &re):
		status := http.StatusBadGateway
		if re.Transient {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": re.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"simulation":  s.sim.Running(),
		"testnetSync": s.sync.Running(),
	})
}

// ---------------------------------------------------------------------------
// Webhook

// webhookPayload is the TradingView alert body. Indicator fields are
// pointers so a missing field is distinguishable from zero; an incomplete
// snapshot is answered with a rejection decision, not a binding error.
type webhookPayload struct {
	Symbol    string   `json:"symbol" binding:"required"`
	Timeframe string   `json:"timeframe" binding:"required,timeframe"`
	PlusDI    *float64 `json:"plusDI"`
	MinusDI   *float64 `json:"minusDI"`
	ADX       *float64 `json:"adx"`
	Price     float64  `json:"price"`
}

// requireWebhookToken authenticates the webhook with a shared token passed
// in the X-Webhook-Token header or a ?token query parameter. With no token
// configured the endpoint is open, which is only sensible in development.
func (s *Server) requireWebhookToken(c *gin.Context) {
	if s.cfg.WebhookToken == "" {
		c.Next()
		return
	}
	token := c.GetHeader("X-Webhook-Token")
	if token == "" {
		token = c.Query("token")
	}
	if token != s.cfg.WebhookToken {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}
	c.Next()
}

func (s *Server) handleWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	res, err := s.processor.Process(c.Request.Context(), TradingSignal{
		Symbol:    payload.Symbol,
		Timeframe: payload.Timeframe,
		PlusDI:    payload.PlusDI,
		MinusDI:   payload.MinusDI,
		ADX:       payload.ADX,
		Price:     payload.Price,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Order != nil {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// ---------------------------------------------------------------------------
// Orders

func (s *Server) handleListOrders(c *gin.Context) {
	var (
		orders []Order
		err    error
	)
	switch strings.ToUpper(c.Query("status")) {
	case "":
		orders, err = s.store.List(c.Request.Context())
	case string(StatusOpen):
		orders, err = s.store.ListOpen(c.Request.Context())
	default:
		all, lerr := s.store.List(c.Request.Context())
		err = lerr
		want := OrderStatus(strings.ToUpper(c.Query("status")))
		for _, o := range all {
			if o.Status == want {
				orders = append(orders, o)
			}
		}
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var in CreateOrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	order, err := s.store.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	ordersCreated.WithLabelValues(string(order.Side)).Inc()
	log.Printf("[API] order %s created (%s %s @ %.2f)", order.ID, order.Side, order.Symbol, order.EntryPrice)
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleDeleteOrder(c *gin.Context) {
	if err := s.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

type updateStatusRequest struct {
	Status        string   `json:"status" binding:"required"`
	Profit        *float64 `json:"profit"`
	ProfitPercent *float64 `json:"profitPercent"`
	CloseReason   string   `json:"closeReason"`
	ClosePrice    *float64 `json:"closePrice"`
}

// handleUpdateStatus applies a manual transition. The store keeps terminal
// states sticky; when a client asks a terminal order to move somewhere else
// the request is answered with 409 so the caller knows nothing changed.
func (s *Server) handleUpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	id := c.Param("id")
	requested := OrderStatus(strings.ToUpper(req.Status))

	before, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if before.Status.Terminal() && requested != before.Status {
		writeError(c, &TerminalStateError{ID: id, Status: before.Status, Requested: requested})
		return
	}

	patch := &OrderPatch{
		Profit:        req.Profit,
		ProfitPercent: req.ProfitPercent,
		CloseReason:   req.CloseReason,
		ClosePrice:    req.ClosePrice,
	}
	if requested == StatusClosed && patch.CloseReason == "" {
		patch.CloseReason = ReasonManualClose
	}
	order, err := s.store.UpdateStatus(c.Request.Context(), id, requested, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	if order.Status.Terminal() && !before.Status.Terminal() {
		ordersClosed.WithLabelValues(string(order.Status), order.CloseReason).Inc()
	}
	c.JSON(http.StatusOK, order)
}

// handleOrderProfit values an order at ?price=, or at the simulator's
// current price when no override is given.
func (s *Server) handleOrderProfit(c *gin.Context) {
	order, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	price := 0.0
	if raw := c.Query("price"); raw != "" {
		price, err = strconv.ParseFloat(raw, 64)
		if err != nil || price <= 0 {
			writeError(c, &ValidationError{Field: "price", Reason: "price must be a positive number"})
			return
		}
	} else {
		q, err := s.sim.CurrentPrice(c.Request.Context(), order.Symbol)
		if err != nil {
			writeError(c, fmt.Errorf("no price available for %s: %w", order.Symbol, err))
			return
		}
		price = q.Price
	}
	c.JSON(http.StatusOK, ComputeProfit(&order, price))
}

type linkTestnetRequest struct {
	RemoteOrderID string `json:"remoteOrderId" binding:"required"`
	RemoteStatus  string `json:"remoteStatus"`
}

// handleLinkTestnet attaches an existing testnet order id to a local order.
// The id is write-once; linking an already-linked order keeps the original.
func (s *Server) handleLinkTestnet(c *gin.Context) {
	var req linkTestnetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	id := c.Param("id")
	before, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if before.Linked() && before.Remote.OrderID != req.RemoteOrderID {
		writeError(c, &ValidationError{Field: "remoteOrderId",
			Reason: "order is already linked to testnet order " + before.Remote.OrderID})
		return
	}
	order, err := s.store.UpdateStatus(c.Request.Context(), id, before.Status, &OrderPatch{
		Remote: &RemoteLink{OrderID: req.RemoteOrderID, Status: req.RemoteStatus},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) handleSyncOrder(c *gin.Context) {
	order, err := s.sync.SyncOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ---------------------------------------------------------------------------
// Background loop control

func (s *Server) handleSimStart(c *gin.Context) {
	if !s.sim.Start(context.Background()) {
		c.JSON(http.StatusConflict, gin.H{"error": ErrAlreadyRunning.Error(), "running": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) handleSimStop(c *gin.Context) {
	stopped := s.sim.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false, "stopped": stopped})
}

func (s *Server) handleSimStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":    s.sim.Running(),
		"interval":   s.cfg.Simulator.Interval.String(),
		"volatility": s.cfg.Simulator.Volatility,
		"maxMove":    s.cfg.Simulator.MaxMove,
	})
}

func (s *Server) handleSimForceUpdate(c *gin.Context) {
	n, err := s.sim.ForceUpdate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluated": n})
}

func (s *Server) handleSyncStart(c *gin.Context) {
	if !s.sync.Start(context.Background()) {
		c.JSON(http.StatusConflict, gin.H{"error": ErrAlreadyRunning.Error(), "running": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) handleSyncStop(c *gin.Context) {
	stopped := s.sync.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false, "stopped": stopped})
}

func (s *Server) handleSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":  s.sync.Running(),
		"interval": s.cfg.Sync.Interval.String(),
	})
}

func (s *Server) handleSyncRun(c *gin.Context) {
	c.JSON(http.StatusOK, s.sync.SyncAll(c.Request.Context()))
}

// ---------------------------------------------------------------------------
// Testnet account

func (s *Server) handleTestnetBalance(c *gin.Context) {
	if s.testnet == nil || !s.testnet.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "testnet is not configured"})
		return
	}
	balances, err := s.testnet.AccountBalance(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (s *Server) handleTestnetPing(c *gin.Context) {
	if s.testnet == nil || !s.testnet.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "testnet is not configured"})
		return
	}
	if err := s.testnet.Ping(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

// ---------------------------------------------------------------------------
// Market data

func (s *Server) handleMarketPrice(c *gin.Context) {
	symbol := strings.ToUpper(c.DefaultQuery("symbol", s.cfg.Strategy.Symbol))
	q, err := s.oracle.Price(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) handleMarketIndicators(c *gin.Context) {
	symbol := strings.ToUpper(c.DefaultQuery("symbol", s.cfg.Strategy.Symbol))
	timeframe := c.DefaultQuery("timeframe", s.cfg.Strategy.Timeframe)

	if c.Query("simulate") == "true" || s.binance == nil {
		price := 0.0
		if q, err := s.oracle.Price(c.Request.Context(), symbol); err == nil {
			price = q.Price
		}
		c.JSON(http.StatusOK, SimulateIndicators(symbol, timeframe, price))
		return
	}

	candles, err := s.binance.Klines(c.Request.Context(), symbol, timeframe, adxPeriod*4)
	if err != nil {
		writeError(c, err)
		return
	}
	snap, err := ComputeIndicators(symbol, timeframe, candles)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"strategy":  s.cfg.Strategy,
		"simulator": s.cfg.Simulator,
		"sync":      s.cfg.Sync,
		"market":    s.cfg.Market,
		"testnet": gin.H{
			"enabled":    s.cfg.Testnet.Enabled,
			"configured": s.testnet != nil && s.testnet.Configured(),
		},
	})
}
