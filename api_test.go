package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, webhookToken string, prices map[string]float64) (*Server, OrderStore) {
	t.Helper()
	cfg := loadConfigFromEnv()
	cfg.WebhookToken = webhookToken
	cfg.Strategy = testStrategyConfig()

	store := NewMemoryOrderStore()
	oracle := &mapOracle{prices: prices}
	sim := NewMarketSimulator(store, oracle, time.Minute, 0.002, 0.005)
	syncSvc := NewTestnetSyncService(store, &fakeExchange{orders: map[string]*RemoteOrder{}}, time.Minute)
	processor := NewSignalProcessor(store, oracle, nil, cfg)
	return NewServer(cfg, store, sim, syncSvc, processor, oracle, nil, nil), store
}

func doJSON(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	w := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestWebhookTokenRequired(t *testing.T) {
	s, _ := newTestServer(t, "s3cret", map[string]float64{"BTCUSDT": 50000})
	body := `{"symbol":"BTCUSDT","timeframe":"5m","plusDI":30,"minusDI":15,"adx":25}`

	w := doJSON(t, s, http.MethodPost, "/api/webhook", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/webhook", body, map[string]string{"X-Webhook-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/webhook", body, map[string]string{"X-Webhook-Token": "s3cret"})
	assert.Equal(t, http.StatusCreated, w.Code)

	// token is also accepted as a query parameter
	w = doJSON(t, s, http.MethodPost, "/api/webhook?token=s3cret", body, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWebhookMissingFields(t *testing.T) {
	s, store := newTestServer(t, "", map[string]float64{"BTCUSDT": 50000})
	w := doJSON(t, s, http.MethodPost, "/api/webhook", `{"timeframe":"5m","plusDI":30,"minusDI":15,"adx":25}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

// Leaving out an indicator is not a malformed request: the signal is
// rejected with a decision saying which value was missing.
func TestWebhookMissingIndicatorRejectsSignal(t *testing.T) {
	s, store := newTestServer(t, "", map[string]float64{"BTCUSDT": 50000})
	w := doJSON(t, s, http.MethodPost, "/api/webhook", `{"symbol":"BTCUSDT","timeframe":"5m","plusDI":30}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res ProcessResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Decision.Valid)
	assert.Equal(t, "Missing required signal data: minusDI", res.Decision.Reason)
	assert.Nil(t, res.Order)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTestnetEndpointsUnavailableWithoutCredentials(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	for _, path := range []string{"/api/testnet/balance", "/api/testnet/test-connection"} {
		w := doJSON(t, s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestTestnetAccountEndpoints(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v2/balance":
			_, _ = w.Write([]byte(`[{"asset":"USDT","balance":"15000","availableBalance":"14800.5"}]`))
		case "/fapi/v1/ping":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()

	s, _ := newTestServer(t, "", nil)
	s.testnet = NewTestnetClient("k", "s", backend.URL, 0)

	w := doJSON(t, s, http.MethodGet, "/api/testnet/balance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"asset":"USDT"`)
	assert.Contains(t, w.Body.String(), `"balance":15000`)

	w = doJSON(t, s, http.MethodGet, "/api/testnet/test-connection", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connected":true`)
}

func TestWebhookRejectsUnknownTimeframe(t *testing.T) {
	s, _ := newTestServer(t, "", map[string]float64{"BTCUSDT": 50000})
	w := doJSON(t, s, http.MethodPost, "/api/webhook",
		`{"symbol":"BTCUSDT","timeframe":"7m","plusDI":30,"minusDI":15,"adx":25}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookAcceptedOpensOrder(t *testing.T) {
	s, store := newTestServer(t, "", map[string]float64{"BTCUSDT": 50000})
	w := doJSON(t, s, http.MethodPost, "/api/webhook",
		`{"symbol":"BTCUSDT","timeframe":"5m","plusDI":30,"minusDI":15,"adx":25}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var res ProcessResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Decision.Valid)
	require.NotNil(t, res.Order)
	assert.Equal(t, SideBuy, res.Order.Side)
	assert.Equal(t, 51000.0, res.Order.TakeProfitPrice)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWebhookRejectedSignal(t *testing.T) {
	s, store := newTestServer(t, "", map[string]float64{"BTCUSDT": 50000})
	w := doJSON(t, s, http.MethodPost, "/api/webhook",
		`{"symbol":"BTCUSDT","timeframe":"5m","plusDI":10,"minusDI":10,"adx":30}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res ProcessResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Decision.Valid)
	assert.Nil(t, res.Order)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOrdersCRUD(t *testing.T) {
	s, _ := newTestServer(t, "", nil)

	w := doJSON(t, s, http.MethodPost, "/api/orders",
		`{"symbol":"btcusdt","action":"buy","price_entry":50000,"tp_price":51000,"sl_price":49500,"quantity":0.01}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "BTCUSDT", created.Symbol)
	assert.Equal(t, StatusOpen, created.Status)

	w = doJSON(t, s, http.MethodGet, "/api/orders/"+created.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doJSON(t, s, http.MethodGet, "/api/orders/does-not-exist", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/orders/"+created.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, s, http.MethodGet, "/api/orders/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrdersFilterByStatus(t *testing.T) {
	s, store := newTestServer(t, "", nil)
	open := newTestOrder(t, store, SideBuy)
	closed := newTestOrder(t, store, SideSell)
	_, err := store.UpdateStatus(context.Background(), closed.ID, StatusClosed, nil)
	require.NoError(t, err)

	w := doJSON(t, s, http.MethodGet, "/api/orders?status=OPEN", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), open.ID)
	assert.NotContains(t, w.Body.String(), closed.ID)

	w = doJSON(t, s, http.MethodGet, "/api/orders?status=closed", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), closed.ID)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	s, store := newTestServer(t, "", nil)
	o := newTestOrder(t, store, SideBuy)

	w := doJSON(t, s, http.MethodPut, "/api/orders/"+o.ID+"/status", `{"status":"CLOSED"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var updated Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, StatusClosed, updated.Status)
	assert.Equal(t, ReasonManualClose, updated.CloseReason)

	// conflicting transition out of a terminal state is refused
	w = doJSON(t, s, http.MethodPut, "/api/orders/"+o.ID+"/status", `{"status":"OPEN"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// re-asserting the same terminal state is a harmless no-op
	w = doJSON(t, s, http.MethodPut, "/api/orders/"+o.ID+"/status", `{"status":"CLOSED"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOrderProfitEndpoint(t *testing.T) {
	s, store := newTestServer(t, "", nil)
	o := newTestOrder(t, store, SideBuy) // entry 50000, qty 0.01, lev 10

	w := doJSON(t, s, http.MethodGet, "/api/orders/"+o.ID+"/profit?price=50500", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res ProfitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 50.0, res.Profit) // 500 * 0.01 * 10
	assert.Equal(t, 10.0, res.ProfitPercent)

	w = doJSON(t, s, http.MethodGet, "/api/orders/"+o.ID+"/profit?price=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLinkTestnetWriteOnce(t *testing.T) {
	s, store := newTestServer(t, "", nil)
	o := newTestOrder(t, store, SideBuy)

	w := doJSON(t, s, http.MethodPost, "/api/orders/"+o.ID+"/link-testnet",
		`{"remoteOrderId":"555","remoteStatus":"NEW"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/orders/"+o.ID+"/link-testnet",
		`{"remoteOrderId":"666"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	after, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, after.Remote)
	assert.Equal(t, "555", after.Remote.OrderID)
}

func TestSimulationControlEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "", map[string]float64{"BTCUSDT": 50000})

	w := doJSON(t, s, http.MethodGet, "/api/simulation/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":false`)

	w = doJSON(t, s, http.MethodPost, "/api/simulation/start", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, s, http.MethodPost, "/api/simulation/start", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/simulation/stop", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestForceUpdateEndpoint(t *testing.T) {
	s, store := newTestServer(t, "", map[string]float64{"BTCUSDT": 50000})
	newTestOrder(t, store, SideBuy)

	w := doJSON(t, s, http.MethodPost, "/api/simulation/force-update", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"evaluated":1`)
}

func TestSyncRunEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	w := doJSON(t, s, http.MethodPost, "/api/testnet-sync/run", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"checked":0`)
}

func TestConfigEndpointHidesSecrets(t *testing.T) {
	s, _ := newTestServer(t, "topsecret", nil)
	w := doJSON(t, s, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"strategy"`)
	assert.NotContains(t, w.Body.String(), "topsecret")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	w := doJSON(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bot_simulator_ticks_total")
}
