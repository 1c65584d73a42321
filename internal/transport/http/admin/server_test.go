package adminhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"aegis/internal/bus"
	"aegis/internal/deadletter"
	"aegis/internal/optimizer"
	"aegis/internal/store/memstore"
	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (c *capturePublisher) Publish(ctx context.Context, msg bus.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

type stubOptimizer struct {
	res optimizer.Result
	err error
}

func (s stubOptimizer) Run(context.Context) (optimizer.Result, error) { return s.res, s.err }

type env struct {
	srv   *Server
	store *memstore.Store
	pub   *capturePublisher
	dl    *deadletter.MemoryStore
}

func newEnv(t *testing.T, opt OptimizerRunner) *env {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Strategies().Publish(ctx, types.StrategyConfig{
		Version: 1, BuyThreshold: 0.5, SellThreshold: -0.5, RiskPerTrade: 0.01, MaxPortfolioRisk: 0.05,
		StopLossPctBuy: 0.01, StopLossPctSell: 0.01, TakeProfitPctBuy: 0.02, TakeProfitPctSell: 0.02,
	}))
	_, err := st.Portfolio().Init(ctx, types.PortfolioState{
		Version: 1, TotalValue: 10000, ReservedRisk: 300,
		Positions: []types.Position{{IntentID: "p1", Symbol: "BTCUSDT", Side: types.SideBuy, RiskAmount: 300}},
	})
	require.NoError(t, err)

	schemas := bus.NewSchemaRegistry()
	require.NoError(t, schemas.Register("order-book-signals", bus.SchemaMarketSignal))
	pub := &capturePublisher{}
	dl := deadletter.NewMemoryStore()
	srv, err := NewServer(ServerConfig{
		Store:       st,
		Optimizer:   opt,
		DeadLetters: dl,
		Publisher:   pub,
		Schemas:     schemas,
		SignalTopics: map[types.SignalSource]string{
			types.SourceOrderBook:     "order-book-signals",
			types.SourceCoinSelection: "coin-selection-signals",
		},
	})
	require.NoError(t, err)
	return &env{srv: srv, store: st, pub: pub, dl: dl}
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = e.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aegis_")
}

func TestPortfolioAndStrategy(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view portfolioView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.InDelta(t, 300, view.ReservedRisk, 1e-9)
	assert.InDelta(t, 500, view.MaxRisk, 1e-9)
	assert.InDelta(t, 200, view.AvailableBudget, 1e-9)
	assert.Len(t, view.Positions, 1)

	rec = e.do(http.MethodGet, "/api/strategy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg types.StrategyConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, int64(1), cfg.Version)

	rec = e.do(http.MethodGet, "/api/strategy/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Items []types.StrategyConfig `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Len(t, hist.Items, 1)
}

func TestOptimizerRun(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		rec := newEnv(t, nil).do(http.MethodPost, "/api/optimizer/run", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
	t.Run("published", func(t *testing.T) {
		res := optimizer.Result{Published: true, Regime: optimizer.RegimeTighten, Next: types.StrategyConfig{Version: 2}}
		rec := newEnv(t, stubOptimizer{res: res}).do(http.MethodPost, "/api/optimizer/run", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, true, body["published"])
		assert.Equal(t, "tighten", body["regime"])
		assert.EqualValues(t, 2, body["version"])
	})
	t.Run("error", func(t *testing.T) {
		rec := newEnv(t, stubOptimizer{err: errors.New("boom")}).do(http.MethodPost, "/api/optimizer/run", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestDeadLetters(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.dl.Put(context.Background(), deadletter.Letter{MessageID: "m1", Topic: "trade-commands", Stage: deadletter.StageConsume, Error: "x", Payload: json.RawMessage(`{}`)}))
	require.NoError(t, e.dl.Put(context.Background(), deadletter.Letter{MessageID: "m2", Topic: "risk-alerts", Stage: deadletter.StagePublish, Error: "y", Payload: json.RawMessage(`{}`)}))

	rec := e.do(http.MethodGet, "/api/deadletters?topic=risk-alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []deadletter.Letter `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "m2", body.Items[0].MessageID)
}

func TestPostSignal(t *testing.T) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	tests := []struct {
		name   string
		body   string
		status int
		topic  string
	}{
		{"order book", `{"symbol":"btc/usdt","source":"order-book","score":0.4,"confidence":0.9,"timestamp":"` + ts + `"}`, http.StatusAccepted, "order-book-signals"},
		{"coin selection", `{"symbol":"ETHUSDT","source":"coin-selection","score":-0.2,"confidence":0.5,"timestamp":"` + ts + `","price":3000}`, http.StatusAccepted, "coin-selection-signals"},
		{"unknown source", `{"symbol":"BTCUSDT","source":"twitter","score":0.4,"confidence":0.9,"timestamp":"` + ts + `"}`, http.StatusBadRequest, ""},
		{"schema violation", `{"symbol":"BTCUSDT","source":"order-book","score":4,"confidence":0.9,"timestamp":"` + ts + `"}`, http.StatusBadRequest, ""},
		{"not json", `{oops`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			rec := e.do(http.MethodPost, "/api/signals", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.topic == "" {
				assert.Empty(t, e.pub.msgs)
				return
			}
			require.Len(t, e.pub.msgs, 1)
			assert.Equal(t, tt.topic, e.pub.msgs[0].Topic)
			assert.Equal(t, strings.ToUpper(strings.ReplaceAll(symbolOf(tt.body), "/", "")), e.pub.msgs[0].Key)
		})
	}
}

func symbolOf(body string) string {
	var v struct {
		Symbol string `json:"symbol"`
	}
	_ = json.Unmarshal([]byte(body), &v)
	return v.Symbol
}
