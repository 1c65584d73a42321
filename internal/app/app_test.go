package app

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"aegis/internal/bus"
	"aegis/internal/config"
	"aegis/internal/store/memstore"
	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(roles ...string) *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Bus.Driver = "memory"
	cfg.Bus.Retry.MinMs = 1
	cfg.Bus.Retry.MaxMs = 5
	cfg.App.Roles = roles
	cfg.App.HTTPAddr = "127.0.0.1:0"
	cfg.Optimizer.Enabled = false
	cfg.Risk.PriceSources = []string{"signals", "static"}
	cfg.Risk.StaticPrices = map[string]float64{"BTCUSDT": 100}
	return cfg
}

func TestBuildSeedsStrategyAndPortfolio(t *testing.T) {
	ctx := context.Background()
	a, err := NewAppBuilder(memoryConfig(config.AllRoles...), "").Build(ctx)
	require.NoError(t, err)
	defer a.Close()

	latest, err := a.Store().Strategies().Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version)
	assert.InDelta(t, 0.5, latest.BuyThreshold, 1e-9)

	state, err := a.Store().Portfolio().Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, state.TotalValue, 1e-9)
	assert.Zero(t, state.ReservedRisk)

	assert.NotNil(t, a.aggregator)
	assert.NotNil(t, a.risk)
	assert.NotNil(t, a.optimizer)
	assert.Nil(t, a.schedule)
	assert.NotNil(t, a.adminHTTP)

	require.NotNil(t, a.Summary)
	assert.Equal(t, int64(1), a.Summary.Strategy.Version)
	var buf bytes.Buffer
	_, err = a.Summary.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "final-trade-execution")
	assert.Contains(t, buf.String(), "v1")
}

func TestBuildKeepsExistingStrategy(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(config.RoleRisk)
	st := memstore.New()
	seed := cfg.StrategySeed()
	require.NoError(t, st.Strategies().Publish(ctx, seed))
	next := seed
	next.Version = 2
	next.BuyThreshold = 0.6
	require.NoError(t, st.Strategies().Publish(ctx, next))

	a, err := NewAppBuilder(cfg, "", WithStore(st)).Build(ctx)
	require.NoError(t, err)
	defer a.Close()

	latest, err := a.Store().Strategies().Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.InDelta(t, 0.6, latest.BuyThreshold, 1e-9)
	assert.Nil(t, a.aggregator)
	assert.Nil(t, a.optimizer)
}

func TestBuildRejectsUnknownDrivers(t *testing.T) {
	t.Run("bus", func(t *testing.T) {
		cfg := memoryConfig(config.RoleRisk)
		cfg.Bus.Driver = "kafka"
		_, err := NewAppBuilder(cfg, "").Build(context.Background())
		require.Error(t, err)
	})
	t.Run("sql bus needs a database", func(t *testing.T) {
		cfg := memoryConfig(config.RoleRisk)
		cfg.Bus.Driver = "sql"
		_, err := NewAppBuilder(cfg, "").Build(context.Background())
		require.Error(t, err)
	})
	t.Run("price source", func(t *testing.T) {
		cfg := memoryConfig(config.RoleRisk)
		cfg.Risk.PriceSources = []string{"oracle"}
		_, err := NewAppBuilder(cfg, "").Build(context.Background())
		require.Error(t, err)
	})
}

func TestRunOptimizerOnceWithoutRole(t *testing.T) {
	a, err := NewAppBuilder(memoryConfig(config.RoleRisk), "").Build(context.Background())
	require.NoError(t, err)
	_, err = a.RunOptimizerOnce(context.Background())
	require.Error(t, err)
}

func TestRunOptimizerOnceInsufficientData(t *testing.T) {
	a, err := NewAppBuilder(memoryConfig(config.RoleOptimizer), "").Build(context.Background())
	require.NoError(t, err)
	res, err := a.RunOptimizerOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Insufficient)
	assert.False(t, res.Published)
}

func TestSignalsFlowToApprovedTrade(t *testing.T) {
	cfg := memoryConfig(config.RoleAggregator, config.RoleRisk, config.RoleJournal)
	a, err := NewAppBuilder(cfg, "").Build(context.Background())
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		approved []types.ApprovedTrade
	)
	require.NoError(t, a.bus.Subscribe(cfg.Topics.FinalTradeExecution, "test", func(_ context.Context, msg bus.Message) error {
		var trade types.ApprovedTrade
		if err := bus.Decode(msg, &trade); err != nil {
			return bus.Permanent(err)
		}
		mu.Lock()
		approved = append(approved, trade)
		mu.Unlock()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	now := time.Now().UTC()
	for _, sig := range []types.MarketSignal{
		{Symbol: "BTC/USDT", Source: types.SourceOrderBook, Score: 0.9, Confidence: 0.9, Timestamp: now, Price: 100},
		{Symbol: "BTCUSDT", Source: types.SourceCoinSelection, Score: 0.8, Confidence: 0.9, Timestamp: now},
	} {
		topic := cfg.Topics.OrderBookSignals
		if sig.Source == types.SourceCoinSelection {
			topic = cfg.Topics.CoinSelectionSignals
		}
		require.Eventually(t, func() bool {
			return bus.PublishJSON(ctx, a.Publisher(), topic, sig.Symbol, sig) == nil
		}, time.Second, 10*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(approved) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	first := approved[0]
	mu.Unlock()
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, types.SideBuy, first.Side)
	assert.InDelta(t, 100.0, first.RiskAmount, 1e-9)
	assert.InDelta(t, 99.0, first.StopLossPrice, 1e-9)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	state, err := a.Store().Portfolio().Load(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, state.ReservedRisk, 100.0)
}

func TestNewApp(t *testing.T) {
	_, err := NewApp(context.Background(), nil, "")
	require.Error(t, err)

	a, err := NewApp(context.Background(), memoryConfig(config.RoleJournal), "")
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.watcher)
	assert.NotNil(t, a.Publisher())
}
