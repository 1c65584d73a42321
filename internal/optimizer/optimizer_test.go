package optimizer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"aegis/internal/bus"
	"aegis/internal/store"
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

func setup(t *testing.T, pnls ...float64) (*memstore.Store, *capturePublisher, *Optimizer) {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Strategies().Publish(ctx, baseConfig()))
	_, err := st.Portfolio().Init(ctx, types.PortfolioState{Version: 1, TotalValue: 10000})
	require.NoError(t, err)
	for i, pnl := range pnls {
		rep := closedReport(string(rune('a'+i)), pnl, 100, t0.Add(-time.Duration(len(pnls)-i)*time.Hour))
		require.NoError(t, st.Reports().Upsert(ctx, rep))
	}
	pub := &capturePublisher{}
	opt := New(st, testPolicy(), pub, "optimization-alerts", Options{Lookback: 7 * 24 * time.Hour, MinSamples: 5, EMAPeriod: 3})
	opt.nowFn = func() time.Time { return t0 }
	return st, pub, opt
}

func TestRunInsufficientData(t *testing.T) {
	st, pub, opt := setup(t, -50, -50, -50)
	res, err := opt.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Insufficient)
	assert.False(t, res.Published)
	assert.Empty(t, pub.msgs)
	latest, err := st.Strategies().Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version)
}

func TestRunIgnoresTradesOutsideLookback(t *testing.T) {
	st, pub, opt := setup(t, -50, -50, -50, -50)
	old := closedReport("old", -50, 100, t0.Add(-8*24*time.Hour))
	require.NoError(t, st.Reports().Upsert(context.Background(), old))
	res, err := opt.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Insufficient)
	assert.Empty(t, pub.msgs)
}

func TestRunPublishesTightenedConfig(t *testing.T) {
	ctx := context.Background()
	st, pub, opt := setup(t, -50, -50, 20, -50, -50)

	res, err := opt.Run(ctx)
	require.NoError(t, err)
	require.True(t, res.Published)
	assert.Equal(t, RegimeTighten, res.Regime)
	assert.Equal(t, int64(2), res.Next.Version)
	assert.Equal(t, t0, res.Next.EffectiveFrom)
	assert.Equal(t, "optimizer:bounded_step", res.Next.Source)

	latest, err := st.Strategies().Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.InDelta(t, 0.55, latest.BuyThreshold, 1e-9)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "optimization-alerts", pub.msgs[0].Topic)
	var alert types.OptimizationAlert
	require.NoError(t, json.Unmarshal(pub.msgs[0].Payload, &alert))
	assert.Equal(t, int64(2), alert.Version)
	assert.Equal(t, int64(1), alert.PreviousVersion)
	assert.Len(t, alert.Changes, 4)
	assert.Equal(t, 5, alert.Metrics.Trades)
	assert.NotEmpty(t, alert.Rationale)

	res, err = opt.Run(ctx)
	require.NoError(t, err)
	require.True(t, res.Published)
	assert.Equal(t, int64(3), res.Next.Version, "version only ever increases")
}

func TestRunNeutralPublishesNothing(t *testing.T) {
	st, pub, opt := setup(t, 50, -40, 50, -40, 10, -10)
	res, err := opt.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Published)
	assert.Equal(t, RegimeNeutral, res.Regime)
	assert.Empty(t, pub.msgs)
	latest, err := st.Strategies().Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version)
}

type conflictStore struct{ store.Store }

func (c conflictStore) Strategies() store.StrategyConfigRepository {
	return conflictStrategies{c.Store.Strategies()}
}

type conflictStrategies struct{ store.StrategyConfigRepository }

func (conflictStrategies) Publish(context.Context, types.StrategyConfig) error {
	return store.ErrVersionConflict
}

func TestRunStoreFailureAbortsWithoutAlert(t *testing.T) {
	st, pub, opt := setup(t, -50, -50, -50, -50, -50)
	opt.store = conflictStore{st}
	res, err := opt.Run(context.Background())
	require.ErrorIs(t, err, store.ErrVersionConflict)
	assert.False(t, res.Published)
	assert.Empty(t, pub.msgs)
}
