package decision

import (
	"context"
	"encoding/json"
	"testing"

	"aegis/internal/bus"
	"aegis/internal/store/memstore"
	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	msgs []bus.Message
}

func (c *capturePublisher) Publish(ctx context.Context, msg bus.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestServicePublishesIntent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	cfg := testConfig()
	cfg.Version = 1
	cfg.StopLossPctBuy, cfg.StopLossPctSell, cfg.TakeProfitPctBuy, cfg.TakeProfitPctSell = 0.01, 0.01, 0.02, 0.02
	require.NoError(t, st.Strategies().Publish(ctx, cfg))

	pub := &capturePublisher{}
	svc := NewService(st.Strategies(), st.Portfolio(), pub, "trade-commands")

	agg := types.AggregatedSignal{Symbol: "BTCUSDT", Score: 0.5, Confidence: 1, AsOf: asOf}
	require.NoError(t, svc.OnAggregate(ctx, agg))
	assert.Empty(t, pub.msgs, "no portfolio yet")

	_, err := st.Portfolio().Init(ctx, types.PortfolioState{Version: 1, TotalValue: 10000})
	require.NoError(t, err)
	require.NoError(t, svc.OnAggregate(ctx, agg))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "trade-commands", pub.msgs[0].Topic)
	assert.Equal(t, "BTCUSDT", pub.msgs[0].Key)

	var intent types.TradeIntent
	require.NoError(t, json.Unmarshal(pub.msgs[0].Payload, &intent))
	assert.Equal(t, types.SideBuy, intent.Side)
	assert.InDelta(t, 0.1, intent.QuantityFraction, 1e-12)

	require.NoError(t, svc.OnAggregate(ctx, types.AggregatedSignal{Symbol: "BTCUSDT", Score: 0.1, AsOf: asOf}))
	assert.Len(t, pub.msgs, 1)
}

func TestServiceFailsWithoutStrategy(t *testing.T) {
	st := memstore.New()
	svc := NewService(st.Strategies(), st.Portfolio(), &capturePublisher{}, "trade-commands")
	assert.Error(t, svc.OnAggregate(context.Background(), types.AggregatedSignal{Symbol: "X", Score: 1}))
}
