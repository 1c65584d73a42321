package aggregator

import (
	"context"
	"testing"
	"time"

	"aegis/internal/bus"
	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceHandleForwardsToSink(t *testing.T) {
	now := time.Now().UTC()
	a := newTestAggregator(&now)
	var got []types.AggregatedSignal
	svc := NewService(a, SinkFunc(func(ctx context.Context, agg types.AggregatedSignal) error {
		got = append(got, agg)
		return nil
	}), map[string]types.SignalSource{
		"order-book-signals":     types.SourceOrderBook,
		"coin-selection-signals": types.SourceCoinSelection,
	}, time.Minute)
	assert.Len(t, svc.Routes(), 2)

	msg, err := bus.NewMessage("order-book-signals", "ETHUSDT", map[string]any{
		"symbol":     "ETHUSDT",
		"score":      0.6,
		"confidence": 0.9,
		"timestamp":  now,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Handle(context.Background(), msg))
	require.Len(t, got, 1)
	assert.Equal(t, []types.SignalSource{types.SourceOrderBook}, got[0].Sources)

	stale, err := bus.NewMessage("order-book-signals", "ETHUSDT", types.MarketSignal{
		Symbol: "ETHUSDT", Source: types.SourceOrderBook, Score: 0.1, Confidence: 1, Timestamp: now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.NoError(t, svc.Handle(context.Background(), stale))
	assert.Len(t, got, 1)

	bad, err := bus.NewMessage("order-book-signals", "ETHUSDT", map[string]any{"symbol": "ETHUSDT", "score": 3, "timestamp": now})
	require.NoError(t, err)
	assert.True(t, bus.IsPermanent(svc.Handle(context.Background(), bad)))
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	now := time.Now()
	svc := NewService(newTestAggregator(&now), nil, nil, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, svc.Run(ctx))
}
