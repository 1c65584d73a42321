package decision

import (
	"testing"
	"time"

	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func testConfig() types.StrategyConfig {
	return types.StrategyConfig{
		Version:          3,
		BuyThreshold:     0.5,
		SellThreshold:    -0.5,
		RiskPerTrade:     0.01,
		MaxPortfolioRisk: 0.05,
		QuantityFraction: 0.1,
	}
}

func TestDecideThresholds(t *testing.T) {
	tests := []struct {
		name   string
		score  float64
		want   types.Side
		wantOK bool
	}{
		{"buy at boundary", 0.5, types.SideBuy, true},
		{"buy above", 0.9, types.SideBuy, true},
		{"hold just below buy", 0.4999, "", false},
		{"hold zero", 0, "", false},
		{"hold just above sell", -0.4999, "", false},
		{"sell at boundary", -0.5, types.SideSell, true},
		{"sell below", -1, types.SideSell, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := types.AggregatedSignal{Symbol: "BTCUSDT", Score: tt.score, Confidence: 0.8, AsOf: asOf}
			intent, ok := Decide(agg, testConfig(), 10000)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, intent.Side)
			assert.InDelta(t, 0.1, intent.QuantityFraction, 1e-12)
			assert.Equal(t, int64(3), intent.ConfigVersion)
			assert.Equal(t, asOf, intent.GeneratedAt)
			assert.NoError(t, intent.Validate())
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	agg := types.AggregatedSignal{Symbol: "ETHUSDT", Score: 0.7, Confidence: 0.6, AsOf: asOf}
	a, ok := Decide(agg, testConfig(), 5000)
	require.True(t, ok)
	b, ok := Decide(agg, testConfig(), 5000)
	require.True(t, ok)
	assert.Equal(t, a, b)

	later := agg
	later.AsOf = asOf.Add(time.Second)
	c, ok := Decide(later, testConfig(), 5000)
	require.True(t, ok)
	assert.NotEqual(t, a.IntentID, c.IntentID)

	cfg := testConfig()
	cfg.Version = 4
	d, ok := Decide(agg, cfg, 5000)
	require.True(t, ok)
	assert.NotEqual(t, a.IntentID, d.IntentID)
}

func TestDecideRequiresPositivePortfolio(t *testing.T) {
	agg := types.AggregatedSignal{Symbol: "BTCUSDT", Score: 1, AsOf: asOf}
	_, ok := Decide(agg, testConfig(), 0)
	assert.False(t, ok)
	_, ok = Decide(agg, testConfig(), -1)
	assert.False(t, ok)
}

func TestDecideCarriesReferencePrice(t *testing.T) {
	agg := types.AggregatedSignal{Symbol: "BTCUSDT", Score: 0.8, Confidence: 0.7, AsOf: asOf, Price: 64250.5}
	intent, ok := Decide(agg, testConfig(), 10000)
	require.True(t, ok)
	assert.InDelta(t, 64250.5, intent.ReferencePrice, 1e-9)

	agg.Price = 0
	intent, ok = Decide(agg, testConfig(), 10000)
	require.True(t, ok)
	assert.Zero(t, intent.ReferencePrice)
	assert.NoError(t, intent.Validate())
}
