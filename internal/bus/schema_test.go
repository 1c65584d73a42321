package bus

import (
	"context"
	"testing"

	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRegistryValidate(t *testing.T) {
	reg := NewSchemaRegistry()
	require.NoError(t, reg.Register("order-book-signals", SchemaMarketSignal))
	require.NoError(t, reg.Register("trade-commands", SchemaTradeIntent))
	require.NoError(t, reg.Register("trade-reports", SchemaTradeReport))
	require.NoError(t, reg.Register("risk-alerts", SchemaRiskAlert))
	require.NoError(t, reg.Register("final-trade-execution", SchemaApprovedTrade))
	require.NoError(t, reg.Register("optimization-alerts", SchemaOptimizationAlert))

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr bool
	}{
		{"valid signal", "order-book-signals", `{"symbol":"BTCUSDT","source":"order-book","score":0.4,"confidence":0.9,"timestamp":"2025-01-01T00:00:00Z"}`, false},
		{"score out of range", "order-book-signals", `{"symbol":"BTCUSDT","source":"order-book","score":1.4,"confidence":0.9,"timestamp":"2025-01-01T00:00:00Z"}`, true},
		{"missing confidence", "order-book-signals", `{"symbol":"BTCUSDT","source":"order-book","score":0.1,"timestamp":"2025-01-01T00:00:00Z"}`, true},
		{"not json", "order-book-signals", `{"symbol":`, true},
		{"array payload", "unknown-topic", `[1,2]`, true},
		{"unknown topic object", "unknown-topic", `{"anything":true}`, false},
		{"bad side", "trade-commands", `{"intent_id":"a","symbol":"X","side":"HOLD","quantity_fraction":0.1,"config_version":1,"generated_at":"2025-01-01T00:00:00Z"}`, true},
		{"open report", "trade-reports", `{"trade_id":"t","symbol":"X","side":"BUY","entry_price":1,"quantity":2,"opened_at":"2025-01-01T00:00:00Z"}`, false},
		{"intent with reference price", "trade-commands", `{"intent_id":"a","symbol":"X","side":"BUY","quantity_fraction":0.1,"config_version":1,"reference_price":101.5,"generated_at":"2025-01-01T00:00:00Z"}`, false},
		{"negative reference price", "trade-commands", `{"intent_id":"a","symbol":"X","side":"BUY","quantity_fraction":0.1,"config_version":1,"reference_price":-1,"generated_at":"2025-01-01T00:00:00Z"}`, true},
		{"bad reason", "risk-alerts", `{"intent_id":"a","reason":"Nope"}`, true},
		{"daily loss alert", "risk-alerts", `{"intent_id":"a","reason":"DailyLossLimit"}`, false},
		{"approved trade zero qty", "final-trade-execution", `{"intent_id":"a","symbol":"X","side":"BUY","quantity":0,"entry_price":1,"stop_loss_price":1,"take_profit_price":1,"risk_amount":1}`, true},
		{"optimization alert", "optimization-alerts", `{"version":2,"changes":[],"rationale":"ok"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Validate(tt.topic, []byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrMalformedMessage)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSchemaMiddlewareMarksPermanent(t *testing.T) {
	reg := NewSchemaRegistry()
	require.NoError(t, reg.Register("risk-alerts", SchemaRiskAlert))
	called := false
	h := Chain(func(ctx context.Context, msg Message) error {
		called = true
		return nil
	}, reg.Middleware())

	err := h(context.Background(), Message{Topic: "risk-alerts", Payload: []byte(`{"intent_id":""}`)})
	assert.True(t, IsPermanent(err))
	assert.False(t, called)

	require.NoError(t, h(context.Background(), Message{Topic: "risk-alerts", Payload: []byte(`{"intent_id":"x","reason":"PriceUnavailable"}`)}))
	assert.True(t, called)
}

func TestPeekKey(t *testing.T) {
	assert.Equal(t, "ETHUSDT", PeekKey([]byte(`{"symbol":"ETHUSDT","score":1}`), "symbol"))
	assert.Equal(t, "", PeekKey([]byte(`{}`), "symbol"))
}

func TestHandlerRegistrySubscribeAll(t *testing.T) {
	b := NewMemoryBus(MemoryOptions{})
	reg := NewHandlerRegistry("risk")
	reg.Register(RouteFunc{Name: "b-topic", Fn: func(context.Context, Message) error { return nil }})
	reg.Register(RouteFunc{Name: "a-topic", Fn: func(context.Context, Message) error { return nil }})
	reg.Register(nil)
	assert.Equal(t, []string{"a-topic", "b-topic"}, reg.Topics())
	require.NoError(t, reg.SubscribeAll(b))
	require.Error(t, reg.SubscribeAll(b))
	_, ok := reg.Get("a-topic")
	assert.True(t, ok)
}
