package journal

import (
	"context"
	"testing"
	"time"

	"aegis/internal/bus"
	"aegis/internal/store/memstore"
	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordsOpenThenClose(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	j := New(st.Reports(), "trade-reports")
	opened := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	open := types.TradeReport{TradeID: "t1", IntentID: "i1", Symbol: "btc/usdt", Side: types.SideBuy, EntryPrice: 100, Quantity: 2, RiskAmount: 100, OpenedAt: opened}
	msg, err := bus.NewMessage("trade-reports", "t1", open)
	require.NoError(t, err)
	require.NoError(t, j.Routes()[0].Handle(ctx, msg))

	pnl, exit := 30.0, 115.0
	closed := opened.Add(time.Hour)
	done := open
	done.ExitPrice, done.RealizedPnL, done.ClosedAt = &exit, &pnl, &closed
	require.NoError(t, j.Record(ctx, done))
	require.NoError(t, j.Record(ctx, done))

	got, err := st.Reports().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.True(t, got.Closed())
	assert.InDelta(t, 30, got.PnL(), 1e-9)

	list, err := st.Reports().ListClosedSince(ctx, opened)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestJournalRejectsInvalidReport(t *testing.T) {
	j := New(memstore.New().Reports(), "trade-reports")
	closed := time.Now()
	err := j.Record(context.Background(), types.TradeReport{TradeID: "t", Symbol: "BTCUSDT", Side: types.SideSell, ClosedAt: &closed})
	assert.True(t, bus.IsPermanent(err))

	err = j.Record(context.Background(), types.TradeReport{Symbol: "BTCUSDT", Side: types.SideSell})
	assert.True(t, bus.IsPermanent(err))
}
