// Package storetest 是 store.Store 各实现共用的一致性测试。
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"aegis/internal/store"
	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory 为每个子测试创建一个全新的空库。
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedPortfolio() types.PortfolioState {
	return types.PortfolioState{Version: 1, TotalValue: 10000, UpdatedAt: base}
}

func seedStrategy(version int64) types.StrategyConfig {
	return types.StrategyConfig{
		Version:           version,
		BuyThreshold:      0.5,
		SellThreshold:     -0.5,
		RiskPerTrade:      0.01,
		MaxPortfolioRisk:  0.05,
		StopLossPctBuy:    0.01,
		StopLossPctSell:   0.01,
		TakeProfitPctBuy:  0.02,
		TakeProfitPctSell: 0.02,
		QuantityFraction:  0.1,
		EffectiveFrom:     base.Add(time.Duration(version) * time.Hour),
		Source:            "test",
	}
}

func floatPtr(v float64) *float64 { return &v }

func timePtr(v time.Time) *time.Time { return &v }

// Run 执行全部一致性用例。
func Run(t *testing.T, newStore Factory) {
	t.Run("portfolio init and compare-and-swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Portfolio().Load(ctx)
		require.ErrorIs(t, err, store.ErrNotFound)

		created, err := s.Portfolio().Init(ctx, seedPortfolio())
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.Portfolio().Init(ctx, types.PortfolioState{Version: 1, TotalValue: 1})
		require.NoError(t, err)
		assert.False(t, created)

		state, err := s.Portfolio().Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Version)
		assert.InDelta(t, 10000, state.TotalValue, 1e-9)
		assert.Empty(t, state.Positions)

		next := state.Clone()
		next.ReservedRisk = 100
		next.Positions = append(next.Positions, types.Position{IntentID: "i-1", Symbol: "BTCUSDT", Side: types.SideBuy, RiskAmount: 100, OpenedAt: base})
		require.NoError(t, s.Portfolio().CompareAndSwap(ctx, 1, next))

		err = s.Portfolio().CompareAndSwap(ctx, 1, next)
		require.ErrorIs(t, err, store.ErrVersionConflict)

		state, err = s.Portfolio().Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), state.Version)
		assert.InDelta(t, 100, state.ReservedRisk, 1e-9)
		require.Len(t, state.Positions, 1)
		assert.Equal(t, "i-1", state.Positions[0].IntentID)
	})

	t.Run("concurrent reservations never exceed budget", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Portfolio().Init(ctx, seedPortfolio())
		require.NoError(t, err)

		const writers = 20
		const risk, budget = 100.0, 500.0
		results := make([]error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = reserveOnce(ctx, s, fmt.Sprintf("w-%02d", i), risk, budget)
			}(i)
		}
		wg.Wait()

		approved, full := 0, 0
		for _, err := range results {
			switch {
			case err == nil:
				approved++
			case errors.Is(err, errBudgetFull):
				full++
			default:
				t.Errorf("unexpected writer error: %v", err)
			}
		}
		assert.Equal(t, 5, approved)
		assert.Equal(t, 15, full)

		state, err := s.Portfolio().Load(ctx)
		require.NoError(t, err)
		assert.InDelta(t, budget, state.ReservedRisk, 1e-9)
		assert.Len(t, state.Positions, 5)
		assert.Equal(t, int64(6), state.Version)
		require.NoError(t, state.CheckInvariant())
		recent, err := s.Intents().ListRecent(ctx, writers)
		require.NoError(t, err)
		assert.Len(t, recent, 5)
	})

	t.Run("compare-and-swap rejects broken invariant", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Portfolio().Init(ctx, seedPortfolio())
		require.NoError(t, err)

		bad := seedPortfolio()
		bad.ReservedRisk = 50
		err = s.Portfolio().CompareAndSwap(ctx, 1, bad)
		require.Error(t, err)
		assert.NotErrorIs(t, err, store.ErrVersionConflict)

		state, err := s.Portfolio().Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Version)
	})

	t.Run("unit of work rollback discards writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Portfolio().Init(ctx, seedPortfolio())
		require.NoError(t, err)

		uow, err := s.Begin(ctx)
		require.NoError(t, err)
		next := seedPortfolio()
		next.TotalValue = 9000
		require.NoError(t, uow.Portfolio().CompareAndSwap(ctx, 1, next))
		require.NoError(t, uow.Intents().Record(ctx, types.IntentRecord{IntentID: "i-rb", Status: types.IntentApproved, RecordedAt: base}))
		inTx, err := uow.Portfolio().Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), inTx.Version)
		require.NoError(t, uow.Rollback())

		state, err := s.Portfolio().Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Version)
		assert.InDelta(t, 10000, state.TotalValue, 1e-9)
		_, err = s.Intents().Lookup(ctx, "i-rb")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unit of work commit applies writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Portfolio().Init(ctx, seedPortfolio())
		require.NoError(t, err)

		uow, err := s.Begin(ctx)
		require.NoError(t, err)
		next := seedPortfolio()
		next.TotalValue = 9500
		require.NoError(t, uow.Portfolio().CompareAndSwap(ctx, 1, next))
		require.NoError(t, uow.Intents().Record(ctx, types.IntentRecord{IntentID: "i-c", Status: types.IntentApproved, RiskAmount: 1, RecordedAt: base}))
		require.NoError(t, uow.Commit())
		assert.NoError(t, uow.Rollback())

		state, err := s.Portfolio().Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), state.Version)
		assert.InDelta(t, 9500, state.TotalValue, 1e-9)
		rec, err := s.Intents().Lookup(ctx, "i-c")
		require.NoError(t, err)
		assert.Equal(t, types.IntentApproved, rec.Status)
	})

	t.Run("intent ledger is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.Intents().Record(ctx, types.IntentRecord{
				IntentID:   id,
				Symbol:     "ETHUSDT",
				Side:       types.SideSell,
				Status:     types.IntentRejected,
				Reason:     types.ReasonRiskBudgetExceeded,
				RecordedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		err := s.Intents().Record(ctx, types.IntentRecord{IntentID: "b", Status: types.IntentApproved, RecordedAt: base})
		require.ErrorIs(t, err, store.ErrDuplicateIntent)

		rec, err := s.Intents().Lookup(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, types.IntentRejected, rec.Status)
		assert.Equal(t, types.ReasonRiskBudgetExceeded, rec.Reason)

		recent, err := s.Intents().ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "c", recent[0].IntentID)
		assert.Equal(t, "b", recent[1].IntentID)
	})

	t.Run("intent ledger keeps payload until marked emitted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		payload := []byte(`{"intent_id":"p-1","risk_amount":100}`)
		require.NoError(t, s.Intents().Record(ctx, types.IntentRecord{IntentID: "p-1", Status: types.IntentApproved, RiskAmount: 100, RecordedAt: base, Payload: payload}))

		rec, err := s.Intents().Lookup(ctx, "p-1")
		require.NoError(t, err)
		assert.False(t, rec.Emitted)
		assert.JSONEq(t, string(payload), string(rec.Payload))

		require.NoError(t, s.Intents().MarkEmitted(ctx, "p-1"))
		require.NoError(t, s.Intents().MarkEmitted(ctx, "p-1"))
		rec, err = s.Intents().Lookup(ctx, "p-1")
		require.NoError(t, err)
		assert.True(t, rec.Emitted)
		assert.Equal(t, types.IntentApproved, rec.Status)

		assert.ErrorIs(t, s.Intents().MarkEmitted(ctx, "missing"), store.ErrNotFound)
	})

	t.Run("portfolio keeps daily realized pnl", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Portfolio().Init(ctx, seedPortfolio())
		require.NoError(t, err)

		next := seedPortfolio().BookPnL(-42.5, base)
		next.TotalValue = 9957.5
		require.NoError(t, s.Portfolio().CompareAndSwap(ctx, 1, next))

		state, err := s.Portfolio().Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2025-03-01", state.PnLDay)
		assert.InDelta(t, -42.5, state.DailyPnL, 1e-9)
		assert.InDelta(t, -42.5, state.RealizedToday(base.Add(time.Hour)), 1e-9)
	})

	t.Run("strategy configs are append-only", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Strategies().Latest(ctx)
		require.ErrorIs(t, err, store.ErrNotFound)

		require.ErrorIs(t, s.Strategies().Publish(ctx, seedStrategy(2)), store.ErrVersionConflict)
		require.NoError(t, s.Strategies().Publish(ctx, seedStrategy(1)))
		v2 := seedStrategy(2)
		v2.BuyThreshold = 0.55
		require.NoError(t, s.Strategies().Publish(ctx, v2))
		require.ErrorIs(t, s.Strategies().Publish(ctx, seedStrategy(2)), store.ErrVersionConflict)

		latest, err := s.Strategies().Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), latest.Version)
		assert.InDelta(t, 0.55, latest.BuyThreshold, 1e-9)

		first, err := s.Strategies().Get(ctx, 1)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, first.BuyThreshold, 1e-9)
		_, err = s.Strategies().Get(ctx, 9)
		assert.ErrorIs(t, err, store.ErrNotFound)

		history, err := s.Strategies().History(ctx, 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, int64(2), history[0].Version)
		assert.Equal(t, int64(1), history[1].Version)
	})

	t.Run("strategy publish rejects invalid config", func(t *testing.T) {
		s := newStore(t)
		bad := seedStrategy(1)
		bad.BuyThreshold = -0.9
		assert.Error(t, s.Strategies().Publish(context.Background(), bad))
	})

	t.Run("trade reports upsert keeps close fields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		open := types.TradeReport{
			TradeID:    "t-1",
			IntentID:   "i-1",
			Symbol:     "BTCUSDT",
			Side:       types.SideBuy,
			EntryPrice: 100,
			Quantity:   2,
			RiskAmount: 10,
			OpenedAt:   base,
		}
		require.NoError(t, s.Reports().Upsert(ctx, open))

		closed := open
		closed.ExitPrice = floatPtr(105)
		closed.RealizedPnL = floatPtr(10)
		closed.ClosedAt = timePtr(base.Add(time.Hour))
		require.NoError(t, s.Reports().Upsert(ctx, closed))
		require.NoError(t, s.Reports().Upsert(ctx, open))

		got, err := s.Reports().Get(ctx, "t-1")
		require.NoError(t, err)
		require.True(t, got.Closed())
		require.NotNil(t, got.RealizedPnL)
		assert.InDelta(t, 10, *got.RealizedPnL, 1e-9)
		assert.Equal(t, "i-1", got.IntentID)

		_, err = s.Reports().Get(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("closed reports listed in close order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		closes := map[string]time.Duration{"late": 3 * time.Hour, "early": time.Hour, "old": -48 * time.Hour}
		for id, offset := range closes {
			require.NoError(t, s.Reports().Upsert(ctx, types.TradeReport{
				TradeID:     id,
				Symbol:      "BTCUSDT",
				Side:        types.SideBuy,
				EntryPrice:  1,
				Quantity:    1,
				RealizedPnL: floatPtr(1),
				ExitPrice:   floatPtr(2),
				OpenedAt:    base.Add(offset - time.Minute),
				ClosedAt:    timePtr(base.Add(offset)),
			}))
		}
		require.NoError(t, s.Reports().Upsert(ctx, types.TradeReport{TradeID: "open", Symbol: "BTCUSDT", Side: types.SideBuy, EntryPrice: 1, Quantity: 1, OpenedAt: base}))

		got, err := s.Reports().ListClosedSince(ctx, base)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "early", got[0].TradeID)
		assert.Equal(t, "late", got[1].TradeID)
	})
}

var errBudgetFull = errors.New("budget full")

// reserveOnce 按风控的读取-校验-比较并交换循环预留一笔风险；版本冲突重试，预算不足返回 errBudgetFull。
func reserveOnce(ctx context.Context, s store.Store, id string, risk, budget float64) error {
	for attempt := 0; attempt < 50; attempt++ {
		state, err := s.Portfolio().Load(ctx)
		if err != nil {
			return err
		}
		if state.ReservedRisk+risk > budget+1e-9 {
			return errBudgetFull
		}
		next := state.Clone()
		next.ReservedRisk += risk
		next.Positions = append(next.Positions, types.Position{IntentID: id, Symbol: "BTCUSDT", Side: types.SideBuy, RiskAmount: risk, OpenedAt: base})

		uow, err := s.Begin(ctx)
		if err != nil {
			return err
		}
		err = uow.Portfolio().CompareAndSwap(ctx, state.Version, next)
		if errors.Is(err, store.ErrVersionConflict) {
			_ = uow.Rollback()
			continue
		}
		if err == nil {
			err = uow.Intents().Record(ctx, types.IntentRecord{IntentID: id, Status: types.IntentApproved, RiskAmount: risk, RecordedAt: base})
		}
		if err != nil {
			_ = uow.Rollback()
			return err
		}
		return uow.Commit()
	}
	return fmt.Errorf("%s: %w", id, store.ErrVersionConflict)
}
