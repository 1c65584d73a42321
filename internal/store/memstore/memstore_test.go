package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"aegis/internal/store"
	"aegis/internal/store/storetest"
	"aegis/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestConcurrentCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Portfolio().Init(ctx, types.PortfolioState{Version: 1, TotalValue: 1000})
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	conflicts := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				state, err := s.Portfolio().Load(ctx)
				if !assert.NoError(t, err) {
					return
				}
				next := state.Clone()
				next.TotalValue++
				err = s.Portfolio().CompareAndSwap(ctx, state.Version, next)
				if errors.Is(err, store.ErrVersionConflict) {
					conflicts[i]++
					continue
				}
				assert.NoError(t, err)
				return
			}
		}(i)
	}
	wg.Wait()

	state, err := s.Portfolio().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1+workers), state.Version)
	assert.InDelta(t, 1000+workers, state.TotalValue, 1e-9)
}

func TestLoadReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Portfolio().Init(ctx, types.PortfolioState{
		Version:      1,
		TotalValue:   1000,
		ReservedRisk: 10,
		Positions:    []types.Position{{IntentID: "x", RiskAmount: 10}},
	})
	require.NoError(t, err)

	state, err := s.Portfolio().Load(ctx)
	require.NoError(t, err)
	state.Positions[0].RiskAmount = 999

	again, err := s.Portfolio().Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10, again.Positions[0].RiskAmount, 1e-9)
}
