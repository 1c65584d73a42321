package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aegis/internal/store"
	"aegis/internal/store/model"
	"aegis/internal/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type portfolioRepo struct {
	db   *gorm.DB
	inTx bool
}

func (r *portfolioRepo) Load(ctx context.Context) (types.PortfolioState, error) {
	var m model.PortfolioStateModel
	err := r.db.WithContext(ctx).Where("id = ?", types.PortfolioStateID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.PortfolioState{}, store.ErrNotFound
	}
	if err != nil {
		return types.PortfolioState{}, err
	}
	return portfolioFromModel(m)
}

func (r *portfolioRepo) Init(ctx context.Context, seed types.PortfolioState) (bool, error) {
	m, err := portfolioToModel(seed)
	if err != nil {
		return false, err
	}
	if m.Version <= 0 {
		m.Version = 1
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *portfolioRepo) CompareAndSwap(ctx context.Context, expected int64, next types.PortfolioState) error {
	if err := next.CheckInvariant(); err != nil {
		return err
	}
	positions, err := json.Marshal(nonNilPositions(next.Positions))
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	updatedAt := next.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Model(&model.PortfolioStateModel{}).
		Where("id = ? AND version = ?", types.PortfolioStateID, expected).
		Updates(map[string]interface{}{
			"version":        expected + 1,
			"total_value":    next.TotalValue,
			"reserved_risk":  next.ReservedRisk,
			"positions_json": datatypes.JSON(positions),
			"daily_pnl":      next.DailyPnL,
			"pnl_day":        next.PnLDay,
			"updated_at":     updatedAt,
		})
	if isLockContention(res.Error) {
		return fmt.Errorf("%w: %v", store.ErrVersionConflict, res.Error)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func portfolioFromModel(m model.PortfolioStateModel) (types.PortfolioState, error) {
	state := types.PortfolioState{
		Version:      m.Version,
		TotalValue:   m.TotalValue,
		ReservedRisk: m.ReservedRisk,
		DailyPnL:     m.DailyPnL,
		PnLDay:       m.PnLDay,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.PositionsJSON) > 0 {
		if err := json.Unmarshal(m.PositionsJSON, &state.Positions); err != nil {
			return types.PortfolioState{}, fmt.Errorf("decode positions: %w", err)
		}
	}
	return state, nil
}

func portfolioToModel(s types.PortfolioState) (model.PortfolioStateModel, error) {
	positions, err := json.Marshal(nonNilPositions(s.Positions))
	if err != nil {
		return model.PortfolioStateModel{}, fmt.Errorf("encode positions: %w", err)
	}
	return model.PortfolioStateModel{
		ID:            types.PortfolioStateID,
		Version:       s.Version,
		TotalValue:    s.TotalValue,
		ReservedRisk:  s.ReservedRisk,
		PositionsJSON: datatypes.JSON(positions),
		DailyPnL:      s.DailyPnL,
		PnLDay:        s.PnLDay,
		UpdatedAt:     s.UpdatedAt,
	}, nil
}

func nonNilPositions(p []types.Position) []types.Position {
	if p == nil {
		return []types.Position{}
	}
	return p
}
