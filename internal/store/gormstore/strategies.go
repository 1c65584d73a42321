package gormstore

import (
	"context"
	"errors"
	"time"

	"aegis/internal/store"
	"aegis/internal/store/model"
	"aegis/internal/types"

	"gorm.io/gorm"
)

type strategyRepo struct {
	db   *gorm.DB
	inTx bool
}

func (r *strategyRepo) Latest(ctx context.Context) (types.StrategyConfig, error) {
	var m model.StrategyConfigModel
	err := r.db.WithContext(ctx).Order("version DESC").Limit(1).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.StrategyConfig{}, store.ErrNotFound
	}
	if err != nil {
		return types.StrategyConfig{}, err
	}
	return strategyFromModel(m), nil
}

func (r *strategyRepo) Get(ctx context.Context, version int64) (types.StrategyConfig, error) {
	var m model.StrategyConfigModel
	err := r.db.WithContext(ctx).Where("version = ?", version).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.StrategyConfig{}, store.ErrNotFound
	}
	if err != nil {
		return types.StrategyConfig{}, err
	}
	return strategyFromModel(m), nil
}

func (r *strategyRepo) Publish(ctx context.Context, cfg types.StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.EffectiveFrom.IsZero() {
		cfg.EffectiveFrom = time.Now().UTC()
	}
	publish := func(tx *gorm.DB) error {
		var latest int64
		if err := tx.Model(&model.StrategyConfigModel{}).Select("COALESCE(MAX(version), 0)").Scan(&latest).Error; err != nil {
			return err
		}
		if cfg.Version != latest+1 {
			return store.ErrVersionConflict
		}
		m := strategyToModel(cfg)
		err := tx.Create(&m).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrVersionConflict
		}
		return err
	}
	if r.inTx {
		return publish(r.db.WithContext(ctx))
	}
	return r.db.WithContext(ctx).Transaction(publish)
}

func (r *strategyRepo) History(ctx context.Context, limit int) ([]types.StrategyConfig, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []model.StrategyConfigModel
	if err := r.db.WithContext(ctx).Order("version DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.StrategyConfig, 0, len(rows))
	for _, m := range rows {
		out = append(out, strategyFromModel(m))
	}
	return out, nil
}

func strategyFromModel(m model.StrategyConfigModel) types.StrategyConfig {
	return types.StrategyConfig{
		Version:           m.Version,
		BuyThreshold:      m.BuyThreshold,
		SellThreshold:     m.SellThreshold,
		RiskPerTrade:      m.RiskPerTrade,
		MaxPortfolioRisk:  m.MaxPortfolioRisk,
		StopLossPctBuy:    m.StopLossPctBuy,
		StopLossPctSell:   m.StopLossPctSell,
		TakeProfitPctBuy:  m.TakeProfitPctBuy,
		TakeProfitPctSell: m.TakeProfitPctSell,
		QuantityFraction:  m.QuantityFraction,
		EffectiveFrom:     m.EffectiveFrom,
		Source:            m.Source,
	}
}

func strategyToModel(c types.StrategyConfig) model.StrategyConfigModel {
	return model.StrategyConfigModel{
		Version:           c.Version,
		BuyThreshold:      c.BuyThreshold,
		SellThreshold:     c.SellThreshold,
		RiskPerTrade:      c.RiskPerTrade,
		MaxPortfolioRisk:  c.MaxPortfolioRisk,
		StopLossPctBuy:    c.StopLossPctBuy,
		StopLossPctSell:   c.StopLossPctSell,
		TakeProfitPctBuy:  c.TakeProfitPctBuy,
		TakeProfitPctSell: c.TakeProfitPctSell,
		QuantityFraction:  c.QuantityFraction,
		EffectiveFrom:     c.EffectiveFrom,
		Source:            c.Source,
	}
}
