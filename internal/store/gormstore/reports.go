package gormstore

import (
	"context"
	"errors"
	"time"

	"aegis/internal/store"
	"aegis/internal/store/model"
	"aegis/internal/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type reportRepo struct {
	db *gorm.DB
}

func (r *reportRepo) Upsert(ctx context.Context, rep types.TradeReport) error {
	m := model.TradeReportModel{
		TradeID:     rep.TradeID,
		IntentID:    rep.IntentID,
		Symbol:      rep.Symbol,
		Side:        string(rep.Side),
		EntryPrice:  rep.EntryPrice,
		ExitPrice:   rep.ExitPrice,
		Quantity:    rep.Quantity,
		RealizedPnL: rep.RealizedPnL,
		RiskAmount:  rep.RiskAmount,
		OpenedAt:    rep.OpenedAt,
		ClosedAt:    rep.ClosedAt,
		UpdatedAt:   time.Now().UTC(),
	}
	// 已平仓的记录不会被迟到的开仓回报覆盖。
	updates := clause.Assignments(map[string]interface{}{
		"intent_id":    gorm.Expr("COALESCE(NULLIF(excluded.intent_id, ''), trade_reports.intent_id)"),
		"exit_price":   gorm.Expr("COALESCE(excluded.exit_price, trade_reports.exit_price)"),
		"realized_pnl": gorm.Expr("COALESCE(excluded.realized_pnl, trade_reports.realized_pnl)"),
		"closed_at":    gorm.Expr("COALESCE(excluded.closed_at, trade_reports.closed_at)"),
		"quantity":     gorm.Expr("excluded.quantity"),
		"risk_amount":  gorm.Expr("CASE WHEN excluded.risk_amount > 0 THEN excluded.risk_amount ELSE trade_reports.risk_amount END"),
		"updated_at":   gorm.Expr("excluded.updated_at"),
	})
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoUpdates: updates,
	}).Create(&m).Error
}

func (r *reportRepo) Get(ctx context.Context, tradeID string) (types.TradeReport, error) {
	var m model.TradeReportModel
	err := r.db.WithContext(ctx).Where("trade_id = ?", tradeID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.TradeReport{}, store.ErrNotFound
	}
	if err != nil {
		return types.TradeReport{}, err
	}
	return reportFromModel(m), nil
}

func (r *reportRepo) ListClosedSince(ctx context.Context, since time.Time) ([]types.TradeReport, error) {
	var rows []model.TradeReportModel
	err := r.db.WithContext(ctx).
		Where("closed_at IS NOT NULL AND closed_at >= ?", since).
		Order("closed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.TradeReport, 0, len(rows))
	for _, m := range rows {
		out = append(out, reportFromModel(m))
	}
	return out, nil
}

func reportFromModel(m model.TradeReportModel) types.TradeReport {
	return types.TradeReport{
		TradeID:     m.TradeID,
		IntentID:    m.IntentID,
		Symbol:      m.Symbol,
		Side:        types.Side(m.Side),
		EntryPrice:  m.EntryPrice,
		ExitPrice:   m.ExitPrice,
		Quantity:    m.Quantity,
		RealizedPnL: m.RealizedPnL,
		RiskAmount:  m.RiskAmount,
		OpenedAt:    m.OpenedAt,
		ClosedAt:    m.ClosedAt,
	}
}
