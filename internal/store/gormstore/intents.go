package gormstore

import (
	"context"
	"encoding/json"
	"errors"

	"aegis/internal/store"
	"aegis/internal/store/model"
	"aegis/internal/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type intentRepo struct {
	db *gorm.DB
}

func (r *intentRepo) Lookup(ctx context.Context, intentID string) (types.IntentRecord, error) {
	var m model.IntentRecordModel
	err := r.db.WithContext(ctx).Where("intent_id = ?", intentID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.IntentRecord{}, store.ErrNotFound
	}
	if err != nil {
		return types.IntentRecord{}, err
	}
	return intentFromModel(m), nil
}

func (r *intentRepo) Record(ctx context.Context, rec types.IntentRecord) error {
	if _, err := r.Lookup(ctx, rec.IntentID); err == nil {
		return store.ErrDuplicateIntent
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	m := model.IntentRecordModel{
		IntentID:   rec.IntentID,
		Symbol:     rec.Symbol,
		Side:       string(rec.Side),
		Status:     string(rec.Status),
		Reason:     string(rec.Reason),
		RiskAmount: rec.RiskAmount,
		RecordedAt: rec.RecordedAt,
		Payload:    datatypes.JSON(rec.Payload),
		Emitted:    rec.Emitted,
	}
	err := r.db.WithContext(ctx).Create(&m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return store.ErrDuplicateIntent
	}
	return err
}

func (r *intentRepo) MarkEmitted(ctx context.Context, intentID string) error {
	res := r.db.WithContext(ctx).Model(&model.IntentRecordModel{}).
		Where("intent_id = ?", intentID).
		Update("emitted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *intentRepo) ListRecent(ctx context.Context, limit int) ([]types.IntentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []model.IntentRecordModel
	if err := r.db.WithContext(ctx).Order("recorded_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.IntentRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, intentFromModel(m))
	}
	return out, nil
}

func intentFromModel(m model.IntentRecordModel) types.IntentRecord {
	return types.IntentRecord{
		IntentID:   m.IntentID,
		Symbol:     m.Symbol,
		Side:       types.Side(m.Side),
		Status:     types.IntentStatus(m.Status),
		Reason:     types.RejectReason(m.Reason),
		RiskAmount: m.RiskAmount,
		RecordedAt: m.RecordedAt,
		Payload:    json.RawMessage(m.Payload),
		Emitted:    m.Emitted,
	}
}
