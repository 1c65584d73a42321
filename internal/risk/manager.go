// Package risk 对交易意图做预算校验与仓位计算，并通过比较并交换维护组合状态。
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aegis/internal/bus"
	"aegis/internal/logger"
	"aegis/internal/metrics"
	"aegis/internal/store"
	"aegis/internal/types"
)

var log = logger.For("risk")

// Status 是一次评估的结果。
type Status string

const (
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusDuplicate Status = "duplicate"
	StatusStale     Status = "stale"
)

// Outcome 描述一次评估；Trade 与 Alert 至多一个非空。
// Replayed 表示结果取自台账中尚未发布的终态，而不是本次重新评估。
type Outcome struct {
	Status   Status
	Trade    *types.ApprovedTrade
	Alert    *types.RiskAlert
	Replayed bool
}

// Topics 是风控发布结果的主题。
type Topics struct {
	Approved string
	Alerts   string
}

type Options struct {
	ExecutionSLA  time.Duration
	MaxCASRetries int
	// DailyLossLimit 是当日（UTC）已实现亏损的上限（计价货币），0 表示不限制。
	DailyLossLimit float64
}

// Manager 是风控状态机：Received → Evaluated → Approved | Rejected。
type Manager struct {
	store     store.Store
	prices    PriceSource
	publisher bus.Publisher
	topics    Topics
	opts      Options
	nowFn     func() time.Time
}

func NewManager(st store.Store, prices PriceSource, publisher bus.Publisher, topics Topics, opts Options) *Manager {
	if opts.MaxCASRetries <= 0 {
		opts.MaxCASRetries = 5
	}
	return &Manager{
		store:     st,
		prices:    prices,
		publisher: publisher,
		topics:    topics,
		opts:      opts,
		nowFn:     time.Now,
	}
}

// HandleIntent 评估意图并发布结果；重复与过期意图不产生任何输出。
func (m *Manager) HandleIntent(ctx context.Context, intent types.TradeIntent) error {
	out, err := m.Evaluate(ctx, intent)
	if err != nil {
		return err
	}
	switch out.Status {
	case StatusApproved:
		return m.emit(ctx, intent.IntentID, m.topics.Approved, out.Trade.Symbol, out.Trade)
	case StatusRejected:
		return m.emit(ctx, intent.IntentID, m.topics.Alerts, out.Alert.Symbol, out.Alert)
	default:
		return nil
	}
}

// emit 发布终态并在台账上标记已发布。
//
// 发布器耗尽重试（ErrPublishFailure）时消息已写入死信，不再向上返回；
// 其余错误（例如 ctx 取消）原样返回，重投时 Evaluate 会从台账重放同一结果。
func (m *Manager) emit(ctx context.Context, intentID, topic, key string, payload any) error {
	err := bus.PublishJSON(ctx, m.publisher, topic, key, payload)
	if errors.Is(err, types.ErrPublishFailure) {
		log.Errorf("风控结果发布失败 topic=%s key=%s: %v", topic, key, err)
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.store.Intents().MarkEmitted(ctx, intentID); err != nil {
		log.Warnf("标记意图 %s 已发布失败: %v", intentID, err)
	}
	return nil
}

// Evaluate 执行评估并提交状态，但不发布消息。
func (m *Manager) Evaluate(ctx context.Context, intent types.TradeIntent) (Outcome, error) {
	if err := intent.Validate(); err != nil {
		return Outcome{}, bus.Permanent(err)
	}
	// 已有终态的意图先于 SLA 检查：决策早已做出，只可能需要补发。
	if rec, found, err := m.lookup(ctx, intent.IntentID); err != nil {
		return Outcome{}, err
	} else if found {
		return m.replay(intent, rec)
	}
	now := m.nowFn().UTC()
	if sla := m.opts.ExecutionSLA; sla > 0 && now.Sub(intent.GeneratedAt) > sla {
		log.Debugf("%v: %s age=%s sla=%s", types.ErrStaleIntent, intent.IntentID, now.Sub(intent.GeneratedAt).Truncate(time.Millisecond), sla)
		metrics.RiskDecisions.WithLabelValues(string(StatusStale), "").Inc()
		return Outcome{Status: StatusStale}, nil
	}

	cfg, err := m.store.Strategies().Latest(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load strategy config: %w", err)
	}

	price, err := m.prices.Price(WithReferencePrice(ctx, intent.Symbol, intent.ReferencePrice), intent.Symbol)
	if err != nil || price <= 0 {
		detail := fmt.Sprintf("price=%.8f", price)
		if err != nil {
			detail = err.Error()
		}
		return m.reject(ctx, intent, types.ReasonPriceUnavailable, 0, 0, detail, now)
	}

	var lastSizing Sizing
	for attempt := 0; attempt <= m.opts.MaxCASRetries; attempt++ {
		state, err := m.store.Portfolio().Load(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("load portfolio: %w", err)
		}
		if _, ok := state.Position(intent.IntentID); ok {
			return m.duplicate(intent), nil
		}
		sizing := ComputeSizing(state, cfg, intent.Side, price)
		lastSizing = sizing
		if limit := m.opts.DailyLossLimit; limit > 0 {
			if realized := state.RealizedToday(now); realized <= -limit {
				detail := fmt.Sprintf("realized_today=%.2f limit=%.2f day=%s", realized, -limit, state.PnLDay)
				return m.reject(ctx, intent, types.ReasonDailyLossLimit, sizing.Desired, sizing.Available, detail, now)
			}
		}
		if !sizing.Fits() {
			detail := fmt.Sprintf("reserved=%.2f total=%.2f max=%.4f", state.ReservedRisk, state.TotalValue, cfg.MaxPortfolioRisk)
			return m.reject(ctx, intent, types.ReasonRiskBudgetExceeded, sizing.Desired, sizing.Available, detail, now)
		}

		trade := types.ApprovedTrade{
			IntentID:        intent.IntentID,
			Symbol:          intent.Symbol,
			Side:            intent.Side,
			Quantity:        sizing.Quantity,
			EntryPrice:      price,
			StopLossPrice:   sizing.StopLoss,
			TakeProfitPrice: sizing.TakeProfit,
			RiskAmount:      sizing.Desired,
			ConfigVersion:   cfg.Version,
			ApprovedAt:      now,
		}
		committed, err := m.commitApproval(ctx, state, trade)
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.CASRetries.Inc()
			log.Debugf("CAS 冲突 intent=%s version=%d attempt=%d", intent.IntentID, state.Version, attempt+1)
			continue
		}
		if errors.Is(err, store.ErrDuplicateIntent) {
			return m.duplicate(intent), nil
		}
		if err != nil {
			return Outcome{}, err
		}
		metrics.RiskDecisions.WithLabelValues(string(StatusApproved), "").Inc()
		metrics.ReservedRisk.Set(committed.ReservedRisk)
		log.Infof("批准 %s %s %s qty=%.6f entry=%.4f sl=%.4f tp=%.4f risk=%.2f reserved=%.2f/%.2f",
			trade.IntentID, trade.Side, trade.Symbol, trade.Quantity, trade.EntryPrice, trade.StopLossPrice,
			trade.TakeProfitPrice, trade.RiskAmount, committed.ReservedRisk, cfg.MaxPortfolioRisk*committed.TotalValue)
		logger.Audit("risk", trade.IntentID, map[string]any{
			"status":   "APPROVED",
			"symbol":   trade.Symbol,
			"side":     trade.Side,
			"risk":     trade.RiskAmount,
			"quantity": trade.Quantity,
			"version":  committed.Version,
		})
		return Outcome{Status: StatusApproved, Trade: &trade}, nil
	}

	detail := fmt.Sprintf("compare-and-swap failed %d times", m.opts.MaxCASRetries+1)
	return m.reject(ctx, intent, types.ReasonConcurrencyConflict, lastSizing.Desired, lastSizing.Available, detail, now)
}

// commitApproval 在同一事务中写入持仓与台账。
func (m *Manager) commitApproval(ctx context.Context, state types.PortfolioState, trade types.ApprovedTrade) (types.PortfolioState, error) {
	uow, err := m.store.Begin(ctx)
	if err != nil {
		return types.PortfolioState{}, err
	}
	defer uow.Rollback()

	if _, err := uow.Intents().Lookup(ctx, trade.IntentID); err == nil {
		return types.PortfolioState{}, store.ErrDuplicateIntent
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.PortfolioState{}, err
	}

	next := reserve(state, types.Position{
		IntentID:   trade.IntentID,
		Symbol:     trade.Symbol,
		Side:       trade.Side,
		RiskAmount: trade.RiskAmount,
		Quantity:   trade.Quantity,
		EntryPrice: trade.EntryPrice,
		StopLoss:   trade.StopLossPrice,
		TakeProfit: trade.TakeProfitPrice,
		OpenedAt:   trade.ApprovedAt,
	})
	next.UpdatedAt = trade.ApprovedAt
	payload, err := json.Marshal(trade)
	if err != nil {
		return types.PortfolioState{}, fmt.Errorf("encode approved trade: %w", err)
	}
	if err := uow.Portfolio().CompareAndSwap(ctx, state.Version, next); err != nil {
		return types.PortfolioState{}, err
	}
	if err := uow.Intents().Record(ctx, types.IntentRecord{
		IntentID:   trade.IntentID,
		Symbol:     trade.Symbol,
		Side:       trade.Side,
		Status:     types.IntentApproved,
		RiskAmount: trade.RiskAmount,
		RecordedAt: trade.ApprovedAt,
		Payload:    payload,
	}); err != nil {
		return types.PortfolioState{}, err
	}
	if err := uow.Commit(); err != nil {
		return types.PortfolioState{}, err
	}
	next.Version = state.Version + 1
	return next, nil
}

// reject 记录终态并返回告警；组合状态不变。
func (m *Manager) reject(ctx context.Context, intent types.TradeIntent, reason types.RejectReason, attempted, available float64, detail string, now time.Time) (Outcome, error) {
	alert := types.RiskAlert{
		IntentID:        intent.IntentID,
		Symbol:          intent.Symbol,
		Side:            intent.Side,
		Reason:          reason,
		AttemptedRisk:   attempted,
		AvailableBudget: available,
		Detail:          detail,
		RaisedAt:        now,
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode risk alert: %w", err)
	}

	uow, err := m.store.Begin(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer uow.Rollback()
	err = uow.Intents().Record(ctx, types.IntentRecord{
		IntentID:   intent.IntentID,
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Status:     types.IntentRejected,
		Reason:     reason,
		RiskAmount: attempted,
		RecordedAt: now,
		Payload:    payload,
	})
	if errors.Is(err, store.ErrDuplicateIntent) {
		return m.duplicate(intent), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := uow.Commit(); err != nil {
		return Outcome{}, err
	}

	metrics.RiskDecisions.WithLabelValues(string(StatusRejected), string(reason)).Inc()
	log.Warnf("拒绝 %s %s %s reason=%s attempted=%.2f available=%.2f (%s)",
		intent.IntentID, intent.Side, intent.Symbol, reason, attempted, available, detail)
	logger.Audit("risk", intent.IntentID, map[string]any{
		"status":    "REJECTED",
		"reason":    reason,
		"symbol":    intent.Symbol,
		"attempted": attempted,
		"available": available,
	})
	return Outcome{Status: StatusRejected, Alert: &alert}, nil
}

func (m *Manager) lookup(ctx context.Context, intentID string) (types.IntentRecord, bool, error) {
	rec, err := m.store.Intents().Lookup(ctx, intentID)
	if err == nil {
		return rec, true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return types.IntentRecord{}, false, nil
	}
	return types.IntentRecord{}, false, fmt.Errorf("lookup intent ledger: %w", err)
}

// replay 对已发布的终态返回 duplicate；未发布的终态从台账取回原消息，交给 HandleIntent 补发。
func (m *Manager) replay(intent types.TradeIntent, rec types.IntentRecord) (Outcome, error) {
	if rec.Emitted || len(rec.Payload) == 0 {
		return m.duplicate(intent), nil
	}
	out := Outcome{Replayed: true}
	switch rec.Status {
	case types.IntentApproved:
		var trade types.ApprovedTrade
		if err := json.Unmarshal(rec.Payload, &trade); err != nil {
			return Outcome{}, bus.Permanent(fmt.Errorf("decode ledger payload %s: %w", rec.IntentID, err))
		}
		out.Status, out.Trade = StatusApproved, &trade
	case types.IntentRejected:
		var alert types.RiskAlert
		if err := json.Unmarshal(rec.Payload, &alert); err != nil {
			return Outcome{}, bus.Permanent(fmt.Errorf("decode ledger payload %s: %w", rec.IntentID, err))
		}
		out.Status, out.Alert = StatusRejected, &alert
	default:
		return m.duplicate(intent), nil
	}
	metrics.RiskDecisions.WithLabelValues("replayed", string(rec.Status)).Inc()
	log.Infof("意图 %s 的 %s 结果尚未发布，重放", rec.IntentID, rec.Status)
	return out, nil
}

func (m *Manager) duplicate(intent types.TradeIntent) Outcome {
	metrics.RiskDecisions.WithLabelValues(string(StatusDuplicate), "").Inc()
	log.Debugf("重复意图 %s，忽略", intent.IntentID)
	return Outcome{Status: StatusDuplicate}
}

// Release 处理已平仓回报：移除持仓、归还风险预算并计入盈亏。未知意图为空操作。
func (m *Manager) Release(ctx context.Context, rep types.TradeReport) (bool, error) {
	if !rep.Closed() || rep.IntentID == "" {
		return false, nil
	}
	for attempt := 0; attempt <= m.opts.MaxCASRetries; attempt++ {
		state, err := m.store.Portfolio().Load(ctx)
		if err != nil {
			return false, fmt.Errorf("load portfolio: %w", err)
		}
		pos, ok := state.Position(rep.IntentID)
		if !ok {
			log.Debugf("回报 %s 对应的意图 %s 没有持仓，忽略", rep.TradeID, rep.IntentID)
			return false, nil
		}
		now := m.nowFn().UTC()
		next := release(state, pos, rep.PnL(), now)
		next.UpdatedAt = now

		uow, err := m.store.Begin(ctx)
		if err != nil {
			return false, err
		}
		err = uow.Portfolio().CompareAndSwap(ctx, state.Version, next)
		if errors.Is(err, store.ErrVersionConflict) {
			_ = uow.Rollback()
			metrics.CASRetries.Inc()
			continue
		}
		if err != nil {
			_ = uow.Rollback()
			return false, err
		}
		if err := uow.Commit(); err != nil {
			return false, err
		}
		metrics.ReservedRisk.Set(next.ReservedRisk)
		log.Infof("释放 %s risk=%.2f pnl=%.2f reserved=%.2f total=%.2f daily_pnl=%.2f", rep.IntentID, pos.RiskAmount, rep.PnL(), next.ReservedRisk, next.TotalValue, next.DailyPnL)
		return true, nil
	}
	return false, fmt.Errorf("release %s: %w after %d attempts", rep.IntentID, store.ErrVersionConflict, m.opts.MaxCASRetries+1)
}
