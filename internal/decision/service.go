package decision

import (
	"context"
	"errors"
	"fmt"

	"aegis/internal/bus"
	"aegis/internal/logger"
	"aegis/internal/metrics"
	"aegis/internal/store"
	"aegis/internal/types"
)

var log = logger.For("decision")

// Service 读取最新策略与组合价值，对每个融合结果调用 Decide 并发布意图。
type Service struct {
	strategies store.StrategyConfigRepository
	portfolio  store.PortfolioRepository
	publisher  bus.Publisher
	topic      string
}

func NewService(strategies store.StrategyConfigRepository, portfolio store.PortfolioRepository, publisher bus.Publisher, topic string) *Service {
	return &Service{
		strategies: strategies,
		portfolio:  portfolio,
		publisher:  publisher,
		topic:      topic,
	}
}

// OnAggregate 实现 aggregator.Sink。
func (s *Service) OnAggregate(ctx context.Context, agg types.AggregatedSignal) error {
	cfg, err := s.strategies.Latest(ctx)
	if err != nil {
		return fmt.Errorf("load strategy config: %w", err)
	}
	value := 0.0
	state, err := s.portfolio.Load(ctx)
	switch {
	case err == nil:
		value = state.TotalValue
	case errors.Is(err, store.ErrNotFound):
		log.Warnf("组合状态尚未初始化，%s 不产生意图", agg.Symbol)
	default:
		return fmt.Errorf("load portfolio: %w", err)
	}

	intent, ok := Decide(agg, cfg, value)
	if !ok {
		log.Debugf("HOLD %s score=%.4f buy>=%.4f sell<=%.4f v%d", agg.Symbol, agg.Score, cfg.BuyThreshold, cfg.SellThreshold, cfg.Version)
		return nil
	}
	if err := bus.PublishJSON(ctx, s.publisher, s.topic, intent.Symbol, intent); err != nil {
		return err
	}
	metrics.IntentsEmitted.WithLabelValues(string(intent.Side)).Inc()
	log.Infof("意图 %s %s %s score=%.4f conf=%.4f v%d", intent.IntentID, intent.Side, intent.Symbol, intent.Score, intent.Confidence, intent.ConfigVersion)
	return nil
}
