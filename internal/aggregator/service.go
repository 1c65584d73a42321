package aggregator

import (
	"context"
	"errors"
	"time"

	"aegis/internal/bus"
	"aegis/internal/metrics"
	"aegis/internal/types"
)

// Sink 接收融合结果（进程内直连决策引擎，不经过消息通道）。
type Sink interface {
	OnAggregate(ctx context.Context, agg types.AggregatedSignal) error
}

type SinkFunc func(ctx context.Context, agg types.AggregatedSignal) error

func (f SinkFunc) OnAggregate(ctx context.Context, agg types.AggregatedSignal) error { return f(ctx, agg) }

// Service 订阅原始信号主题，驱动 Aggregator 并定期清理过期信号。
type Service struct {
	agg        *Aggregator
	sink       Sink
	topics     map[string]types.SignalSource
	sweepEvery time.Duration
}

// NewService 的 topics 把主题映射到默认来源，消息缺少 source 时以主题推断。
func NewService(agg *Aggregator, sink Sink, topics map[string]types.SignalSource, sweepEvery time.Duration) *Service {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	return &Service{agg: agg, sink: sink, topics: topics, sweepEvery: sweepEvery}
}

func (s *Service) Aggregator() *Aggregator { return s.agg }

// Routes 为每个信号主题生成一个路由。
func (s *Service) Routes() []bus.Route {
	routes := make([]bus.Route, 0, len(s.topics))
	for topic := range s.topics {
		routes = append(routes, bus.RouteFunc{Name: topic, Fn: s.Handle})
	}
	return routes
}

// Handle 处理一条原始信号消息。
func (s *Service) Handle(ctx context.Context, msg bus.Message) error {
	var sig types.MarketSignal
	if err := bus.Decode(msg, &sig); err != nil {
		return err
	}
	if sig.Source == "" {
		sig.Source = s.topics[msg.Topic]
	}
	agg, ok, err := s.agg.Ingest(sig)
	if errors.Is(err, types.ErrStaleSignal) {
		log.Debugf("丢弃过期信号: %v", err)
		return nil
	}
	if err != nil {
		return bus.Permanent(err)
	}
	if !ok {
		return nil
	}
	metrics.AggregatesPublished.Inc()
	log.Debugf("融合 %s score=%.4f conf=%.4f sources=%v", agg.Symbol, agg.Score, agg.Confidence, agg.Sources)
	if s.sink == nil {
		return nil
	}
	return s.sink.OnAggregate(ctx, agg)
}

// Run 周期性清理过期信号，直到 ctx 取消。
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.agg.Sweep(now)
		}
	}
}
