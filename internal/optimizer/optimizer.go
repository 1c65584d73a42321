// Package optimizer 定期回看已平仓交易的绩效，并以有界步长发布新版本的策略参数。
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aegis/internal/bus"
	"aegis/internal/logger"
	"aegis/internal/metrics"
	"aegis/internal/scheduler"
	"aegis/internal/store"
	"aegis/internal/types"
)

var log = logger.For("optimizer")

type Options struct {
	Lookback   time.Duration
	MinSamples int
	EMAPeriod  int
}

// Result 描述一次优化运行；Published=false 时 Next 与 Previous 相同。
type Result struct {
	Published    bool
	Insufficient bool
	Regime       Regime
	Previous     types.StrategyConfig
	Next         types.StrategyConfig
	Metrics      types.PerformanceMetrics
	Alert        *types.OptimizationAlert
	Reason       string
}

type Optimizer struct {
	store     store.Store
	policy    Policy
	publisher bus.Publisher
	topic     string
	opts      Options

	runMu sync.Mutex
	nowFn func() time.Time
}

func New(st store.Store, policy Policy, publisher bus.Publisher, topic string, opts Options) *Optimizer {
	if opts.MinSamples <= 0 {
		opts.MinSamples = 1
	}
	return &Optimizer{
		store:     st,
		policy:    policy,
		publisher: publisher,
		topic:     topic,
		opts:      opts,
		nowFn:     time.Now,
	}
}

// Run 执行一次完整的优化周期。定时任务与手动触发共享同一把锁，不会并发执行。
func (o *Optimizer) Run(ctx context.Context) (Result, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	res, err := o.run(ctx)
	switch {
	case err != nil:
		metrics.OptimizerRuns.WithLabelValues("error").Inc()
	case res.Published:
		metrics.OptimizerRuns.WithLabelValues("published").Inc()
	case res.Insufficient:
		metrics.OptimizerRuns.WithLabelValues("insufficient_data").Inc()
	default:
		metrics.OptimizerRuns.WithLabelValues("unchanged").Inc()
	}
	return res, err
}

func (o *Optimizer) run(ctx context.Context) (Result, error) {
	now := o.nowFn().UTC()
	since := now.Add(-o.opts.Lookback)

	current, err := o.store.Strategies().Latest(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load strategy config: %w", err)
	}
	res := Result{Previous: current, Next: current, Regime: RegimeNeutral}

	reports, err := o.store.Reports().ListClosedSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("load trade reports since %s: %w", since.Format(time.RFC3339), err)
	}
	if len(reports) < o.opts.MinSamples {
		log.Infof("%v: %d closed trades since %s, need %d", types.ErrInsufficientData, len(reports), since.Format(time.RFC3339), o.opts.MinSamples)
		res.Insufficient = true
		res.Reason = types.ErrInsufficientData.Error()
		return res, nil
	}

	equityBase, err := o.equityBase(ctx, reports)
	if err != nil {
		return res, err
	}
	res.Metrics = ComputeMetrics(reports, equityBase, o.opts.EMAPeriod, o.opts.Lookback)

	proposal := o.policy.Propose(current, res.Metrics)
	res.Regime = proposal.Regime
	res.Reason = proposal.Rationale
	if len(proposal.Changes) == 0 {
		log.Infof("参数保持 v%d (%s)", current.Version, proposal.Rationale)
		return res, nil
	}

	next := proposal.Config
	next.Version = current.Version + 1
	next.EffectiveFrom = now
	next.Source = "optimizer:" + o.policy.Name()
	if err := o.store.Strategies().Publish(ctx, next); err != nil {
		return res, fmt.Errorf("publish strategy v%d: %w", next.Version, err)
	}
	res.Next = next
	res.Published = true
	metrics.StrategyVersion.Set(float64(next.Version))

	alert := types.OptimizationAlert{
		Version:         next.Version,
		PreviousVersion: current.Version,
		Changes:         proposal.Changes,
		Rationale:       proposal.Rationale,
		Metrics:         res.Metrics,
		PublishedAt:     now,
	}
	res.Alert = &alert
	log.Infof("发布策略参数 v%d → v%d: %s", current.Version, next.Version, proposal.Rationale)
	logger.Audit("optimizer", fmt.Sprintf("v%d", next.Version), map[string]any{
		"previous": current.Version,
		"regime":   proposal.Regime,
		"changes":  proposal.Changes,
		"trades":   res.Metrics.Trades,
	})
	if err := bus.PublishJSON(ctx, o.publisher, o.topic, fmt.Sprintf("v%d", next.Version), alert); err != nil {
		return res, fmt.Errorf("publish optimization alert v%d: %w", next.Version, err)
	}
	return res, nil
}

// equityBase 用当前净值减去窗口内已实现盈亏，近似窗口开始时的净值。
func (o *Optimizer) equityBase(ctx context.Context, reports []types.TradeReport) (float64, error) {
	state, err := o.store.Portfolio().Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load portfolio: %w", err)
	}
	base := state.TotalValue
	for _, rep := range reports {
		base -= rep.PnL()
	}
	return base, nil
}

// Schedule 按对齐的时间边界反复运行，直到 ctx 结束。
func (o *Optimizer) Schedule(ctx context.Context, sched *scheduler.AlignedScheduler) {
	sched.Run(ctx, func(ctx context.Context) {
		if _, err := o.Run(ctx); err != nil {
			log.Errorf("优化失败: %v", err)
		}
	})
}
