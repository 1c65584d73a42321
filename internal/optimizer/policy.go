package optimizer

import (
	"fmt"
	"strings"

	"aegis/internal/config"
	"aegis/internal/types"

	"github.com/shopspring/decimal"
)

// Regime 是策略对当前绩效的判断。
type Regime string

const (
	RegimeTighten Regime = "tighten"
	RegimeLoosen  Regime = "loosen"
	RegimeNeutral Regime = "neutral"
)

// Proposal 是 Policy 给出的候选参数；Changes 为空表示维持现状。
type Proposal struct {
	Regime    Regime
	Config    types.StrategyConfig
	Changes   []types.ParamChange
	Rationale string
}

// Policy 根据绩效给出下一版参数。实现必须是纯函数。
type Policy interface {
	Name() string
	Propose(current types.StrategyConfig, m types.PerformanceMetrics) Proposal
}

// BoundedStep 在收紧/放松方向上把每个参数移动至多一个步长，并夹在安全区间内。
type BoundedStep struct {
	Steps  config.StepConfig
	Ranges config.RangesConfig
	Regime config.RegimeConfig
}

func NewBoundedStep(cfg config.OptimizerConfig) BoundedStep {
	return BoundedStep{Steps: cfg.Steps, Ranges: cfg.Ranges, Regime: cfg.Regime}
}

func (BoundedStep) Name() string { return "bounded_step" }

// tightenDirection 是收紧时各参数的移动方向：提高买入门槛、压低卖出门槛、降低风险。
var tightenDirection = map[string]int64{
	types.ParamBuyThreshold:     1,
	types.ParamSellThreshold:    -1,
	types.ParamRiskPerTrade:     -1,
	types.ParamMaxPortfolioRisk: -1,
}

func (p BoundedStep) Classify(m types.PerformanceMetrics) (Regime, string) {
	r := p.Regime
	if r.MaxDrawdownPct > 0 && m.MaxDrawdownPct > r.MaxDrawdownPct {
		return RegimeTighten, fmt.Sprintf("max drawdown %.2f%% exceeds %.2f%%", m.MaxDrawdownPct*100, r.MaxDrawdownPct*100)
	}
	if m.AvgPnL < 0 {
		if m.WinRate < r.LosingWinRate {
			return RegimeTighten, fmt.Sprintf("losing: avg pnl %.2f, win rate %.1f%% below %.1f%%", m.AvgPnL, m.WinRate*100, r.LosingWinRate*100)
		}
		if r.LossStreak > 0 && m.TrailingLosses >= r.LossStreak {
			return RegimeTighten, fmt.Sprintf("losing: avg pnl %.2f, %d consecutive losses", m.AvgPnL, m.TrailingLosses)
		}
	}
	if m.AvgPnL > 0 && m.WinRate >= r.WinningWinRate {
		return RegimeLoosen, fmt.Sprintf("winning: avg pnl %.2f, win rate %.1f%% at or above %.1f%%", m.AvgPnL, m.WinRate*100, r.WinningWinRate*100)
	}
	return RegimeNeutral, fmt.Sprintf("neutral: avg pnl %.2f, win rate %.1f%%", m.AvgPnL, m.WinRate*100)
}

func (p BoundedStep) Propose(current types.StrategyConfig, m types.PerformanceMetrics) Proposal {
	regime, why := p.Classify(m)
	out := Proposal{Regime: regime, Config: current, Rationale: why}
	if regime == RegimeNeutral {
		return out
	}
	sign := int64(1)
	if regime == RegimeLoosen {
		sign = -1
	}

	var moved []string
	for _, name := range types.TunableParams {
		old, _ := current.Param(name)
		step := decimal.NewFromFloat(p.Steps.StepFor(name)).Mul(decimal.NewFromInt(tightenDirection[name] * sign))
		next := decimal.NewFromFloat(old).Add(step)
		if rg, ok := p.Ranges.RangeFor(name); ok {
			next = clamp(next, rg)
		}
		v := next.Round(6).InexactFloat64()
		if decimal.NewFromFloat(v).Equal(decimal.NewFromFloat(old)) {
			continue
		}
		out.Config = out.Config.WithParam(name, v)
		out.Changes = append(out.Changes, types.ParamChange{Parameter: name, Old: old, New: v})
		moved = append(moved, name)
	}
	if len(moved) == 0 {
		out.Rationale = why + "; all parameters already at their bounds"
	} else {
		out.Rationale = fmt.Sprintf("%s; %s %s", why, regime, strings.Join(moved, ", "))
	}
	return out
}

func clamp(v decimal.Decimal, rg config.Range) decimal.Decimal {
	lo, hi := decimal.NewFromFloat(rg.Min), decimal.NewFromFloat(rg.Max)
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
