package risk

import (
	"time"

	"aegis/internal/types"

	"github.com/shopspring/decimal"
)

// Sizing 是一次评估的预算与仓位计算结果。
type Sizing struct {
	Desired    float64
	Available  float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
}

// Fits 报告期望风险是否在剩余预算内。
func (s Sizing) Fits() bool {
	return decimal.NewFromFloat(s.Desired).LessThanOrEqual(decimal.NewFromFloat(s.Available))
}

// ComputeSizing 用十进制运算计算风险预算、数量与止盈止损价。
func ComputeSizing(state types.PortfolioState, cfg types.StrategyConfig, side types.Side, price float64) Sizing {
	total := decimal.NewFromFloat(state.TotalValue)
	desired := decimal.NewFromFloat(cfg.RiskPerTrade).Mul(total)
	available := decimal.NewFromFloat(cfg.MaxPortfolioRisk).Mul(total).Sub(decimal.NewFromFloat(state.ReservedRisk))

	p := decimal.NewFromFloat(price)
	one := decimal.NewFromInt(1)
	sl := decimal.NewFromFloat(cfg.StopLossPct(side))
	tp := decimal.NewFromFloat(cfg.TakeProfitPct(side))

	var stop, take decimal.Decimal
	if side == types.SideSell {
		stop = p.Mul(one.Add(sl))
		take = p.Mul(one.Sub(tp))
	} else {
		stop = p.Mul(one.Sub(sl))
		take = p.Mul(one.Add(tp))
	}

	qty := decimal.Zero
	if perUnit := p.Mul(sl); perUnit.IsPositive() {
		qty = desired.Div(perUnit)
	}
	if cfg.QuantityFraction > 0 && p.IsPositive() {
		capQty := decimal.NewFromFloat(cfg.QuantityFraction).Mul(total).Div(p)
		if qty.GreaterThan(capQty) {
			qty = capQty
		}
	}

	return Sizing{
		Desired:    desired.Round(8).InexactFloat64(),
		Available:  available.Round(8).InexactFloat64(),
		Quantity:   qty.Round(8).InexactFloat64(),
		StopLoss:   stop.Round(8).InexactFloat64(),
		TakeProfit: take.Round(8).InexactFloat64(),
	}
}

// reserve 返回预留了新持仓风险后的组合状态。
func reserve(state types.PortfolioState, pos types.Position) types.PortfolioState {
	next := state.Clone()
	next.Positions = append(next.Positions, pos)
	next.ReservedRisk = decimal.NewFromFloat(state.ReservedRisk).Add(decimal.NewFromFloat(pos.RiskAmount)).Round(8).InexactFloat64()
	return next
}

// release 返回移除持仓、归还风险并计入已实现盈亏后的组合状态；盈亏同时记入 at 所在 UTC 日。
//
// 亏损远大于持仓风险时 total_value 下降，reserved_risk 可能暂时高于 max_portfolio_risk × total_value；
// 此时可用预算为负，新意图一律以 RiskBudgetExceeded 拒绝，直到其余持仓释放。
func release(state types.PortfolioState, pos types.Position, pnl float64, at time.Time) types.PortfolioState {
	next := state.WithoutPosition(pos.IntentID)
	reserved := decimal.NewFromFloat(state.ReservedRisk).Sub(decimal.NewFromFloat(pos.RiskAmount))
	if reserved.IsNegative() {
		reserved = decimal.Zero
	}
	next.ReservedRisk = reserved.Round(8).InexactFloat64()
	next.TotalValue = decimal.NewFromFloat(state.TotalValue).Add(decimal.NewFromFloat(pnl)).Round(8).InexactFloat64()
	return next.BookPnL(pnl, at)
}
