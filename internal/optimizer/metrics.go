package optimizer

import (
	"time"

	"aegis/internal/types"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// ComputeMetrics 按平仓时间顺序统计绩效；equityBase 为窗口开始时的组合净值。
func ComputeMetrics(reports []types.TradeReport, equityBase float64, emaPeriod int, lookback time.Duration) types.PerformanceMetrics {
	m := types.PerformanceMetrics{Trades: len(reports), LookbackSeconds: int64(lookback / time.Second)}
	if len(reports) == 0 {
		return m
	}

	total := decimal.Zero
	equity := decimal.NewFromFloat(equityBase)
	peak := equity
	maxDD := decimal.Zero
	maxDDPct := decimal.Zero
	rs := make([]float64, 0, len(reports))

	for _, rep := range reports {
		pnl := decimal.NewFromFloat(rep.PnL())
		switch {
		case pnl.IsPositive():
			m.Wins++
		case pnl.IsNegative():
			m.Losses++
		}
		total = total.Add(pnl)
		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(maxDD) {
			maxDD = dd
			if peak.IsPositive() {
				maxDDPct = dd.Div(peak)
			}
		}
		if r, ok := rep.RMultiple(); ok {
			rs = append(rs, r)
		}
	}

	n := decimal.NewFromInt(int64(len(reports)))
	m.WinRate = decimal.NewFromInt(int64(m.Wins)).Div(n).Round(6).InexactFloat64()
	m.TotalPnL = total.Round(8).InexactFloat64()
	m.AvgPnL = total.Div(n).Round(8).InexactFloat64()
	m.MaxDrawdown = maxDD.Round(8).InexactFloat64()
	m.MaxDrawdownPct = maxDDPct.Round(6).InexactFloat64()
	m.AvgRMultiple, m.SmoothedR = rStats(rs, emaPeriod)
	m.TrailingWins, m.TrailingLosses = trailingStreak(reports)
	return m
}

// rStats 返回 R 倍数的均值与 EMA；样本少于周期时按样本数计算。
func rStats(rs []float64, period int) (avg, ema float64) {
	if len(rs) == 0 {
		return 0, 0
	}
	sum := decimal.Zero
	for _, r := range rs {
		sum = sum.Add(decimal.NewFromFloat(r))
	}
	avg = sum.Div(decimal.NewFromInt(int64(len(rs)))).Round(6).InexactFloat64()
	if period > len(rs) {
		period = len(rs)
	}
	if period < 1 {
		period = 1
	}
	out := talib.Ema(rs, period)
	return avg, out[len(out)-1]
}

// trailingStreak 统计最近连续的盈利或亏损笔数，持平交易会中断连续。
func trailingStreak(reports []types.TradeReport) (wins, losses int) {
	for i := len(reports) - 1; i >= 0; i-- {
		pnl := reports[i].PnL()
		switch {
		case pnl > 0 && losses == 0:
			wins++
		case pnl < 0 && wins == 0:
			losses++
		default:
			return wins, losses
		}
	}
	return wins, losses
}
