package config

import (
	"time"

	"aegis/internal/scheduler"
	"aegis/internal/types"
)

// StrategySeed 把种子参数转换为 version=1 的策略配置。
func (c *Config) StrategySeed() types.StrategyConfig {
	s := c.Strategy
	return types.StrategyConfig{
		Version:           1,
		BuyThreshold:      s.BuyThreshold,
		SellThreshold:     s.SellThreshold,
		RiskPerTrade:      s.RiskPerTrade,
		MaxPortfolioRisk:  s.MaxPortfolioRisk,
		StopLossPctBuy:    s.StopLossPctBuy,
		StopLossPctSell:   s.StopLossPctSell,
		TakeProfitPctBuy:  s.TakeProfitPctBuy,
		TakeProfitPctSell: s.TakeProfitPctSell,
		QuantityFraction:  s.QuantityFraction,
		Source:            "seed",
	}
}

// byParam 以可调参数名索引安全区间。
func (r RangesConfig) byParam() map[string]Range {
	return map[string]Range{
		types.ParamBuyThreshold:     r.BuyThreshold,
		types.ParamSellThreshold:    r.SellThreshold,
		types.ParamRiskPerTrade:     r.RiskPerTrade,
		types.ParamMaxPortfolioRisk: r.MaxPortfolioRisk,
	}
}

// RangeFor 返回参数的安全区间。
func (r RangesConfig) RangeFor(param string) (Range, bool) {
	rg, ok := r.byParam()[param]
	return rg, ok
}

// StepFor 返回参数单次允许的最大步长；买卖阈值共用同一步长。
func (s StepConfig) StepFor(param string) float64 {
	switch param {
	case types.ParamBuyThreshold, types.ParamSellThreshold:
		return s.Threshold
	case types.ParamRiskPerTrade:
		return s.RiskPerTrade
	case types.ParamMaxPortfolioRisk:
		return s.MaxPortfolioRisk
	default:
		return 0
	}
}

func (o OptimizerConfig) IntervalDuration() time.Duration {
	d, _ := scheduler.ParseIntervalDuration(o.Interval)
	return d
}

func (o OptimizerConfig) LookbackDuration() time.Duration {
	d, _ := scheduler.ParseIntervalDuration(o.Lookback)
	return d
}

func (o OptimizerConfig) Offset() time.Duration {
	return time.Duration(o.OffsetSeconds) * time.Second
}
