package types

import (
	"fmt"
	"time"
)

// 可被优化器调整的参数名。
const (
	ParamBuyThreshold     = "buy_threshold"
	ParamSellThreshold    = "sell_threshold"
	ParamRiskPerTrade     = "risk_per_trade"
	ParamMaxPortfolioRisk = "max_portfolio_risk"
)

// TunableParams 按固定顺序列出可调参数，保证变更记录稳定。
var TunableParams = []string{ParamBuyThreshold, ParamSellThreshold, ParamRiskPerTrade, ParamMaxPortfolioRisk}

// StrategyConfig 是一份不可变的策略参数快照，按 version 追加存储。
type StrategyConfig struct {
	Version           int64     `json:"version"`
	BuyThreshold      float64   `json:"buy_threshold"`
	SellThreshold     float64   `json:"sell_threshold"`
	RiskPerTrade      float64   `json:"risk_per_trade"`
	MaxPortfolioRisk  float64   `json:"max_portfolio_risk"`
	StopLossPctBuy    float64   `json:"stop_loss_pct_buy"`
	StopLossPctSell   float64   `json:"stop_loss_pct_sell"`
	TakeProfitPctBuy  float64   `json:"take_profit_pct_buy"`
	TakeProfitPctSell float64   `json:"take_profit_pct_sell"`
	QuantityFraction  float64   `json:"quantity_fraction"`
	EffectiveFrom     time.Time `json:"effective_from"`
	Source            string    `json:"source,omitempty"`
}

func (c StrategyConfig) StopLossPct(side Side) float64 {
	if side == SideSell {
		return c.StopLossPctSell
	}
	return c.StopLossPctBuy
}

func (c StrategyConfig) TakeProfitPct(side Side) float64 {
	if side == SideSell {
		return c.TakeProfitPctSell
	}
	return c.TakeProfitPctBuy
}

// Param 读取可调参数。
func (c StrategyConfig) Param(name string) (float64, bool) {
	switch name {
	case ParamBuyThreshold:
		return c.BuyThreshold, true
	case ParamSellThreshold:
		return c.SellThreshold, true
	case ParamRiskPerTrade:
		return c.RiskPerTrade, true
	case ParamMaxPortfolioRisk:
		return c.MaxPortfolioRisk, true
	default:
		return 0, false
	}
}

// WithParam 返回修改了单个参数的副本。
func (c StrategyConfig) WithParam(name string, v float64) StrategyConfig {
	switch name {
	case ParamBuyThreshold:
		c.BuyThreshold = v
	case ParamSellThreshold:
		c.SellThreshold = v
	case ParamRiskPerTrade:
		c.RiskPerTrade = v
	case ParamMaxPortfolioRisk:
		c.MaxPortfolioRisk = v
	}
	return c
}

// Validate 检查参数之间的基本约束。
func (c StrategyConfig) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("strategy config: version must be > 0")
	}
	if c.BuyThreshold <= c.SellThreshold {
		return fmt.Errorf("strategy config v%d: buy_threshold %.4f must be greater than sell_threshold %.4f", c.Version, c.BuyThreshold, c.SellThreshold)
	}
	if c.BuyThreshold > 1 || c.SellThreshold < -1 {
		return fmt.Errorf("strategy config v%d: thresholds must stay within [-1,1]", c.Version)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("strategy config v%d: risk_per_trade must be in (0,1]", c.Version)
	}
	if c.MaxPortfolioRisk <= 0 || c.MaxPortfolioRisk > 1 {
		return fmt.Errorf("strategy config v%d: max_portfolio_risk must be in (0,1]", c.Version)
	}
	for name, v := range map[string]float64{
		"stop_loss_pct_buy":    c.StopLossPctBuy,
		"stop_loss_pct_sell":   c.StopLossPctSell,
		"take_profit_pct_buy":  c.TakeProfitPctBuy,
		"take_profit_pct_sell": c.TakeProfitPctSell,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("strategy config v%d: %s must be in (0,1)", c.Version, name)
		}
	}
	if c.QuantityFraction < 0 || c.QuantityFraction > 1 {
		return fmt.Errorf("strategy config v%d: quantity_fraction must be in [0,1]", c.Version)
	}
	return nil
}
