// Package decision 把融合评分映射为交易意图；Decide 是无副作用的纯函数。
package decision

import (
	"fmt"

	"aegis/internal/types"

	"github.com/google/uuid"
)

// intentNamespace 是生成确定性 intent_id 的 UUIDv5 命名空间。
var intentNamespace = uuid.MustParse("6f1c2a4e-8d3b-5e7a-9c41-2b7d0e5f8a13")

// IntentID 由 (symbol, as_of, side, config version) 确定性地生成，重复投递得到相同 ID。
func IntentID(symbol string, asOfUnixNano int64, side types.Side, configVersion int64) string {
	name := fmt.Sprintf("%s|%d|%s|%d", symbol, asOfUnixNano, side, configVersion)
	return uuid.NewSHA1(intentNamespace, []byte(name)).String()
}

// Decide 按阈值判定方向（边界包含），HOLD 或组合价值非正时返回 ok=false。
func Decide(agg types.AggregatedSignal, cfg types.StrategyConfig, portfolioValue float64) (types.TradeIntent, bool) {
	if portfolioValue <= 0 || agg.Symbol == "" {
		return types.TradeIntent{}, false
	}
	var side types.Side
	switch {
	case agg.Score >= cfg.BuyThreshold:
		side = types.SideBuy
	case agg.Score <= cfg.SellThreshold:
		side = types.SideSell
	default:
		return types.TradeIntent{}, false
	}
	return types.TradeIntent{
		IntentID:         IntentID(agg.Symbol, agg.AsOf.UnixNano(), side, cfg.Version),
		Symbol:           agg.Symbol,
		Side:             side,
		QuantityFraction: cfg.QuantityFraction,
		Score:            agg.Score,
		Confidence:       agg.Confidence,
		ConfigVersion:    cfg.Version,
		ReferencePrice:   agg.Price,
		GeneratedAt:      agg.AsOf,
	}, true
}
