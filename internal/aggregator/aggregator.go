// Package aggregator 融合多个分析来源的评分，产出按 symbol 的 AggregatedSignal。
package aggregator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"aegis/internal/config"
	"aegis/internal/logger"
	"aegis/internal/metrics"
	"aegis/internal/pkg/symbol"
	"aegis/internal/types"
)

var log = logger.For("aggregator")

// Settings 是可热更新的聚合参数。
type Settings struct {
	Weighting Weighting
	SignalTTL time.Duration
}

// SettingsFromConfig 由配置构造默认的 ConfidenceWeighted 设置。
func SettingsFromConfig(cfg config.AggregatorConfig) Settings {
	weights := make(map[types.SignalSource]float64, len(cfg.Weights))
	for src, w := range cfg.Weights {
		weights[types.SignalSource(strings.ToLower(strings.TrimSpace(src)))] = w
	}
	return Settings{
		Weighting: ConfidenceWeighted{
			Weights:             weights,
			SingleSourcePenalty: cfg.SingleSourcePenalty,
		},
		SignalTTL: cfg.SignalTTL(),
	}
}

// Aggregator 维护信号缓存并在每次接收信号时重新计算融合结果。
type Aggregator struct {
	mu       sync.Mutex
	cache    *signalCache
	settings Settings
	nowFn    func() time.Time
}

func New(settings Settings) *Aggregator {
	if settings.Weighting == nil {
		settings.Weighting = ConfidenceWeighted{}
	}
	return &Aggregator{
		cache:    newSignalCache(),
		settings: settings,
		nowFn:    time.Now,
	}
}

// Reconfigure 替换权重与有效期，已缓存的信号保留。
func (a *Aggregator) Reconfigure(settings Settings) {
	if settings.Weighting == nil {
		return
	}
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	log.Infof("聚合参数已更新: weighting=%s ttl=%s", settings.Weighting.Name(), settings.SignalTTL)
}

// Ingest 接收一条原始信号。
// 返回 ErrMalformedMessage / ErrStaleSignal 表示信号被拒绝；ok=false 表示当前没有可输出的融合结果。
func (a *Aggregator) Ingest(sig types.MarketSignal) (types.AggregatedSignal, bool, error) {
	sig.Symbol = symbol.Canonical(sig.Symbol)
	sig.Source = types.SignalSource(strings.ToLower(strings.TrimSpace(string(sig.Source))))
	if err := sig.Validate(); err != nil {
		metrics.SignalsDropped.WithLabelValues("malformed").Inc()
		return types.AggregatedSignal{}, false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.nowFn()
	ttl := a.settings.SignalTTL
	if sig.ExpiredAt(now, ttl) {
		metrics.SignalsDropped.WithLabelValues("stale").Inc()
		return types.AggregatedSignal{}, false, fmt.Errorf("%w: %s/%s age=%s", types.ErrStaleSignal, sig.Symbol, sig.Source, now.Sub(sig.Timestamp).Truncate(time.Millisecond))
	}
	if !a.cache.put(sig) {
		metrics.SignalsDropped.WithLabelValues("superseded").Inc()
		log.Debugf("忽略乱序信号 %s/%s ts=%s", sig.Symbol, sig.Source, sig.Timestamp.Format(time.RFC3339))
	} else {
		metrics.SignalsIngested.WithLabelValues(string(sig.Source)).Inc()
	}
	return a.compute(sig.Symbol, now)
}

// Current 返回 symbol 当前的融合结果（不接收新信号）。
func (a *Aggregator) Current(sym string) (types.AggregatedSignal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	agg, ok, _ := a.compute(symbol.Canonical(sym), a.nowFn())
	return agg, ok
}

func (a *Aggregator) compute(sym string, now time.Time) (types.AggregatedSignal, bool, error) {
	live := a.cache.live(sym, now, a.settings.SignalTTL)
	if len(live) == 0 {
		log.Debugf("%s 没有有效信号，跳过", sym)
		return types.AggregatedSignal{}, false, nil
	}
	score, confidence, ok := a.settings.Weighting.Combine(live)
	if !ok {
		log.Debugf("%s 的在线来源均未配置权重，跳过", sym)
		return types.AggregatedSignal{}, false, nil
	}
	agg := types.AggregatedSignal{
		Symbol:     sym,
		Score:      score,
		Confidence: confidence,
	}
	var priceAt time.Time
	for _, s := range live {
		agg.Sources = append(agg.Sources, s.Source)
		if s.Timestamp.After(agg.AsOf) {
			agg.AsOf = s.Timestamp
		}
		if s.Price > 0 && !s.Timestamp.Before(priceAt) {
			agg.Price = s.Price
			priceAt = s.Timestamp
		}
	}
	return agg, true, nil
}

// Sweep 淘汰全部过期信号，返回淘汰数量。
func (a *Aggregator) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.cache.sweep(now, a.settings.SignalTTL)
	if n > 0 {
		log.Debugf("清理过期信号 %d 条，剩余 symbol: %v", n, a.cache.symbols())
	}
	return n
}

// Symbols 返回当前缓存中的 symbol。
func (a *Aggregator) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache.symbols()
}
