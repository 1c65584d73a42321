package aggregator

import (
	"sort"
	"time"

	"aegis/internal/types"
)

// signalCache 保存每个 (symbol, source) 最新的有效信号，非并发安全，由 Aggregator 加锁。
type signalCache struct {
	entries map[string]map[types.SignalSource]types.MarketSignal
}

func newSignalCache() *signalCache {
	return &signalCache{entries: make(map[string]map[types.SignalSource]types.MarketSignal)}
}

// put 写入信号；同一来源已有更新的信号时忽略，返回是否写入。
func (c *signalCache) put(sig types.MarketSignal) bool {
	bySource, ok := c.entries[sig.Symbol]
	if !ok {
		bySource = make(map[types.SignalSource]types.MarketSignal)
		c.entries[sig.Symbol] = bySource
	}
	if prev, ok := bySource[sig.Source]; ok && prev.Timestamp.After(sig.Timestamp) {
		return false
	}
	bySource[sig.Source] = sig
	return true
}

// live 先剔除 symbol 下的过期信号，再按来源名排序返回剩余信号。
func (c *signalCache) live(symbol string, now time.Time, ttl time.Duration) []types.MarketSignal {
	bySource := c.entries[symbol]
	out := make([]types.MarketSignal, 0, len(bySource))
	for src, sig := range bySource {
		if sig.ExpiredAt(now, ttl) {
			delete(bySource, src)
			continue
		}
		out = append(out, sig)
	}
	if len(bySource) == 0 {
		delete(c.entries, symbol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (c *signalCache) sweep(now time.Time, ttl time.Duration) int {
	evicted := 0
	for symbol, bySource := range c.entries {
		for src, sig := range bySource {
			if sig.ExpiredAt(now, ttl) {
				delete(bySource, src)
				evicted++
			}
		}
		if len(bySource) == 0 {
			delete(c.entries, symbol)
		}
	}
	return evicted
}

func (c *signalCache) symbols() []string {
	out := make([]string, 0, len(c.entries))
	for s := range c.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
