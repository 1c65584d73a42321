package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aegis/internal/bus"
	"aegis/internal/pkg/symbol"
	"aegis/internal/types"
)

// ErrNoPrice 表示价格源没有该 symbol 的可用价格。
var ErrNoPrice = errors.New("price unavailable")

// PriceSource 提供用于仓位计算的参考价格。
type PriceSource interface {
	Name() string
	Price(ctx context.Context, symbol string) (float64, error)
}

// StaticPrices 来自配置文件的固定价格表，主要用于测试与模拟盘。
type StaticPrices map[string]float64

func (s StaticPrices) Name() string { return "static" }

func (s StaticPrices) Price(ctx context.Context, sym string) (float64, error) {
	if p, ok := s[symbol.Canonical(sym)]; ok && p > 0 {
		return p, nil
	}
	return 0, fmt.Errorf("%w: %s not in static prices", ErrNoPrice, sym)
}

type bookEntry struct {
	price float64
	at    time.Time
}

// SignalPriceBook 记录各 symbol 最近一次信号携带的价格，超过 ttl 视为不可用。
type SignalPriceBook struct {
	mu     sync.RWMutex
	ttl    time.Duration
	prices map[string]bookEntry
	nowFn  func() time.Time
}

func NewSignalPriceBook(ttl time.Duration) *SignalPriceBook {
	return &SignalPriceBook{ttl: ttl, prices: make(map[string]bookEntry), nowFn: time.Now}
}

func (b *SignalPriceBook) Name() string { return "signals" }

// Observe 用信号中的价格更新价格簿，旧时间戳不会覆盖新的。
func (b *SignalPriceBook) Observe(sig types.MarketSignal) {
	if sig.Price <= 0 || sig.Symbol == "" {
		return
	}
	sym := symbol.Canonical(sig.Symbol)
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.prices[sym]; ok && prev.at.After(sig.Timestamp) {
		return
	}
	b.prices[sym] = bookEntry{price: sig.Price, at: sig.Timestamp}
}

func (b *SignalPriceBook) Price(ctx context.Context, sym string) (float64, error) {
	sym = symbol.Canonical(sym)
	b.mu.RLock()
	e, ok := b.prices[sym]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: no signal price for %s", ErrNoPrice, sym)
	}
	if b.ttl > 0 && b.nowFn().Sub(e.at) > b.ttl {
		return 0, fmt.Errorf("%w: signal price for %s is stale", ErrNoPrice, sym)
	}
	return e.price, nil
}

// Handle 消费原始信号主题，只取价格字段。
func (b *SignalPriceBook) Handle(ctx context.Context, msg bus.Message) error {
	var sig types.MarketSignal
	if err := bus.Decode(msg, &sig); err != nil {
		return err
	}
	b.Observe(sig)
	return nil
}

type referencePriceKey struct{}

type referencePrice struct {
	symbol string
	price  float64
}

// WithReferencePrice 把意图携带的参考价格挂到 ctx 上，供 IntentReference 读取。
func WithReferencePrice(ctx context.Context, sym string, price float64) context.Context {
	if price <= 0 {
		return ctx
	}
	return context.WithValue(ctx, referencePriceKey{}, referencePrice{symbol: symbol.Canonical(sym), price: price})
}

// IntentReference 返回正在评估的意图自带的参考价格（来自融合信号），
// 与价格簿不同，它不依赖另一个消费组先看到原始信号。
type IntentReference struct{}

func (IntentReference) Name() string { return "intent" }

func (IntentReference) Price(ctx context.Context, sym string) (float64, error) {
	ref, ok := ctx.Value(referencePriceKey{}).(referencePrice)
	if !ok || ref.symbol != symbol.Canonical(sym) {
		return 0, fmt.Errorf("%w: intent carries no reference price for %s", ErrNoPrice, sym)
	}
	return ref.price, nil
}

// PriceChain 依次询问各价格源，返回第一个有效价格。
type PriceChain []PriceSource

func (c PriceChain) Name() string {
	names := make([]string, 0, len(c))
	for _, s := range c {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

func (c PriceChain) Price(ctx context.Context, sym string) (float64, error) {
	var errs []error
	for _, src := range c {
		p, err := src.Price(ctx, sym)
		if err == nil && p > 0 {
			return p, nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned non-positive price %.8f", src.Name(), p)
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return 0, fmt.Errorf("%w: no price source configured", ErrNoPrice)
	}
	return 0, fmt.Errorf("%w: %w", ErrNoPrice, errors.Join(errs...))
}
