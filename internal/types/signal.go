package types

import (
	"fmt"
	"strings"
	"time"
)

// SignalSource 标识原始信号的来源分析模块。
type SignalSource string

const (
	SourceCoinSelection SignalSource = "coin-selection"
	SourceOrderBook     SignalSource = "order-book"
)

// KnownSources 是聚合器默认识别的来源。
var KnownSources = []SignalSource{SourceCoinSelection, SourceOrderBook}

func (s SignalSource) Valid() bool {
	switch s {
	case SourceCoinSelection, SourceOrderBook:
		return true
	default:
		return false
	}
}

// MarketSignal 是上游分析模块发布的单条评分。
type MarketSignal struct {
	Symbol     string       `json:"symbol"`
	Source     SignalSource `json:"source"`
	Score      float64      `json:"score"`
	Confidence float64      `json:"confidence"`
	Timestamp  time.Time    `json:"timestamp"`
	// TTLMs 覆盖配置中的默认有效期，0 表示使用默认值。
	TTLMs int64 `json:"ttl_ms,omitempty"`
	// Price 为产生信号时的参考价格（coin-selection 会携带）。
	Price float64 `json:"price,omitempty"`
}

// TTL 返回信号有效期，fallback 为配置默认值。
func (s MarketSignal) TTL(fallback time.Duration) time.Duration {
	if s.TTLMs > 0 {
		return time.Duration(s.TTLMs) * time.Millisecond
	}
	return fallback
}

// ExpiredAt 判断在 now 时刻信号是否已经过期。
func (s MarketSignal) ExpiredAt(now time.Time, fallback time.Duration) bool {
	ttl := s.TTL(fallback)
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.Timestamp) > ttl
}

// Validate 校验字段范围，不合法的信号按 MalformedMessage 处理。
func (s MarketSignal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: symbol is empty", ErrMalformedMessage)
	}
	if !s.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrMalformedMessage, s.Source)
	}
	if s.Score < -1 || s.Score > 1 {
		return fmt.Errorf("%w: score %.4f out of [-1,1]", ErrMalformedMessage, s.Score)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.4f out of [0,1]", ErrMalformedMessage, s.Confidence)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is zero", ErrMalformedMessage)
	}
	if s.Price < 0 {
		return fmt.Errorf("%w: negative price", ErrMalformedMessage)
	}
	return nil
}

// AggregatedSignal 是某个 symbol 在某一时刻的融合评分，只在内存中流转。
type AggregatedSignal struct {
	Symbol     string         `json:"symbol"`
	Score      float64        `json:"score"`
	Confidence float64        `json:"confidence"`
	Sources    []SignalSource `json:"sources"`
	AsOf       time.Time      `json:"as_of"`
	Price      float64        `json:"price,omitempty"`
}
