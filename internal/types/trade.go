package types

import (
	"fmt"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TradeIntent 是决策引擎发布到 trade-commands 的交易意图，尚未经过风控。
type TradeIntent struct {
	IntentID         string  `json:"intent_id"`
	Symbol           string  `json:"symbol"`
	Side             Side    `json:"side"`
	QuantityFraction float64 `json:"quantity_fraction"`
	Score            float64 `json:"score"`
	Confidence       float64 `json:"confidence"`
	ConfigVersion    int64   `json:"config_version"`
	// ReferencePrice 是融合信号携带的参考价格，价格链中的 intent 源会用到；0 表示没有。
	ReferencePrice float64   `json:"reference_price,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

func (t TradeIntent) Validate() error {
	if strings.TrimSpace(t.IntentID) == "" {
		return fmt.Errorf("%w: intent_id is empty", ErrMalformedMessage)
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("%w: symbol is empty", ErrMalformedMessage)
	}
	if !t.Side.Valid() {
		return fmt.Errorf("%w: invalid side %q", ErrMalformedMessage, t.Side)
	}
	if t.QuantityFraction < 0 || t.QuantityFraction > 1 {
		return fmt.Errorf("%w: quantity_fraction out of [0,1]", ErrMalformedMessage)
	}
	if t.ReferencePrice < 0 {
		return fmt.Errorf("%w: reference_price is negative", ErrMalformedMessage)
	}
	if t.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: generated_at is zero", ErrMalformedMessage)
	}
	return nil
}

// ApprovedTrade 是风控放行后发往执行层的指令。
type ApprovedTrade struct {
	IntentID        string    `json:"intent_id"`
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	Quantity        float64   `json:"quantity"`
	EntryPrice      float64   `json:"entry_price"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	RiskAmount      float64   `json:"risk_amount"`
	ConfigVersion   int64     `json:"config_version"`
	ApprovedAt      time.Time `json:"approved_at"`
}

// TradeReport 由执行层产生，closed_at 非空表示已平仓。
type TradeReport struct {
	TradeID     string     `json:"trade_id"`
	IntentID    string     `json:"intent_id,omitempty"`
	Symbol      string     `json:"symbol"`
	Side        Side       `json:"side"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   *float64   `json:"exit_price,omitempty"`
	Quantity    float64    `json:"quantity"`
	RealizedPnL *float64   `json:"realized_pnl,omitempty"`
	RiskAmount  float64    `json:"risk_amount,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

func (r TradeReport) Closed() bool {
	return r.ClosedAt != nil && !r.ClosedAt.IsZero()
}

// PnL 返回已实现盈亏，未平仓或缺失时为 0。
func (r TradeReport) PnL() float64 {
	if r.RealizedPnL == nil {
		return 0
	}
	return *r.RealizedPnL
}

// RMultiple 返回以风险金额计的收益倍数，风险未知时 ok=false。
func (r TradeReport) RMultiple() (float64, bool) {
	if r.RealizedPnL == nil || r.RiskAmount <= 0 {
		return 0, false
	}
	return *r.RealizedPnL / r.RiskAmount, true
}

func (r TradeReport) Validate() error {
	if strings.TrimSpace(r.TradeID) == "" {
		return fmt.Errorf("%w: trade_id is empty", ErrMalformedMessage)
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is empty", ErrMalformedMessage)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: invalid side %q", ErrMalformedMessage, r.Side)
	}
	if r.Closed() && r.RealizedPnL == nil {
		return fmt.Errorf("%w: closed report without realized_pnl", ErrMalformedMessage)
	}
	return nil
}
