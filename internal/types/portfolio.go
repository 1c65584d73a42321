package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// PortfolioStateID 是组合状态单例行的主键。
const PortfolioStateID = 1

// Position 是一笔已预留风险预算的持仓，以 intent_id 为键。
type Position struct {
	IntentID   string    `json:"intent_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	RiskAmount float64   `json:"risk_amount"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	OpenedAt   time.Time `json:"opened_at"`
}

// PortfolioState 是组合的单例状态，只能通过比较并交换（version）修改。
type PortfolioState struct {
	Version      int64      `json:"version"`
	TotalValue   float64    `json:"total_value"`
	ReservedRisk float64    `json:"reserved_risk"`
	Positions    []Position `json:"positions"`
	// DailyPnL 是 PnLDay（UTC 日期，YYYY-MM-DD）当天已实现的盈亏，跨日后从零开始。
	DailyPnL  float64   `json:"daily_pnl"`
	PnLDay    string    `json:"pnl_day,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PnLDayLayout 是 PnLDay 的日期格式。
const PnLDayLayout = "2006-01-02"

// RealizedToday 返回 now 所在 UTC 日已实现的盈亏；状态记录的是更早的日期时为 0。
func (p PortfolioState) RealizedToday(now time.Time) float64 {
	if p.PnLDay != now.UTC().Format(PnLDayLayout) {
		return 0
	}
	return p.DailyPnL
}

// BookPnL 把一笔已实现盈亏计入 at 所在 UTC 日。
func (p PortfolioState) BookPnL(pnl float64, at time.Time) PortfolioState {
	out := p
	day := at.UTC().Format(PnLDayLayout)
	if out.PnLDay != day {
		out.PnLDay = day
		out.DailyPnL = 0
	}
	out.DailyPnL += pnl
	return out
}

// Clone 深拷贝 positions，避免调用方修改共享切片。
func (p PortfolioState) Clone() PortfolioState {
	out := p
	if p.Positions != nil {
		out.Positions = make([]Position, len(p.Positions))
		copy(out.Positions, p.Positions)
	}
	return out
}

func (p PortfolioState) Position(intentID string) (Position, bool) {
	for _, pos := range p.Positions {
		if pos.IntentID == intentID {
			return pos, true
		}
	}
	return Position{}, false
}

// WithoutPosition 返回移除指定持仓后的副本。
func (p PortfolioState) WithoutPosition(intentID string) PortfolioState {
	out := p.Clone()
	kept := out.Positions[:0]
	for _, pos := range out.Positions {
		if pos.IntentID != intentID {
			kept = append(kept, pos)
		}
	}
	out.Positions = kept
	return out
}

// positionRiskTolerance 吸收浮点累加的舍入误差。
const positionRiskTolerance = 1e-6

// CheckInvariant 校验持仓风险之和等于 reserved_risk。
func (p PortfolioState) CheckInvariant() error {
	sum := 0.0
	seen := make(map[string]struct{}, len(p.Positions))
	for _, pos := range p.Positions {
		if _, dup := seen[pos.IntentID]; dup {
			return fmt.Errorf("portfolio v%d: duplicate position for intent %s", p.Version, pos.IntentID)
		}
		seen[pos.IntentID] = struct{}{}
		sum += pos.RiskAmount
	}
	if math.Abs(sum-p.ReservedRisk) > positionRiskTolerance {
		return fmt.Errorf("portfolio v%d: reserved_risk %.8f != sum of positions %.8f", p.Version, p.ReservedRisk, sum)
	}
	if p.ReservedRisk < -positionRiskTolerance {
		return fmt.Errorf("portfolio v%d: negative reserved_risk %.8f", p.Version, p.ReservedRisk)
	}
	return nil
}

// IntentStatus 是意图在风控状态机中的终态。
type IntentStatus string

const (
	IntentApproved IntentStatus = "APPROVED"
	IntentRejected IntentStatus = "REJECTED"
)

// IntentRecord 是意图台账中的一行，保证同一 intent_id 只处理一次。
type IntentRecord struct {
	IntentID   string       `json:"intent_id"`
	Symbol     string       `json:"symbol"`
	Side       Side         `json:"side"`
	Status     IntentStatus `json:"status"`
	Reason     RejectReason `json:"reason,omitempty"`
	RiskAmount float64      `json:"risk_amount"`
	RecordedAt time.Time    `json:"recorded_at"`
	// Payload 是该终态对应的出站消息（ApprovedTrade 或 RiskAlert 的 JSON）。
	Payload json.RawMessage `json:"payload,omitempty"`
	// Emitted 在 Payload 成功发布后置位；未置位的记录在重投时会重新发布。
	Emitted bool `json:"emitted"`
}
