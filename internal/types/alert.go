package types

import "time"

// RejectReason 是风控拒绝的原因码。
type RejectReason string

const (
	ReasonPriceUnavailable    RejectReason = "PriceUnavailable"
	ReasonRiskBudgetExceeded  RejectReason = "RiskBudgetExceeded"
	ReasonConcurrencyConflict RejectReason = "ConcurrencyConflict"
	// ReasonDailyLossLimit 表示当日（UTC）已实现亏损达到 risk.daily_loss_limit，当天不再开新仓。
	ReasonDailyLossLimit RejectReason = "DailyLossLimit"
)

// RiskAlert 发布到 risk-alerts，描述一次被拒绝的交易意图。
type RiskAlert struct {
	IntentID        string       `json:"intent_id"`
	Symbol          string       `json:"symbol"`
	Side            Side         `json:"side"`
	Reason          RejectReason `json:"reason"`
	AttemptedRisk   float64      `json:"attempted_risk"`
	AvailableBudget float64      `json:"available_budget"`
	Detail          string       `json:"detail,omitempty"`
	RaisedAt        time.Time    `json:"raised_at"`
}

// ParamChange 记录一次优化中单个参数的变化。
type ParamChange struct {
	Parameter string  `json:"parameter"`
	Old       float64 `json:"old"`
	New       float64 `json:"new"`
}

// PerformanceMetrics 是优化器在回看窗口内统计的绩效。
type PerformanceMetrics struct {
	Trades          int     `json:"trades"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`
	TotalPnL        float64 `json:"total_pnl"`
	AvgPnL          float64 `json:"avg_pnl"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	AvgRMultiple    float64 `json:"avg_r_multiple"`
	SmoothedR       float64 `json:"smoothed_r"`
	TrailingWins    int     `json:"trailing_wins"`
	TrailingLosses  int     `json:"trailing_losses"`
	LookbackSeconds int64   `json:"lookback_seconds"`
}

// OptimizationAlert 发布到 optimization-alerts，说明新版本参数的由来。
type OptimizationAlert struct {
	Version         int64              `json:"version"`
	PreviousVersion int64              `json:"previous_version"`
	Changes         []ParamChange      `json:"changes"`
	Rationale       string             `json:"rationale"`
	Metrics         PerformanceMetrics `json:"metrics"`
	PublishedAt     time.Time          `json:"published_at"`
}
