// Package notify 把风控告警、调参告警与平仓回报渲染成结构化消息推送出去。
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aegis/internal/bus"
	"aegis/internal/gateway/notifier"
	"aegis/internal/logger"
	"aegis/internal/types"
)

var log = logger.For("notify")

type Topics struct {
	RiskAlerts         string
	OptimizationAlerts string
	TradeReports       string
}

// Forwarder 订阅告警主题并转发到 TextNotifier。
type Forwarder struct {
	out    notifier.TextNotifier
	topics Topics
}

func NewForwarder(out notifier.TextNotifier, topics Topics) *Forwarder {
	if out == nil {
		out = notifier.LogNotifier{}
	}
	return &Forwarder{out: out, topics: topics}
}

func (f *Forwarder) Routes() []bus.Route {
	var routes []bus.Route
	if f.topics.RiskAlerts != "" {
		routes = append(routes, bus.RouteFunc{Name: f.topics.RiskAlerts, Fn: f.handleRiskAlert})
	}
	if f.topics.OptimizationAlerts != "" {
		routes = append(routes, bus.RouteFunc{Name: f.topics.OptimizationAlerts, Fn: f.handleOptimization})
	}
	if f.topics.TradeReports != "" {
		routes = append(routes, bus.RouteFunc{Name: f.topics.TradeReports, Fn: f.handleReport})
	}
	return routes
}

func (f *Forwarder) handleRiskAlert(ctx context.Context, msg bus.Message) error {
	var alert types.RiskAlert
	if err := bus.Decode(msg, &alert); err != nil {
		return err
	}
	return f.send(ctx, RiskAlertMessage(alert))
}

func (f *Forwarder) handleOptimization(ctx context.Context, msg bus.Message) error {
	var alert types.OptimizationAlert
	if err := bus.Decode(msg, &alert); err != nil {
		return err
	}
	return f.send(ctx, OptimizationMessage(alert))
}

// handleReport 只转发已平仓回报。
func (f *Forwarder) handleReport(ctx context.Context, msg bus.Message) error {
	var rep types.TradeReport
	if err := bus.Decode(msg, &rep); err != nil {
		return err
	}
	if !rep.Closed() {
		return nil
	}
	return f.send(ctx, ClosedTradeMessage(rep))
}

func (f *Forwarder) send(ctx context.Context, msg notifier.StructuredMessage) error {
	log.Debugf("%s", msg.RenderPlain())
	if err := f.out.SendText(ctx, msg.RenderMarkdown()); err != nil {
		return fmt.Errorf("notify %q: %w", msg.Title, err)
	}
	return nil
}

func RiskAlertMessage(a types.RiskAlert) notifier.StructuredMessage {
	lines := []string{
		fmt.Sprintf("%s %s", a.Side, a.Symbol),
		fmt.Sprintf("intent: %s", a.IntentID),
	}
	budget := []string{
		fmt.Sprintf("尝试风险: %.2f", a.AttemptedRisk),
		fmt.Sprintf("可用预算: %.2f", a.AvailableBudget),
	}
	return notifier.StructuredMessage{
		Icon:  "⛔",
		Title: "风控拒绝 " + string(a.Reason),
		Sections: []notifier.MessageSection{
			{Title: "意图", Lines: lines},
			{Title: "预算", Lines: budget},
			{Title: "详情", Lines: []string{a.Detail}},
		},
		Timestamp: a.RaisedAt,
	}
}

func OptimizationMessage(a types.OptimizationAlert) notifier.StructuredMessage {
	changes := make([]string, 0, len(a.Changes))
	for _, c := range a.Changes {
		changes = append(changes, fmt.Sprintf("%s: %.4f → %.4f", c.Parameter, c.Old, c.New))
	}
	m := a.Metrics
	stats := []string{
		fmt.Sprintf("交易 %d 胜率 %.1f%%", m.Trades, m.WinRate*100),
		fmt.Sprintf("总盈亏 %.2f 平均 %.2f", m.TotalPnL, m.AvgPnL),
		fmt.Sprintf("最大回撤 %.2f (%.1f%%)", m.MaxDrawdown, m.MaxDrawdownPct*100),
		fmt.Sprintf("平均R %.2f EMA(R) %.2f", m.AvgRMultiple, m.SmoothedR),
	}
	return notifier.StructuredMessage{
		Icon:  "🛠",
		Title: fmt.Sprintf("策略参数 v%d → v%d", a.PreviousVersion, a.Version),
		Sections: []notifier.MessageSection{
			{Title: "调整", Lines: changes},
			{Title: "绩效", Lines: stats},
		},
		Footer:    a.Rationale,
		Timestamp: a.PublishedAt,
	}
}

func ClosedTradeMessage(r types.TradeReport) notifier.StructuredMessage {
	icon := "✅"
	if r.PnL() < 0 {
		icon = "❌"
	}
	lines := []string{
		fmt.Sprintf("%s %s qty=%.6f", r.Side, r.Symbol, r.Quantity),
		fmt.Sprintf("entry %.4f", r.EntryPrice),
	}
	if r.ExitPrice != nil {
		lines = append(lines, fmt.Sprintf("exit %.4f", *r.ExitPrice))
	}
	lines = append(lines, fmt.Sprintf("pnl %.2f", r.PnL()))
	if rm, ok := r.RMultiple(); ok {
		lines = append(lines, fmt.Sprintf("R %.2f", rm))
	}
	var held string
	if r.ClosedAt != nil && !r.OpenedAt.IsZero() {
		held = "持仓 " + r.ClosedAt.Sub(r.OpenedAt).Truncate(time.Second).String()
	}
	ts := time.Time{}
	if r.ClosedAt != nil {
		ts = *r.ClosedAt
	}
	return notifier.StructuredMessage{
		Icon:      icon,
		Title:     "平仓 " + strings.TrimSpace(r.TradeID),
		Sections:  []notifier.MessageSection{{Title: "成交", Lines: lines}},
		Footer:    held,
		Timestamp: ts,
	}
}
