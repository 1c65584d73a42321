package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"aegis/internal/config"
	"aegis/internal/store"
	"aegis/internal/types"
)

type StartupSummary struct {
	Env       string
	Roles     []string
	Bus       BusSummary
	Store     string
	Topics    map[string]string
	Strategy  types.StrategyConfig
	Portfolio types.PortfolioState
	Optimizer OptimizerSummary
}

type BusSummary struct {
	Driver        string
	Partitions    int
	MaxDeliveries int
	DeadLetters   string
}

type OptimizerSummary struct {
	Enabled    bool
	Interval   string
	Lookback   string
	MinSamples int
}

func buildSummary(ctx context.Context, cfg *config.Config, st store.Store) *StartupSummary {
	s := &StartupSummary{
		Env:   cfg.App.Env,
		Roles: append([]string(nil), cfg.App.Roles...),
		Bus: BusSummary{
			Driver:        cfg.Bus.Driver,
			Partitions:    cfg.Bus.Partitions,
			MaxDeliveries: cfg.Bus.MaxDeliveries,
			DeadLetters:   cfg.Bus.DeadLetterPath,
		},
		Store: cfg.Store.Driver,
		Topics: map[string]string{
			"order_book_signals":     cfg.Topics.OrderBookSignals,
			"coin_selection_signals": cfg.Topics.CoinSelectionSignals,
			"trade_commands":         cfg.Topics.TradeCommands,
			"final_trade_execution":  cfg.Topics.FinalTradeExecution,
			"risk_alerts":            cfg.Topics.RiskAlerts,
			"trade_reports":          cfg.Topics.TradeReports,
			"optimization_alerts":    cfg.Topics.OptimizationAlerts,
		},
		Optimizer: OptimizerSummary{
			Enabled:    cfg.Optimizer.Enabled,
			Interval:   cfg.Optimizer.Interval,
			Lookback:   cfg.Optimizer.Lookback,
			MinSamples: cfg.Optimizer.MinSamples,
		},
	}
	if cfg.Store.Driver == "sqlite" {
		s.Store += " (" + cfg.Store.Path + ")"
	}
	if cfg.Store.Driver == "memory" {
		s.Bus.DeadLetters = "memory"
	}
	if latest, err := st.Strategies().Latest(ctx); err == nil {
		s.Strategy = latest
	}
	if state, err := st.Portfolio().Load(ctx); err == nil {
		s.Portfolio = state
	}
	return s
}

func (s *StartupSummary) Print() {
	s.WriteTo(os.Stdout)
}

func (s *StartupSummary) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[运行角色 (ROLES)]\n")
	fmt.Fprintf(&b, "  环境: %s\n", s.Env)
	fmt.Fprintf(&b, "  角色: %s\n\n", formatList(s.Roles))

	b.WriteString("[消息与存储 (BUS & STORE)]\n")
	fmt.Fprintf(&b, "  总线: %s partitions=%d max_deliveries=%d\n", s.Bus.Driver, s.Bus.Partitions, s.Bus.MaxDeliveries)
	fmt.Fprintf(&b, "  死信: %s\n", s.Bus.DeadLetters)
	fmt.Fprintf(&b, "  存储: %s\n\n", s.Store)

	b.WriteString("[主题 (TOPICS)]\n")
	keys := make([]string, 0, len(s.Topics))
	for k := range s.Topics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %-24s %s\n", k, s.Topics[k])
	}
	b.WriteString("\n")

	b.WriteString("[策略参数 (STRATEGY)]\n")
	if s.Strategy.Version == 0 {
		b.WriteString("  (无)\n")
	} else {
		st := s.Strategy
		fmt.Fprintf(&b, "  版本: v%d (%s)\n", st.Version, st.Source)
		fmt.Fprintf(&b, "  阈值: buy>=%.4f sell<=%.4f\n", st.BuyThreshold, st.SellThreshold)
		fmt.Fprintf(&b, "  风险: per_trade=%.4f max_portfolio=%.4f\n", st.RiskPerTrade, st.MaxPortfolioRisk)
	}
	b.WriteString("\n")

	b.WriteString("[组合 (PORTFOLIO)]\n")
	p := s.Portfolio
	fmt.Fprintf(&b, "  v%d total=%.2f reserved=%.2f positions=%d\n\n", p.Version, p.TotalValue, p.ReservedRisk, len(p.Positions))

	b.WriteString("[优化器 (OPTIMIZER)]\n")
	o := s.Optimizer
	fmt.Fprintf(&b, "  enabled=%v interval=%s lookback=%s min_samples=%d\n", o.Enabled, o.Interval, o.Lookback, o.MinSamples)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
