package config

import (
	"fmt"
	"strings"

	"aegis/internal/scheduler"
	"aegis/internal/types"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Bus.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Topics.validate(); err != nil {
		return err
	}
	if err := c.Aggregator.validate(); err != nil {
		return err
	}
	if err := c.StrategySeed().Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Optimizer.validate(c.StrategySeed()); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	known := make(map[string]bool, len(AllRoles))
	for _, r := range AllRoles {
		known[r] = true
	}
	for _, r := range a.Roles {
		if !known[r] {
			return fmt.Errorf("app.roles contains unknown role: %s", r)
		}
	}
	return nil
}

func (b *BusConfig) validate() error {
	switch b.Driver {
	case "memory", "sql":
	default:
		return fmt.Errorf("bus.driver must be memory or sql, got %q", b.Driver)
	}
	if b.Partitions <= 0 {
		return fmt.Errorf("bus.partitions must be > 0")
	}
	if b.QueueSize <= 0 {
		return fmt.Errorf("bus.queue_size must be > 0")
	}
	if b.MaxDeliveries <= 0 {
		return fmt.Errorf("bus.max_deliveries must be > 0")
	}
	if b.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("bus.retry.max_attempts must be > 0")
	}
	if b.Retry.MinMs <= 0 || b.Retry.MaxMs < b.Retry.MinMs {
		return fmt.Errorf("bus.retry requires 0 < min_ms <= max_ms")
	}
	if b.Retry.Jitter < 0 || b.Retry.Jitter > 1 {
		return fmt.Errorf("bus.retry.jitter must be in [0,1]")
	}
	if b.Breaker.Threshold <= 0 {
		return fmt.Errorf("bus.breaker.threshold must be > 0")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("store.path cannot be empty for sqlite")
		}
	case "postgres":
		if strings.TrimSpace(s.Postgres.DSN) == "" && strings.TrimSpace(s.Postgres.Database) == "" {
			return fmt.Errorf("store.postgres requires dsn or database")
		}
	default:
		return fmt.Errorf("store.driver must be memory, sqlite or postgres, got %q", s.Driver)
	}
	return nil
}

func (t *TopicsConfig) validate() error {
	seen := make(map[string]string)
	for field, name := range map[string]string{
		"order_book_signals":     t.OrderBookSignals,
		"coin_selection_signals": t.CoinSelectionSignals,
		"trade_commands":         t.TradeCommands,
		"final_trade_execution":  t.FinalTradeExecution,
		"risk_alerts":            t.RiskAlerts,
		"trade_reports":          t.TradeReports,
		"optimization_alerts":    t.OptimizationAlerts,
	} {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("topics.%s cannot be empty", field)
		}
		if other, dup := seen[name]; dup {
			return fmt.Errorf("topics.%s and topics.%s share the same name %q", field, other, name)
		}
		seen[name] = field
	}
	return nil
}

func (a *AggregatorConfig) validate() error {
	if len(a.Weights) == 0 {
		return fmt.Errorf("aggregator.weights requires at least one source")
	}
	for src, w := range a.Weights {
		if !types.SignalSource(src).Valid() {
			return fmt.Errorf("aggregator.weights contains unknown source: %s", src)
		}
		if w < 0 {
			return fmt.Errorf("aggregator.weights.%s must be >= 0", src)
		}
	}
	if a.SingleSourcePenalty <= 0 || a.SingleSourcePenalty > 1 {
		return fmt.Errorf("aggregator.single_source_penalty must be in (0,1]")
	}
	if a.SignalTTLSeconds <= 0 {
		return fmt.Errorf("aggregator.signal_ttl_seconds must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.InitialPortfolioValue <= 0 {
		return fmt.Errorf("risk.initial_portfolio_value must be > 0")
	}
	if r.ExecutionSLASeconds <= 0 {
		return fmt.Errorf("risk.execution_sla_seconds must be > 0")
	}
	if r.MaxCASRetries <= 0 {
		return fmt.Errorf("risk.max_cas_retries must be > 0")
	}
	for _, src := range r.PriceSources {
		switch src {
		case "static", "signals", "intent", "binance", "gate":
		default:
			return fmt.Errorf("risk.price_sources contains unknown source: %s", src)
		}
	}
	if r.DailyLossLimit < 0 {
		return fmt.Errorf("risk.daily_loss_limit must be >= 0")
	}
	for sym, px := range r.StaticPrices {
		if px <= 0 {
			return fmt.Errorf("risk.static_prices.%s must be > 0", sym)
		}
	}
	return nil
}

func (o *OptimizerConfig) validate(seed types.StrategyConfig) error {
	if _, ok := scheduler.ParseIntervalDuration(o.Interval); !ok {
		return fmt.Errorf("optimizer.interval is invalid: %q", o.Interval)
	}
	if _, ok := scheduler.ParseIntervalDuration(o.Lookback); !ok {
		return fmt.Errorf("optimizer.lookback is invalid: %q", o.Lookback)
	}
	if o.MinSamples <= 0 {
		return fmt.Errorf("optimizer.min_samples must be > 0")
	}
	if o.Steps.Threshold <= 0 || o.Steps.RiskPerTrade <= 0 || o.Steps.MaxPortfolioRisk <= 0 {
		return fmt.Errorf("optimizer.steps must all be > 0")
	}
	for name, rg := range o.Ranges.byParam() {
		if rg.Min >= rg.Max {
			return fmt.Errorf("optimizer.ranges.%s requires min < max", name)
		}
		if v, _ := seed.Param(name); v < rg.Min || v > rg.Max {
			return fmt.Errorf("strategy.%s=%.4f outside optimizer.ranges.%s [%.4f, %.4f]", name, v, name, rg.Min, rg.Max)
		}
	}
	if o.Ranges.BuyThreshold.Min <= o.Ranges.SellThreshold.Max {
		return fmt.Errorf("optimizer.ranges.buy_threshold must stay above sell_threshold")
	}
	if o.Regime.LosingWinRate > o.Regime.WinningWinRate {
		return fmt.Errorf("optimizer.regime.losing_win_rate must be <= winning_win_rate")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
