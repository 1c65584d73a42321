package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9992"
	defaultAppLogPath        = "data/logs/aegis.log"
	defaultAppAuditLogPath   = "data/logs/aegis-audit.log"
	defaultBusDriver         = "memory"
	defaultBusPartitions     = 4
	defaultBusQueueSize      = 1024
	defaultBusMaxDeliveries  = 5
	defaultBusPollMs         = 500
	defaultBusBatchSize      = 100
	defaultDeadLetterPath    = "data/db/dead_letters.db"
	defaultRetryAttempts     = 5
	defaultRetryMinMs        = 100
	defaultRetryMaxMs        = 5000
	defaultRetryFactor       = 2.0
	defaultRetryJitter       = 0.2
	defaultBreakerThreshold  = 5
	defaultBreakerTimeout    = 30
	defaultStoreDriver       = "sqlite"
	defaultStorePath         = "data/db/aegis.db"
	defaultPostgresHost      = "localhost"
	defaultPostgresPort      = 5432
	defaultPostgresSSLMode   = "disable"
	defaultSingleSourcePen   = 0.5
	defaultSignalTTLSeconds  = 300
	defaultSweepSeconds      = 60
	defaultBuyThreshold      = 0.5
	defaultSellThreshold     = -0.5
	defaultRiskPerTrade      = 0.01
	defaultMaxPortfolioRisk  = 0.05
	defaultStopLossPct       = 0.01
	defaultTakeProfitPct     = 0.02
	defaultQuantityFraction  = 0.1
	defaultPortfolioValue    = 10000
	defaultExecutionSLA      = 30
	defaultMaxCASRetries     = 5
	defaultSignalPriceTTL    = 300
	defaultOptInterval       = "1d"
	defaultOptLookback       = "7d"
	defaultOptMinSamples     = 10
	defaultOptEMAPeriod      = 5
	defaultStepThreshold     = 0.05
	defaultStepRisk          = 0.002
	defaultStepMaxRisk       = 0.005
	defaultLosingWinRate     = 0.45
	defaultWinningWinRate    = 0.55
	defaultMaxDrawdownPct    = 0.1
	defaultLossStreak        = 3
	defaultTelegramBaseURL   = "https://api.telegram.org"
	defaultTelegramTimeout   = 15
	defaultBinanceREST       = "https://fapi.binance.com"
	defaultBinanceTimeoutSec = 10
	defaultGateREST          = "https://api.gateio.ws/api/v4"
	defaultGateSettle        = "usdt"
)

var (
	defaultWeights = map[string]float64{
		"coin-selection": 0.5,
		"order-book":     0.5,
	}
	defaultPriceSources = []string{"signals", "intent", "static"}
	defaultRanges       = RangesConfig{
		BuyThreshold:     Range{Min: 0.1, Max: 0.9},
		SellThreshold:    Range{Min: -0.9, Max: -0.1},
		RiskPerTrade:     Range{Min: 0.005, Max: 0.02},
		MaxPortfolioRisk: Range{Min: 0.02, Max: 0.1},
	}
)

// DefaultTopics 是各主题的默认名称。
var DefaultTopics = TopicsConfig{
	OrderBookSignals:     "order-book-signals",
	CoinSelectionSignals: "coin-selection-signals",
	TradeCommands:        "trade-commands",
	FinalTradeExecution:  "final-trade-execution",
	RiskAlerts:           "risk-alerts",
	TradeReports:         "trade-reports",
	OptimizationAlerts:   "optimization-alerts",
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Bus.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Topics.applyDefaults(keys)
	c.Aggregator.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
	c.Notify.Telegram.applyDefaults(keys)
	c.Market.Binance.applyDefaults(keys)
	c.Market.Gate.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.audit_log_path", &a.AuditLogPath, defaultAppAuditLogPath),
	)
	a.Roles = normalizeList(a.Roles)
	if len(a.Roles) == 0 {
		a.Roles = append([]string(nil), AllRoles...)
	}
}

func (b *BusConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("bus.driver", &b.Driver, defaultBusDriver),
		stringFieldDefault("bus.dead_letter_path", &b.DeadLetterPath, defaultDeadLetterPath),
		intFieldDefault("bus.partitions", &b.Partitions, defaultBusPartitions),
		intFieldDefault("bus.queue_size", &b.QueueSize, defaultBusQueueSize),
		intFieldDefault("bus.max_deliveries", &b.MaxDeliveries, defaultBusMaxDeliveries),
		intFieldDefault("bus.poll_interval_ms", &b.PollIntervalMs, defaultBusPollMs),
		intFieldDefault("bus.batch_size", &b.BatchSize, defaultBusBatchSize),
		intFieldDefault("bus.retry.max_attempts", &b.Retry.MaxAttempts, defaultRetryAttempts),
		intFieldDefault("bus.retry.min_ms", &b.Retry.MinMs, defaultRetryMinMs),
		intFieldDefault("bus.retry.max_ms", &b.Retry.MaxMs, defaultRetryMaxMs),
		floatFieldDefault("bus.retry.factor", &b.Retry.Factor, defaultRetryFactor),
		floatFieldDefault("bus.retry.jitter", &b.Retry.Jitter, defaultRetryJitter),
		intFieldDefault("bus.breaker.threshold", &b.Breaker.Threshold, defaultBreakerThreshold),
		intFieldDefault("bus.breaker.timeout_seconds", &b.Breaker.TimeoutSeconds, defaultBreakerTimeout),
	)
	b.Driver = strings.ToLower(strings.TrimSpace(b.Driver))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.postgres.host", &s.Postgres.Host, defaultPostgresHost),
		stringFieldDefault("store.postgres.sslmode", &s.Postgres.SSLMode, defaultPostgresSSLMode),
		intFieldDefault("store.postgres.port", &s.Postgres.Port, defaultPostgresPort),
	)
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
}

func (t *TopicsConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("topics.order_book_signals", &t.OrderBookSignals, DefaultTopics.OrderBookSignals),
		stringFieldDefault("topics.coin_selection_signals", &t.CoinSelectionSignals, DefaultTopics.CoinSelectionSignals),
		stringFieldDefault("topics.trade_commands", &t.TradeCommands, DefaultTopics.TradeCommands),
		stringFieldDefault("topics.final_trade_execution", &t.FinalTradeExecution, DefaultTopics.FinalTradeExecution),
		stringFieldDefault("topics.risk_alerts", &t.RiskAlerts, DefaultTopics.RiskAlerts),
		stringFieldDefault("topics.trade_reports", &t.TradeReports, DefaultTopics.TradeReports),
		stringFieldDefault("topics.optimization_alerts", &t.OptimizationAlerts, DefaultTopics.OptimizationAlerts),
	)
}

func (a *AggregatorConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	if len(a.Weights) == 0 {
		a.Weights = make(map[string]float64, len(defaultWeights))
		for k, v := range defaultWeights {
			a.Weights[k] = v
		}
	}
	applyFieldDefaults(keys,
		floatFieldDefault("aggregator.single_source_penalty", &a.SingleSourcePenalty, defaultSingleSourcePen),
		intFieldDefault("aggregator.signal_ttl_seconds", &a.SignalTTLSeconds, defaultSignalTTLSeconds),
		intFieldDefault("aggregator.sweep_interval_seconds", &a.SweepIntervalSeconds, defaultSweepSeconds),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("strategy.buy_threshold", &s.BuyThreshold, defaultBuyThreshold),
		floatFieldDefault("strategy.sell_threshold", &s.SellThreshold, defaultSellThreshold),
		floatFieldDefault("strategy.risk_per_trade", &s.RiskPerTrade, defaultRiskPerTrade),
		floatFieldDefault("strategy.max_portfolio_risk", &s.MaxPortfolioRisk, defaultMaxPortfolioRisk),
		floatFieldDefault("strategy.stop_loss_pct_buy", &s.StopLossPctBuy, defaultStopLossPct),
		floatFieldDefault("strategy.stop_loss_pct_sell", &s.StopLossPctSell, defaultStopLossPct),
		floatFieldDefault("strategy.take_profit_pct_buy", &s.TakeProfitPctBuy, defaultTakeProfitPct),
		floatFieldDefault("strategy.take_profit_pct_sell", &s.TakeProfitPctSell, defaultTakeProfitPct),
		floatFieldDefault("strategy.quantity_fraction", &s.QuantityFraction, defaultQuantityFraction),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.initial_portfolio_value", &r.InitialPortfolioValue, defaultPortfolioValue),
		intFieldDefault("risk.execution_sla_seconds", &r.ExecutionSLASeconds, defaultExecutionSLA),
		intFieldDefault("risk.max_cas_retries", &r.MaxCASRetries, defaultMaxCASRetries),
		intFieldDefault("risk.signal_price_ttl_seconds", &r.SignalPriceTTLSeconds, defaultSignalPriceTTL),
	)
	r.PriceSources = normalizeList(r.PriceSources)
	if len(r.PriceSources) == 0 {
		r.PriceSources = append([]string(nil), defaultPriceSources...)
	}
	// viper 会把 map 的 key 转成小写，这里统一还原为交易所写法。
	if len(r.StaticPrices) > 0 {
		prices := make(map[string]float64, len(r.StaticPrices))
		for sym, px := range r.StaticPrices {
			prices[strings.ToUpper(strings.TrimSpace(sym))] = px
		}
		r.StaticPrices = prices
	}
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("optimizer.enabled", &o.Enabled, true),
		stringFieldDefault("optimizer.interval", &o.Interval, defaultOptInterval),
		stringFieldDefault("optimizer.lookback", &o.Lookback, defaultOptLookback),
		intFieldDefault("optimizer.min_samples", &o.MinSamples, defaultOptMinSamples),
		intFieldDefault("optimizer.ema_period", &o.EMAPeriod, defaultOptEMAPeriod),
		floatFieldDefault("optimizer.steps.threshold", &o.Steps.Threshold, defaultStepThreshold),
		floatFieldDefault("optimizer.steps.risk_per_trade", &o.Steps.RiskPerTrade, defaultStepRisk),
		floatFieldDefault("optimizer.steps.max_portfolio_risk", &o.Steps.MaxPortfolioRisk, defaultStepMaxRisk),
		rangeFieldDefault("optimizer.ranges.buy_threshold", &o.Ranges.BuyThreshold, defaultRanges.BuyThreshold),
		rangeFieldDefault("optimizer.ranges.sell_threshold", &o.Ranges.SellThreshold, defaultRanges.SellThreshold),
		rangeFieldDefault("optimizer.ranges.risk_per_trade", &o.Ranges.RiskPerTrade, defaultRanges.RiskPerTrade),
		rangeFieldDefault("optimizer.ranges.max_portfolio_risk", &o.Ranges.MaxPortfolioRisk, defaultRanges.MaxPortfolioRisk),
		floatFieldDefault("optimizer.regime.losing_win_rate", &o.Regime.LosingWinRate, defaultLosingWinRate),
		floatFieldDefault("optimizer.regime.winning_win_rate", &o.Regime.WinningWinRate, defaultWinningWinRate),
		floatFieldDefault("optimizer.regime.max_drawdown_pct", &o.Regime.MaxDrawdownPct, defaultMaxDrawdownPct),
		intFieldDefault("optimizer.regime.loss_streak", &o.Regime.LossStreak, defaultLossStreak),
	)
}

func (t *TelegramConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.telegram.base_url", &t.BaseURL, defaultTelegramBaseURL),
		intFieldDefault("notify.telegram.timeout_seconds", &t.TimeoutSeconds, defaultTelegramTimeout),
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		intFieldDefault("market.binance.http_timeout_seconds", &b.HTTPTimeoutSeconds, defaultBinanceTimeoutSec),
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.gate.rest_base_url", &g.RESTBaseURL, defaultGateREST),
		stringFieldDefault("market.gate.settle", &g.Settle, defaultGateSettle),
		intFieldDefault("market.gate.http_timeout_seconds", &g.HTTPTimeoutSeconds, defaultBinanceTimeoutSec),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target == 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target == 0 },
		apply: func() { *target = def },
	}
}

// rangeFieldDefault 只在 min/max 都未设置时补默认区间。
func rangeFieldDefault(key string, target *Range, def Range) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && target.Min == 0 && target.Max == 0 },
		apply: func() { *target = def },
	}
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
