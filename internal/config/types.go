package config

import (
	"strings"
	"time"
)

// Config 是 aegis 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Bus        BusConfig        `toml:"bus"`
	Store      StoreConfig      `toml:"store"`
	Topics     TopicsConfig     `toml:"topics"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Risk       RiskConfig       `toml:"risk"`
	Optimizer  OptimizerConfig  `toml:"optimizer"`
	Notify     NotifyConfig     `toml:"notify"`
	Market     MarketConfig     `toml:"market"`
}

// 可在同一进程内启用的服务角色。
const (
	RoleAggregator = "aggregator"
	RoleRisk       = "risk"
	RoleOptimizer  = "optimizer"
	RoleJournal    = "journal"
	RoleNotify     = "notify"
	RoleAdmin      = "admin"
)

var AllRoles = []string{RoleAggregator, RoleRisk, RoleOptimizer, RoleJournal, RoleNotify, RoleAdmin}

type AppConfig struct {
	Env          string   `toml:"env"`
	LogLevel     string   `toml:"log_level"`
	HTTPAddr     string   `toml:"http_addr"`
	LogPath      string   `toml:"log_path"`
	AuditLogPath string   `toml:"audit_log_path"`
	Roles        []string `toml:"roles"`
	WatchConfig  bool     `toml:"watch_config"`
}

// HasRole 判断当前进程是否启用了指定角色。
func (a AppConfig) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range a.Roles {
		if strings.ToLower(strings.TrimSpace(r)) == role {
			return true
		}
	}
	return false
}

// BusConfig 控制消息通道实现与投递语义。
type BusConfig struct {
	Driver         string        `toml:"driver"` // "memory" | "sql"
	Partitions     int           `toml:"partitions"`
	QueueSize      int           `toml:"queue_size"`
	MaxDeliveries  int           `toml:"max_deliveries"`
	PollIntervalMs int           `toml:"poll_interval_ms"`
	BatchSize      int           `toml:"batch_size"`
	DeadLetterPath string        `toml:"dead_letter_path"`
	Retry          RetryConfig   `toml:"retry"`
	Breaker        BreakerConfig `toml:"breaker"`
}

func (b BusConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

// RetryConfig 是发布重试的指数退避参数。
type RetryConfig struct {
	MaxAttempts int     `toml:"max_attempts"`
	MinMs       int     `toml:"min_ms"`
	MaxMs       int     `toml:"max_ms"`
	Factor      float64 `toml:"factor"`
	Jitter      float64 `toml:"jitter"`
}

type BreakerConfig struct {
	Threshold      int `toml:"threshold"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// StoreConfig 描述策略配置、组合状态与交易回报的持久化位置。
type StoreConfig struct {
	Driver   string         `toml:"driver"` // "memory" | "sqlite" | "postgres"
	Path     string         `toml:"path"`
	Postgres PostgresConfig `toml:"postgres"`
}

type PostgresConfig struct {
	DSN      string            `toml:"dsn"`
	Host     string            `toml:"host"`
	Port     int               `toml:"port"`
	User     string            `toml:"user"`
	Password string            `toml:"password"`
	Database string            `toml:"database"`
	SSLMode  string            `toml:"sslmode"`
	Params   map[string]string `toml:"params"`
}

// TopicsConfig 列出消息通道上的各个主题名。
type TopicsConfig struct {
	OrderBookSignals     string `toml:"order_book_signals"`
	CoinSelectionSignals string `toml:"coin_selection_signals"`
	TradeCommands        string `toml:"trade_commands"`
	FinalTradeExecution  string `toml:"final_trade_execution"`
	RiskAlerts           string `toml:"risk_alerts"`
	TradeReports         string `toml:"trade_reports"`
	OptimizationAlerts   string `toml:"optimization_alerts"`
}

// AggregatorConfig 支持热更新：权重、单源惩罚与信号有效期。
type AggregatorConfig struct {
	Weights              map[string]float64 `toml:"weights"`
	SingleSourcePenalty  float64            `toml:"single_source_penalty"`
	SignalTTLSeconds     int                `toml:"signal_ttl_seconds"`
	SweepIntervalSeconds int                `toml:"sweep_interval_seconds"`
}

func (a AggregatorConfig) SignalTTL() time.Duration {
	return time.Duration(a.SignalTTLSeconds) * time.Second
}

func (a AggregatorConfig) SweepInterval() time.Duration {
	return time.Duration(a.SweepIntervalSeconds) * time.Second
}

// StrategyConfig 是首次启动时写入的 version=1 种子参数。
type StrategyConfig struct {
	BuyThreshold      float64 `toml:"buy_threshold"`
	SellThreshold     float64 `toml:"sell_threshold"`
	RiskPerTrade      float64 `toml:"risk_per_trade"`
	MaxPortfolioRisk  float64 `toml:"max_portfolio_risk"`
	StopLossPctBuy    float64 `toml:"stop_loss_pct_buy"`
	StopLossPctSell   float64 `toml:"stop_loss_pct_sell"`
	TakeProfitPctBuy  float64 `toml:"take_profit_pct_buy"`
	TakeProfitPctSell float64 `toml:"take_profit_pct_sell"`
	QuantityFraction  float64 `toml:"quantity_fraction"`
}

// RiskConfig 控制风控服务的运行参数。
type RiskConfig struct {
	InitialPortfolioValue float64            `toml:"initial_portfolio_value"`
	ExecutionSLASeconds   int                `toml:"execution_sla_seconds"`
	MaxCASRetries         int                `toml:"max_cas_retries"`
	PriceSources          []string           `toml:"price_sources"` // static | signals | intent | binance | gate
	StaticPrices          map[string]float64 `toml:"static_prices"`
	SignalPriceTTLSeconds int                `toml:"signal_price_ttl_seconds"`
	// DailyLossLimit 是当日（UTC）已实现亏损上限（计价货币，正数），0 关闭。
	DailyLossLimit float64 `toml:"daily_loss_limit"`
}

func (r RiskConfig) ExecutionSLA() time.Duration {
	return time.Duration(r.ExecutionSLASeconds) * time.Second
}

func (r RiskConfig) SignalPriceTTL() time.Duration {
	return time.Duration(r.SignalPriceTTLSeconds) * time.Second
}

// OptimizerConfig 控制定时自适应调参。
type OptimizerConfig struct {
	Enabled        bool         `toml:"enabled"`
	Interval       string       `toml:"interval"`
	OffsetSeconds  int          `toml:"offset_seconds"`
	RunImmediately bool         `toml:"run_immediately"`
	Lookback       string       `toml:"lookback"`
	MinSamples     int          `toml:"min_samples"`
	EMAPeriod      int          `toml:"ema_period"`
	Steps          StepConfig   `toml:"steps"`
	Ranges         RangesConfig `toml:"ranges"`
	Regime         RegimeConfig `toml:"regime"`
}

// StepConfig 是每次运行单个参数允许移动的最大步长。
type StepConfig struct {
	Threshold        float64 `toml:"threshold"`
	RiskPerTrade     float64 `toml:"risk_per_trade"`
	MaxPortfolioRisk float64 `toml:"max_portfolio_risk"`
}

type Range struct {
	Min float64 `toml:"min"`
	Max float64 `toml:"max"`
}

// RangesConfig 是各参数的安全区间。
type RangesConfig struct {
	BuyThreshold     Range `toml:"buy_threshold"`
	SellThreshold    Range `toml:"sell_threshold"`
	RiskPerTrade     Range `toml:"risk_per_trade"`
	MaxPortfolioRisk Range `toml:"max_portfolio_risk"`
}

// RegimeConfig 决定收紧/放松/保持的分界。
type RegimeConfig struct {
	LosingWinRate  float64 `toml:"losing_win_rate"`
	WinningWinRate float64 `toml:"winning_win_rate"`
	MaxDrawdownPct float64 `toml:"max_drawdown_pct"`
	LossStreak     int     `toml:"loss_streak"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled        bool   `toml:"enabled"`
	BotToken       string `toml:"bot_token"`
	ChatID         string `toml:"chat_id"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type MarketConfig struct {
	Binance BinanceConfig `toml:"binance"`
	Gate    GateConfig    `toml:"gate"`
}

type BinanceConfig struct {
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	ProxyURL           string `toml:"proxy_url"`
}

// GateConfig 是 Gate.io 永续合约 REST 接口配置。
type GateConfig struct {
	RESTBaseURL        string `toml:"rest_base_url"`
	Settle             string `toml:"settle"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	ProxyURL           string `toml:"proxy_url"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
