package model

import (
	"time"

	"gorm.io/datatypes"
)

// PortfolioStateModel 是组合状态的单例行，version 用于乐观并发控制。
type PortfolioStateModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement:false"`
	Version       int64          `gorm:"column:version;not null"`
	TotalValue    float64        `gorm:"column:total_value"`
	ReservedRisk  float64        `gorm:"column:reserved_risk"`
	PositionsJSON datatypes.JSON `gorm:"column:positions_json"`
	DailyPnL      float64        `gorm:"column:daily_pnl"`
	PnLDay        string         `gorm:"column:pnl_day;size:10"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (PortfolioStateModel) TableName() string { return "portfolio_state" }

// IntentRecordModel 是意图台账，主键保证同一意图只落一次终态。
type IntentRecordModel struct {
	IntentID   string         `gorm:"column:intent_id;primaryKey;size:64"`
	Symbol     string         `gorm:"column:symbol;size:32"`
	Side       string         `gorm:"column:side;size:8"`
	Status     string         `gorm:"column:status;size:16;index"`
	Reason     string         `gorm:"column:reason;size:32"`
	RiskAmount float64        `gorm:"column:risk_amount"`
	RecordedAt time.Time      `gorm:"column:recorded_at;index"`
	Payload    datatypes.JSON `gorm:"column:payload"`
	Emitted    bool           `gorm:"column:emitted;not null;default:false"`
}

func (IntentRecordModel) TableName() string { return "intent_ledger" }

// StrategyConfigModel 只追加；version 是主键。
type StrategyConfigModel struct {
	Version           int64     `gorm:"column:version;primaryKey;autoIncrement:false"`
	BuyThreshold      float64   `gorm:"column:buy_threshold"`
	SellThreshold     float64   `gorm:"column:sell_threshold"`
	RiskPerTrade      float64   `gorm:"column:risk_per_trade"`
	MaxPortfolioRisk  float64   `gorm:"column:max_portfolio_risk"`
	StopLossPctBuy    float64   `gorm:"column:stop_loss_pct_buy"`
	StopLossPctSell   float64   `gorm:"column:stop_loss_pct_sell"`
	TakeProfitPctBuy  float64   `gorm:"column:take_profit_pct_buy"`
	TakeProfitPctSell float64   `gorm:"column:take_profit_pct_sell"`
	QuantityFraction  float64   `gorm:"column:quantity_fraction"`
	EffectiveFrom     time.Time `gorm:"column:effective_from"`
	Source            string    `gorm:"column:source;size:32"`
}

func (StrategyConfigModel) TableName() string { return "strategy_configs" }

// TradeReportModel 以 trade_id 为主键，closed_at 建索引供优化器按窗口查询。
type TradeReportModel struct {
	TradeID     string     `gorm:"column:trade_id;primaryKey;size:64"`
	IntentID    string     `gorm:"column:intent_id;size:64;index"`
	Symbol      string     `gorm:"column:symbol;size:32"`
	Side        string     `gorm:"column:side;size:8"`
	EntryPrice  float64    `gorm:"column:entry_price"`
	ExitPrice   *float64   `gorm:"column:exit_price"`
	Quantity    float64    `gorm:"column:quantity"`
	RealizedPnL *float64   `gorm:"column:realized_pnl"`
	RiskAmount  float64    `gorm:"column:risk_amount"`
	OpenedAt    time.Time  `gorm:"column:opened_at"`
	ClosedAt    *time.Time `gorm:"column:closed_at;index"`
	UpdatedAt   time.Time  `gorm:"column:updated_at"`
}

func (TradeReportModel) TableName() string { return "trade_reports" }

// BusMessageModel 是 SQL 消息通道的追加日志。
type BusMessageModel struct {
	Seq         int64          `gorm:"column:seq;primaryKey;autoIncrement"`
	ID          string         `gorm:"column:id;size:64;uniqueIndex"`
	Topic       string         `gorm:"column:topic;size:64;index:idx_bus_topic_seq,priority:1"`
	Key         string         `gorm:"column:msg_key;size:64"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	PublishedAt time.Time      `gorm:"column:published_at"`
}

func (BusMessageModel) TableName() string { return "bus_messages" }

// BusOffsetModel 记录每个消费组在某主题上已确认的最大 seq。
type BusOffsetModel struct {
	Group     string    `gorm:"column:consumer_group;primaryKey;size:64"`
	Topic     string    `gorm:"column:topic;primaryKey;size:64"`
	LastSeq   int64     `gorm:"column:last_seq"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (BusOffsetModel) TableName() string { return "bus_offsets" }

// All 返回需要 AutoMigrate 的全部模型。
func All() []interface{} {
	return []interface{}{
		&PortfolioStateModel{},
		&IntentRecordModel{},
		&StrategyConfigModel{},
		&TradeReportModel{},
		&BusMessageModel{},
		&BusOffsetModel{},
	}
}
