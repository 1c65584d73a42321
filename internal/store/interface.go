package store

import (
	"context"
	"errors"
	"time"

	"aegis/internal/types"
)

var (
	// ErrNotFound 表示记录不存在（例如组合状态尚未初始化）。
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict 表示比较并交换时版本已被其他写入者推进。
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrDuplicateIntent 表示该 intent_id 已有终态记录。
	ErrDuplicateIntent = errors.New("store: intent already recorded")
)

// UnitOfWork defines a transaction scope.
//
// Rollback after Commit is a no-op so callers can always `defer uow.Rollback()`.
type UnitOfWork interface {
	Commit() error
	Rollback() error

	Portfolio() PortfolioRepository
	Intents() IntentLedger
	Strategies() StrategyConfigRepository
	Reports() TradeReportRepository
}

// Store is the entry point for database access.
//
// The repositories returned directly by Store run outside any transaction.
// In the memory implementation an open UnitOfWork holds the store lock, so
// code must not call the non-transactional repositories while one is open.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)

	Portfolio() PortfolioRepository
	Intents() IntentLedger
	Strategies() StrategyConfigRepository
	Reports() TradeReportRepository

	Close() error
}

// PortfolioRepository 管理组合状态单例，所有修改都必须经过 CompareAndSwap。
type PortfolioRepository interface {
	// Load 返回当前已提交的状态；未初始化时返回 ErrNotFound。
	Load(ctx context.Context) (types.PortfolioState, error)
	// Init 在状态不存在时写入种子，返回是否真正创建。
	Init(ctx context.Context, seed types.PortfolioState) (bool, error)
	// CompareAndSwap 仅当当前 version == expected 时写入 next，并把 version 推进到 expected+1。
	CompareAndSwap(ctx context.Context, expected int64, next types.PortfolioState) error
}

// IntentLedger 记录每个 intent_id 的终态，用于幂等去重。
type IntentLedger interface {
	Lookup(ctx context.Context, intentID string) (types.IntentRecord, error)
	Record(ctx context.Context, rec types.IntentRecord) error
	// MarkEmitted 标记该意图的出站消息已发布；记录不存在时返回 ErrNotFound。
	MarkEmitted(ctx context.Context, intentID string) error
	ListRecent(ctx context.Context, limit int) ([]types.IntentRecord, error)
}

// StrategyConfigRepository 是只追加的策略配置版本库。
type StrategyConfigRepository interface {
	Latest(ctx context.Context) (types.StrategyConfig, error)
	Get(ctx context.Context, version int64) (types.StrategyConfig, error)
	// Publish 要求 cfg.Version 恰好等于最新版本 +1（空库时为 1），否则返回 ErrVersionConflict。
	Publish(ctx context.Context, cfg types.StrategyConfig) error
	// History 按版本倒序返回最近 limit 个版本。
	History(ctx context.Context, limit int) ([]types.StrategyConfig, error)
}

// TradeReportRepository 以 trade_id 幂等保存执行回报。
type TradeReportRepository interface {
	Upsert(ctx context.Context, rep types.TradeReport) error
	Get(ctx context.Context, tradeID string) (types.TradeReport, error)
	// ListClosedSince 返回 closed_at >= since 的已平仓回报，按 closed_at 升序。
	ListClosedSince(ctx context.Context, since time.Time) ([]types.TradeReport, error)
}
