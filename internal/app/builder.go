package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aegis/internal/bus"
	"aegis/internal/config"
	"aegis/internal/deadletter"
	"aegis/internal/logger"
	"aegis/internal/metrics"
	"aegis/internal/pkg/circuit"
	"aegis/internal/store"
	"aegis/internal/store/gormstore"
	"aegis/internal/store/memstore"

	"gorm.io/gorm"
)

// ConfigPath 是主配置文件路径，为空表示不监听变更。
type ConfigPath string

type AppBuilder struct {
	cfg  *config.Config
	path ConfigPath

	storeFn       func(config.StoreConfig) (store.Store, *gorm.DB, error)
	deadLettersFn func(config.Config) (deadletter.Store, error)
	busFn         func(config.BusConfig, *gorm.DB, deadletter.Store) (bus.Bus, error)

	storeOverride store.Store
}

type AppBuilderOption func(*AppBuilder)

// WithStore 使用外部传入的存储（测试或嵌入场景），跳过 store 配置。
func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = st }
}

func NewAppBuilder(cfg *config.Config, path ConfigPath, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		path:          path,
		storeFn:       openStore,
		deadLettersFn: openDeadLetters,
		busFn:         buildBus,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var db *gorm.DB
	if b.storeOverride != nil {
		a.store = b.storeOverride
	} else if a.store, db, err = b.storeFn(cfg.Store); err != nil {
		return nil, err
	}
	if err := bootstrap(ctx, a.store, cfg); err != nil {
		return nil, err
	}

	if a.deadLetters, err = b.deadLettersFn(*cfg); err != nil {
		return nil, err
	}
	if a.bus, err = b.busFn(cfg.Bus, db, a.deadLetters); err != nil {
		return nil, err
	}
	a.publisher = bus.NewRetryingPublisher(a.bus, bus.PublisherOptions{
		MaxAttempts: cfg.Bus.Retry.MaxAttempts,
		Backoff:     retryBackoff(cfg.Bus.Retry),
		Breaker:     circuit.NewCircuitBreaker("bus-publish", cfg.Bus.Breaker.Threshold, time.Duration(cfg.Bus.Breaker.TimeoutSeconds)*time.Second),
		DeadLetters: a.deadLetters,
	})

	schemas, err := newSchemaRegistry(cfg.Topics)
	if err != nil {
		return nil, err
	}
	if err := b.wireServices(ctx, a, schemas); err != nil {
		return nil, err
	}
	if err := b.wireWatcher(a); err != nil {
		return nil, err
	}
	a.Summary = buildSummary(ctx, cfg, a.store)
	return a, nil
}

// openStore 按 store.driver 打开存储；gorm 系实现同时返回 *gorm.DB 供 SQL 总线复用。
func openStore(cfg config.StoreConfig) (store.Store, *gorm.DB, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warnf("store.driver=memory：组合状态与策略版本不会持久化")
		return memstore.New(), nil, nil
	case "sqlite":
		gs, err := gormstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
		}
		logger.Infof("✓ SQLite 存储: %s", cfg.Path)
		return gs, gs.GormDB(), nil
	case "postgres":
		pg := cfg.Postgres
		gs, err := gormstore.OpenPostgres(gormstore.PostgresOptions{
			Host:       pg.Host,
			Port:       pg.Port,
			User:       pg.User,
			Password:   pg.Password,
			Database:   pg.Database,
			SSLMode:    pg.SSLMode,
			Params:     pg.Params,
			ConnString: pg.DSN,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Infof("✓ PostgreSQL 存储: %s:%d/%s", pg.Host, pg.Port, pg.Database)
		return gs, gs.GormDB(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func openDeadLetters(cfg config.Config) (deadletter.Store, error) {
	if cfg.Store.Driver == "memory" || cfg.Bus.DeadLetterPath == "" {
		return deadletter.NewMemoryStore(), nil
	}
	dl, err := deadletter.OpenSQLite(cfg.Bus.DeadLetterPath)
	if err != nil {
		return nil, fmt.Errorf("open dead letter store %s: %w", cfg.Bus.DeadLetterPath, err)
	}
	return dl, nil
}

func buildBus(cfg config.BusConfig, db *gorm.DB, dl deadletter.Store) (bus.Bus, error) {
	backoff := retryBackoff(cfg.Retry)
	switch cfg.Driver {
	case "memory":
		return bus.NewMemoryBus(bus.MemoryOptions{
			Partitions:    cfg.Partitions,
			QueueSize:     cfg.QueueSize,
			MaxDeliveries: cfg.MaxDeliveries,
			Backoff:       backoff,
			DeadLetters:   dl,
		}), nil
	case "sql":
		if db == nil {
			return nil, errors.New("bus.driver=sql requires store.driver sqlite or postgres")
		}
		return bus.NewSQLBus(db, bus.SQLOptions{
			PollInterval:  cfg.PollInterval(),
			BatchSize:     cfg.BatchSize,
			MaxDeliveries: cfg.MaxDeliveries,
			Backoff:       backoff,
			DeadLetters:   dl,
		})
	default:
		return nil, fmt.Errorf("unsupported bus driver %q", cfg.Driver)
	}
}

func retryBackoff(cfg config.RetryConfig) bus.Backoff {
	b := bus.DefaultBackoff()
	if cfg.MinMs > 0 {
		b.Min = time.Duration(cfg.MinMs) * time.Millisecond
	}
	if cfg.MaxMs > 0 {
		b.Max = time.Duration(cfg.MaxMs) * time.Millisecond
	}
	if cfg.Factor > 1 {
		b.Factor = cfg.Factor
	}
	b.Jitter = cfg.Jitter
	return b
}

func newSchemaRegistry(t config.TopicsConfig) (*bus.SchemaRegistry, error) {
	reg := bus.NewSchemaRegistry()
	for topic, schema := range map[string]string{
		t.OrderBookSignals:     bus.SchemaMarketSignal,
		t.CoinSelectionSignals: bus.SchemaMarketSignal,
		t.TradeCommands:        bus.SchemaTradeIntent,
		t.FinalTradeExecution:  bus.SchemaApprovedTrade,
		t.RiskAlerts:           bus.SchemaRiskAlert,
		t.TradeReports:         bus.SchemaTradeReport,
		t.OptimizationAlerts:   bus.SchemaOptimizationAlert,
	} {
		if err := reg.Register(topic, schema); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// bootstrap 首次启动时写入初始组合与 version=1 策略参数；已存在则保持不变。
func bootstrap(ctx context.Context, st store.Store, cfg *config.Config) error {
	created, err := st.Portfolio().Init(ctx, initialPortfolio(cfg))
	if err != nil {
		return fmt.Errorf("init portfolio: %w", err)
	}
	if created {
		logger.Infof("✓ 初始化组合状态 total_value=%.2f", cfg.Risk.InitialPortfolioValue)
	}
	state, err := st.Portfolio().Load(ctx)
	if err != nil {
		return fmt.Errorf("load portfolio: %w", err)
	}
	metrics.ReservedRisk.Set(state.ReservedRisk)

	latest, err := st.Strategies().Latest(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		seed := cfg.StrategySeed()
		seed.EffectiveFrom = time.Now().UTC()
		if err := st.Strategies().Publish(ctx, seed); err != nil && !errors.Is(err, store.ErrVersionConflict) {
			return fmt.Errorf("seed strategy config: %w", err)
		}
		logger.Infof("✓ 写入策略参数种子 v1")
		metrics.StrategyVersion.Set(1)
	case err != nil:
		return fmt.Errorf("load strategy config: %w", err)
	default:
		metrics.StrategyVersion.Set(float64(latest.Version))
	}
	return nil
}
