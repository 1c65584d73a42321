package app

import (
	"context"
	"fmt"
	"time"

	"aegis/internal/aggregator"
	"aegis/internal/bus"
	"aegis/internal/config"
	"aegis/internal/decision"
	"aegis/internal/gateway/binance"
	"aegis/internal/gateway/gate"
	"aegis/internal/gateway/notifier"
	"aegis/internal/journal"
	"aegis/internal/logger"
	"aegis/internal/notify"
	"aegis/internal/optimizer"
	"aegis/internal/risk"
	"aegis/internal/scheduler"
	adminhttp "aegis/internal/transport/http/admin"
	"aegis/internal/types"
)

// 每个角色使用独立的消费组，同一主题可被多个角色同时消费。
const (
	groupAggregator = "aggregator"
	groupRisk       = "risk"
	groupRiskPrices = "risk-prices"
	groupJournal    = "journal"
	groupNotify     = "notify"
)

func initialPortfolio(cfg *config.Config) types.PortfolioState {
	return types.PortfolioState{
		Version:    1,
		TotalValue: cfg.Risk.InitialPortfolioValue,
		Positions:  []types.Position{},
		UpdatedAt:  time.Now().UTC(),
	}
}

func signalTopics(t config.TopicsConfig) map[string]types.SignalSource {
	return map[string]types.SignalSource{
		t.OrderBookSignals:     types.SourceOrderBook,
		t.CoinSelectionSignals: types.SourceCoinSelection,
	}
}

// wireServices 按 app.roles 构建服务，并把各自的路由订阅到总线。
func (b *AppBuilder) wireServices(ctx context.Context, a *App, schemas *bus.SchemaRegistry) error {
	cfg := a.cfg
	topics := cfg.Topics
	subscribe := func(group string, routes []bus.Route) error {
		reg := bus.NewHandlerRegistry(group, schemas.Middleware())
		for _, rt := range routes {
			reg.Register(rt)
		}
		return reg.SubscribeAll(a.bus)
	}

	if cfg.App.HasRole(config.RoleAggregator) {
		engine := decision.NewService(a.store.Strategies(), a.store.Portfolio(), a.publisher, topics.TradeCommands)
		agg := aggregator.New(aggregator.SettingsFromConfig(cfg.Aggregator))
		a.aggregator = aggregator.NewService(agg, engine, signalTopics(topics), cfg.Aggregator.SweepInterval())
		if err := subscribe(groupAggregator, a.aggregator.Routes()); err != nil {
			return err
		}
		logger.Infof("✓ 角色 aggregator：%s,%s → %s", topics.OrderBookSignals, topics.CoinSelectionSignals, topics.TradeCommands)
	}

	if cfg.App.HasRole(config.RoleRisk) {
		book := risk.NewSignalPriceBook(cfg.Risk.SignalPriceTTL())
		prices, err := buildPriceSources(cfg, book)
		if err != nil {
			return err
		}
		manager := risk.NewManager(a.store, prices, a.publisher,
			risk.Topics{Approved: topics.FinalTradeExecution, Alerts: topics.RiskAlerts},
			risk.Options{ExecutionSLA: cfg.Risk.ExecutionSLA(), MaxCASRetries: cfg.Risk.MaxCASRetries, DailyLossLimit: cfg.Risk.DailyLossLimit})
		a.risk = risk.NewService(manager, topics.TradeCommands, topics.TradeReports, book,
			[]string{topics.OrderBookSignals, topics.CoinSelectionSignals})
		if err := subscribe(groupRisk, a.risk.Routes()); err != nil {
			return err
		}
		if err := subscribe(groupRiskPrices, a.risk.PriceRoutes()); err != nil {
			return err
		}
		logger.Infof("✓ 角色 risk：价格源 %s，SLA=%s", prices.Name(), cfg.Risk.ExecutionSLA())
	}

	if cfg.App.HasRole(config.RoleJournal) {
		j := journal.New(a.store.Reports(), topics.TradeReports)
		if err := subscribe(groupJournal, j.Routes()); err != nil {
			return err
		}
		logger.Infof("✓ 角色 journal：%s", topics.TradeReports)
	}

	if cfg.App.HasRole(config.RoleNotify) {
		out, err := newTextNotifier(cfg.Notify)
		if err != nil {
			return err
		}
		fwd := notify.NewForwarder(out, notify.Topics{
			RiskAlerts:         topics.RiskAlerts,
			OptimizationAlerts: topics.OptimizationAlerts,
			TradeReports:       topics.TradeReports,
		})
		if err := subscribe(groupNotify, fwd.Routes()); err != nil {
			return err
		}
		logger.Infof("✓ 角色 notify")
	}

	if cfg.App.HasRole(config.RoleOptimizer) {
		oc := cfg.Optimizer
		a.optimizer = optimizer.New(a.store, optimizer.NewBoundedStep(oc), a.publisher, topics.OptimizationAlerts, optimizer.Options{
			Lookback:   oc.LookbackDuration(),
			MinSamples: oc.MinSamples,
			EMAPeriod:  oc.EMAPeriod,
		})
		if oc.Enabled {
			a.schedule = scheduler.NewAlignedScheduler("optimizer", oc.IntervalDuration(), oc.Offset())
			a.schedule.RunImmediately = oc.RunImmediately
		}
		logger.Infof("✓ 角色 optimizer：interval=%s lookback=%s min_samples=%d enabled=%v", oc.Interval, oc.Lookback, oc.MinSamples, oc.Enabled)
	}

	if cfg.App.HasRole(config.RoleAdmin) {
		srv, err := buildAdminHTTP(a, schemas)
		if err != nil {
			return err
		}
		a.adminHTTP = srv
	}
	return nil
}

func (b *AppBuilder) wireWatcher(a *App) error {
	if !a.cfg.App.WatchConfig || b.path == "" || a.aggregator == nil {
		return nil
	}
	w, err := config.NewWatcher(string(b.path), a.cfg)
	if err != nil {
		return err
	}
	agg := a.aggregator.Aggregator()
	w.OnChange(func(next *config.Config) {
		agg.Reconfigure(aggregator.SettingsFromConfig(next.Aggregator))
	})
	a.watcher = w
	return nil
}

// buildPriceSources 按 risk.price_sources 的顺序组装价格链。
func buildPriceSources(cfg *config.Config, book *risk.SignalPriceBook) (risk.PriceChain, error) {
	chain := make(risk.PriceChain, 0, len(cfg.Risk.PriceSources))
	for _, name := range cfg.Risk.PriceSources {
		switch name {
		case "static":
			chain = append(chain, risk.StaticPrices(cfg.Risk.StaticPrices))
		case "signals":
			chain = append(chain, book)
		case "intent":
			chain = append(chain, risk.IntentReference{})
		case "binance":
			bc := cfg.Market.Binance
			src, err := binance.New(binance.Config{
				RESTBaseURL: bc.RESTBaseURL,
				HTTPTimeout: time.Duration(bc.HTTPTimeoutSeconds) * time.Second,
				ProxyURL:    bc.ProxyURL,
				CacheTTL:    2 * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("binance price source: %w", err)
			}
			chain = append(chain, src)
		case "gate":
			gc := cfg.Market.Gate
			src, err := gate.New(gate.Config{
				RESTBaseURL: gc.RESTBaseURL,
				Settle:      gc.Settle,
				HTTPTimeout: time.Duration(gc.HTTPTimeoutSeconds) * time.Second,
				ProxyURL:    gc.ProxyURL,
				CacheTTL:    2 * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("gate price source: %w", err)
			}
			chain = append(chain, src)
		default:
			return nil, fmt.Errorf("unknown risk.price_sources entry %q", name)
		}
	}
	return chain, nil
}

func newTextNotifier(cfg config.NotifyConfig) (notifier.TextNotifier, error) {
	tg := cfg.Telegram
	if !tg.Enabled {
		return notifier.LogNotifier{}, nil
	}
	return notifier.NewTelegram(notifier.TelegramOptions{
		BotToken: tg.BotToken,
		ChatID:   tg.ChatID,
		BaseURL:  tg.BaseURL,
		Timeout:  time.Duration(tg.TimeoutSeconds) * time.Second,
	})
}

func buildAdminHTTP(a *App, schemas *bus.SchemaRegistry) (*adminhttp.Server, error) {
	topics := a.cfg.Topics
	cfg := adminhttp.ServerConfig{
		Addr:        a.cfg.App.HTTPAddr,
		Store:       a.store,
		DeadLetters: a.deadLetters,
		Publisher:   a.publisher,
		Schemas:     schemas,
		SignalTopics: map[types.SignalSource]string{
			types.SourceOrderBook:     topics.OrderBookSignals,
			types.SourceCoinSelection: topics.CoinSelectionSignals,
		},
	}
	if a.optimizer != nil {
		cfg.Optimizer = a.optimizer
	}
	server, err := adminhttp.NewServer(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化 admin HTTP 失败: %w", err)
	}
	logger.Infof("✓ Admin HTTP 接口监听 %s", server.Addr())
	return server, nil
}
