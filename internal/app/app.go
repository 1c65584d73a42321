package app

import (
	"context"
	"fmt"
	"sync"

	"aegis/internal/aggregator"
	"aegis/internal/bus"
	"aegis/internal/config"
	"aegis/internal/deadletter"
	"aegis/internal/logger"
	"aegis/internal/optimizer"
	"aegis/internal/risk"
	"aegis/internal/scheduler"
	"aegis/internal/store"
	adminhttp "aegis/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→按角色启动各服务。
type App struct {
	cfg         *config.Config
	store       store.Store
	bus         bus.Bus
	deadLetters deadletter.Store
	publisher   bus.Publisher

	aggregator *aggregator.Service
	risk       *risk.Service
	optimizer  *optimizer.Optimizer
	schedule   *scheduler.AlignedScheduler
	adminHTTP  *adminhttp.Server
	watcher    *config.Watcher

	Summary *StartupSummary

	closeOnce sync.Once
}

// NewApp 根据配置构建应用对象（不启动）。configPath 为空时不开启热更新。
func NewApp(ctx context.Context, cfg *config.Config, configPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg, ConfigPath(configPath))
}

// Run 启动总线消费、定时任务与 HTTP 服务，直到 ctx 取消或任一组件出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.watcher != nil {
		a.watcher.Start()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.bus.Run(ctx); err != nil {
			return fmt.Errorf("bus: %w", err)
		}
		return nil
	})
	if a.aggregator != nil {
		group.Go(func() error { return a.aggregator.Run(ctx) })
	}
	if a.optimizer != nil && a.schedule != nil {
		group.Go(func() error {
			a.optimizer.Schedule(ctx, a.schedule)
			return nil
		})
	}
	if a.adminHTTP != nil {
		group.Go(func() error {
			if err := a.adminHTTP.Start(ctx); err != nil {
				return fmt.Errorf("admin http server error: %w", err)
			}
			return nil
		})
	}
	return group.Wait()
}

// RunOptimizerOnce 执行一次优化后返回，供命令行一次性调用。
func (a *App) RunOptimizerOnce(ctx context.Context) (optimizer.Result, error) {
	if a == nil || a.optimizer == nil {
		return optimizer.Result{}, fmt.Errorf("optimizer role is not enabled")
	}
	defer a.Close()
	return a.optimizer.Run(ctx)
}

// Close 释放总线、死信库与存储连接；可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		if a.bus != nil {
			_ = a.bus.Close()
		}
		if a.deadLetters != nil {
			_ = a.deadLetters.Close()
		}
		if a.store != nil {
			_ = a.store.Close()
		}
	})
}

// Store exposes the underlying store (for tests and one-off tooling).
func (a *App) Store() store.Store {
	if a == nil {
		return nil
	}
	return a.store
}

// Publisher 返回带重试与熔断的发布器。
func (a *App) Publisher() bus.Publisher {
	if a == nil {
		return nil
	}
	return a.publisher
}
