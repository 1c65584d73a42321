package config

import (
	"fmt"
	"sync"

	"aegis/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher 监听主配置文件变化，重新加载并校验后回调订阅者。
// 只有运行期可安全调整的字段（聚合权重、单源惩罚、TTL、日志级别）会被消费方使用。
type Watcher struct {
	path string
	v    *viper.Viper

	mu        sync.Mutex
	current   *Config
	listeners []func(*Config)
}

func NewWatcher(path string, initial *Config) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("watch config %s: %w", path, err)
	}
	return &Watcher{path: path, v: v, current: initial}, nil
}

// OnChange 注册回调；回调在 fsnotify goroutine 中执行。
func (w *Watcher) OnChange(fn func(*Config)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) Start() {
	w.v.OnConfigChange(func(evt fsnotify.Event) {
		w.reload(evt.Name)
	})
	w.v.WatchConfig()
	logger.Infof("配置热更新已开启: %s", w.path)
}

func (w *Watcher) reload(trigger string) {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Errorf("config reload failed (%s): %v", trigger, err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()
	logger.SetLevel(cfg.App.LogLevel)
	for _, fn := range listeners {
		fn(cfg)
	}
	logger.Infof("配置已重新加载: %s", trigger)
}
