package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "memory", cfg.Bus.Driver)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 0.5, cfg.Strategy.BuyThreshold)
	assert.Equal(t, -0.5, cfg.Strategy.SellThreshold)
	assert.Equal(t, 0.01, cfg.Strategy.RiskPerTrade)
	assert.Equal(t, 0.05, cfg.Strategy.MaxPortfolioRisk)
	assert.Equal(t, "trade-commands", cfg.Topics.TradeCommands)
	assert.ElementsMatch(t, AllRoles, cfg.App.Roles)
	assert.Equal(t, 0.5, cfg.Aggregator.Weights["order-book"])
	assert.Equal(t, []string{"signals", "intent", "static"}, cfg.Risk.PriceSources)
	assert.Zero(t, cfg.Risk.DailyLossLimit)
}

func TestLoadIncludeAndOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "risk:\n  max_cas_retries: 9\n  static_prices:\n    BTCUSDT: 42000\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\nrisk:\n  execution_sla_seconds: 12\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Risk.MaxCASRetries)
	assert.Equal(t, 12, cfg.Risk.ExecutionSLASeconds)
	assert.Equal(t, 42000.0, cfg.Risk.StaticPrices["BTCUSDT"])
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "risk:\n  max_cas_retries: 3\n")
	t.Setenv("AEGIS_RISK_MAX_CAS_RETRIES", "7")
	t.Setenv("AEGIS_NOTIFY_TELEGRAM_BOT_TOKEN", "token-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Risk.MaxCASRetries)
	assert.Equal(t, "token-from-env", cfg.Notify.Telegram.BotToken)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown role", "app:\n  roles: [aggregator, trader]\n", "unknown role"},
		{"bad bus driver", "bus:\n  driver: kafka\n", "bus.driver"},
		{"crossed thresholds", "strategy:\n  buy_threshold: -0.6\n", "buy_threshold"},
		{"seed outside range", "strategy:\n  risk_per_trade: 0.5\n", "outside optimizer.ranges"},
		{"unknown weight source", "aggregator:\n  weights:\n    twitter: 1\n", "unknown source"},
		{"telegram incomplete", "notify:\n  telegram:\n    enabled: true\n", "telegram"},
		{"bad lookback", "optimizer:\n  lookback: soon\n", "optimizer.lookback"},
		{"negative daily loss limit", "risk:\n  daily_loss_limit: -50\n", "risk.daily_loss_limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestExplicitZeroIsKept(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "optimizer:\n  enabled: false\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Optimizer.Enabled)
}

func TestDumpYAMLMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Notify.Telegram.BotToken = "secret"
	out, err := DumpYAML(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret")
	assert.Contains(t, string(out), "***")
}
