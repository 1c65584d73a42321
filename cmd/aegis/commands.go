package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"aegis/internal/app"
	"aegis/internal/config"
	"aegis/internal/logger"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

var version = "dev"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "aegis",
		Short:         "aegis - signal aggregation, risk gating and strategy tuning pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath, nil)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("AEGIS_CONFIG", defaultConfigPath), "配置文件路径 (AEGIS_CONFIG)")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newOptimizeCmd(&cfgPath))
	root.AddCommand(newConfigCmd(&cfgPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aegis %s\n", version)
		},
	})
	return root
}

func newServeCmd(cfgPath *string) *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the enabled roles until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfgPath, roles)
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "覆盖 app.roles，例如 --roles aggregator,risk")
	return cmd
}

func newOptimizeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Run one optimization pass and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLogs, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer closeLogs()
			cfg.App.Roles = []string{config.RoleOptimizer}
			cfg.App.WatchConfig = false

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			a, err := app.NewApp(ctx, cfg, "")
			if err != nil {
				return fmt.Errorf("初始化应用失败: %w", err)
			}
			res, err := a.RunOptimizerOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func newConfigCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("读取配置失败: %w", err)
			}
			out, err := config.DumpYAML(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(*cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s OK\n", *cfgPath)
			return nil
		},
	})
	return cmd
}

func runServe(parent context.Context, cfgPath string, roles []string) error {
	cfg, closeLogs, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	defer closeLogs()
	if len(roles) > 0 {
		cfg.App.Roles = normalizeRoles(roles)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，角色=%s）", cfg.App.Env, strings.Join(cfg.App.Roles, ","))

	ctx, stop := signalContext(parent)
	defer stop()
	a, err := app.NewApp(ctx, cfg, cfgPath)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("运行失败: %w", err)
	}
	logger.Infof("aegis 已退出")
	return nil
}

// loadConfig 读取配置并设置日志与审计输出，返回的 close 函数负责关闭日志文件。
func loadConfig(path string) (*config.Config, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	if logFile != nil {
		files = append(files, logFile)
	}
	auditFile, err := openAppend(cfg.App.AuditLogPath)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("初始化审计日志失败: %w", err)
	}
	if auditFile != nil {
		files = append(files, auditFile)
		logger.SetAuditWriter(auditFile)
	}
	logger.SetLevel(cfg.App.LogLevel)
	return cfg, closeAll, nil
}

func setupLogOutput(path string) (*os.File, error) {
	file, err := openAppend(path)
	if err != nil || file == nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func openAppend(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
