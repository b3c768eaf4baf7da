package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/app"
	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/logger"
)

// rootCmd 不带子命令时的入口
var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Run kinomerge syncs from the command line",
	Long: `syncctl runs a sync synchronously against the configured database and sources,
bypassing the background queue. Configuration is read from .env and the environment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var envDir string

func init() {
	rootCmd.PersistentFlags().StringVar(&envDir, "env", ".", "directory containing the .env file")
}

// withApp 加载配置并组装依赖，命令结束后释放
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load(envDir)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		l, logErr := logger.New(config.LogConfig{Level: "debug", Format: "console"})
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}
