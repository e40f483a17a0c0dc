package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "qcache",
		Short: "question bank cache service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json, in-memory defaults when empty")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run qcache server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	var summaryID string
	var force bool
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "resubmit a failed or stuck cache summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if summaryID == "" {
				return fmt.Errorf("--summary is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runRetry(cmd.Context(), cfg, summaryID, force)
		},
	}
	retryCmd.Flags().StringVar(&summaryID, "summary", "", "cache summary id")
	retryCmd.Flags().BoolVar(&force, "force", false, "take over a summary still marked in_progress")

	stuckCmd := &cobra.Command{
		Use:   "stuck",
		Short: "list summaries stuck in progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runStuck(cmd.Context(), cfg)
		},
	}

	var jobName string
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "run a scheduled job once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobName == "" {
				return fmt.Errorf("--name is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runJob(cmd.Context(), cfg, jobName)
		},
	}
	jobCmd.Flags().StringVar(&jobName, "name", "", "summary_audit or summary_cleanup")

	rootCmd.AddCommand(runCmd, retryCmd, stuckCmd, jobCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded",
		zap.String("config", path),
		zap.String("database", cfg.Database.Type),
		zap.String("queue", cfg.Worker.Queue.Type),
	)
	return cfg, nil
}

func runRetry(ctx context.Context, cfg *config.Config, id string, force bool) error {
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.dispatcher.Start(context.Background()); err != nil {
		return err
	}
	retryErr := app.cache.Retry(ctx, id, force)
	stopErr := app.dispatcher.Stop(time.Duration(cfg.Worker.StopTimeoutSecond) * time.Second)
	if retryErr != nil {
		return retryErr
	}
	if stopErr != nil {
		return stopErr
	}
	summary, err := app.cache.GetSummary(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runStuck(ctx context.Context, cfg *config.Config) error {
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	stuck, err := app.audit.Stuck(ctx)
	if err != nil {
		return err
	}
	return printJSON(stuck)
}

func runJob(ctx context.Context, cfg *config.Config, name string) error {
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.scheduler.RunNow(ctx, name)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
