package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/midnight"
	"github.com/library-systems/gatehouse/internal/platform/config"
	"github.com/library-systems/gatehouse/internal/replicator"
)

// midnightCloseSchedule runs the batch closer daily at 00:05:00, giving the
// clock a small grace window past midnight (§4.7).
const midnightCloseSchedule = "0 5 0 * * *"

func newServeCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the replication worker and the midnight cron schedule as a long-lived daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			cfg, err := config.LoadGateConfig()
			if err != nil {
				return fmt.Errorf("loading gate config: %w", err)
			}

			store, err := gatestore.Open(context.Background(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("opening gate store: %w", err)
			}
			defer store.Close()

			worker := replicator.New(store, cfg.BackendSyncURL, cfg.GateAPIKey, cfg.SyncBatchSize,
				config.ParseDuration(cfg.SyncTimeoutSecs), logger)

			replicatorCtx, replicatorCancel := context.WithCancel(context.Background())
			defer replicatorCancel()

			go func() {
				interval := time.Duration(cfg.SyncIntervalSecs) * time.Second
				if err := worker.Run(replicatorCtx, interval); err != nil && err != context.Canceled {
					logger.Error("replication worker stopped with error", zap.Error(err))
				}
			}()
			logger.Info("replication worker started", zap.Int("interval_seconds", cfg.SyncIntervalSecs))

			midnightCron := cron.New(cron.WithSeconds())
			_, err = midnightCron.AddFunc(midnightCloseSchedule, func() {
				result, err := midnight.Close(context.Background(), store, midnight.DefaultStaleHours, false, logger)
				if err != nil {
					logger.Error("midnight close failed", zap.Error(err))
					return
				}
				logger.Info("midnight close complete",
					zap.Int("candidates", len(result.Candidates)),
					zap.Int("errors", len(result.Errors)),
				)
			})
			if err != nil {
				return fmt.Errorf("scheduling midnight close: %w", err)
			}
			midnightCron.Start()
			logger.Info("midnight cron schedule started", zap.String("schedule", midnightCloseSchedule))

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit
			logger.Info("gatectl serve: initiating graceful shutdown")

			replicatorCancel()
			cronStopCtx := midnightCron.Stop()
			<-cronStopCtx.Done()

			logger.Info("gatectl serve: shut down cleanly")
			return nil
		},
	}

	return c
}
