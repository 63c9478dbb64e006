package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/platform/config"
	"github.com/library-systems/gatehouse/internal/replicator"
)

func newSyncToBackendCommand() *cobra.Command {
	var (
		once      bool
		batchSize int
		sleepSecs int
	)

	c := &cobra.Command{
		Use:   "sync-to-backend",
		Short: "Drain the local outbox and replicate it to the backend (C5)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			cfg, err := config.LoadGateConfig()
			if err != nil {
				return fmt.Errorf("loading gate config: %w", err)
			}
			if batchSize <= 0 {
				batchSize = cfg.SyncBatchSize
			}

			ctx := context.Background()
			store, err := gatestore.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("opening gate store: %w", err)
			}
			defer store.Close()

			worker := replicator.New(store, cfg.BackendSyncURL, cfg.GateAPIKey, batchSize,
				config.ParseDuration(cfg.SyncTimeoutSecs), logger)

			if once {
				n, err := worker.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("replication run failed: %w", err)
				}
				logger.Info("sync-to-backend: single run complete", zap.Int("claimed", n))
				return nil
			}

			interval := time.Duration(sleepSecs) * time.Second
			if sleepSecs <= 0 {
				interval = time.Duration(cfg.SyncIntervalSecs) * time.Second
			}
			if err := worker.Run(ctx, interval); err != nil && err != context.Canceled {
				return fmt.Errorf("replication loop stopped: %w", err)
			}
			return nil
		},
	}

	c.Flags().BoolVar(&once, "once", false, "run a single batch and exit instead of looping")
	c.Flags().IntVar(&batchSize, "batch-size", 0, "outbox batch size (default: SYNC_BATCH_SIZE)")
	c.Flags().IntVar(&sleepSecs, "sleep", 0, "seconds between ticks (default: SYNC_INTERVAL_SECONDS)")

	return c
}
