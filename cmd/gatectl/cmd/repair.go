package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/platform/config"
	"github.com/library-systems/gatehouse/internal/repair"
	"github.com/library-systems/gatehouse/internal/replicator"
)

func newRepairSyncFullCommand() *cobra.Command {
	var (
		since     string
		until     string
		roll      string
		batchSize int
	)

	c := &cobra.Command{
		Use:   "repair-sync-full",
		Short: "Re-send every local EntryLog/ExitLog row with a deterministic event id (C8)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			cfg, err := config.LoadGateConfig()
			if err != nil {
				return fmt.Errorf("loading gate config: %w", err)
			}

			var f repair.Filter
			f.Roll = roll
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("parsing --since: %w", err)
				}
				f.Since = t
			}
			if until != "" {
				t, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return fmt.Errorf("parsing --until: %w", err)
				}
				f.Until = t
			}

			ctx := context.Background()
			store, err := gatestore.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("opening gate store: %w", err)
			}
			defer store.Close()

			sender := replicator.New(store, cfg.BackendSyncURL, cfg.GateAPIKey, cfg.SyncBatchSize,
				config.ParseDuration(cfg.SyncTimeoutSecs), logger)

			summary, err := repair.RunFull(ctx, store, sender, f, batchSize, logger)
			if err != nil {
				return fmt.Errorf("repair run failed: %w", err)
			}

			fmt.Fprintf(os.Stderr, "repair-sync-full: entries=%d exits=%d rejected=%d\n",
				summary.EntriesSent, summary.ExitsSent, summary.Rejected)
			for _, e := range summary.SampleErrors {
				fmt.Fprintln(os.Stderr, "  rejected:", e)
			}
			return nil
		},
	}

	c.Flags().StringVar(&since, "since", "", "ISO-8601 lower bound on created_at")
	c.Flags().StringVar(&until, "until", "", "ISO-8601 upper bound on created_at")
	c.Flags().StringVar(&roll, "roll", "", "restrict the replay to a single roll")
	c.Flags().IntVar(&batchSize, "batch-size", repair.DefaultBatchSize, "page size for the replay")

	return c
}
