package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/midnight"
	"github.com/library-systems/gatehouse/internal/platform/config"
)

func newAutoExitMidnightCommand() *cobra.Command {
	var (
		hours  int
		dryRun bool
	)

	c := &cobra.Command{
		Use:   "auto-exit-midnight",
		Short: "Close stale ENTERED sessions and expire them (C7)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			cfg, err := config.LoadGateConfig()
			if err != nil {
				return fmt.Errorf("loading gate config: %w", err)
			}

			ctx := context.Background()
			store, err := gatestore.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("opening gate store: %w", err)
			}
			defer store.Close()

			result, err := midnight.Close(ctx, store, hours, dryRun, logger)
			if err != nil {
				return fmt.Errorf("midnight close failed: %w", err)
			}

			if dryRun {
				fmt.Printf("auto-exit-midnight (dry-run): %d stale ENTERED sessions would be closed\n", len(result.Candidates))
				const previewLimit = 10
				for i, e := range result.Candidates {
					if i == previewLimit {
						fmt.Printf("  ... and %d more\n", len(result.Candidates)-previewLimit)
						break
					}
					fmt.Printf("  %s roll=%s created_at=%s\n", e.ID, e.Roll, e.CreatedAt.UTC())
				}
			} else {
				fmt.Printf("auto-exit-midnight: closed %d sessions, %d errors\n", len(result.Candidates)-len(result.Errors), len(result.Errors))
			}
			for _, e := range result.Errors {
				logger.Error("auto-exit-midnight: per-entry failure", zap.Error(e))
			}
			return nil
		},
	}

	c.Flags().IntVar(&hours, "hours", midnight.DefaultStaleHours, "staleness threshold in hours")
	c.Flags().BoolVar(&dryRun, "dry-run", false, "preview candidates without writing")

	return c
}
