package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/library-systems/gatehouse/internal/gatestore"
	"github.com/library-systems/gatehouse/internal/platform/config"
	"github.com/library-systems/gatehouse/internal/scanstate"
	"github.com/library-systems/gatehouse/internal/tokencodec"
)

func newProcessTokenCommand() *cobra.Command {
	var (
		token             string
		mode              string
		testMode          bool
		overrideScannedAt string
		overrideCreatedAt string
		jsonOut           bool
	)

	c := &cobra.Command{
		Use:   "process-token",
		Short: "Verify a token and run it through the entry/exit scan state machine (C1+C3)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode != "entry" && mode != "exit" {
				return fmt.Errorf("--mode must be 'entry' or 'exit'")
			}
			if !testMode && (overrideScannedAt != "" || overrideCreatedAt != "") {
				return fmt.Errorf("--override-scanned-at/--override-created-at require --test-mode")
			}

			ts := time.Now().UTC()
			if testMode && overrideScannedAt != "" {
				parsed, err := time.Parse(time.RFC3339, overrideScannedAt)
				if err != nil {
					return fmt.Errorf("parsing --override-scanned-at: %w", err)
				}
				ts = parsed.UTC()
			}
			// --override-created-at is accepted for replay-tooling parity with
			// the original debug path but the state machine models a single
			// wall-clock moment per scan; it has no further
			// effect beyond validating the flag's presence requires --test-mode.
			if testMode && overrideCreatedAt != "" {
				if _, err := time.Parse(time.RFC3339, overrideCreatedAt); err != nil {
					return fmt.Errorf("parsing --override-created-at: %w", err)
				}
			}

			cfg, err := config.LoadGateConfig()
			if err != nil {
				return fmt.Errorf("loading gate config: %w", err)
			}
			codec := tokencodec.New(nil, cfg.PublicKey)

			ctx := context.Background()
			store, err := gatestore.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("opening gate store: %w", err)
			}
			defer store.Close()

			payload, viaExpiredFallback, verifyErr := verifyWithFallback(codec, token, mode)
			if verifyErr != nil {
				return verifyErr
			}

			allowed := false
			var outputPayload interface{}

			err = store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
				if mode == "entry" {
					result, err := scanstate.ProcessEntryScan(ctx, tx, payload, viaExpiredFallback, ts, cfg.GateDeviceID)
					if err != nil {
						return err
					}
					allowed = result.Outcome == scanstate.EntryAllowed
					outputPayload = result
					return nil
				}
				result, err := scanstate.ProcessExitScan(ctx, tx, payload, ts, cfg.GateDeviceID)
				if err != nil {
					return err
				}
				// Exits are never blocked at the gate — every exit outcome
				// (including ORPHAN/DUPLICATE) still records the ExitLog and
				// lets the person through; the flag is for audit, not denial.
				allowed = true
				outputPayload = result
				return nil
			})
			if err != nil {
				return fmt.Errorf("processing scan: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(outputPayload); err != nil {
					return fmt.Errorf("encoding result: %w", err)
				}
			} else {
				fmt.Println(describeOutcome(mode, outputPayload))
			}

			if !allowed {
				os.Exit(1)
			}
			return nil
		},
	}

	c.Flags().StringVar(&token, "token", "", "signed token to process")
	c.Flags().StringVar(&mode, "mode", "", "entry or exit")
	c.Flags().BoolVar(&testMode, "test-mode", false, "allow timestamp overrides for replay/test runs")
	c.Flags().StringVar(&overrideScannedAt, "override-scanned-at", "", "ISO-8601 timestamp, requires --test-mode")
	c.Flags().StringVar(&overrideCreatedAt, "override-created-at", "", "ISO-8601 timestamp, requires --test-mode")
	c.Flags().BoolVar(&jsonOut, "json", false, "emit the decided event as JSON instead of a human-readable line")
	_ = c.MarkFlagRequired("token")
	_ = c.MarkFlagRequired("mode")

	return c
}

// verifyWithFallback tries a full verify first; for entry mode only, an
// expired-but-otherwise-valid token is retried through the controlled
// fallback decode path (§4.3 step 1).
func verifyWithFallback(codec *tokencodec.Codec, token, mode string) (*tokencodec.Payload, bool, error) {
	payload, err := codec.Verify(token)
	if err == nil {
		return payload, false, nil
	}
	if mode != "entry" || err != tokencodec.ErrExpired {
		return nil, false, fmt.Errorf("verifying token: %w", err)
	}
	payload, fallbackErr := codec.VerifyExpiredFallback(token)
	if fallbackErr != nil {
		return nil, false, fmt.Errorf("verifying expired token: %w", fallbackErr)
	}
	return payload, true, nil
}

func describeOutcome(mode string, result interface{}) string {
	switch r := result.(type) {
	case *scanstate.EntryResult:
		return fmt.Sprintf("ENTRY %s", r.Outcome)
	case *scanstate.ExitResult:
		return fmt.Sprintf("EXIT %s", r.Outcome)
	default:
		return "UNKNOWN"
	}
}
