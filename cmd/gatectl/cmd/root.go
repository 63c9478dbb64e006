// Package cmd implements the gatectl operator CLI: token processing,
// replication, the midnight batch closer, and full-replay repair, all
// driven off the same gate-local store (§6 of the expanded specification).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the gatectl root command.
func Execute() {
	root := &cobra.Command{
		Use:   "gatectl",
		Short: "Operator CLI for the gatehouse access-control gate",
	}

	root.AddCommand(
		newProcessTokenCommand(),
		newSyncToBackendCommand(),
		newAutoExitMidnightCommand(),
		newRepairSyncFullCommand(),
		newServeCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
