package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"zenus/internal/rollback"
)

var (
	rollbackLastN      int
	rollbackTxnID      string
	rollbackCheckpoint string
	rollbackDryRun     bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Undo recorded actions",
	Long: `Replays the inverse of recorded actions in reverse order. Without
flags the most recent transaction is rolled back in full.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		switch {
		case rollbackCheckpoint != "":
			report, err := a.engine.RestoreCheckpoint(ctx, rollbackCheckpoint, rollbackDryRun)
			return renderReport(report, err)

		case rollbackLastN > 0:
			report, err := a.engine.RollbackLastN(ctx, rollbackLastN, rollbackDryRun)
			return renderReport(report, err)

		case rollbackTxnID != "":
			report, err := a.engine.RollbackTransaction(ctx, rollbackTxnID, rollbackDryRun)
			return renderReport(report, err)

		default:
			txn, err := a.store.LastTransaction()
			if err != nil {
				return err
			}
			report, err := a.engine.RollbackTransaction(ctx, txn.ID, rollbackDryRun)
			return renderReport(report, err)
		}
	},
}

func renderReport(report *rollback.Report, err error) error {
	if report != nil {
		fmt.Print(report.Render())
	}
	return err
}

func init() {
	rollbackCmd.Flags().IntVar(&rollbackLastN, "last", 0, "undo only the last N actions")
	rollbackCmd.Flags().StringVar(&rollbackTxnID, "transaction", "", "transaction id to roll back")
	rollbackCmd.Flags().StringVar(&rollbackCheckpoint, "checkpoint", "", "restore files from a named checkpoint")
	rollbackCmd.Flags().BoolVar(&rollbackDryRun, "dry-run", false, "show the rollback plan without executing")
}
