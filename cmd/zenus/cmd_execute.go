package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"zenus/internal/orchestrator"
)

var (
	executeDryRun    bool
	executeExplain   bool
	executeIterative bool
	executeOneshot   bool
)

var executeCmd = &cobra.Command{
	Use:   "execute [utterance]",
	Short: "Translate and run a natural-language command",
	Long: `Translates the utterance into a validated plan, schedules independent
steps in parallel, and records every mutation with its inverse so the
transaction can be rolled back later.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		utterance := strings.Join(args, " ")

		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		outcome, err := a.orch.Execute(ctx, utterance, orchestrator.Options{
			DryRun:       executeDryRun,
			Explain:      executeExplain,
			Iterative:    executeIterative,
			ForceOneshot: executeOneshot,
		})
		if outcome != nil && outcome.TransactionID != "" {
			fmt.Printf("transaction: %s (%s)\n", outcome.TransactionID, outcome.Status)
		}
		return err
	},
}

func init() {
	executeCmd.Flags().BoolVar(&executeDryRun, "dry-run", false, "render the plan and schedule without executing")
	executeCmd.Flags().BoolVar(&executeExplain, "explain", false, "show routing and risk analysis before executing")
	executeCmd.Flags().BoolVar(&executeIterative, "iterative", false, "force the iterative plan-act-observe loop")
	executeCmd.Flags().BoolVar(&executeOneshot, "force-oneshot", false, "skip the iterative loop even for complex commands")
}
