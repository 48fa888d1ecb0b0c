package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"zenus/internal/rollback"
	"zenus/internal/tracker"
)

var explainCmd = &cobra.Command{
	Use:   "explain [last | history | N]",
	Short: "Explain what a past transaction did and whether it can be undone",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		mode := "last"
		if len(args) == 1 {
			mode = args[0]
		}

		switch mode {
		case "history":
			txns, err := a.store.RecentTransactions(20)
			if err != nil {
				return err
			}
			for _, txn := range txns {
				fmt.Printf("%s  %s  %s\n", txn.StartTime.Format("2006-01-02 15:04"), txn.Status, txn.UserInput)
			}
			return nil

		case "last":
			txn, err := a.store.LastTransaction()
			if err != nil {
				return err
			}
			return explainTransaction(a, txn)

		default:
			n, err := strconv.Atoi(mode)
			if err != nil {
				return fmt.Errorf("expected 'last', 'history' or a number, got %q", mode)
			}
			txns, err := a.store.RecentTransactions(n + 1)
			if err != nil {
				return err
			}
			if n >= len(txns) {
				return fmt.Errorf("only %d transaction(s) recorded", len(txns))
			}
			return explainTransaction(a, &txns[n])
		}
	},
}

func explainTransaction(a *app, txn *tracker.Transaction) error {
	actions, err := a.store.ListTransaction(txn.ID)
	if err != nil {
		return err
	}

	fmt.Printf("transaction %s (%s)\n", txn.ID, txn.Status)
	fmt.Printf("command: %s\n", txn.UserInput)
	if txn.IntentGoal != "" {
		fmt.Printf("goal: %s\n", txn.IntentGoal)
	}
	for _, act := range actions {
		marker := " "
		if act.RolledBack {
			marker = "~"
		}
		fmt.Printf("  %s %s.%s  inverse: %s\n", marker, act.Tool, act.Operation, act.RollbackStrategy)
	}

	f := rollback.Feasible(actions)
	if f.Possible {
		fmt.Printf("rollback: possible (%d action(s))\n", f.RollbackableCount)
	} else {
		fmt.Printf("rollback: not possible (%s)\n", f.Reason)
	}
	return nil
}
