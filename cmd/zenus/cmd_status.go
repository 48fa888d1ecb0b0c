package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"zenus/internal/patterns"
	"zenus/internal/rollback"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent transactions, cache and router health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Printf("state root: %s\n", a.cfg.StateRoot)

		txns, err := a.store.RecentTransactions(10)
		if err != nil {
			return err
		}
		if len(txns) == 0 {
			fmt.Println("no transactions recorded")
		} else {
			fmt.Println("recent transactions:")
			for _, txn := range txns {
				line := fmt.Sprintf("  %s  %-10s  %s", txn.ID, txn.Status, txn.UserInput)
				if txn.RollbackStatus != "" {
					line += fmt.Sprintf("  (rollback %s)", txn.RollbackStatus)
				}
				fmt.Println(line)
			}
		}

		if last, err := a.store.LastTransaction(); err == nil {
			actions, listErr := a.store.ListTransaction(last.ID)
			if listErr == nil {
				feas := rollback.Feasible(actions)
				if feas.Possible {
					fmt.Printf("last transaction: rollback possible (%d action(s))\n", len(actions))
				} else {
					fmt.Printf("last transaction: rollback blocked by %v\n", feas.NonRollbackable)
				}
			}
		}

		stats := a.cache.Stats()
		fmt.Printf("cache: %d entries, %d hits, %d misses, ~%d tokens saved\n",
			a.cache.Len(), stats.Hits, stats.Misses, stats.TokensSaved)

		routerStats := a.router.Stats()
		for _, tier := range []string{"local", "cheap", "mid", "top"} {
			s := routerStats[tier]
			if s.Requests == 0 {
				continue
			}
			fmt.Printf("router %s: %d requests, %d failures, avg %.0fms\n",
				tier, s.Requests, s.Failures, s.AvgLatency)
		}

		if pats, err := patterns.Detect(a.store, 200); err == nil {
			renderPatterns(os.Stdout, pats, 5)
		}
		return nil
	},
}

// renderPatterns prints the top mined patterns, strongest first.
func renderPatterns(w io.Writer, pats []patterns.DetectedPattern, max int) {
	if len(pats) == 0 {
		return
	}
	if len(pats) > max {
		pats = pats[:max]
	}
	fmt.Fprintln(w, "detected patterns:")
	for _, p := range pats {
		fmt.Fprintf(w, "  [%.2f] %s (seen %d times)\n", p.Confidence, p.Description, p.Count)
	}
}
