// Package rollback analyzes transactional undo feasibility and executes
// inverse operations in reverse insertion order.
package rollback

import (
	"context"
	"fmt"
	"os"
	"strings"

	"zenus/internal/logging"
	"zenus/internal/tools"
	"zenus/internal/tracker"
)

// RollbackError reports a refused or partially failed rollback.
type RollbackError struct {
	Message string
	Errors  []error
}

func (e *RollbackError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("rollback refused: %s", e.Message)
	}
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("rollback %s: %s", e.Message, strings.Join(parts, "; "))
}

// Feasibility is the result of analyzing a transaction's actions.
type Feasibility struct {
	Possible          bool
	RollbackableCount int
	NonRollbackable   []string // "Tool.operation" pairs blocking the rollback
	Reason            string
}

// Report describes a rollback run (or its dry-run plan).
type Report struct {
	TransactionID string
	Plan          []string
	Undone        int
	Skipped       int
	Errors        []error
	Warnings      []string
	Status        string // completed | partial | dry_run
}

// Render formats the report for terminal output.
func (r *Report) Render() string {
	var b strings.Builder
	for _, line := range r.Plan {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", err)
	}
	if r.Status == "dry_run" {
		fmt.Fprintf(&b, "dry run: %d action(s) would be undone\n", len(r.Plan))
	} else {
		fmt.Fprintf(&b, "rollback %s: %d undone, %d skipped\n", r.Status, r.Undone, r.Skipped)
	}
	return b.String()
}

// Engine executes inverse operations against the tool registry.
type Engine struct {
	store    *tracker.Store
	registry *tools.Registry
}

// NewEngine creates a rollback engine over the action store and registry.
func NewEngine(store *tracker.Store, registry *tools.Registry) *Engine {
	return &Engine{store: store, registry: registry}
}

// Feasible reports whether a set of actions can be rolled back in full.
// Already rolled-back actions do not block.
func Feasible(actions []tracker.Action) Feasibility {
	f := Feasibility{Possible: true}
	for _, a := range actions {
		if a.RolledBack {
			continue
		}
		if !a.RollbackPossible || a.RollbackStrategy == tracker.StrategyManual || a.RollbackStrategy == tracker.StrategyNotRollbackable {
			f.Possible = false
			f.NonRollbackable = append(f.NonRollbackable, a.Tool+"."+a.Operation)
			continue
		}
		f.RollbackableCount++
	}
	if !f.Possible {
		f.Reason = fmt.Sprintf("%d action(s) cannot be rolled back: %s",
			len(f.NonRollbackable), strings.Join(f.NonRollbackable, ", "))
	}
	return f
}

// RollbackTransaction undoes a whole transaction in reverse insertion order.
// It refuses to run (without touching any action) when any live action lacks
// an executable strategy. Individual inverse failures are collected, not
// fatal; the transaction's rollback status becomes completed or partial.
func (e *Engine) RollbackTransaction(ctx context.Context, txnID string, dryRun bool) (*Report, error) {
	actions, err := e.store.ListTransaction(txnID)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("transaction %s has no recorded actions", txnID)
	}

	if f := Feasible(actions); !f.Possible {
		return nil, &RollbackError{Message: f.Reason}
	}

	return e.undo(ctx, txnID, reverse(actions), dryRun, false)
}

// RollbackLastN undoes the last n actions of the most recent transaction.
// The caller explicitly scoped the rollback, so non-executable strategies are
// skipped instead of refusing the whole run.
func (e *Engine) RollbackLastN(ctx context.Context, n int, dryRun bool) (*Report, error) {
	txn, err := e.store.LastTransaction()
	if err != nil {
		return nil, err
	}
	actions, err := e.store.ListTransaction(txn.ID)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("transaction %s has no recorded actions", txn.ID)
	}
	if n < len(actions) {
		actions = actions[len(actions)-n:]
	}
	return e.undo(ctx, txn.ID, reverse(actions), dryRun, true)
}

// RestoreCheckpoint copies each backed-up file back to its original path.
// Missing backups are warnings, not fatals.
func (e *Engine) RestoreCheckpoint(ctx context.Context, name string, dryRun bool) (*Report, error) {
	cp, err := e.store.GetCheckpoint(name)
	if err != nil {
		return nil, err
	}

	report := &Report{TransactionID: cp.TransactionID, Status: "completed"}
	for original, backup := range cp.BackupPaths {
		report.Plan = append(report.Plan, fmt.Sprintf("restore %s <- %s", original, backup))
		if dryRun {
			continue
		}
		data, err := os.ReadFile(backup)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("backup missing for %s: %v", original, err))
			continue
		}
		if err := os.WriteFile(original, data, 0644); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("restore %s: %w", original, err))
			continue
		}
		report.Undone++
	}
	if dryRun {
		report.Status = "dry_run"
	} else if len(report.Errors) > 0 {
		report.Status = "partial"
	}
	return report, nil
}

// undo runs inverses over the given actions (already in reverse order).
func (e *Engine) undo(ctx context.Context, txnID string, actions []tracker.Action, dryRun, skipBlocked bool) (*Report, error) {
	report := &Report{TransactionID: txnID}

	for _, a := range actions {
		if a.RolledBack {
			report.Skipped++
			continue
		}
		if !a.RollbackPossible || a.RollbackStrategy == tracker.StrategyManual || a.RollbackStrategy == tracker.StrategyNotRollbackable {
			if skipBlocked {
				report.Skipped++
				report.Warnings = append(report.Warnings, fmt.Sprintf("skipping %s.%s (%s)", a.Tool, a.Operation, a.RollbackStrategy))
				continue
			}
			return nil, &RollbackError{Message: fmt.Sprintf("%s.%s has no executable inverse", a.Tool, a.Operation)}
		}

		report.Plan = append(report.Plan, describeInverse(a))
		if dryRun {
			continue
		}

		if err := e.invokeInverse(ctx, a); err != nil {
			logging.Tracker("inverse of action %d failed: %v", a.ID, err)
			report.Errors = append(report.Errors, fmt.Errorf("action %d (%s.%s): %w", a.ID, a.Tool, a.Operation, err))
			continue
		}
		if err := e.store.MarkRolledBack(a.ID); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("action %d: mark failed: %w", a.ID, err))
			continue
		}
		report.Undone++
	}

	switch {
	case dryRun:
		report.Status = "dry_run"
	case len(report.Errors) == 0:
		report.Status = tracker.RollbackCompleted
	default:
		report.Status = tracker.RollbackPartial
	}
	if !dryRun && txnID != "standalone" {
		if err := e.store.SetRollbackStatus(txnID, report.Status); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("failed to persist rollback status: %v", err))
		}
	}
	return report, nil
}

// invokeInverse maps a stored strategy to a concrete inverse invocation.
func (e *Engine) invokeInverse(ctx context.Context, a tracker.Action) error {
	data := a.RollbackData
	str := func(key string) string {
		if v, ok := data[key].(string); ok {
			return v
		}
		return ""
	}

	switch a.RollbackStrategy {
	case tracker.StrategyDeletePath:
		_, err := e.registry.Invoke(ctx, "FileOps", "delete_file", map[string]any{"path": str("path")})
		return err

	case tracker.StrategyMoveBack:
		_, err := e.registry.Invoke(ctx, "FileOps", "move_file", map[string]any{
			"source":      str("destination"),
			"destination": str("source"),
		})
		return err

	case tracker.StrategyRestoreFromCheckpoint:
		cp, err := e.store.GetCheckpoint(str("checkpoint"))
		if err != nil {
			return err
		}
		path := str("path")
		backup, ok := cp.BackupPaths[path]
		if !ok {
			return fmt.Errorf("checkpoint %q has no backup for %s", cp.Name, path)
		}
		content, err := os.ReadFile(backup)
		if err != nil {
			return fmt.Errorf("backup unreadable: %w", err)
		}
		return os.WriteFile(path, content, 0644)

	case tracker.StrategyUninstallPackage:
		_, err := e.registry.Invoke(ctx, "PackageOps", "uninstall", map[string]any{"package": str("package")})
		return err

	case tracker.StrategyInstallPackage:
		_, err := e.registry.Invoke(ctx, "PackageOps", "install", map[string]any{"package": str("package")})
		return err

	case tracker.StrategyGitReset:
		_, err := e.registry.Invoke(ctx, "GitOps", "reset", map[string]any{"revision": str("revision"), "cwd": str("cwd")})
		return err

	case tracker.StrategyServiceStart:
		_, err := e.registry.Invoke(ctx, "ServiceOps", "start", map[string]any{"service": str("service")})
		return err

	case tracker.StrategyServiceStop:
		_, err := e.registry.Invoke(ctx, "ServiceOps", "stop", map[string]any{"service": str("service")})
		return err

	case tracker.StrategyContainerStopRemove:
		id := str("container_id")
		if _, err := e.registry.Invoke(ctx, "ContainerOps", "stop", map[string]any{"container_id": id}); err != nil {
			return err
		}
		_, err := e.registry.Invoke(ctx, "ContainerOps", "remove", map[string]any{"container_id": id})
		return err
	}

	return fmt.Errorf("strategy %s is not executable", a.RollbackStrategy)
}

func describeInverse(a tracker.Action) string {
	return fmt.Sprintf("undo %s.%s via %s", a.Tool, a.Operation, a.RollbackStrategy)
}

func reverse(actions []tracker.Action) []tracker.Action {
	out := make([]tracker.Action, len(actions))
	for i, a := range actions {
		out[len(actions)-1-i] = a
	}
	return out
}
