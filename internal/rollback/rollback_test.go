package rollback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"zenus/internal/sandbox"
	"zenus/internal/tools"
	"zenus/internal/tracker"
)

type fixture struct {
	store  *tracker.Store
	engine *Engine
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stateDir := t.TempDir()
	workDir := t.TempDir()

	store, err := tracker.NewStore(
		filepath.Join(stateDir, "actions.db"),
		filepath.Join(stateDir, "backups"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sb := sandbox.New([]string{workDir}, nil)
	registry := tools.NewRegistry()
	tools.RegisterFileOps(registry, sb)

	return &fixture{store: store, engine: NewEngine(store, registry), dir: workDir}
}

// Create then move; rolling back must move the file back first, then delete
// it, leaving nothing behind.
func TestRollbackCreateThenMove(t *testing.T) {
	f := newFixture(t)
	a := filepath.Join(f.dir, "a.txt")
	b := filepath.Join(f.dir, "b.txt")

	txnID, err := f.store.Begin("make and rename a note", "note")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Record("FileOps", "create_file",
		map[string]any{"path": a}, map[string]any{"path": a}); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(a, b); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Record("FileOps", "move_file",
		map[string]any{"source": a, "destination": b},
		map[string]any{"source": a, "destination": b}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.End(txnID, tracker.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.RollbackTransaction(context.Background(), txnID, false)
	if err != nil {
		t.Fatalf("RollbackTransaction failed: %v", err)
	}
	if report.Status != tracker.RollbackCompleted || report.Undone != 2 {
		t.Errorf("report = %+v", report)
	}

	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Errorf("%s still exists", a)
	}
	if _, err := os.Stat(b); !os.IsNotExist(err) {
		t.Errorf("%s still exists", b)
	}

	actions, _ := f.store.ListTransaction(txnID)
	for _, act := range actions {
		if !act.RolledBack {
			t.Errorf("action %d not marked rolled back", act.ID)
		}
	}
}

// A transaction containing a push is refused outright, touching nothing.
func TestRollbackRefusesNonRollbackable(t *testing.T) {
	f := newFixture(t)
	a := filepath.Join(f.dir, "a.txt")

	txnID, err := f.store.Begin("commit and push", "publish")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Record("FileOps", "create_file",
		map[string]any{"path": a}, map[string]any{"path": a}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Record("GitOps", "push",
		map[string]any{"cwd": f.dir}, map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.End(txnID, tracker.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	actions, _ := f.store.ListTransaction(txnID)
	feas := Feasible(actions)
	if feas.Possible {
		t.Fatal("feasibility should be false")
	}
	if len(feas.NonRollbackable) != 1 || feas.NonRollbackable[0] != "GitOps.push" {
		t.Errorf("non_rollbackable = %v", feas.NonRollbackable)
	}

	_, err = f.engine.RollbackTransaction(context.Background(), txnID, false)
	var rbErr *RollbackError
	if !errors.As(err, &rbErr) {
		t.Fatalf("expected RollbackError, got %v", err)
	}

	// Nothing touched: the created file survives and no action is marked.
	if _, statErr := os.Stat(a); statErr != nil {
		t.Error("refused rollback must not delete files")
	}
	actions, _ = f.store.ListTransaction(txnID)
	for _, act := range actions {
		if act.RolledBack {
			t.Error("refused rollback must not mark actions")
		}
	}
}

// last-N scopes around blocked actions instead of refusing.
func TestRollbackLastNSkipsBlocked(t *testing.T) {
	f := newFixture(t)
	a := filepath.Join(f.dir, "a.txt")

	txnID, err := f.store.Begin("mixed", "mixed")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Record("GitOps", "push", map[string]any{}, map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Record("FileOps", "create_file",
		map[string]any{"path": a}, map[string]any{"path": a}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.End(txnID, tracker.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.RollbackLastN(context.Background(), 2, false)
	if err != nil {
		t.Fatalf("RollbackLastN failed: %v", err)
	}
	if report.Undone != 1 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Error("create_file inverse did not run")
	}
}

func TestRollbackDryRunTouchesNothing(t *testing.T) {
	f := newFixture(t)
	a := filepath.Join(f.dir, "a.txt")

	txnID, err := f.store.Begin("create", "create")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Record("FileOps", "create_file",
		map[string]any{"path": a}, map[string]any{"path": a}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.End(txnID, tracker.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.RollbackTransaction(context.Background(), txnID, true)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if report.Status != "dry_run" || len(report.Plan) != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(a); err != nil {
		t.Error("dry run must not execute inverses")
	}
}

func TestRestoreCheckpoint(t *testing.T) {
	f := newFixture(t)
	target := filepath.Join(f.dir, "cfg.yaml")
	if err := os.WriteFile(target, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := f.store.Checkpoint("before-edit", "", []string{target}); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if err := os.WriteFile(target, []byte("v2 mangled"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := f.engine.RestoreCheckpoint(context.Background(), "before-edit", false)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if report.Undone != 1 {
		t.Errorf("report = %+v", report)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "v1" {
		t.Errorf("restored content = %q", data)
	}
}
