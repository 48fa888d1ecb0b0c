package tracker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "actions.db"), filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginRecordEnd(t *testing.T) {
	s := testStore(t)

	txnID, err := s.Begin("create a note", "create note file")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if len(txnID) != 24 {
		t.Errorf("txn id %q should be 24 hex chars", txnID)
	}

	if _, err := s.Begin("another", "g"); !errors.Is(err, ErrTransactionInProgress) {
		t.Errorf("second Begin = %v, want ErrTransactionInProgress", err)
	}

	if _, err := s.Record("FileOps", "create_file",
		map[string]any{"path": "/t/a.txt"}, map[string]any{"path": "/t/a.txt"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := s.End(txnID, StatusCompleted); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	txn, err := s.GetTransaction(txnID)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if txn.Status != StatusCompleted {
		t.Errorf("status = %q", txn.Status)
	}

	actions, err := s.ListTransaction(txnID)
	if err != nil {
		t.Fatalf("ListTransaction failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	a := actions[0]
	if a.RollbackStrategy != StrategyDeletePath || !a.RollbackPossible {
		t.Errorf("strategy = %q possible = %v", a.RollbackStrategy, a.RollbackPossible)
	}
	if a.RollbackData["path"] != "/t/a.txt" {
		t.Errorf("rollback data = %v", a.RollbackData)
	}
}

func TestRecordWithoutTransactionUsesStandaloneBucket(t *testing.T) {
	s := testStore(t)

	if _, err := s.Record("FileOps", "scan",
		map[string]any{"path": "/tmp"}, map[string]any{"count": 2}); err != nil {
		t.Fatalf("standalone Record failed: %v", err)
	}

	actions, err := s.ListTransaction("standalone")
	if err != nil {
		t.Fatalf("ListTransaction failed: %v", err)
	}
	if len(actions) != 1 {
		t.Errorf("standalone actions = %d", len(actions))
	}
}

func TestStrategyDecisionTable(t *testing.T) {
	noCheckpoint := func(string) (string, bool) { return "", false }
	withCheckpoint := func(string) (string, bool) { return "pre-edit", true }

	cases := []struct {
		tool, op     string
		params       map[string]any
		result       map[string]any
		hasCP        func(string) (string, bool)
		wantStrategy Strategy
		wantPossible bool
	}{
		{"FileOps", "create_file", map[string]any{"path": "/a"}, nil, noCheckpoint, StrategyDeletePath, true},
		{"FileOps", "copy_file", map[string]any{"source": "/a", "destination": "/b"}, nil, noCheckpoint, StrategyDeletePath, true},
		{"FileOps", "move_file", map[string]any{"source": "/a", "destination": "/b"}, nil, noCheckpoint, StrategyMoveBack, true},
		{"FileOps", "write_file", map[string]any{"path": "/a"}, nil, noCheckpoint, StrategyManual, false},
		{"FileOps", "write_file", map[string]any{"path": "/a"}, nil, withCheckpoint, StrategyRestoreFromCheckpoint, true},
		{"FileOps", "delete_file", map[string]any{"path": "/a"}, nil, withCheckpoint, StrategyRestoreFromCheckpoint, true},
		{"PackageOps", "install", map[string]any{"package": "x"}, nil, noCheckpoint, StrategyUninstallPackage, true},
		{"PackageOps", "uninstall", map[string]any{"package": "x"}, nil, noCheckpoint, StrategyInstallPackage, true},
		{"GitOps", "commit", map[string]any{"cwd": "/r"}, map[string]any{"commit": "abc"}, noCheckpoint, StrategyGitReset, true},
		{"GitOps", "push", nil, nil, noCheckpoint, StrategyNotRollbackable, false},
		{"ServiceOps", "start", map[string]any{"service": "s"}, nil, noCheckpoint, StrategyServiceStop, true},
		{"ServiceOps", "stop", map[string]any{"service": "s"}, nil, noCheckpoint, StrategyServiceStart, true},
		{"ContainerOps", "run", nil, map[string]any{"container_id": "c1"}, noCheckpoint, StrategyContainerStopRemove, true},
		{"ProcessOps", "run", map[string]any{"command": "ls"}, nil, noCheckpoint, StrategyManual, false},
	}

	for _, tc := range cases {
		t.Run(tc.tool+"."+tc.op, func(t *testing.T) {
			strategy, _, possible := deriveStrategy(tc.tool, tc.op, tc.params, tc.result, tc.hasCP)
			if strategy != tc.wantStrategy {
				t.Errorf("strategy = %q, want %q", strategy, tc.wantStrategy)
			}
			if possible != tc.wantPossible {
				t.Errorf("possible = %v, want %v", possible, tc.wantPossible)
			}
		})
	}
}

func TestGitResetRevision(t *testing.T) {
	_, data, _ := deriveStrategy("GitOps", "commit",
		map[string]any{"cwd": "/repo"}, map[string]any{"commit": "deadbeef"}, nil)
	if data["revision"] != "HEAD~1" {
		t.Errorf("revision = %v", data["revision"])
	}
	if data["commit"] != "deadbeef" {
		t.Errorf("commit = %v", data["commit"])
	}
}

func TestCheckpointBacksUpRegularFiles(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()

	keep := filepath.Join(dir, "keep.txt")
	if err := os.WriteFile(keep, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.txt")
	sub := filepath.Join(dir, "subdir")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	cp, err := s.Checkpoint("pre-edit", "before editing", []string{keep, missing, sub})
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if len(cp.BackupPaths) != 1 {
		t.Fatalf("backed up %d paths, want 1 (regular files only)", len(cp.BackupPaths))
	}
	backup := cp.BackupPaths[keep]
	data, err := os.ReadFile(backup)
	if err != nil || string(data) != "original" {
		t.Errorf("backup content = %q, err = %v", data, err)
	}

	// Names are unique.
	if _, err := s.Checkpoint("pre-edit", "again", []string{keep}); err == nil {
		t.Error("duplicate checkpoint name accepted")
	}
}

func TestRecentActionsChronological(t *testing.T) {
	s := testStore(t)
	for _, path := range []string{"/a", "/b", "/c"} {
		if _, err := s.Record("FileOps", "create_file",
			map[string]any{"path": path}, map[string]any{"path": path}); err != nil {
			t.Fatal(err)
		}
	}

	actions, err := s.RecentActions(2)
	if err != nil {
		t.Fatalf("RecentActions failed: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("len = %d", len(actions))
	}
	if actions[0].ID >= actions[1].ID {
		t.Error("RecentActions must return chronological order")
	}
	if actions[1].Params["path"] != "/c" {
		t.Errorf("latest action = %v", actions[1].Params)
	}
}
