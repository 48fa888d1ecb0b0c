package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetState(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		CloseAll()
		debugMode = false
		logsDir = ""
		logLevel = LevelInfo
	})
}

func TestDisabledIsNoOp(t *testing.T) {
	resetState(t)
	if err := Initialize("", false, "info"); err != nil {
		t.Fatalf("disabled Initialize failed: %v", err)
	}

	// Must not panic or create files anywhere.
	Get(CategoryCache).Info("ignored %d", 1)
	Orchestrator("ignored")
	StartTimer(CategoryExecutor, "noop").Stop()
}

func TestInitializeWritesCategoryFiles(t *testing.T) {
	resetState(t)
	root := t.TempDir()
	if err := Initialize(root, true, "debug"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Get(CategoryRouter).Info("selected tier %s", "cheap")
	Get(CategoryRouter).Debug("capability check")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(root, "logs"))
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}

	var routerFile string
	for _, e := range entries {
		if strings.Contains(e.Name(), "_router.log") {
			routerFile = filepath.Join(root, "logs", e.Name())
		}
	}
	if routerFile == "" {
		t.Fatalf("no router log among %v", entries)
	}
	data, err := os.ReadFile(routerFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[INFO] selected tier cheap") {
		t.Errorf("info line missing: %q", data)
	}
	if !strings.Contains(string(data), "[DEBUG] capability check") {
		t.Errorf("debug line missing at debug level: %q", data)
	}
}

func TestLevelFiltering(t *testing.T) {
	resetState(t)
	root := t.TempDir()
	if err := Initialize(root, true, "warn"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	l := Get(CategoryCache)
	l.Info("should be filtered")
	l.Warn("kept warning")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(root, "logs"))
	for _, e := range entries {
		if !strings.Contains(e.Name(), "_cache.log") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, "logs", e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(data), "should be filtered") {
			t.Error("info line written at warn level")
		}
		if !strings.Contains(string(data), "[WARN] kept warning") {
			t.Errorf("warn line missing: %q", data)
		}
		return
	}
	t.Fatal("cache log not created")
}
