package envctx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Build must always produce a usable snapshot, whatever the host looks like.
func TestBuildNeverFails(t *testing.T) {
	snap := Build()
	if snap.Directory.Absolute == "" {
		t.Error("directory probe produced no path")
	}
	if snap.Time.TimeOfDay == "" {
		t.Error("time bucket missing")
	}
	if snap.Time.DayOfWeek == "" {
		t.Error("day of week missing")
	}
	if snap.Fingerprint() == "" {
		t.Error("fingerprint empty")
	}
}

func TestBucketTime(t *testing.T) {
	cases := []struct {
		hour      int
		timeOfDay string
	}{
		{4, "night"},
		{5, "morning"},
		{11, "morning"},
		{12, "afternoon"},
		{16, "afternoon"},
		{17, "evening"},
		{21, "evening"},
		{22, "night"},
		{0, "night"},
	}
	for _, tc := range cases {
		// 2026-08-19 is a Wednesday.
		at := time.Date(2026, 8, 19, tc.hour, 30, 0, 0, time.UTC)
		c := bucketTime(at)
		if c.TimeOfDay != tc.timeOfDay {
			t.Errorf("hour %d: time_of_day = %q, want %q", tc.hour, c.TimeOfDay, tc.timeOfDay)
		}
		if c.IsWeekend {
			t.Errorf("hour %d: Wednesday flagged as weekend", tc.hour)
		}
		wantWork := tc.hour >= 9 && tc.hour < 18
		if c.IsWorkHours != wantWork {
			t.Errorf("hour %d: is_work_hours = %v, want %v", tc.hour, c.IsWorkHours, wantWork)
		}
	}
}

func TestBucketTimeWeekend(t *testing.T) {
	saturday := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	c := bucketTime(saturday)
	if !c.IsWeekend {
		t.Error("Saturday not flagged as weekend")
	}
	if c.IsWorkHours {
		t.Error("weekend mornings are not work hours")
	}
}

func TestProbeDirectoryProjectType(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	d := probeDirectory(dir)
	if d.ProjectType != "node" {
		t.Errorf("project_type = %q, want node", d.ProjectType)
	}

	empty := t.TempDir()
	if d := probeDirectory(empty); d.ProjectType != "" {
		t.Errorf("empty dir project_type = %q", d.ProjectType)
	}
}

func TestProbeGitOutsideRepo(t *testing.T) {
	g := probeGit(t.TempDir())
	if g.IsRepo {
		t.Error("temp dir reported as a git repo")
	}
	if g.Branch != "" || g.ModifiedFiles != 0 {
		t.Errorf("non-repo fields populated: %+v", g)
	}
}

func TestProbeRecentFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	fresh := filepath.Join(dir, "fresh.txt")
	if err := os.WriteFile(fresh, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "stale.txt")
	if err := os.WriteFile(stale, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	old := now.Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	hiddenDir := filepath.Join(dir, ".git")
	if err := os.Mkdir(hiddenDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(hiddenDir, "config"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	files := probeRecentFiles(dir, now)
	if len(files) != 1 {
		t.Fatalf("files = %v, want only fresh.txt", files)
	}
	if files[0].Path != "fresh.txt" {
		t.Errorf("path = %q", files[0].Path)
	}
}

func TestRenderIncludesDirectoryAndTime(t *testing.T) {
	snap := Snapshot{
		Directory: Directory{HomeRel: "~/work", ProjectType: "go"},
		Time:      bucketTime(time.Date(2026, 8, 19, 14, 5, 0, 0, time.UTC)),
	}
	out := snap.Render()
	if !strings.Contains(out, "~/work") || !strings.Contains(out, "go project") {
		t.Errorf("render missing directory line: %q", out)
	}
	if !strings.Contains(out, "afternoon") {
		t.Errorf("render missing time bucket: %q", out)
	}
}
