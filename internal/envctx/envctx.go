// Package envctx snapshots the environment a command runs in: directory,
// git state, time of day, running tools, recent files and system load.
// Every probe degrades to a sentinel default; Build never fails.
package envctx

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"zenus/internal/logging"
)

// Directory describes the working directory.
type Directory struct {
	Absolute    string `json:"absolute"`
	HomeRel     string `json:"home_relative"`
	ProjectType string `json:"project_type"`
}

// Git describes repository state. IsRepo is false whenever a probe fails.
type Git struct {
	IsRepo        bool   `json:"is_repo"`
	Branch        string `json:"branch"`
	StatusSummary string `json:"status_summary"`
	ModifiedFiles int    `json:"modified_files_count"`
	AheadCommits  int    `json:"ahead_commits"`
}

// Clock buckets the current time.
type Clock struct {
	Timestamp   time.Time `json:"timestamp"`
	Hour        int       `json:"hour"`
	DayOfWeek   string    `json:"day_of_week"`
	TimeOfDay   string    `json:"time_of_day"` // morning | afternoon | evening | night
	IsWeekend   bool      `json:"is_weekend"`
	IsWorkHours bool      `json:"is_work_hours"`
}

// Processes lists known dev tools currently running.
type Processes struct {
	Count    int      `json:"count"`
	DevTools []string `json:"dev_tools"`
}

// RecentFile is one recently modified file under the cwd.
type RecentFile struct {
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
}

// System carries load and disk signals.
type System struct {
	LoadAverage float64 `json:"load_average"`
	DiskUsage   float64 `json:"disk_usage_percent"`
	IsBusy      bool    `json:"is_busy"`
	LowDisk     bool    `json:"low_disk"`
}

// Snapshot is the full context value handed to the oracle.
type Snapshot struct {
	Directory   Directory    `json:"directory"`
	Git         Git          `json:"git"`
	Time        Clock        `json:"time"`
	Processes   Processes    `json:"processes"`
	RecentFiles []RecentFile `json:"recent_files"`
	System      System       `json:"system"`
}

// knownDevTools are process names worth surfacing to the oracle.
var knownDevTools = []string{
	"docker", "node", "python", "go", "cargo", "java", "make",
	"vim", "nvim", "emacs", "code", "postgres", "mysql", "redis",
}

// manifestTypes map well-known manifest files to a project type.
var manifestTypes = []struct {
	file string
	kind string
}{
	{"go.mod", "go"},
	{"package.json", "node"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"Cargo.toml", "rust"},
	{"pom.xml", "java"},
	{"Makefile", "make"},
	{"Dockerfile", "docker"},
}

// Build produces the snapshot for the current process state. It never
// returns an error; failed probes contribute their zero values.
func Build() Snapshot {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	now := time.Now()

	snap := Snapshot{
		Directory:   probeDirectory(cwd),
		Git:         probeGit(cwd),
		Time:        bucketTime(now),
		Processes:   probeProcesses(),
		RecentFiles: probeRecentFiles(cwd, now),
		System:      probeSystem(cwd),
	}
	logging.Get(logging.CategoryContext).Debug("snapshot: dir=%s project=%s git=%v load=%.2f",
		snap.Directory.HomeRel, snap.Directory.ProjectType, snap.Git.IsRepo, snap.System.LoadAverage)
	return snap
}

// Render formats the snapshot as a prompt block.
func (s Snapshot) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cwd: %s (%s project)\n", s.Directory.HomeRel, orUnknown(s.Directory.ProjectType))
	if s.Git.IsRepo {
		fmt.Fprintf(&b, "git: branch %s, %d modified\n", s.Git.Branch, s.Git.ModifiedFiles)
	}
	fmt.Fprintf(&b, "time: %s %s (%s)\n", s.Time.DayOfWeek, s.Time.Timestamp.Format("15:04"), s.Time.TimeOfDay)
	if len(s.RecentFiles) > 0 {
		names := make([]string, 0, len(s.RecentFiles))
		for _, f := range s.RecentFiles {
			names = append(names, f.Path)
		}
		fmt.Fprintf(&b, "recent files: %s\n", strings.Join(names, ", "))
	}
	if len(s.Processes.DevTools) > 0 {
		fmt.Fprintf(&b, "running tools: %s\n", strings.Join(s.Processes.DevTools, ", "))
	}
	return b.String()
}

// Fingerprint keys the cache on the parts of context that change plans.
func (s Snapshot) Fingerprint() string {
	return s.Directory.Absolute + "|" + s.Directory.ProjectType + "|" + s.Git.Branch
}

func probeDirectory(cwd string) Directory {
	d := Directory{Absolute: cwd, HomeRel: cwd}
	if home, err := os.UserHomeDir(); err == nil {
		if rel, err := filepath.Rel(home, cwd); err == nil && !strings.HasPrefix(rel, "..") {
			d.HomeRel = "~/" + rel
		}
	}
	for _, m := range manifestTypes {
		if _, err := os.Stat(filepath.Join(cwd, m.file)); err == nil {
			d.ProjectType = m.kind
			break
		}
	}
	return d
}

func probeGit(cwd string) Git {
	g := Git{}
	branch, err := gitOutput(cwd, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return g
	}
	g.IsRepo = true
	g.Branch = branch

	if status, err := gitOutput(cwd, "status", "--short"); err == nil {
		g.StatusSummary = status
		if status != "" {
			g.ModifiedFiles = len(strings.Split(status, "\n"))
		}
	}
	if ahead, err := gitOutput(cwd, "rev-list", "--count", "@{upstream}..HEAD"); err == nil {
		g.AheadCommits, _ = strconv.Atoi(ahead)
	}
	return g
}

func gitOutput(cwd string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func bucketTime(now time.Time) Clock {
	c := Clock{
		Timestamp: now,
		Hour:      now.Hour(),
		DayOfWeek: now.Weekday().String(),
	}
	switch {
	case c.Hour >= 5 && c.Hour < 12:
		c.TimeOfDay = "morning"
	case c.Hour >= 12 && c.Hour < 17:
		c.TimeOfDay = "afternoon"
	case c.Hour >= 17 && c.Hour < 22:
		c.TimeOfDay = "evening"
	default:
		c.TimeOfDay = "night"
	}
	c.IsWeekend = now.Weekday() == time.Saturday || now.Weekday() == time.Sunday
	c.IsWorkHours = !c.IsWeekend && c.Hour >= 9 && c.Hour < 18
	return c
}

func probeProcesses() Processes {
	out, err := exec.Command("ps", "-eo", "comm").Output()
	if err != nil {
		return Processes{}
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	p := Processes{Count: len(lines)}

	running := make(map[string]bool)
	for _, line := range lines {
		name := filepath.Base(strings.TrimSpace(line))
		for _, tool := range knownDevTools {
			if name == tool {
				running[tool] = true
			}
		}
	}
	for _, tool := range knownDevTools {
		if running[tool] {
			p.DevTools = append(p.DevTools, tool)
		}
	}
	return p
}

// probeRecentFiles walks at most two levels deep, skipping hidden entries,
// and keeps the ten newest files modified within 24 hours.
func probeRecentFiles(cwd string, now time.Time) []RecentFile {
	var found []RecentFile
	cutoff := now.Add(-24 * time.Hour)

	filepath.WalkDir(cwd, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(cwd, path)
		if relErr != nil {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && rel != "." {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if strings.Count(rel, string(filepath.Separator)) >= 2 {
				return filepath.SkipDir
			}
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.ModTime().Before(cutoff) {
			return nil
		}
		found = append(found, RecentFile{Path: rel, Modified: info.ModTime()})
		return nil
	})

	sort.Slice(found, func(i, j int) bool { return found[i].Modified.After(found[j].Modified) })
	if len(found) > 10 {
		found = found[:10]
	}
	return found
}

func probeSystem(cwd string) System {
	s := System{}
	if data, err := os.ReadFile("/proc/loadavg"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) > 0 {
			s.LoadAverage, _ = strconv.ParseFloat(fields[0], 64)
		}
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(cwd, &stat); err == nil && stat.Blocks > 0 {
		used := float64(stat.Blocks-stat.Bavail) / float64(stat.Blocks)
		s.DiskUsage = used * 100
	}
	s.IsBusy = s.LoadAverage > 2.0
	s.LowDisk = s.DiskUsage > 90
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
