// Package sandbox enforces path and subprocess isolation for tool
// invocations. Every filesystem path a tool touches must be authorized, and
// every child process runs under a wall-clock deadline.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zenus/internal/logging"
)

// Violation is raised when a tool breaches a sandbox boundary. Violations are
// never retried and propagate a fatal exit.
type Violation struct {
	Path   string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("sandbox violation: %s (%s)", v.Reason, v.Path)
}

// IsViolation reports whether err is a sandbox violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

// Sandbox holds the allow/deny path sets and subprocess limits.
type Sandbox struct {
	mu            sync.RWMutex
	allowedRoots  []string
	readOnlyRoots []string
	procDeadline  time.Duration
}

// New creates a sandbox. Roots are normalized to absolute paths; relative or
// empty entries are dropped.
func New(allowedRoots, readOnlyRoots []string) *Sandbox {
	s := &Sandbox{procDeadline: 300 * time.Second}
	for _, r := range allowedRoots {
		if abs, err := filepath.Abs(expandHome(r)); err == nil {
			s.allowedRoots = append(s.allowedRoots, abs)
		}
	}
	for _, r := range readOnlyRoots {
		if abs, err := filepath.Abs(expandHome(r)); err == nil {
			s.readOnlyRoots = append(s.readOnlyRoots, abs)
		}
	}
	return s
}

// SetProcessDeadline overrides the default subprocess wall-clock cap.
func (s *Sandbox) SetProcessDeadline(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procDeadline = d
}

// Authorize checks that path lies under an allowed root, and that writes do
// not land in a read-only root. Returns a *Violation on breach.
func (s *Sandbox) Authorize(path string, write bool) error {
	abs, err := filepath.Abs(expandHome(path))
	if err != nil {
		return &Violation{Path: path, Reason: "unresolvable path"}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := false
	for _, root := range s.allowedRoots {
		if underRoot(abs, root) {
			allowed = true
			break
		}
	}
	if !allowed {
		logging.Sandbox("denied %s (outside allowed roots)", abs)
		return &Violation{Path: abs, Reason: "path outside allowed roots"}
	}
	if write {
		for _, root := range s.readOnlyRoots {
			if underRoot(abs, root) {
				logging.Sandbox("denied write to %s (read-only root %s)", abs, root)
				return &Violation{Path: abs, Reason: "write into read-only root"}
			}
		}
	}
	return nil
}

// RunSubprocess executes argv with a wall-clock deadline. The child's working
// directory must itself be authorized. Returns combined stdout and stderr.
func (s *Sandbox) RunSubprocess(ctx context.Context, argv []string, cwd string, env []string, deadline time.Duration) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty argv")
	}
	if cwd != "" {
		if err := s.Authorize(cwd, false); err != nil {
			return "", err
		}
	}
	if deadline <= 0 {
		s.mu.RLock()
		deadline = s.procDeadline
		s.mu.RUnlock()
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logging.Get(logging.CategorySandbox).Debug("exec: %s (deadline %v)", strings.Join(argv, " "), deadline)
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("command timed out after %v: %s", deadline, argv[0])
	}
	if err != nil {
		return out.String(), fmt.Errorf("command failed: %s: %w: %s", argv[0], err, truncate(out.String(), 500))
	}
	return out.String(), nil
}

// TempWorkspace creates a scoped temporary directory, temporarily extends the
// allowed roots to cover it, runs fn, and removes both the extension and the
// directory on every exit path.
func (s *Sandbox) TempWorkspace(fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp("", "zenus-ws-*")
	if err != nil {
		return fmt.Errorf("failed to create temp workspace: %w", err)
	}

	s.mu.Lock()
	s.allowedRoots = append(s.allowedRoots, dir)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		for i, root := range s.allowedRoots {
			if root == dir {
				s.allowedRoots = append(s.allowedRoots[:i], s.allowedRoots[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = fmt.Errorf("failed to remove temp workspace: %w", rmErr)
		}
	}()

	return fn(dir)
}

// AllowedRoots returns a copy of the current allowed roots.
func (s *Sandbox) AllowedRoots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.allowedRoots))
	copy(out, s.allowedRoots)
	return out
}

func underRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
