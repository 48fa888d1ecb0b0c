// Package planner turns a linear step list into a level-wise schedule and
// executes it with bounded concurrency and adaptive retry.
package planner

import (
	"fmt"
	"strings"

	"zenus/internal/intent"
	"zenus/internal/logging"
)

// Plan is the dependency analysis of an ordered step list. Levels hold
// original step indices; every step in a level may run concurrently.
type Plan struct {
	Steps          int
	Deps           map[int][]int // step index -> indices it must wait on
	Levels         [][]int
	Speedup        float64
	Parallelizable bool
	Sequential     bool // cycle fallback engaged
}

// Analyze computes conflict edges and a layered schedule for the steps.
func Analyze(steps []intent.Step) *Plan {
	n := len(steps)
	plan := &Plan{Steps: n, Deps: make(map[int][]int)}

	for later := 1; later < n; later++ {
		for earlier := 0; earlier < later; earlier++ {
			if conflicts(steps[earlier], steps[later]) {
				plan.Deps[later] = append(plan.Deps[later], earlier)
			}
		}
	}

	plan.Levels, plan.Sequential = layer(n, plan.Deps)
	if len(plan.Levels) > 0 {
		plan.Speedup = float64(n) / float64(len(plan.Levels))
	}
	wide := false
	for _, lvl := range plan.Levels {
		if len(lvl) >= 2 {
			wide = true
			break
		}
	}
	plan.Parallelizable = wide && plan.Speedup >= 1.3

	logging.ExecutorDebug("analyzed %d steps into %d levels (speedup %.2f, parallel=%v)",
		n, len(plan.Levels), plan.Speedup, plan.Parallelizable)
	return plan
}

// conflicts reports whether later must wait on earlier.
func conflicts(earlier, later intent.Step) bool {
	// Package and git operations are order-dependent across the board.
	if earlier.Tool == later.Tool && (earlier.Tool == "PackageOps" || earlier.Tool == "GitOps") {
		return true
	}

	// Service operations serialize per service.
	if earlier.Tool == "ServiceOps" && later.Tool == "ServiceOps" {
		if s := argString(earlier.Args, "service"); s != "" && s == argString(later.Args, "service") {
			return true
		}
	}

	// Same tool touching the same resource conflicts regardless of order.
	if earlier.Tool == later.Tool {
		for _, er := range resources(earlier) {
			for _, lr := range resources(later) {
				if samePath(er, lr) {
					return true
				}
				if earlier.Tool == "FileOps" && nested(er, lr) {
					return true
				}
			}
		}
	}

	// Read-after-write: later consumes a path earlier produced.
	if producesFiles(earlier) {
		out := firstArg(earlier.Args, "destination", "path")
		if out != "" {
			in := firstArg(later.Args, "path", "source")
			if samePath(in, out) || (later.Tool == "FileOps" && in != "" && nested(out, in)) {
				return true
			}
		}
	}

	return false
}

// resources extracts the identifiers a step operates on.
func resources(s intent.Step) []string {
	var out []string
	for _, key := range []string{"path", "source", "destination", "package", "url", "service", "container_id"} {
		if v := argString(s.Args, key); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// producesFiles reports whether the step's action writes a file artifact.
func producesFiles(s intent.Step) bool {
	switch s.Action {
	case "create_file", "write_file", "copy_file", "move_file", "create_directory", "download":
		return true
	}
	return false
}

// samePath compares resources ignoring a trailing slash.
func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}

// nested reports a path prefix relation in either direction.
func nested(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a = strings.TrimSuffix(a, "/")
	b = strings.TrimSuffix(b, "/")
	return strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/")
}

// layer runs Kahn's algorithm, assigning level(i) = 1 + max level of its
// dependencies. Nodes stranded by a cycle are appended one per level.
func layer(n int, deps map[int][]int) (levels [][]int, sequential bool) {
	indegree := make([]int, n)
	dependents := make(map[int][]int)
	for node, waits := range deps {
		indegree[node] = len(waits)
		for _, w := range waits {
			dependents[w] = append(dependents[w], node)
		}
	}

	level := make([]int, n)
	placed := 0
	var frontier []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			frontier = append(frontier, i)
			level[i] = 0
		}
	}

	byLevel := make(map[int][]int)
	for len(frontier) > 0 {
		node := frontier[0]
		frontier = frontier[1:]
		byLevel[level[node]] = append(byLevel[level[node]], node)
		placed++
		for _, dep := range dependents[node] {
			if level[node]+1 > level[dep] {
				level[dep] = level[node] + 1
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}

	maxLevel := -1
	for l := range byLevel {
		if l > maxLevel {
			maxLevel = l
		}
	}
	for l := 0; l <= maxLevel; l++ {
		levels = append(levels, byLevel[l])
	}

	if placed < n {
		// Cycle: remaining nodes run strictly sequentially, in index order.
		sequential = true
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				levels = append(levels, []int{i})
			}
		}
	}
	return levels, sequential
}

// Render formats the schedule for dry-run output.
func (p *Plan) Render(steps []intent.Step) string {
	var b strings.Builder
	for i, lvl := range p.Levels {
		fmt.Fprintf(&b, "level %d:\n", i+1)
		for _, idx := range lvl {
			fmt.Fprintf(&b, "  [%d] %s\n", idx, steps[idx].Describe())
		}
	}
	fmt.Fprintf(&b, "speedup: %.2fx, parallelizable: %v\n", p.Speedup, p.Parallelizable)
	return b.String()
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func firstArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := argString(args, k); v != "" {
			return v
		}
	}
	return ""
}
