package planner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"zenus/internal/intent"
	"zenus/internal/logging"
)

const (
	// DefaultWorkers bounds concurrent steps within one level.
	DefaultWorkers = 4

	// DefaultStepDeadline caps a single step's runtime.
	DefaultStepDeadline = 300 * time.Second
)

// StepResult is the outcome of one step, indexed by original plan position.
type StepResult struct {
	Index      int
	Output     map[string]any
	Err        error
	Attempts   int
	DurationMs int64
}

// InvokeFunc runs one step and returns its output.
type InvokeFunc func(ctx context.Context, step intent.Step) (map[string]any, error)

// Executor dispatches schedule levels onto a bounded worker pool.
type Executor struct {
	Workers      int
	StepDeadline time.Duration
}

// NewExecutor returns an executor with the default pool size and deadline.
func NewExecutor() *Executor {
	return &Executor{Workers: DefaultWorkers, StepDeadline: DefaultStepDeadline}
}

// Execute runs the plan level by level. A failed step fills its result slot
// with the error and execution continues; later levels still run, since
// downstream steps observe missing predecessors through their own invokes.
// Context cancellation stops before the next level; in-flight steps finish
// or hit their deadline.
func (e *Executor) Execute(ctx context.Context, steps []intent.Step, plan *Plan, invoke InvokeFunc) []StepResult {
	results := make([]StepResult, len(steps))
	for i := range results {
		results[i].Index = i
	}

	workers := e.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	deadline := e.StepDeadline
	if deadline <= 0 {
		deadline = DefaultStepDeadline
	}

	for levelIdx, level := range plan.Levels {
		if err := ctx.Err(); err != nil {
			for _, idx := range level {
				results[idx].Err = err
			}
			for _, later := range plan.Levels[levelIdx+1:] {
				for _, idx := range later {
					results[idx].Err = err
				}
			}
			return results
		}

		g, levelCtx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, idx := range level {
			idx := idx
			step := steps[idx]
			g.Go(func() error {
				stepCtx, cancel := context.WithTimeout(levelCtx, deadline)
				defer cancel()

				start := time.Now()
				out, err := invoke(stepCtx, step)
				results[idx].Output = out
				results[idx].Err = err
				results[idx].Attempts++
				results[idx].DurationMs = time.Since(start).Milliseconds()
				if err != nil {
					logging.Executor("step %d (%s) failed after %dms: %v",
						idx, step.Describe(), results[idx].DurationMs, err)
				}
				// Errors stay in the result slot; the level keeps going.
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}
