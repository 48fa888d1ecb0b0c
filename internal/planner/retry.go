package planner

import (
	"context"
	"math/rand"
	"time"

	"zenus/internal/failures"
	"zenus/internal/intent"
	"zenus/internal/logging"
	"zenus/internal/sandbox"
)

const (
	maxBackoff = 30 * time.Second
	maxJitter  = 500 * time.Millisecond
)

// AdaptivePlanner wraps the executor with per-step categorized retry.
type AdaptivePlanner struct {
	exec *Executor

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

// NewAdaptivePlanner builds a planner over the given executor.
func NewAdaptivePlanner(exec *Executor) *AdaptivePlanner {
	return &AdaptivePlanner{exec: exec, sleep: time.Sleep}
}

// Execute runs the plan, retrying failed steps by error category. Sandbox
// violations and permanent categories surface immediately.
func (p *AdaptivePlanner) Execute(ctx context.Context, steps []intent.Step, plan *Plan, invoke InvokeFunc) []StepResult {
	wrapped := func(stepCtx context.Context, step intent.Step) (map[string]any, error) {
		out, err := invoke(stepCtx, step)
		if err == nil {
			return out, nil
		}

		attempt := 0
		for {
			if sandbox.IsViolation(err) {
				return out, err
			}
			category := failures.Categorize(err.Error())
			limit := failures.MaxRetries(category)
			if attempt >= limit {
				return out, err
			}
			attempt++
			delay := backoff(attempt)
			logging.ExecutorDebug("retrying %s after %s (attempt %d/%d, %s)",
				step.Describe(), delay, attempt, limit, category)

			select {
			case <-stepCtx.Done():
				return out, err
			default:
			}
			p.sleep(delay)

			out, err = invoke(stepCtx, step)
			if err == nil {
				return out, nil
			}
		}
	}

	return p.exec.Execute(ctx, steps, plan, wrapped)
}

// backoff is 2^attempt seconds capped at 30s, plus up to 500ms of jitter.
func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d + time.Duration(rand.Int63n(int64(maxJitter)))
}
