package orchestrator

import (
	"context"
	"fmt"

	"zenus/internal/complexity"
	"zenus/internal/goals"
	"zenus/internal/logging"
)

// runIterative repeats the one-shot pipeline with accumulated observations
// until the goal tracker reports achievement, the iteration cap fires, or
// the user stops at a batch boundary or stuck prompt.
func (o *Orchestrator) runIterative(ctx context.Context, utterance string, opts Options, assessment complexity.Assessment) (*Outcome, error) {
	batchSize := o.deps.Config.Iterative.BatchSize
	maxTotal := o.deps.Config.Iterative.MaxTotal

	tracker := goals.NewTracker(utterance)
	outcome := &Outcome{SessionID: o.sessionID, Status: "failed"}
	var observations []string

	fmt.Fprintf(o.deps.Out, "iterative mode: %s (estimated %d steps)\n", assessment.Reasoning, assessment.EstimatedSteps)

	for iteration := 1; iteration <= maxTotal; iteration++ {
		if err := ctx.Err(); err != nil {
			outcome.Status = "aborted"
			return outcome, ErrUserAbort
		}
		outcome.Iterations = iteration
		fmt.Fprintf(o.deps.Out, "\n--- iteration %d ---\n", iteration)

		stepOutcome, err := o.runOneShot(ctx, utterance, Options{Explain: opts.Explain}, assessment, observations)
		if err == ErrUserAbort {
			outcome.Status = "aborted"
			return outcome, err
		}
		if stepOutcome.Intent == nil {
			// Translation never produced a plan; nothing to observe.
			outcome.Status = "failed"
			return outcome, err
		}
		outcome.Intent = stepOutcome.Intent
		outcome.TransactionID = stepOutcome.TransactionID
		outcome.Results = stepOutcome.Results
		observations = append(observations, stepOutcome.Observations...)
		outcome.Observations = observations

		status, reflectErr := tracker.Reflect(ctx, o.deps.Client, stepOutcome.Intent, stepOutcome.Observations)
		if reflectErr != nil {
			logging.Orchestrator("reflection failed at iteration %d: %v", iteration, reflectErr)
			status = goals.Status{Confidence: 0.5, Reasoning: "reflection unavailable"}
		}
		tracker.Record(goals.Iteration{
			Number:       iteration,
			Intent:       stepOutcome.Intent,
			Observations: stepOutcome.Observations,
			Status:       status,
		})

		fmt.Fprintf(o.deps.Out, "goal check: achieved=%v confidence=%.2f %s\n",
			status.Achieved, status.Confidence, status.Reasoning)

		if status.Achieved {
			outcome.Status = "completed"
			o.deps.Metrics.Record("command.iterations", float64(iteration), nil)
			return outcome, nil
		}

		if tracker.Stuck() {
			ok, promptErr := o.deps.Prompter.Confirm("Progress has stalled for several iterations. Keep trying?")
			if promptErr != nil || !ok {
				outcome.Status = "aborted"
				return outcome, ErrUserAbort
			}
			tracker.ResetStuck()
		}

		if iteration%batchSize == 0 && iteration < maxTotal {
			ok, promptErr := o.deps.Prompter.Confirm(
				fmt.Sprintf("Completed %d iterations without reaching the goal. Continue with the next batch?", iteration))
			if promptErr != nil || !ok {
				outcome.Status = "aborted"
				return outcome, ErrUserAbort
			}
		}
	}

	outcome.Status = "max_iterations"
	return outcome, ErrMaxIterations
}
