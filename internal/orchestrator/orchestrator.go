// Package orchestrator drives the per-utterance state machine: complexity
// analysis, routing, translation, safety checks, scheduling, execution,
// transaction bookkeeping and memory updates.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"zenus/internal/cache"
	"zenus/internal/complexity"
	"zenus/internal/config"
	"zenus/internal/envctx"
	"zenus/internal/failures"
	"zenus/internal/intent"
	"zenus/internal/logging"
	"zenus/internal/metrics"
	"zenus/internal/oracle"
	"zenus/internal/planner"
	"zenus/internal/router"
	"zenus/internal/sandbox"
	"zenus/internal/semindex"
	"zenus/internal/tools"
	"zenus/internal/tracker"

	feedbackpkg "zenus/internal/feedback"
)

// ErrUserAbort means the user declined a confirmation or stopped a loop.
var ErrUserAbort = errors.New("aborted by user")

// ErrMaxIterations means the iterative loop hit its absolute cap.
var ErrMaxIterations = errors.New("max iterations reached")

// confirmBelowProbability triggers a confirmation prompt for risky plans.
const confirmBelowProbability = 0.7

// observationLimit truncates each observation string.
const observationLimit = 300

// Options adjust a single Execute call.
type Options struct {
	DryRun       bool
	Explain      bool
	ForceOneshot bool
	Iterative    bool
}

// Outcome is the result of one utterance.
type Outcome struct {
	Status        string // completed | failed | aborted | dry_run | max_iterations
	SessionID     string
	TransactionID string
	Intent        *intent.Intent
	Results       []planner.StepResult
	Decision      *router.Decision
	CacheHit      bool
	Iterations    int
	Observations  []string
}

// Deps carries the long-lived components the orchestrator coordinates.
type Deps struct {
	Config   *config.Config
	Registry *tools.Registry
	Sandbox  *sandbox.Sandbox
	Store    *tracker.Store
	Failures *failures.Store
	Cache    *cache.IntentCache
	Router   *router.Router
	Client   oracle.LLMClient
	Metrics  *metrics.Collector
	Feedback *feedbackpkg.Collector
	Index    *semindex.Index
	Prompter Prompter
	Out      io.Writer
}

// Orchestrator is single-threaded per utterance; only the level executor
// below it spawns parallel work.
type Orchestrator struct {
	deps      Deps
	sessionID string
}

// New builds an orchestrator. A nil prompter denies all confirmations and a
// nil output writer discards rendering.
func New(deps Deps) *Orchestrator {
	if deps.Prompter == nil {
		deps.Prompter = AutoDeny{}
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	return &Orchestrator{deps: deps, sessionID: uuid.NewString()}
}

// SessionID identifies this orchestrator's lifetime.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Execute runs one utterance end to end.
func (o *Orchestrator) Execute(ctx context.Context, utterance string, opts Options) (*Outcome, error) {
	logging.Orchestrator("execute: %q (dry_run=%v iterative=%v)", utterance, opts.DryRun, opts.Iterative)

	assessment := complexity.Analyze(utterance)
	if assessment.ShouldConsultOracle() && o.deps.Client != nil {
		assessment = o.consultComplexity(ctx, utterance, assessment)
	}

	if (assessment.NeedsIteration || opts.Iterative) && !opts.ForceOneshot && !opts.DryRun {
		return o.runIterative(ctx, utterance, opts, assessment)
	}
	return o.runOneShot(ctx, utterance, opts, assessment, nil)
}

// runOneShot executes the linear pipeline. Accumulated observations from an
// enclosing iterative loop are folded into the oracle prompt.
func (o *Orchestrator) runOneShot(ctx context.Context, utterance string, opts Options, assessment complexity.Assessment, observations []string) (*Outcome, error) {
	outcome := &Outcome{SessionID: o.sessionID, Status: "failed"}
	score := normalizeScore(assessment.Score)

	// CONTEXT
	snap := envctx.Build()
	contextBlock := snap.Render()
	if o.deps.Index != nil {
		if matches, err := o.deps.Index.Similar(ctx, utterance, 3); err == nil && len(matches) > 0 {
			var lines []string
			for _, m := range matches {
				lines = append(lines, fmt.Sprintf("%s (goal: %s)", m.Record.Utterance, m.Record.Goal))
			}
			contextBlock += "\nSimilar past commands:\n- " + strings.Join(lines, "\n- ") + "\n"
		}
	}
	if len(observations) > 0 {
		recent := observations
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		contextBlock += "\nPrevious observations:\n- " + strings.Join(recent, "\n- ") + "\n"
	}

	// CACHE_LOOKUP
	key := cache.Key(utterance, snap.Fingerprint())
	in := o.deps.Cache.Get(key)
	outcome.CacheHit = in != nil

	// TRANSLATE through the routed tier, filling the cache on success.
	if in == nil {
		translated, dec, err := o.translate(ctx, utterance, contextBlock, score)
		outcome.Decision = dec
		if err != nil {
			return outcome, err
		}
		in = translated
		o.deps.Cache.Put(key, utterance, in)
	}
	outcome.Intent = in

	// PRE_ANALYZE
	pre := o.deps.Failures.PreAnalyze(in.Steps, 1.0)
	for _, w := range pre.Warnings {
		fmt.Fprintf(o.deps.Out, "warning: %s\n", w)
	}

	if opts.Explain || opts.DryRun {
		o.renderPlan(in, outcome.Decision, pre)
	}

	// SCHEDULE. Dry runs render the plan and stop before any gate fires.
	plan := planner.Analyze(in.Steps)
	if opts.DryRun {
		fmt.Fprint(o.deps.Out, plan.Render(in.Steps))
		outcome.Status = "dry_run"
		return outcome, nil
	}

	// Confirmation gates. Destructive plans always require consent, with the
	// full plan in front of the user; shaky history prompts too unless the
	// user asked for an explanation only.
	if in.RequiresConfirmation {
		if !opts.Explain {
			o.renderPlan(in, outcome.Decision, pre)
		}
		ok, err := o.deps.Prompter.Confirm("This plan contains destructive steps. Proceed?")
		if err != nil || !ok {
			outcome.Status = "aborted"
			return outcome, ErrUserAbort
		}
	} else if pre.SuccessProbability < confirmBelowProbability && !opts.Explain {
		ok, err := o.deps.Prompter.Confirm(
			fmt.Sprintf("Similar commands failed before (est. success %.0f%%). Proceed?", pre.SuccessProbability*100))
		if err != nil || !ok {
			outcome.Status = "aborted"
			return outcome, ErrUserAbort
		}
	}

	// OPEN_TXN
	txnID, err := o.deps.Store.Begin(utterance, in.Goal)
	if err != nil {
		return outcome, err
	}
	outcome.TransactionID = txnID

	// EXECUTE
	results := o.executePlan(ctx, utterance, in, plan)
	outcome.Results = results
	outcome.Observations = buildObservations(in.Steps, results)

	// CLOSE_TXN
	status := tracker.StatusCompleted
	var firstErr error
	for _, res := range results {
		if res.Err != nil && firstErr == nil {
			firstErr = res.Err
			status = tracker.StatusFailed
		}
	}
	if err := o.deps.Store.End(txnID, status); err != nil {
		logging.Orchestrator("failed to close transaction %s: %v", txnID, err)
	}
	outcome.Status = status

	if firstErr != nil {
		o.explainFailure(in, results)
	}

	// MEMORY_UPDATE
	o.updateMemory(ctx, utterance, in, outcome)

	return outcome, firstErr
}

// translate calls the oracle through the router's fallback chain, streaming
// chunks to the output as they arrive. The routed model is scoped into the
// environment for the duration of the call.
func (o *Orchestrator) translate(ctx context.Context, utterance, contextBlock string, score float64) (*intent.Intent, *router.Decision, error) {
	if o.deps.Client == nil {
		return nil, nil, fmt.Errorf("no oracle configured")
	}

	var translated *intent.Intent
	fn := func(tierCtx context.Context, tier router.Tier) (string, error) {
		var in *intent.Intent
		err := SelectedModelEnv(tier.Model, func() error {
			var err error
			in, err = oracle.TranslateStream(tierCtx, o.deps.Client, o.deps.Registry, utterance, contextBlock, func(chunk string) {
				fmt.Fprint(o.deps.Out, chunk)
			})
			fmt.Fprintln(o.deps.Out)
			return err
		})
		if err != nil {
			return "", err
		}
		translated = in
		raw, _ := json.Marshal(in)
		return string(raw), nil
	}

	_, decision, err := o.deps.Router.ExecuteWithFallback(ctx, score, fn, o.deps.Config.Router.MaxFallbacks)
	if err != nil {
		return nil, decision, err
	}
	return translated, decision, nil
}

// executePlan wires the adaptive planner to the tool registry, recording
// each successful step with its rollback plan and logging each failure.
func (o *Orchestrator) executePlan(ctx context.Context, utterance string, in *intent.Intent, plan *planner.Plan) []planner.StepResult {
	o.checkpointRiskySteps(in)

	exec := &planner.Executor{
		Workers:      o.deps.Config.Executor.MaxWorkers,
		StepDeadline: time.Duration(o.deps.Config.Executor.StepDeadlineSeconds) * time.Second,
	}
	adaptive := planner.NewAdaptivePlanner(exec)

	invoke := func(stepCtx context.Context, step intent.Step) (map[string]any, error) {
		res, err := o.deps.Registry.Invoke(stepCtx, step.Tool, step.Action, step.Args)
		if err != nil {
			if logErr := o.deps.Failures.Log(failures.Failure{
				UserInput:    utterance,
				IntentGoal:   in.Goal,
				Tool:         step.Tool,
				ErrorMessage: err.Error(),
			}); logErr != nil {
				logging.Failures("failed to log failure: %v", logErr)
			}
			return nil, err
		}
		if _, recErr := o.deps.Store.Record(step.Tool, step.Action, step.Args, res.Output); recErr != nil {
			logging.Tracker("failed to record %s.%s: %v", step.Tool, step.Action, recErr)
		}
		fmt.Fprintf(o.deps.Out, "ok: %s\n", step.Describe())
		return res.Output, nil
	}

	return adaptive.Execute(ctx, in.Steps, plan, invoke)
}

// checkpointRiskySteps backs up every file a risk>=2 overwrite or delete is
// about to touch, inside the open transaction, so the recorded actions can
// restore from the backup instead of falling to manual recovery.
func (o *Orchestrator) checkpointRiskySteps(in *intent.Intent) {
	var paths []string
	for _, step := range in.Steps {
		if step.Tool != "FileOps" || step.Risk < 2 {
			continue
		}
		if step.Action != "write_file" && step.Action != "delete_file" {
			continue
		}
		if path, ok := step.Args["path"].(string); ok && path != "" {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return
	}
	txnID := o.deps.Store.OpenTransactionID()
	if txnID == "" {
		return
	}
	if _, err := o.deps.Store.Checkpoint("pre_"+txnID, in.Goal, paths); err != nil {
		logging.Tracker("failed to checkpoint %d path(s) before execution: %v", len(paths), err)
	}
}

// updateMemory flushes the session's learning surfaces. Failures here are
// logged, never surfaced.
func (o *Orchestrator) updateMemory(ctx context.Context, utterance string, in *intent.Intent, outcome *Outcome) {
	if err := o.deps.Cache.Save(); err != nil {
		logging.Cache("failed to persist cache: %v", err)
	}

	if o.deps.Index != nil {
		if err := o.deps.Index.Add(ctx, utterance, in.Goal); err == nil {
			if err := o.deps.Index.Save(); err != nil {
				logging.Orchestrator("failed to persist semantic index: %v", err)
			}
		}
	}

	tags := map[string]string{
		"success": fmt.Sprintf("%v", outcome.Status == tracker.StatusCompleted),
		"cache":   map[bool]string{true: "hit", false: "miss"}[outcome.CacheHit],
	}
	if outcome.Decision != nil {
		tags["model"] = outcome.Decision.SelectedModel
		o.deps.Metrics.Record("router.decision", float64(outcome.Decision.LatencyMs), map[string]string{
			"model":    outcome.Decision.SelectedModel,
			"tier":     outcome.Decision.SelectedTier,
			"fallback": fmt.Sprintf("%v", outcome.Decision.FallbackUsed),
		})
	}
	o.deps.Metrics.Record("command.executed", 1, tags)
	o.deps.Metrics.Record("command.steps", float64(len(in.Steps)), nil)

	if o.deps.Feedback != nil && o.deps.Feedback.ShouldPrompt(utterance) {
		if answer, err := o.deps.Prompter.Ask("Quick feedback on that command (enter to skip)"); err == nil && answer != "" {
			if err := o.deps.Feedback.Record(feedbackpkg.Entry{
				Utterance: utterance,
				Text:      answer,
				Success:   outcome.Status == tracker.StatusCompleted,
			}); err != nil {
				logging.Orchestrator("failed to record feedback: %v", err)
			}
		}
	}
}

// consultComplexity lets the oracle override an uncertain heuristic.
func (o *Orchestrator) consultComplexity(ctx context.Context, utterance string, heuristic complexity.Assessment) complexity.Assessment {
	prompt := fmt.Sprintf(`Does this command need iterative multi-step reasoning, or a single pass?
Command: %s
Respond with JSON only: {"needs_iteration": bool, "confidence": 0..1, "estimated_steps": int, "reasoning": "..."}`, utterance)

	raw, err := o.deps.Client.Complete(ctx, prompt)
	if err != nil {
		return heuristic
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return heuristic
	}
	var override struct {
		NeedsIteration bool    `json:"needs_iteration"`
		Confidence     float64 `json:"confidence"`
		EstimatedSteps int     `json:"estimated_steps"`
		Reasoning      string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &override); err != nil {
		return heuristic
	}

	heuristic.NeedsIteration = override.NeedsIteration
	heuristic.Confidence = override.Confidence
	if override.EstimatedSteps > 0 {
		heuristic.EstimatedSteps = override.EstimatedSteps
	}
	heuristic.Reasoning = "oracle: " + override.Reasoning
	logging.OrchestratorDebug("oracle overrode complexity: iterate=%v conf=%.2f", override.NeedsIteration, override.Confidence)
	return heuristic
}

func (o *Orchestrator) renderPlan(in *intent.Intent, decision *router.Decision, pre failures.PreAnalysis) {
	fmt.Fprintf(o.deps.Out, "goal: %s\n", in.Goal)
	for i, step := range in.Steps {
		fmt.Fprintf(o.deps.Out, "  %d. %s (risk %d)\n", i+1, step.Describe(), step.Risk)
	}
	if decision != nil {
		fmt.Fprintf(o.deps.Out, "model: %s (%s)\n", decision.SelectedModel, strings.Join(decision.Reasons, "; "))
	}
	fmt.Fprintf(o.deps.Out, "estimated success: %.0f%%\n", pre.SuccessProbability*100)
	for _, s := range pre.Suggestions {
		fmt.Fprintf(o.deps.Out, "hint: %s\n", s)
	}
}

func (o *Orchestrator) explainFailure(in *intent.Intent, results []planner.StepResult) {
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		step := in.Steps[res.Index]
		post := o.deps.Failures.PostAnalyze(step.Tool, res.Err.Error())
		fmt.Fprintf(o.deps.Out, "failed: %s: %v (%s)\n", step.Describe(), res.Err, post.ErrorType)
		for _, s := range post.Suggestions {
			fmt.Fprintf(o.deps.Out, "  suggestion: %s\n", s)
		}
		if post.Recurring {
			fmt.Fprintf(o.deps.Out, "  this failure is recurring (%d similar)\n", post.SimilarFailures)
		}
		break
	}
}

// buildObservations renders "tool.action(args) -> result" strings in plan
// order, truncated for prompt use.
func buildObservations(steps []intent.Step, results []planner.StepResult) []string {
	out := make([]string, 0, len(results))
	for _, res := range results {
		step := steps[res.Index]
		var rendered string
		if res.Err != nil {
			rendered = "error: " + res.Err.Error()
		} else {
			raw, _ := json.Marshal(res.Output)
			rendered = string(raw)
		}
		if len(rendered) > observationLimit {
			rendered = rendered[:observationLimit]
		}
		out = append(out, fmt.Sprintf("%s -> %s", step.Describe(), rendered))
	}
	return out
}

// normalizeScore maps the raw heuristic score onto [0,1] for the router.
func normalizeScore(score int) float64 {
	v := (float64(score) + 5) / 10
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SelectedModelEnv scopes the chosen model into the environment for child
// processes and restores the prior value afterward.
func SelectedModelEnv(model string, fn func() error) error {
	const key = "ZENUS_SELECTED_MODEL"
	prev, had := os.LookupEnv(key)
	os.Setenv(key, model)
	defer func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	}()
	return fn()
}
