// Package goals tracks progress of the iterative loop: it asks the oracle
// whether the user's goal is achieved and watches for stuck loops.
package goals

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"zenus/internal/intent"
	"zenus/internal/logging"
	"zenus/internal/oracle"
)

// Status is the oracle's verdict on goal progress.
type Status struct {
	Achieved   bool     `json:"achieved"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	NextSteps  []string `json:"next_steps"`
}

// Iteration is one recorded loop pass.
type Iteration struct {
	Number       int
	Intent       *intent.Intent
	Observations []string
	Status       Status
}

// stuckThreshold is how many consecutive repeats trigger a user prompt.
const stuckThreshold = 3

// lowConfidence marks an iteration as making no real progress.
const lowConfidence = 0.4

// Tracker owns the iteration history and the stuck detector.
type Tracker struct {
	UserGoal   string
	iterations []Iteration
	stuckCount int
}

// NewTracker starts tracking a goal.
func NewTracker(userGoal string) *Tracker {
	return &Tracker{UserGoal: userGoal}
}

// Record appends an iteration and updates the stuck counter: it increments
// only when the last two iterations share an intent goal and both sat below
// the confidence floor.
func (t *Tracker) Record(it Iteration) {
	if prev, ok := t.last(); ok &&
		prev.Intent != nil && it.Intent != nil &&
		prev.Intent.Goal == it.Intent.Goal &&
		prev.Status.Confidence < lowConfidence &&
		it.Status.Confidence < lowConfidence {
		t.stuckCount++
	} else {
		t.stuckCount = 0
	}
	t.iterations = append(t.iterations, it)
	logging.OrchestratorDebug("iteration %d recorded (achieved=%v conf=%.2f stuck=%d)",
		it.Number, it.Status.Achieved, it.Status.Confidence, t.stuckCount)
}

// Stuck reports whether the orchestrator should prompt the user.
func (t *Tracker) Stuck() bool {
	return t.stuckCount >= stuckThreshold
}

// ResetStuck clears the counter after the user chose to continue.
func (t *Tracker) ResetStuck() {
	t.stuckCount = 0
}

// Iterations returns the recorded history.
func (t *Tracker) Iterations() []Iteration {
	return t.iterations
}

func (t *Tracker) last() (Iteration, bool) {
	if len(t.iterations) == 0 {
		return Iteration{}, false
	}
	return t.iterations[len(t.iterations)-1], true
}

// Reflect asks the oracle whether the goal is achieved, given the latest
// observations and recent history.
func (t *Tracker) Reflect(ctx context.Context, client oracle.LLMClient, current *intent.Intent, observations []string) (Status, error) {
	prompt := t.reflectionPrompt(current, observations)
	raw, err := client.CompleteWithSystem(ctx, reflectionSystemPrompt, prompt)
	if err != nil {
		return Status{}, fmt.Errorf("reflection failed: %w", err)
	}
	return ParseReflection(raw), nil
}

const reflectionSystemPrompt = `You assess whether a goal has been achieved.
Respond with exactly these lines:
ACHIEVED: yes|no
CONFIDENCE: <number between 0 and 1>
REASONING: <one or two sentences>
NEXT_STEPS: <semicolon-separated actions, or "none">`

func (t *Tracker) reflectionPrompt(current *intent.Intent, observations []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", t.UserGoal)
	if current != nil {
		fmt.Fprintf(&b, "Current plan: %s\n", current.Goal)
	}
	if len(observations) > 0 {
		b.WriteString("Observations:\n")
		for _, obs := range observations {
			fmt.Fprintf(&b, "- %s\n", obs)
		}
	}
	if n := len(t.iterations); n > 0 {
		fmt.Fprintf(&b, "Iterations so far: %d\n", n)
	}
	return b.String()
}

// ParseReflection extracts the structured verdict from the oracle's text.
// Missing or malformed lines degrade to a conservative not-achieved status.
func ParseReflection(raw string) Status {
	status := Status{Confidence: 0.5}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "ACHIEVED":
			status.Achieved = strings.EqualFold(value, "yes") || strings.EqualFold(value, "true")
		case "CONFIDENCE":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				if f < 0 {
					f = 0
				}
				if f > 1 {
					f = 1
				}
				status.Confidence = f
			}
		case "REASONING":
			status.Reasoning = value
		case "NEXT_STEPS":
			if !strings.EqualFold(value, "none") && value != "" {
				for _, step := range strings.Split(value, ";") {
					if s := strings.TrimSpace(step); s != "" {
						status.NextSteps = append(status.NextSteps, s)
					}
				}
			}
		}
	}
	return status
}
