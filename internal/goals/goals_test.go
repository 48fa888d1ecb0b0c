package goals

import (
	"testing"

	"zenus/internal/intent"
)

func iter(n int, goal string, confidence float64) Iteration {
	return Iteration{
		Number: n,
		Intent: &intent.Intent{Goal: goal},
		Status: Status{Confidence: confidence},
	}
}

func TestStuckDetector(t *testing.T) {
	tr := NewTracker("organize my downloads")

	tr.Record(iter(1, "scan downloads", 0.3))
	if tr.Stuck() {
		t.Error("one low-confidence iteration is not stuck")
	}

	// Three consecutive repeats of the same goal below the floor.
	tr.Record(iter(2, "scan downloads", 0.35))
	tr.Record(iter(3, "scan downloads", 0.2))
	tr.Record(iter(4, "scan downloads", 0.1))
	if !tr.Stuck() {
		t.Error("three repeated low-confidence iterations should be stuck")
	}

	tr.ResetStuck()
	if tr.Stuck() {
		t.Error("ResetStuck did not clear the counter")
	}
}

func TestStuckResetsOnProgress(t *testing.T) {
	tr := NewTracker("g")
	tr.Record(iter(1, "step one", 0.3))
	tr.Record(iter(2, "step one", 0.3))
	tr.Record(iter(3, "step one", 0.8)) // confident pass breaks the streak
	tr.Record(iter(4, "step one", 0.3))
	if tr.Stuck() {
		t.Error("a confident iteration must reset the streak")
	}
}

func TestStuckRequiresSameGoal(t *testing.T) {
	tr := NewTracker("g")
	tr.Record(iter(1, "a", 0.1))
	tr.Record(iter(2, "b", 0.1))
	tr.Record(iter(3, "c", 0.1))
	tr.Record(iter(4, "d", 0.1))
	if tr.Stuck() {
		t.Error("changing goals is progress, not a stuck loop")
	}
}

func TestParseReflection(t *testing.T) {
	raw := `ACHIEVED: yes
CONFIDENCE: 0.92
REASONING: All files moved into their folders.
NEXT_STEPS: none`

	status := ParseReflection(raw)
	if !status.Achieved {
		t.Error("achieved should be true")
	}
	if status.Confidence != 0.92 {
		t.Errorf("confidence = %v", status.Confidence)
	}
	if status.Reasoning == "" {
		t.Error("reasoning missing")
	}
	if len(status.NextSteps) != 0 {
		t.Errorf("next_steps = %v, want none", status.NextSteps)
	}
}

func TestParseReflectionNextSteps(t *testing.T) {
	raw := `ACHIEVED: no
CONFIDENCE: 0.4
REASONING: Two directories remain.
NEXT_STEPS: move remaining PDFs; delete empty folders`

	status := ParseReflection(raw)
	if status.Achieved {
		t.Error("achieved should be false")
	}
	if len(status.NextSteps) != 2 {
		t.Fatalf("next_steps = %v", status.NextSteps)
	}
	if status.NextSteps[0] != "move remaining PDFs" {
		t.Errorf("first step = %q", status.NextSteps[0])
	}
}

func TestParseReflectionMalformed(t *testing.T) {
	status := ParseReflection("the model rambled instead of following the format")
	if status.Achieved {
		t.Error("malformed output must not report achieved")
	}
	if status.Confidence != 0.5 {
		t.Errorf("default confidence = %v, want 0.5", status.Confidence)
	}
}

func TestParseReflectionClampsConfidence(t *testing.T) {
	if got := ParseReflection("CONFIDENCE: 7").Confidence; got != 1 {
		t.Errorf("confidence = %v, want clamp to 1", got)
	}
	if got := ParseReflection("CONFIDENCE: -2").Confidence; got != 0 {
		t.Errorf("confidence = %v, want clamp to 0", got)
	}
}
