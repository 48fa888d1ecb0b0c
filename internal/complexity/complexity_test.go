package complexity

import "testing"

func TestAnalyzeOneShot(t *testing.T) {
	a := Analyze("list files in my downloads folder")
	if a.NeedsIteration {
		t.Error("simple listing should not need iteration")
	}
	if a.Score > -3 {
		t.Errorf("score = %d, want <= -3", a.Score)
	}
	if a.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", a.Confidence)
	}
	if a.EstimatedSteps != 1 {
		t.Errorf("estimated_steps = %d, want 1", a.EstimatedSteps)
	}
	if a.ShouldConsultOracle() {
		t.Error("confident one-shot should not consult the oracle")
	}
}

func TestAnalyzeIterative(t *testing.T) {
	a := Analyze("analyze my documents folder and organize files by project, then clean up duplicates")
	if !a.NeedsIteration {
		t.Error("multi-phase utterance should need iteration")
	}
	if a.Score < 5 {
		t.Errorf("score = %d, want >= 5", a.Score)
	}
	if a.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", a.Confidence)
	}
	if a.EstimatedSteps < 1 || a.EstimatedSteps > 10 {
		t.Errorf("estimated_steps = %d out of range", a.EstimatedSteps)
	}
}

func TestAnalyzeAmbiguousConsultsOracle(t *testing.T) {
	a := Analyze("make it nicer")
	if a.Score != 0 {
		t.Errorf("score = %d, want 0", a.Score)
	}
	if a.Confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", a.Confidence)
	}
	if !a.ShouldConsultOracle() {
		t.Error("ambiguous utterance should consult the oracle")
	}
}

func TestNeedsIterationThreshold(t *testing.T) {
	cases := []struct {
		utterance string
		want      bool
	}{
		{"refactor the helpers", true},              // one iterative keyword, score 3
		{"show the current branch", false},          // one-shot keyword, score -3
		{"touch the file named notes please", false}, // neutral
	}
	for _, tc := range cases {
		if got := Analyze(tc.utterance).NeedsIteration; got != tc.want {
			t.Errorf("Analyze(%q).NeedsIteration = %v, want %v", tc.utterance, got, tc.want)
		}
	}
}
