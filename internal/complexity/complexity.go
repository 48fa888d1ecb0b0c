// Package complexity decides whether an utterance needs the iterative loop
// or a single translate-execute pass.
package complexity

import (
	"strings"

	"zenus/internal/logging"
)

// Assessment is the routing decision for an utterance.
type Assessment struct {
	Score          int      `json:"score"`
	NeedsIteration bool     `json:"needs_iteration"`
	Confidence     float64  `json:"confidence"`
	EstimatedSteps int      `json:"estimated_steps"`
	Reasoning      string   `json:"reasoning"`
	Signals        []string `json:"signals,omitempty"`
}

// iterativeKeywords suggest multi-step reasoning over the results of
// earlier steps.
var iterativeKeywords = []string{
	"analyze", "understand", "then", "after", "improve", "based on",
	"find out", "organize by", "figure out", "depending on", "clean up",
	"refactor", "investigate", "for each",
}

// oneShotKeywords suggest a single direct command.
var oneShotKeywords = []string{
	"list", "show", "create empty", "what is", "print", "display",
	"tell me", "how many",
}

var fileKeywords = []string{"file", "files", "directory", "folder", "document"}

var conditionalWords = []string{" if ", " where ", " that ", " which ", " unless "}

// Analyze scores the utterance with the keyword and structure heuristic.
func Analyze(utterance string) Assessment {
	lower := " " + strings.ToLower(strings.TrimSpace(utterance)) + " "
	a := Assessment{}

	for _, kw := range iterativeKeywords {
		if strings.Contains(lower, kw) {
			a.Score += 3
			a.Signals = append(a.Signals, "iterative:"+kw)
		}
	}
	for _, kw := range oneShotKeywords {
		if strings.Contains(lower, kw) {
			a.Score -= 3
			a.Signals = append(a.Signals, "oneshot:"+kw)
		}
	}

	if n := sentenceCount(utterance); n >= 2 {
		a.Score += n
		a.Signals = append(a.Signals, "multi-sentence")
	}

	clauses := strings.Count(lower, ",") + strings.Count(lower, " and ")
	if clauses > 2 {
		a.Score += 2
		a.Signals = append(a.Signals, "many-clauses")
	}

	if containsAny(lower, fileKeywords) && containsAny(lower, conditionalWords) {
		a.Score += 3
		a.Signals = append(a.Signals, "conditional-files")
	}

	words := len(strings.Fields(utterance))
	switch {
	case words > 15:
		a.Score += 2
	case words > 10:
		a.Score++
	}

	a.NeedsIteration = a.Score >= 2
	switch {
	case a.Score >= 5:
		a.Confidence = 0.9
	case a.Score >= 2:
		a.Confidence = 0.75
	case a.Score <= -2:
		a.Confidence = 0.85
	default:
		a.Confidence = 0.6
	}
	a.EstimatedSteps = clamp(a.Score+1, 1, 10)
	a.Reasoning = "heuristic: " + strings.Join(a.Signals, ", ")
	if len(a.Signals) == 0 {
		a.Reasoning = "heuristic: no strong signals"
	}

	logging.OrchestratorDebug("complexity score=%d iterate=%v conf=%.2f", a.Score, a.NeedsIteration, a.Confidence)
	return a
}

// ShouldConsultOracle reports whether the heuristic is uncertain enough that
// an available oracle may override it.
func (a Assessment) ShouldConsultOracle() bool {
	return a.Confidence < 0.8
}

func sentenceCount(s string) int {
	n := 0
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
