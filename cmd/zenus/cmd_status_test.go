package main

import (
	"bytes"
	"strings"
	"testing"

	"zenus/internal/patterns"
)

func TestRenderPatterns(t *testing.T) {
	pats := []patterns.DetectedPattern{
		{Type: patterns.TypeRecurring, Description: "GitOps.status() recurs (daily)", Count: 6, Confidence: 0.6},
		{Type: patterns.TypeToolPreference, Description: "FileOps dominates", Count: 8, Confidence: 0.4},
		{Type: patterns.TypeTimeBased, Description: "activity clusters at 09:00", Count: 4, Confidence: 0.3},
	}

	var buf bytes.Buffer
	renderPatterns(&buf, pats, 2)

	out := buf.String()
	if !strings.Contains(out, "detected patterns:") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "[0.60] GitOps.status() recurs (daily) (seen 6 times)") {
		t.Errorf("recurring line missing: %q", out)
	}
	if strings.Contains(out, "clusters at 09:00") {
		t.Errorf("max not honored: %q", out)
	}
}

func TestRenderPatternsEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderPatterns(&buf, nil, 5)
	if buf.Len() != 0 {
		t.Errorf("empty input produced output: %q", buf.String())
	}
}
