// Package intent defines the typed plan produced by translation: a goal plus
// an ordered list of tool invocation steps with per-step risk levels.
package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Risk levels for a step.
const (
	RiskReadOnly    = 0 // read-only
	RiskSafeCreate  = 1 // safe create/move
	RiskOverwrite   = 2 // overwrite
	RiskDestructive = 3 // destructive/kill
)

// Step is one tool invocation inside an Intent.
type Step struct {
	Tool   string         `json:"tool"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
	Risk   int            `json:"risk"`
	Goal   string         `json:"goal,omitempty"`
}

// Intent is the validated plan for one utterance (or one iteration).
type Intent struct {
	Goal                 string `json:"goal"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Steps                []Step `json:"steps"`
}

// SchemaError reports malformed oracle output or an invalid plan.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("intent schema error: %s", e.Reason)
}

func schemaErrorf(format string, args ...any) *SchemaError {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

// MaxRisk returns the highest risk among the steps.
func (i *Intent) MaxRisk() int {
	max := 0
	for _, s := range i.Steps {
		if s.Risk > max {
			max = s.Risk
		}
	}
	return max
}

// Catalog answers whether a (tool, action) pair is known and which argument
// keys it requires. Implemented by the tool registry.
type Catalog interface {
	Has(tool, action string) bool
	RequiredArgs(tool, action string) []string
}

// Parse extracts and decodes an Intent from raw oracle output. Surrounding
// prose is tolerated: the outermost {...} is extracted before unmarshalling.
// Unknown keys anywhere in the document are rejected.
func Parse(raw string) (*Intent, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return nil, schemaErrorf("no JSON object found in oracle output")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()

	var in Intent
	if err := dec.Decode(&in); err != nil {
		return nil, schemaErrorf("invalid intent JSON: %v", err)
	}

	// requires_confirmation is derived, never trusted from the oracle.
	in.RequiresConfirmation = in.MaxRisk() >= RiskDestructive
	return &in, nil
}

// extractJSON returns the outermost balanced {...} in s.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Validate checks the plan against the catalog. Rules: steps non-empty,
// every (tool, action) known, risk within 0..3, and write-like actions must
// carry their semantically required argument keys.
func Validate(in *Intent, catalog Catalog) error {
	if in == nil {
		return schemaErrorf("nil intent")
	}
	if len(in.Steps) == 0 {
		return schemaErrorf("intent has no steps")
	}
	for i, s := range in.Steps {
		if s.Tool == "" || s.Action == "" {
			return schemaErrorf("step %d: missing tool or action", i)
		}
		if !catalog.Has(s.Tool, s.Action) {
			return schemaErrorf("step %d: unknown operation %s.%s", i, s.Tool, s.Action)
		}
		if s.Risk < RiskReadOnly || s.Risk > RiskDestructive {
			return schemaErrorf("step %d: risk %d out of range", i, s.Risk)
		}
		for _, key := range catalog.RequiredArgs(s.Tool, s.Action) {
			if _, ok := s.Args[key]; !ok {
				return schemaErrorf("step %d: %s.%s requires arg %q", i, s.Tool, s.Action, key)
			}
		}
	}
	if got, want := in.RequiresConfirmation, in.MaxRisk() >= RiskDestructive; got != want {
		in.RequiresConfirmation = want
	}
	return nil
}

// Describe renders a one-line summary of a step for plans and observations.
func (s *Step) Describe() string {
	args, _ := json.Marshal(s.Args)
	return fmt.Sprintf("%s.%s(%s)", s.Tool, s.Action, args)
}
