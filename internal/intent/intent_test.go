package intent

import (
	"errors"
	"testing"
)

// fakeCatalog implements Catalog for validation tests.
type fakeCatalog struct {
	ops map[string][]string
}

func (c *fakeCatalog) Has(tool, action string) bool {
	_, ok := c.ops[tool+"."+action]
	return ok
}

func (c *fakeCatalog) RequiredArgs(tool, action string) []string {
	return c.ops[tool+"."+action]
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{ops: map[string][]string{
		"FileOps.scan":        {"path"},
		"FileOps.delete_file": {"path"},
		"FileOps.move_file":   {"source", "destination"},
	}}
}

func TestParseExtractsOutermostJSON(t *testing.T) {
	raw := "Here is the plan:\n```json\n" +
		`{"goal": "list notes", "steps": [{"tool": "FileOps", "action": "scan", "args": {"path": "~/notes"}, "risk": 0, "goal": "list"}]}` +
		"\n```\nDone."

	in, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if in.Goal != "list notes" {
		t.Errorf("goal = %q", in.Goal)
	}
	if len(in.Steps) != 1 || in.Steps[0].Action != "scan" {
		t.Errorf("unexpected steps: %+v", in.Steps)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	raw := `{"goal": "x", "bogus": true, "steps": []}`
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseRejectsNonJSON(t *testing.T) {
	if _, err := Parse("I cannot do that"); err == nil {
		t.Fatal("expected error for missing JSON object")
	}
}

// requires_confirmation must be derived from step risks, never trusted from
// the oracle's output.
func TestRequiresConfirmationDerivedFromRisk(t *testing.T) {
	cases := []struct {
		name string
		risk int
		want bool
	}{
		{"read-only", 0, false},
		{"create", 1, false},
		{"overwrite", 2, false},
		{"destructive", 3, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := `{"goal": "g", "steps": [{"tool": "FileOps", "action": "delete_file", "args": {"path": "/tmp/x"}, "risk": ` +
				string(rune('0'+tc.risk)) + `, "goal": "s"}]}`
			in, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if in.RequiresConfirmation != tc.want {
				t.Errorf("risk %d: requires_confirmation = %v, want %v", tc.risk, in.RequiresConfirmation, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	catalog := testCatalog()

	valid := &Intent{Goal: "g", Steps: []Step{
		{Tool: "FileOps", Action: "scan", Args: map[string]any{"path": "/tmp"}, Risk: 0},
	}}
	if err := Validate(valid, catalog); err != nil {
		t.Errorf("valid intent rejected: %v", err)
	}

	cases := []struct {
		name string
		in   *Intent
	}{
		{"empty steps", &Intent{Goal: "g"}},
		{"unknown operation", &Intent{Goal: "g", Steps: []Step{
			{Tool: "FileOps", Action: "teleport", Args: map[string]any{}, Risk: 0},
		}}},
		{"risk out of range", &Intent{Goal: "g", Steps: []Step{
			{Tool: "FileOps", Action: "scan", Args: map[string]any{"path": "/tmp"}, Risk: 4},
		}}},
		{"missing required arg", &Intent{Goal: "g", Steps: []Step{
			{Tool: "FileOps", Action: "move_file", Args: map[string]any{"source": "/a"}, Risk: 1},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.in, catalog)
			if err == nil {
				t.Fatal("expected SchemaError")
			}
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Errorf("expected *SchemaError, got %T", err)
			}
		})
	}
}

func TestMaxRisk(t *testing.T) {
	in := &Intent{Steps: []Step{{Risk: 1}, {Risk: 3}, {Risk: 0}}}
	if got := in.MaxRisk(); got != 3 {
		t.Errorf("MaxRisk = %d, want 3", got)
	}
}
