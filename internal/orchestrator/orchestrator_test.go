package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"zenus/internal/cache"
	"zenus/internal/config"
	"zenus/internal/failures"
	"zenus/internal/intent"
	"zenus/internal/metrics"
	"zenus/internal/oracle"
	"zenus/internal/planner"
	"zenus/internal/router"
	"zenus/internal/sandbox"
	"zenus/internal/semindex"
	"zenus/internal/tools"
	"zenus/internal/tracker"
)

// stubClient answers translation requests with a fixed plan and reflection
// requests with a scripted sequence of verdicts.
type stubClient struct {
	mu             sync.Mutex
	intentJSON     string
	reflections    []string
	reflectCalls   int
	translateCalls int
	userPrompts    []string
}

func (c *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "no structured answer", nil
}

func (c *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.Contains(system, "ACHIEVED") {
		i := c.reflectCalls
		c.reflectCalls++
		if i >= len(c.reflections) {
			i = len(c.reflections) - 1
		}
		if i < 0 {
			return "ACHIEVED: no\nCONFIDENCE: 0.6", nil
		}
		return c.reflections[i], nil
	}
	c.translateCalls++
	c.userPrompts = append(c.userPrompts, user)
	return c.intentJSON, nil
}

// envClient records the scoped model variable as seen during translation.
type envClient struct {
	stubClient
	models []string
}

func (c *envClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if !strings.Contains(system, "ACHIEVED") {
		c.models = append(c.models, os.Getenv("ZENUS_SELECTED_MODEL"))
	}
	return c.stubClient.CompleteWithSystem(ctx, system, user)
}

// streamClient supports chunked completions on top of the stub.
type streamClient struct {
	stubClient
	streamCalls int
}

func (c *streamClient) CompleteStream(ctx context.Context, system, user string, onChunk func(string)) (string, error) {
	c.streamCalls++
	raw, err := c.stubClient.CompleteWithSystem(ctx, system, user)
	if err == nil {
		onChunk(raw)
	}
	return raw, err
}

// scriptedPrompter answers every confirmation with a fixed verdict and
// records the questions it was asked.
type scriptedPrompter struct {
	answer    bool
	questions []string
}

func (p *scriptedPrompter) Confirm(q string) (bool, error) {
	p.questions = append(p.questions, q)
	return p.answer, nil
}

func (p *scriptedPrompter) Ask(q string) (string, error) { return "", nil }

type harness struct {
	orch  *Orchestrator
	store *tracker.Store
	index *semindex.Index
	out   *bytes.Buffer
	dir   string
	state string
}

func scanIntent(dir string) string {
	raw, _ := json.Marshal(map[string]any{
		"goal": "inspect the workspace",
		"steps": []map[string]any{
			{"tool": "FileOps", "action": "scan", "args": map[string]any{"path": dir}, "risk": 0, "goal": "list entries"},
		},
	})
	return string(raw)
}

func deleteIntent(path string) string {
	raw, _ := json.Marshal(map[string]any{
		"goal": "remove the file",
		"steps": []map[string]any{
			{"tool": "FileOps", "action": "delete_file", "args": map[string]any{"path": path}, "risk": 3, "goal": "delete"},
		},
	})
	return string(raw)
}

func writeIntent(path string) string {
	raw, _ := json.Marshal(map[string]any{
		"goal": "rewrite the notes file",
		"steps": []map[string]any{
			{"tool": "FileOps", "action": "write_file", "args": map[string]any{"path": path, "content": "updated"}, "risk": 2, "goal": "overwrite"},
		},
	})
	return string(raw)
}

func newHarness(t *testing.T, client oracle.LLMClient, prompter Prompter, mutate func(*config.Config)) *harness {
	t.Helper()
	stateDir := t.TempDir()
	workDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.StateRoot = stateDir
	cfg.Executor.MaxWorkers = 2
	cfg.Executor.StepDeadlineSeconds = 10
	if mutate != nil {
		mutate(cfg)
	}

	store, err := tracker.NewStore(
		filepath.Join(stateDir, "actions.db"), filepath.Join(stateDir, "backups"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	failureStore, err := failures.NewStore(filepath.Join(stateDir, "failures.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { failureStore.Close() })

	sb := sandbox.New([]string{workDir}, nil)
	registry := tools.NewRegistry()
	tools.RegisterFileOps(registry, sb)

	index := semindex.New(filepath.Join(stateDir, "cache", "semantic_index.json"), nil)
	out := &bytes.Buffer{}
	orch := New(Deps{
		Config:   cfg,
		Registry: registry,
		Sandbox:  sb,
		Store:    store,
		Failures: failureStore,
		Cache:    cache.New(filepath.Join(stateDir, "cache", "intent_cache.json")),
		Router:   router.New(""),
		Client:   client,
		Metrics:  metrics.NewCollector(filepath.Join(stateDir, "metrics.jsonl")),
		Index:    index,
		Prompter: prompter,
		Out:      out,
	})
	return &harness{orch: orch, store: store, index: index, out: out, dir: workDir, state: stateDir}
}

func TestExecuteOneShot(t *testing.T) {
	client := &stubClient{}
	h := newHarness(t, client, nil, nil)
	client.intentJSON = scanIntent(h.dir)

	outcome, err := h.orch.Execute(context.Background(), "list files in the scratch folder", Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.Status != tracker.StatusCompleted {
		t.Errorf("status = %q", outcome.Status)
	}
	if len(outcome.TransactionID) != 24 {
		t.Errorf("transaction id = %q", outcome.TransactionID)
	}
	if len(outcome.Results) != 1 || outcome.Results[0].Err != nil {
		t.Errorf("results = %+v", outcome.Results)
	}
	if outcome.CacheHit {
		t.Error("first run reported a cache hit")
	}
	if client.translateCalls != 1 {
		t.Errorf("translate calls = %d", client.translateCalls)
	}

	txn, err := h.store.GetTransaction(outcome.TransactionID)
	if err != nil {
		t.Fatalf("transaction missing: %v", err)
	}
	if txn.Status != tracker.StatusCompleted {
		t.Errorf("stored status = %q", txn.Status)
	}
}

func TestExecuteCachesTranslation(t *testing.T) {
	client := &stubClient{}
	h := newHarness(t, client, nil, nil)
	client.intentJSON = scanIntent(h.dir)

	if _, err := h.orch.Execute(context.Background(), "list files in the scratch folder", Options{}); err != nil {
		t.Fatal(err)
	}
	outcome, err := h.orch.Execute(context.Background(), "list files in the scratch folder", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.CacheHit {
		t.Error("repeat utterance missed the cache")
	}
	if client.translateCalls != 1 {
		t.Errorf("translate calls = %d, want 1", client.translateCalls)
	}
}

func TestExecuteDestructiveRequiresConfirmation(t *testing.T) {
	client := &stubClient{}
	prompter := &scriptedPrompter{answer: false}
	h := newHarness(t, client, prompter, nil)
	client.intentJSON = deleteIntent(filepath.Join(h.dir, "victim.txt"))

	outcome, err := h.orch.Execute(context.Background(), "remove the victim file from scratch", Options{})
	if !errors.Is(err, ErrUserAbort) {
		t.Fatalf("err = %v, want ErrUserAbort", err)
	}
	if outcome.Status != "aborted" {
		t.Errorf("status = %q", outcome.Status)
	}
	if len(prompter.questions) != 1 {
		t.Errorf("prompts = %v", prompter.questions)
	}
	if outcome.TransactionID != "" {
		t.Error("declined plan opened a transaction")
	}
}

func TestExecuteCheckpointsBeforeOverwrite(t *testing.T) {
	client := &stubClient{}
	h := newHarness(t, client, nil, nil)
	victim := filepath.Join(h.dir, "notes.txt")
	if err := os.WriteFile(victim, []byte("precious"), 0644); err != nil {
		t.Fatal(err)
	}
	client.intentJSON = writeIntent(victim)

	outcome, err := h.orch.Execute(context.Background(), "rewrite the notes file in scratch", Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.Status != tracker.StatusCompleted {
		t.Fatalf("status = %q", outcome.Status)
	}

	actions, err := h.store.ListTransaction(outcome.TransactionID)
	if err != nil || len(actions) != 1 {
		t.Fatalf("actions = %v, err = %v", actions, err)
	}
	a := actions[0]
	if a.RollbackStrategy != tracker.StrategyRestoreFromCheckpoint || !a.RollbackPossible {
		t.Errorf("strategy = %q possible = %v, want restore_from_checkpoint", a.RollbackStrategy, a.RollbackPossible)
	}

	backup := filepath.Join(h.state, "backups", "pre_"+outcome.TransactionID, "notes.txt")
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(data) != "precious" {
		t.Errorf("backup content = %q", data)
	}
	if data, _ := os.ReadFile(victim); string(data) != "updated" {
		t.Errorf("file content = %q, want the overwrite applied", data)
	}
}

func TestExecuteScopesSelectedModel(t *testing.T) {
	os.Unsetenv("ZENUS_SELECTED_MODEL")
	client := &envClient{}
	h := newHarness(t, client, nil, nil)
	client.intentJSON = scanIntent(h.dir)

	if _, err := h.orch.Execute(context.Background(), "list files in the scratch folder", Options{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(client.models) != 1 || client.models[0] != "qwen2.5-coder" {
		t.Errorf("models seen during translation = %v", client.models)
	}
	if v, ok := os.LookupEnv("ZENUS_SELECTED_MODEL"); ok {
		t.Errorf("variable leaked after execution: %q", v)
	}
}

func TestExecuteStreamsTranslation(t *testing.T) {
	client := &streamClient{}
	h := newHarness(t, client, nil, nil)
	client.intentJSON = scanIntent(h.dir)

	if _, err := h.orch.Execute(context.Background(), "list files in the scratch folder", Options{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if client.streamCalls != 1 {
		t.Errorf("stream calls = %d, want the one-shot path to stream", client.streamCalls)
	}
	if !strings.Contains(h.out.String(), "inspect the workspace") {
		t.Errorf("streamed chunks missing from output: %q", h.out.String())
	}
}

func TestTranslationPromptIncludesSimilarHistory(t *testing.T) {
	client := &stubClient{}
	h := newHarness(t, client, nil, nil)
	client.intentJSON = scanIntent(h.dir)

	if err := h.index.Add(context.Background(), "List files in the scratch folder", "inspect the workspace"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.orch.Execute(context.Background(), "list files in the scratch folder", Options{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(client.userPrompts) != 1 {
		t.Fatalf("prompts = %d", len(client.userPrompts))
	}
	if !strings.Contains(client.userPrompts[0], "Similar past commands") ||
		!strings.Contains(client.userPrompts[0], "inspect the workspace") {
		t.Errorf("similar history missing from prompt:\n%s", client.userPrompts[0])
	}
}

func TestDestructiveConfirmationRendersPlan(t *testing.T) {
	client := &stubClient{}
	prompter := &scriptedPrompter{answer: false}
	h := newHarness(t, client, prompter, nil)
	client.intentJSON = deleteIntent(filepath.Join(h.dir, "victim.txt"))

	_, err := h.orch.Execute(context.Background(), "remove the victim file from scratch", Options{})
	if !errors.Is(err, ErrUserAbort) {
		t.Fatalf("err = %v, want ErrUserAbort", err)
	}
	out := h.out.String()
	if !strings.Contains(out, "goal: remove the file") || !strings.Contains(out, "(risk 3)") {
		t.Errorf("plan not rendered before the prompt:\n%s", out)
	}
}

func TestExecuteDryRunTouchesNothing(t *testing.T) {
	client := &stubClient{}
	h := newHarness(t, client, nil, nil)
	victim := filepath.Join(h.dir, "victim.txt")
	client.intentJSON = deleteIntent(victim)

	// Dry run skips confirmation and execution even for destructive plans.
	outcome, err := h.orch.Execute(context.Background(), "analyze scratch then remove the victim file", Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if outcome.Status != "dry_run" {
		t.Errorf("status = %q", outcome.Status)
	}
	if outcome.TransactionID != "" {
		t.Error("dry run opened a transaction")
	}
}

func TestIterativeStopsWhenAchieved(t *testing.T) {
	client := &stubClient{
		reflections: []string{
			"ACHIEVED: no\nCONFIDENCE: 0.7\nREASONING: partial\nNEXT_STEPS: keep going",
			"ACHIEVED: yes\nCONFIDENCE: 0.95\nREASONING: done\nNEXT_STEPS: none",
		},
	}
	h := newHarness(t, client, nil, nil)
	client.intentJSON = scanIntent(h.dir)

	outcome, err := h.orch.Execute(context.Background(),
		"analyze the scratch folder and organize files, then clean up", Options{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.Status != "completed" {
		t.Errorf("status = %q", outcome.Status)
	}
	if outcome.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", outcome.Iterations)
	}
	if client.reflectCalls != 2 {
		t.Errorf("reflect calls = %d", client.reflectCalls)
	}
	if len(outcome.Observations) == 0 {
		t.Error("no observations accumulated")
	}
}

func TestIterativeCapReturnsErrMaxIterations(t *testing.T) {
	client := &stubClient{
		reflections: []string{"ACHIEVED: no\nCONFIDENCE: 0.6\nREASONING: still going"},
	}
	h := newHarness(t, client, nil, func(cfg *config.Config) {
		cfg.Iterative.MaxTotal = 3
		cfg.Iterative.BatchSize = 100 // keep batch prompts out of this test
	})
	client.intentJSON = scanIntent(h.dir)

	outcome, err := h.orch.Execute(context.Background(),
		"analyze the scratch folder and organize files, then clean up", Options{})
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("err = %v, want ErrMaxIterations", err)
	}
	if outcome.Status != "max_iterations" {
		t.Errorf("status = %q", outcome.Status)
	}
	if outcome.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", outcome.Iterations)
	}
}

func TestIterativeBatchBoundaryPrompts(t *testing.T) {
	client := &stubClient{
		reflections: []string{"ACHIEVED: no\nCONFIDENCE: 0.6\nREASONING: still going"},
	}
	prompter := &scriptedPrompter{answer: false}
	h := newHarness(t, client, prompter, func(cfg *config.Config) {
		cfg.Iterative.MaxTotal = 10
		cfg.Iterative.BatchSize = 2
	})
	client.intentJSON = scanIntent(h.dir)

	outcome, err := h.orch.Execute(context.Background(),
		"analyze the scratch folder and organize files, then clean up", Options{})
	if !errors.Is(err, ErrUserAbort) {
		t.Fatalf("err = %v, want ErrUserAbort", err)
	}
	if outcome.Status != "aborted" {
		t.Errorf("status = %q", outcome.Status)
	}
	if outcome.Iterations != 2 {
		t.Errorf("iterations = %d, want prompt at the first batch boundary", outcome.Iterations)
	}
	if len(prompter.questions) != 1 || !strings.Contains(prompter.questions[0], "2 iterations") {
		t.Errorf("questions = %v", prompter.questions)
	}
}

func TestNormalizeScore(t *testing.T) {
	cases := []struct {
		score int
		want  float64
	}{
		{-5, 0}, {-9, 0}, {0, 0.5}, {5, 1}, {9, 1},
	}
	for _, tc := range cases {
		if got := normalizeScore(tc.score); got != tc.want {
			t.Errorf("normalizeScore(%d) = %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestBuildObservationsTruncates(t *testing.T) {
	steps := []intent.Step{
		{Tool: "FileOps", Action: "read_file", Args: map[string]any{"path": "/x"}},
		{Tool: "FileOps", Action: "scan", Args: map[string]any{"path": "/y"}},
	}
	results := []planner.StepResult{
		{Index: 0, Output: map[string]any{"content": strings.Repeat("y", 1000)}},
		{Index: 1, Err: errors.New("scan failed")},
	}

	obs := buildObservations(steps, results)
	if len(obs) != 2 {
		t.Fatalf("observations = %d", len(obs))
	}
	if len(obs[0]) > observationLimit+100 {
		t.Errorf("observation not truncated, len = %d", len(obs[0]))
	}
	if !strings.Contains(obs[1], "error: scan failed") {
		t.Errorf("error observation = %q", obs[1])
	}
}
