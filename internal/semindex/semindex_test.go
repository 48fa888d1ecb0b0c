package semindex

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"
)

// stubEngine embeds each word onto its own axis so similarity reduces to
// word overlap.
type stubEngine struct{ axes map[string]int }

func newStubEngine(words ...string) *stubEngine {
	axes := make(map[string]int, len(words))
	for i, w := range words {
		axes[w] = i
	}
	return &stubEngine{axes: axes}
}

func (e *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(e.axes))
	for _, word := range strings.Fields(text) {
		if axis, ok := e.axes[word]; ok {
			vec[axis] = 1
		}
	}
	return vec, nil
}

func (e *stubEngine) Dimensions() int { return len(e.axes) }

func TestSimilarRanksByCosine(t *testing.T) {
	engine := newStubEngine("organize", "downloads", "delete", "logs", "list")
	idx := New(filepath.Join(t.TempDir(), "index.json"), engine)
	ctx := context.Background()

	for _, u := range []string{
		"organize downloads",
		"delete logs",
		"list downloads",
	} {
		if err := idx.Add(ctx, u, "goal:"+u); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := idx.Similar(ctx, "organize downloads", 2)
	if err != nil {
		t.Fatalf("Similar failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Record.Utterance != "organize downloads" {
		t.Errorf("best match = %q", matches[0].Record.Utterance)
	}
	if math.Abs(matches[0].Similarity-1.0) > 1e-9 {
		t.Errorf("identical utterance similarity = %v", matches[0].Similarity)
	}
	if matches[1].Record.Utterance != "list downloads" {
		t.Errorf("second match = %q", matches[1].Record.Utterance)
	}
	if matches[1].Similarity >= matches[0].Similarity {
		t.Error("matches not sorted by similarity")
	}
}

func TestSimilarWithoutEngineIsExactMatch(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "index.json"), nil)
	ctx := context.Background()

	if err := idx.Add(ctx, "Clean Up   Temp Files", "cleanup"); err != nil {
		t.Fatal(err)
	}

	matches, err := idx.Similar(ctx, "clean up temp files", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Similarity != 1.0 {
		t.Errorf("matches = %v", matches)
	}

	matches, _ = idx.Similar(ctx, "something unrelated", 5)
	if len(matches) != 0 {
		t.Errorf("unrelated query matched: %v", matches)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	idx := New(path, nil)
	ctx := context.Background()

	if err := idx.Add(ctx, "rotate the logs", "rotate"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := New(path, nil)
	matches, err := reloaded.Similar(ctx, "rotate the logs", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Record.Goal != "rotate" {
		t.Errorf("matches = %v", matches)
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("parallel = %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal = %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("mismatched dims = %v", got)
	}
	if got := cosine(nil, nil); got != 0 {
		t.Errorf("empty = %v", got)
	}
}
