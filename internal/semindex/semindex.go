// Package semindex finds similar past utterances by embedding similarity,
// degrading to exact match on normalized form when no engine is configured.
package semindex

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Engine produces embeddings for text.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Record is one indexed utterance.
type Record struct {
	Utterance string    `json:"utterance"`
	Goal      string    `json:"goal"`
	Timestamp time.Time `json:"timestamp"`
	Vector    []float32 `json:"vector,omitempty"`
}

// Match pairs a record with its similarity to the query.
type Match struct {
	Record     Record
	Similarity float64
}

// Index is the persisted utterance index. The engine is optional.
type Index struct {
	mu      sync.Mutex
	engine  Engine
	path    string
	records []Record
}

// New loads the index from path. A nil engine means exact-match lookups.
func New(path string, engine Engine) *Index {
	idx := &Index{engine: engine, path: path}
	idx.load()
	return idx
}

// Add indexes an utterance, embedding it when an engine is available.
func (idx *Index) Add(ctx context.Context, utterance, goal string) error {
	rec := Record{Utterance: utterance, Goal: goal, Timestamp: time.Now()}
	if idx.engine != nil {
		vec, err := idx.engine.Embed(ctx, utterance)
		if err != nil {
			return err
		}
		rec.Vector = vec
	}

	idx.mu.Lock()
	idx.records = append(idx.records, rec)
	idx.mu.Unlock()
	return nil
}

// Similar returns up to limit past utterances closest to the query. With an
// engine, nearest neighbors by cosine similarity; without one, exact matches
// on the normalized form.
func (idx *Index) Similar(ctx context.Context, query string, limit int) ([]Match, error) {
	if idx.engine == nil {
		return idx.exactMatches(query, limit), nil
	}

	qvec, err := idx.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var matches []Match
	for _, rec := range idx.records {
		if len(rec.Vector) == 0 {
			continue
		}
		sim := cosine(qvec, rec.Vector)
		if sim <= 0 {
			continue
		}
		matches = append(matches, Match{Record: rec, Similarity: sim})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (idx *Index) exactMatches(query string, limit int) []Match {
	key := normalize(query)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var matches []Match
	for _, rec := range idx.records {
		if normalize(rec.Utterance) == key {
			matches = append(matches, Match{Record: rec, Similarity: 1.0})
			if len(matches) == limit {
				break
			}
		}
	}
	return matches
}

// Save persists the index as JSON.
func (idx *Index) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	data, err := json.Marshal(struct {
		Records []Record `json:"records"`
	}{idx.records})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return err
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, idx.path)
}

// load reads the persisted index, ignoring corruption.
func (idx *Index) load() {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		return
	}
	var wrapper struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return
	}
	idx.records = wrapper.Records
}

// cosine is the similarity between two vectors, zero when incomparable.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
