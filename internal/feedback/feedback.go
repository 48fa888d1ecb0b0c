// Package feedback samples a fraction of commands for user feedback and
// stores redacted entries in a JSONL file.
package feedback

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultSampleRate asks for feedback on roughly one in ten commands.
const DefaultSampleRate = 0.10

// maxEntryLen bounds stored feedback text.
const maxEntryLen = 500

// Entry is one stored feedback record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Utterance string    `json:"utterance"`
	Rating    int       `json:"rating,omitempty"`
	Text      string    `json:"text,omitempty"`
	Success   bool      `json:"success"`
}

// Collector samples, deduplicates and persists feedback.
type Collector struct {
	mu         sync.Mutex
	path       string
	sampleRate float64
	asked      map[string]bool // normalized utterance -> prompted this process
	rng        func() float64
}

// NewCollector writes entries to the given JSONL path.
func NewCollector(path string, sampleRate float64) *Collector {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Collector{
		path:       path,
		sampleRate: sampleRate,
		asked:      make(map[string]bool),
		rng:        rand.Float64,
	}
}

// ShouldPrompt decides whether to ask for feedback on this utterance. Each
// normalized utterance is prompted at most once per process, and never if a
// prior entry for it already exists on disk.
func (c *Collector) ShouldPrompt(utterance string) bool {
	key := normalize(utterance)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.asked[key] {
		return false
	}
	if c.rng() >= c.sampleRate {
		return false
	}
	c.asked[key] = true
	return !c.hasExisting(key)
}

// Record persists one feedback entry with identifying tokens redacted.
func (c *Collector) Record(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Utterance = Redact(truncate(e.Utterance, maxEntryLen))
	e.Text = Redact(truncate(e.Text, maxEntryLen))

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(e)
}

// hasExisting scans the file for a prior entry matching the normalized key.
func (c *Collector) hasExisting(key string) bool {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if normalize(e.Utterance) == key {
			return true
		}
	}
	return false
}

var (
	emailPattern    = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`)
	passwordPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key)\s*[:=]\s*\S+`)
)

// Redact masks emails and password-like assignments.
func Redact(s string) string {
	s = emailPattern.ReplaceAllString(s, "<email>")
	s = passwordPattern.ReplaceAllString(s, "$1=<redacted>")
	return s
}

func normalize(utterance string) string {
	return strings.Join(strings.Fields(strings.ToLower(utterance)), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
