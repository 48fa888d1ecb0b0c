// Package metrics buffers execution events and flushes them to a JSONL file
// while keeping in-memory aggregates.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zenus/internal/logging"
)

// flushThreshold is how many buffered events trigger a disk write.
const flushThreshold = 10

// Event is one recorded measurement.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Aggregate accumulates per-key statistics.
type Aggregate struct {
	Count     int     `json:"count"`
	Sum       float64 `json:"sum"`
	Successes int     `json:"successes"`
	CacheHits int     `json:"cache_hits"`
}

// Collector is the process-wide metrics sink.
type Collector struct {
	mu       sync.Mutex
	path     string
	buffer   []Event
	byMetric map[string]*Aggregate
	byModel  map[string]*Aggregate
}

// NewCollector writes events to the given JSONL path.
func NewCollector(path string) *Collector {
	return &Collector{
		path:     path,
		byMetric: make(map[string]*Aggregate),
		byModel:  make(map[string]*Aggregate),
	}
}

// Record ingests one event, flushing when the buffer fills.
func (c *Collector) Record(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev := Event{Timestamp: time.Now(), Name: name, Value: value, Tags: tags}
	c.buffer = append(c.buffer, ev)

	c.aggregate(c.byMetric, name, ev)
	if model := tags["model"]; model != "" {
		c.aggregate(c.byModel, model, ev)
	}

	if len(c.buffer) >= flushThreshold {
		c.flushLocked()
	}
}

func (c *Collector) aggregate(m map[string]*Aggregate, key string, ev Event) {
	agg, ok := m[key]
	if !ok {
		agg = &Aggregate{}
		m[key] = agg
	}
	agg.Count++
	agg.Sum += ev.Value
	if ev.Tags["success"] == "true" {
		agg.Successes++
	}
	if ev.Tags["cache"] == "hit" {
		agg.CacheHits++
	}
}

// Flush writes any buffered events to disk.
func (c *Collector) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *Collector) flushLocked() {
	if len(c.buffer) == 0 {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		logging.Get(logging.CategoryMetrics).Warn("metrics dir unavailable: %v", err)
		return
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logging.Get(logging.CategoryMetrics).Warn("metrics file unavailable: %v", err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ev := range c.buffer {
		if err := enc.Encode(ev); err != nil {
			break
		}
	}
	c.buffer = c.buffer[:0]
}

// Metric returns the aggregate for a metric name.
func (c *Collector) Metric(name string) Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agg, ok := c.byMetric[name]; ok {
		return *agg
	}
	return Aggregate{}
}

// Model returns the aggregate for a tags.model value.
func (c *Collector) Model(name string) Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agg, ok := c.byModel[name]; ok {
		return *agg
	}
	return Aggregate{}
}
