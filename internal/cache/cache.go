// Package cache stores translated intents keyed by normalized utterance so
// repeated commands skip the oracle round-trip.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zenus/internal/intent"
	"zenus/internal/logging"
)

const (
	// DefaultTTL is how long a cached translation stays valid.
	DefaultTTL = time.Hour

	// DefaultMaxEntries caps the cache before LRU eviction kicks in.
	DefaultMaxEntries = 500

	// tokensPerHit is the estimated oracle token cost a cache hit avoids.
	tokensPerHit = 1200
)

// Entry is one cached translation with its bookkeeping.
type Entry struct {
	Key       string         `json:"key"`
	Utterance string         `json:"utterance"`
	Intent    *intent.Intent `json:"intent"`
	CreatedAt time.Time      `json:"created_at"`
	LastHit   *time.Time     `json:"last_hit,omitempty"`
	HitCount  int            `json:"hit_count"`
}

// Stats tracks cache effectiveness across a process lifetime.
type Stats struct {
	Hits        int `json:"hits"`
	Misses      int `json:"misses"`
	Evictions   int `json:"evictions"`
	Expirations int `json:"expirations"`
	TokensSaved int `json:"tokens_saved"`
}

// IntentCache is a TTL plus LRU cache persisted as JSON.
type IntentCache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	stats      Stats
	ttl        time.Duration
	maxEntries int
	path       string
	now        func() time.Time
}

// Option adjusts cache construction.
type Option func(*IntentCache)

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *IntentCache) { c.ttl = ttl }
}

// WithMaxEntries overrides the eviction threshold.
func WithMaxEntries(n int) Option {
	return func(c *IntentCache) { c.maxEntries = n }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *IntentCache) { c.now = now }
}

// New loads the cache from path, starting fresh on a missing or corrupt file.
func New(path string, opts ...Option) *IntentCache {
	c := &IntentCache{
		entries:    make(map[string]*Entry),
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		path:       path,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.load()
	return c
}

// Key derives the lookup key: sha256 over the lowercased utterance and the
// context fingerprint, joined by a pipe.
func Key(utterance, contextFingerprint string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(utterance)) + "|" + contextFingerprint))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached intent for the key, or nil on miss or expiry.
func (c *IntentCache) Get(key string) *intent.Intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil
	}
	if c.now().Sub(e.CreatedAt) > c.ttl {
		delete(c.entries, key)
		c.stats.Expirations++
		c.stats.Misses++
		logging.CacheDebug("expired entry for %q", e.Utterance)
		return nil
	}
	now := c.now()
	e.LastHit = &now
	e.HitCount++
	c.stats.Hits++
	c.stats.TokensSaved += tokensPerHit
	return e.Intent
}

// Put stores a translation, evicting the least recently used entry when full.
func (c *IntentCache) Put(key, utterance string, in *intent.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = &Entry{
		Key:       key,
		Utterance: utterance,
		Intent:    in,
		CreatedAt: c.now(),
	}
}

// evictLocked removes the entry with the oldest last-use time. Entries never
// hit fall back to their creation time.
func (c *IntentCache) evictLocked() {
	var victim string
	var oldest time.Time
	for key, e := range c.entries {
		lastUse := e.CreatedAt
		if e.LastHit != nil {
			lastUse = *e.LastHit
		}
		if victim == "" || lastUse.Before(oldest) {
			victim = key
			oldest = lastUse
		}
	}
	if victim != "" {
		logging.CacheDebug("evicting %q", c.entries[victim].Utterance)
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}

// Invalidate removes a single entry.
func (c *IntentCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry, keeping the stats.
func (c *IntentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Len reports the current entry count.
func (c *IntentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *IntentCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

type persistedCache struct {
	Entries []*Entry `json:"entries"`
	Stats   Stats    `json:"stats"`
}

// Save writes the cache to disk. Expired entries are dropped on the way out.
func (c *IntentCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := persistedCache{Stats: c.stats}
	now := c.now()
	for _, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			continue
		}
		p.Entries = append(p.Entries, e)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// load reads the persisted cache. Corruption means starting fresh, not
// failing startup.
func (c *IntentCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var p persistedCache
	if err := json.Unmarshal(data, &p); err != nil {
		logging.Cache("cache file corrupt, starting fresh: %v", err)
		return
	}
	for _, e := range p.Entries {
		if e == nil || e.Key == "" || e.Intent == nil {
			continue
		}
		c.entries[e.Key] = e
	}
	c.stats = p.Stats
}
