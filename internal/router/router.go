// Package router selects an LLM tier for each utterance and cascades to
// higher-capability tiers on failure.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zenus/internal/logging"
)

// Tier is one capability rung in the model ladder.
type Tier struct {
	Name       string
	Capability float64
	Model      string
	CostPer1K  float64 // USD per 1k tokens, zero for local
}

// DefaultTiers orders the ladder by ascending capability.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "local", Capability: 0.5, Model: "qwen2.5-coder", CostPer1K: 0},
		{Name: "cheap", Capability: 0.7, Model: "gemini-2.5-flash-lite", CostPer1K: 0.0005},
		{Name: "mid", Capability: 0.85, Model: "gemini-2.5-flash", CostPer1K: 0.003},
		{Name: "top", Capability: 1.0, Model: "gemini-2.5-pro", CostPer1K: 0.015},
	}
}

// TierStats are per-tier counters across the session.
type TierStats struct {
	Requests    int     `json:"requests"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
	AvgLatency  float64 `json:"avg_latency_ms"`
}

// Decision records how one utterance was routed.
type Decision struct {
	SelectedModel  string   `json:"selected_model"`
	SelectedTier   string   `json:"selected_tier"`
	Complexity     float64  `json:"complexity_score"`
	Reasons        []string `json:"reasons"`
	FallbackUsed   bool     `json:"fallback_used"`
	Success        bool     `json:"success"`
	LatencyMs      int64    `json:"latency_ms"`
	Tokens         int      `json:"tokens"`
	LastSuccessful string   `json:"last_successful_option,omitempty"`
}

// Router routes by complexity score and tracks tier health.
type Router struct {
	mu         sync.Mutex
	tiers      []Tier
	stats      map[string]*TierStats
	forceModel string
}

// New creates a router over the default ladder.
func New(forceModel string) *Router {
	r := &Router{tiers: DefaultTiers(), forceModel: forceModel, stats: make(map[string]*TierStats)}
	for _, t := range r.tiers {
		r.stats[t.Name] = &TierStats{}
	}
	return r
}

// Select picks the lowest-capability tier whose capability covers the
// normalized complexity score. A forced model overrides the ladder.
func (r *Router) Select(score float64) (Tier, []string) {
	if r.forceModel != "" {
		for _, t := range r.tiers {
			if t.Name == r.forceModel || t.Model == r.forceModel {
				return t, []string{fmt.Sprintf("forced to %s by operator", t.Name)}
			}
		}
		top := r.tiers[len(r.tiers)-1]
		forced := Tier{Name: "forced", Capability: top.Capability, Model: r.forceModel}
		return forced, []string{fmt.Sprintf("forced to unknown model %q", r.forceModel)}
	}

	for _, t := range r.tiers {
		if t.Capability >= score {
			return t, []string{fmt.Sprintf("capability %.2f covers complexity %.2f", t.Capability, score)}
		}
	}
	top := r.tiers[len(r.tiers)-1]
	return top, []string{fmt.Sprintf("complexity %.2f exceeds ladder, using %s", score, top.Name)}
}

// TierFunc executes one attempt against a specific tier.
type TierFunc func(ctx context.Context, tier Tier) (string, error)

// ExecuteWithFallback attempts the selected tier, then up to maxFallbacks
// higher-capability tiers. Any error moves to the next tier; the last
// failure propagates when all exhaust.
func (r *Router) ExecuteWithFallback(ctx context.Context, score float64, fn TierFunc, maxFallbacks int) (string, *Decision, error) {
	primary, reasons := r.Select(score)
	chain := r.chainFrom(primary, maxFallbacks)

	decision := &Decision{
		SelectedModel: primary.Model,
		SelectedTier:  primary.Name,
		Complexity:    score,
		Reasons:       reasons,
	}

	var lastErr error
	for i, tier := range chain {
		start := time.Now()
		out, err := fn(ctx, tier)
		latency := time.Since(start)
		tokens := estimateTokens(out)
		r.record(tier, err == nil, tokens, latency)

		if err == nil {
			decision.Success = true
			decision.FallbackUsed = i > 0
			decision.LatencyMs = latency.Milliseconds()
			decision.Tokens = tokens
			decision.LastSuccessful = tier.Name
			if i > 0 {
				decision.Reasons = append(decision.Reasons,
					fmt.Sprintf("fell back from %s to %s", primary.Name, tier.Name))
				logging.Router("fallback %s -> %s succeeded", primary.Name, tier.Name)
			}
			return out, decision, nil
		}

		lastErr = err
		logging.Router("tier %s failed: %v", tier.Name, err)
		if ctx.Err() != nil {
			break
		}
	}

	decision.Success = false
	return "", decision, fmt.Errorf("all tiers exhausted: %w", lastErr)
}

// chainFrom builds [primary, next-higher, ...] capped at maxFallbacks extras.
func (r *Router) chainFrom(primary Tier, maxFallbacks int) []Tier {
	chain := []Tier{primary}
	for _, t := range r.tiers {
		if t.Capability > primary.Capability && len(chain) <= maxFallbacks {
			chain = append(chain, t)
		}
	}
	return chain
}

func (r *Router) record(tier Tier, success bool, tokens int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stats[tier.Name]
	if !ok {
		s = &TierStats{}
		r.stats[tier.Name] = s
	}
	s.Requests++
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
	s.TotalTokens += tokens
	s.TotalCost += float64(tokens) / 1000 * tier.CostPer1K
	ms := float64(latency.Milliseconds())
	s.AvgLatency += (ms - s.AvgLatency) / float64(s.Requests)
}

// Stats returns a snapshot of per-tier counters.
func (r *Router) Stats() map[string]TierStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]TierStats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}

// estimateTokens approximates tokens at four characters each.
func estimateTokens(s string) int {
	return len(s) / 4
}
