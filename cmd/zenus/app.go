package main

import (
	"fmt"
	"os"
	"path/filepath"

	"zenus/internal/cache"
	"zenus/internal/config"
	"zenus/internal/failures"
	"zenus/internal/feedback"
	"zenus/internal/logging"
	"zenus/internal/oracle"
	"zenus/internal/orchestrator"
	"zenus/internal/rollback"
	"zenus/internal/router"
	"zenus/internal/sandbox"
	"zenus/internal/semindex"
	"zenus/internal/tools"
	"zenus/internal/tracker"

	metricspkg "zenus/internal/metrics"

	"time"
)

// app bundles the long-lived components a command needs. Build once per
// invocation, close on the way out.
type app struct {
	cfg      *config.Config
	registry *tools.Registry
	sandbox  *sandbox.Sandbox
	store    *tracker.Store
	failures *failures.Store
	cache    *cache.IntentCache
	router   *router.Router
	metrics  *metricspkg.Collector
	feedback *feedback.Collector
	index    *semindex.Index
	orch     *orchestrator.Orchestrator
	engine   *rollback.Engine
}

// buildApp wires the full component graph. needOracle controls whether a
// missing LLM backend is fatal; rollback and status work without one.
func buildApp(needOracle bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureStateDirs(); err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.StateRoot, cfg.Logging.DebugMode, cfg.Logging.Level); err != nil {
		return nil, err
	}

	sb := sandbox.New(cfg.Sandbox.AllowedRoots, cfg.Sandbox.ReadOnlyRoots)
	sb.SetProcessDeadline(time.Duration(cfg.Executor.StepDeadlineSeconds) * time.Second)

	registry := tools.NewRegistry()
	tools.RegisterFileOps(registry, sb)
	tools.RegisterSystemOps(registry, sb)

	store, err := tracker.NewStore(
		filepath.Join(cfg.StateRoot, "actions.db"),
		filepath.Join(cfg.StateRoot, "backups"))
	if err != nil {
		return nil, err
	}

	failureStore, err := failures.NewStore(filepath.Join(cfg.StateRoot, "failures.db"))
	if err != nil {
		store.Close()
		return nil, err
	}

	intentCache := cache.New(
		filepath.Join(cfg.StateRoot, "cache", "intent_cache.json"),
		cache.WithTTL(time.Duration(cfg.Cache.TTLSeconds)*time.Second),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
	)

	var client oracle.LLMClient
	if client, err = oracle.NewClient(cfg); err != nil {
		if needOracle {
			store.Close()
			failureStore.Close()
			return nil, fmt.Errorf("no usable oracle: %w", err)
		}
		client = nil
	}

	var engine semindex.Engine
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if e, err := semindex.NewGenAIEngine(key, ""); err == nil {
			engine = e
		}
	}
	index := semindex.New(filepath.Join(cfg.StateRoot, "cache", "semantic_index.json"), engine)

	a := &app{
		cfg:      cfg,
		registry: registry,
		sandbox:  sb,
		store:    store,
		failures: failureStore,
		cache:    intentCache,
		router:   router.New(cfg.Router.ForceModel),
		metrics:  metricspkg.NewCollector(filepath.Join(cfg.StateRoot, "metrics.jsonl")),
		feedback: feedback.NewCollector(filepath.Join(cfg.StateRoot, "feedback.jsonl"), cfg.Feedback.SampleRate),
		index:    index,
	}
	if !cfg.Feedback.PromptsEnabled {
		a.feedback = nil
	}

	var prompter orchestrator.Prompter = orchestrator.NewTerminalPrompter(os.Stdin, os.Stdout)
	a.orch = orchestrator.New(orchestrator.Deps{
		Config:   cfg,
		Registry: registry,
		Sandbox:  sb,
		Store:    store,
		Failures: failureStore,
		Cache:    intentCache,
		Router:   a.router,
		Client:   client,
		Metrics:  a.metrics,
		Feedback: a.feedback,
		Index:    index,
		Prompter: prompter,
		Out:      os.Stdout,
	})
	a.engine = rollback.NewEngine(store, registry)
	return a, nil
}

// close flushes and releases every component.
func (a *app) close() {
	a.metrics.Flush()
	if err := a.cache.Save(); err != nil {
		logging.Cache("failed to persist cache on shutdown: %v", err)
	}
	if err := a.failures.Close(); err != nil {
		logging.Failures("failed to close failures db: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logging.Tracker("failed to close action store: %v", err)
	}
}
