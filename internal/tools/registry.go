package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zenus/internal/logging"
)

// Registry holds all available operations keyed by "Tool.Action".
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

// Register adds an operation. Returns an error if the (tool, action) pair is
// already present.
func (r *Registry) Register(op *Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.Key()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, op.Key())
	}
	r.ops[op.Key()] = op
	logging.ToolsDebug("Registered operation: %s (effect=%s, runtime=%s)", op.Key(), op.Effect, op.Runtime)
	return nil
}

// MustRegister registers an operation and panics on error.
// Use for static registration at startup.
func (r *Registry) MustRegister(op *Operation) {
	if err := r.Register(op); err != nil {
		panic(fmt.Sprintf("failed to register %s: %v", op.Key(), err))
	}
}

// Get returns the operation for (tool, action), or nil.
func (r *Registry) Get(tool, action string) *Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ops[tool+"."+action]
}

// Has reports whether (tool, action) is registered.
func (r *Registry) Has(tool, action string) bool {
	return r.Get(tool, action) != nil
}

// RequiredArgs returns the required argument keys for (tool, action), or nil
// when the pair is unknown. Together with Has this satisfies intent.Catalog.
func (r *Registry) RequiredArgs(tool, action string) []string {
	op := r.Get(tool, action)
	if op == nil {
		return nil
	}
	return op.Required
}

// Keys returns all registered operation keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.ops))
	for k := range r.ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of registered operations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// Invoke runs (tool, action) with args. Returns ErrUnknownTool for unknown
// pairs and ErrMissingArg when a required key is absent.
func (r *Registry) Invoke(ctx context.Context, tool, action string, args map[string]any) (*Result, error) {
	op := r.Get(tool, action)
	if op == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownTool, tool, action)
	}

	for _, key := range op.Required {
		if _, ok := args[key]; !ok {
			return nil, fmt.Errorf("%w: %s.%s needs %q", ErrMissingArg, tool, action, key)
		}
	}

	start := time.Now()
	logging.ToolsDebug("Invoking %s", op.Key())
	out, err := op.Invoke(ctx, args)
	elapsed := time.Since(start)
	logging.ToolsDebug("%s completed in %v (success=%v)", op.Key(), elapsed, err == nil)

	return &Result{
		Tool:       tool,
		Action:     action,
		Output:     out,
		Err:        err,
		DurationMs: elapsed.Milliseconds(),
	}, err
}
