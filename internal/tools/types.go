// Package tools provides the operation registry: it resolves (tool, action)
// pairs to capability metadata and invocation functions. Concrete operations
// shell out through the sandbox; anything unregistered surfaces UnknownTool.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// Registry errors.
var (
	ErrUnknownTool       = errors.New("unknown tool operation")
	ErrAlreadyRegistered = errors.New("operation already registered")
	ErrMissingArg        = errors.New("missing required argument")
)

// SideEffect classifies what an operation does to the world. It drives
// sandbox checks and dependency-analysis conflict rules.
type SideEffect string

const (
	EffectReadOnly  SideEffect = "read_only"
	EffectCreate    SideEffect = "create"
	EffectOverwrite SideEffect = "overwrite"
	EffectDelete    SideEffect = "delete"
	EffectControl   SideEffect = "control" // process/service/container lifecycle
)

// RuntimeClass is the expected runtime of an operation.
type RuntimeClass string

const (
	RuntimeFast RuntimeClass = "fast"
	RuntimeIO   RuntimeClass = "io"
	RuntimeSlow RuntimeClass = "slow"
)

// InvokeFunc executes an operation. Args are the step's arguments; the result
// is a structured map that flows verbatim into the action tracker.
type InvokeFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Operation describes one (tool, action) capability.
type Operation struct {
	// Tool is the tool family name, e.g. "FileOps".
	Tool string

	// Action is the operation name within the tool, e.g. "move_file".
	Action string

	// Description explains what the operation does.
	Description string

	// Required lists argument keys that must be present.
	Required []string

	// Effect is the side-effect class.
	Effect SideEffect

	// Runtime is the expected runtime class.
	Runtime RuntimeClass

	// Invoke runs the operation.
	Invoke InvokeFunc
}

// Key returns the registry key for the operation.
func (op *Operation) Key() string {
	return op.Tool + "." + op.Action
}

// Validate checks that the operation definition is usable.
func (op *Operation) Validate() error {
	if op.Tool == "" || op.Action == "" {
		return fmt.Errorf("operation needs tool and action names")
	}
	if op.Invoke == nil {
		return fmt.Errorf("operation %s has nil Invoke", op.Key())
	}
	return nil
}

// Result wraps an invocation outcome with timing metadata.
type Result struct {
	Tool       string
	Action     string
	Output     map[string]any
	Err        error
	DurationMs int64
}

// IsSuccess returns true if the invocation completed without error.
func (r *Result) IsSuccess() bool {
	return r.Err == nil
}

// stringArg fetches a string argument, tolerating missing keys.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
