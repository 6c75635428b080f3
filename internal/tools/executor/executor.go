// Package executor provides the built-in tool implementations and the
// execution interface they share.
package executor

import (
	"context"
	"fmt"
)

// Tool represents a callable built-in tool. workDir scopes relative
// paths and shell execution to the current task's directory.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Execute runs the tool with the given input.
	Execute(ctx context.Context, input map[string]any, workDir string) *Result
}

// Result is the uniform executor outcome. Output is what the model
// reads; Error marks a failed call without aborting the turn; Details
// carries structured extras for transports that want them.
type Result struct {
	Output  string
	Error   string
	Details map[string]any
}

// Success creates a successful result.
func Success(output string) *Result {
	return &Result{Output: output}
}

// Fail creates an error result.
func Fail(err error) *Result {
	return &Result{Error: err.Error()}
}

// Failf creates an error result from a format string.
func Failf(format string, args ...any) *Result {
	return &Result{Error: fmt.Sprintf(format, args...)}
}

// WithDetail attaches one structured detail and returns the result.
func (r *Result) WithDetail(key string, value any) *Result {
	if r.Details == nil {
		r.Details = make(map[string]any)
	}
	r.Details[key] = value
	return r
}

// Registry manages the built-in tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// stringParam extracts a required string parameter.
func stringParam(input map[string]any, key string) (string, error) {
	v, ok := input[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return v, nil
}

// intParam extracts an optional integer parameter. JSON numbers decode
// as float64.
func intParam(input map[string]any, key string, def int) int {
	if v, ok := input[key].(float64); ok {
		return int(v)
	}
	return def
}
