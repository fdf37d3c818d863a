// Package tools defines the tools available to the agents: a validating
// registry and the calendar, meal and retrieval adapters.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// Handler executes a tool with already validated arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Registry holds available tools in registration order.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool after checking its name, handler and parameter
// schema. A nil schema declares a tool without arguments.
func (r *Registry) Register(t *Tool) error {
	if t == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}
	if !namePattern.MatchString(t.Name) {
		return fmt.Errorf("%w: name %q must match [a-z0-9_]+", ErrInvalidTool, t.Name)
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("%w: %s already registered", ErrInvalidTool, t.Name)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidTool, t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if err := validateSchema(t.Parameters); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTool, t.Name, err)
	}

	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// AllToolNames returns the registered names in registration order.
func (r *Registry) AllToolNames() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// List returns the tool declarations for the model, in registration
// order, in the OpenAI function shape.
func (r *Registry) List() []map[string]any {
	if r == nil || len(r.order) == 0 {
		return nil
	}
	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// FilteredCopy returns a registry holding only the named tools, in the
// source's order. Unknown names are skipped. The copy shares tool
// definitions but registering into it does not affect the source.
func (r *Registry) FilteredCopy(include []string) *Registry {
	want := make(map[string]bool, len(include))
	for _, n := range include {
		want[n] = true
	}
	cp := &Registry{tools: make(map[string]*Tool), logger: r.logger}
	for _, name := range r.order {
		if want[name] {
			cp.tools[name] = r.tools[name]
			cp.order = append(cp.order, name)
		}
	}
	return cp
}

// Invoke validates args against the tool's schema and runs it. Handler
// panics are recovered and reported as errors.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result string, err error) {
	t, ok := r.Get(name)
	if !ok {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(t.Parameters, args); err != nil {
		return "", &ArgumentError{ToolName: name, Reason: err.Error()}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			result, err = "", &panicError{toolName: name}
		}
	}()
	return t.Handler(ctx, args)
}

// Execute runs a tool and always yields text for the model: failures
// become descriptive results instead of errors.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) string {
	start := time.Now()
	result, err := r.Invoke(ctx, name, args)

	var unavailable *ErrToolUnavailable
	var badArgs *ArgumentError
	var panicked *panicError
	switch {
	case err == nil:
	case errors.As(err, &unavailable):
		result = "Unknown tool: " + name
	case errors.As(err, &badArgs):
		result = fmt.Sprintf("Error: invalid arguments for %s: %s", name, badArgs.Reason)
	case errors.As(err, &panicked):
		result = fmt.Sprintf("Error: tool %s failed", name)
	default:
		result = "Error: " + err.Error()
	}

	if r != nil {
		r.logger.Debug("tool executed",
			"tool", name,
			"ok", err == nil,
			"result_len", len(result),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
	return result
}
