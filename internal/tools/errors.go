package tools

import (
	"errors"
	"fmt"
)

// ErrInvalidTool is returned by Register for malformed definitions.
var ErrInvalidTool = errors.New("invalid tool")

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// ArgumentError reports arguments that do not match a tool's schema.
type ArgumentError struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.ToolName, e.Reason)
}

type panicError struct {
	toolName string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("tool %s failed", e.toolName)
}
