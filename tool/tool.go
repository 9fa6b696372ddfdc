// Package tool implements the function / tool calling subsystem that lets the
// orchestrator invoke structured capabilities (file access, search, shell) with
// schema validated arguments, consistent error handling and metadata for model
// guidance.
package tool

import (
	"context"
	"fmt"
)

// Tool defines the interface for extending the assistant with external capabilities.
//
// Tools are registered with a Handler and exposed to the model through their
// function call schema. The model invokes a tool by name with JSON arguments;
// the Handler parses the arguments and calls Execute.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Respect context cancellation in long-running work
//   - Be safe for concurrent use (sub-agents may share a tool instance)
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the model to help it decide when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Execute runs the tool with parsed arguments. A returned error means the
	// tool itself failed; the Handler converts it into result data the model
	// can observe rather than letting it propagate.
	Execute(ctx context.Context, args map[string]any) (*Output, error)
}

// Output is the result a tool produces for one invocation. It is consumed once
// by the Handler and never stored beyond its serialized conversation entry.
type Output struct {
	Success  bool           `json:"success"`
	Output   any            `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FunctionSchema is the provider-facing declaration of a tool.
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Schema builds the function call schema for a tool.
func Schema(t Tool) FunctionSchema {
	return FunctionSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// Schemas builds function call schemas for a list of tools.
func Schemas(tools []Tool) []FunctionSchema {
	schemas := make([]FunctionSchema, len(tools))
	for i, t := range tools {
		schemas[i] = Schema(t)
	}
	return schemas
}

// ToolError represents errors that occur during tool argument handling or execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

// Error codes used by the built-in tool machinery.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeExecutionError   = "EXECUTION_ERROR"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
)

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
