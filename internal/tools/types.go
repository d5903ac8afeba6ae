// Package tools provides the uniform contract every data-gathering capability
// satisfies, and the registry the reasoning loop dispatches through.
//
// Tools are stateless from the loop's perspective. Any caching or retrying a
// tool performs internally is invisible to the caller; the registry only sees
// records or a classified Failure.
//
// Architecture:
//
//	ActionStep → Registry.Invoke() → Tool.Invoke() → Observation (records | failure)
package tools

import (
	"context"
	"time"

	"marketintel/internal/types"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// ToolSchema defines the input schema of a tool.
type ToolSchema struct {
	// Required lists parameters that must be present on the ActionStep.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// InvokeFunc is the signature for tool execution.
// It returns the raw records or an error; errors built with Fail carry their kind.
type InvokeFunc func(ctx context.Context, step types.ActionStep) ([]types.Record, error)

// DefaultPriority is assigned to tools registered without an explicit priority.
const DefaultPriority = 50

// Tool defines one data-gathering capability.
type Tool struct {
	// Name is the unique identifier used in configuration and ActionSteps.
	Name string

	// Description explains what the tool does.
	Description string

	// Categories lists the categories this tool is eligible for.
	Categories []types.Category

	// Invoke runs the tool.
	Invoke InvokeFunc

	// Schema defines the expected parameters.
	Schema ToolSchema

	// Priority orders escalation within a category. Higher runs first.
	Priority int

	// Reliability is the static source weight in [0,1] used by the scorer.
	Reliability float64

	// Timeout bounds a single invocation. Zero means no per-call timeout.
	Timeout time.Duration
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Invoke == nil {
		return ErrToolInvokeNil
	}
	if t.Reliability < 0 || t.Reliability > 1 {
		return ErrInvalidReliability
	}
	return nil
}

// Serves reports whether the tool is eligible for a category.
func (t *Tool) Serves(cat types.Category) bool {
	for _, c := range t.Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// Binding is the per-deployment configuration surface of a tool:
// {toolId: {categories, priority, reliabilityWeight, timeout}}.
// Zero fields leave the tool's built-in value unchanged.
type Binding struct {
	Categories  []types.Category
	Priority    int
	Reliability *float64
	Timeout     time.Duration
}
