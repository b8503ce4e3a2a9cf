package tool

import "context"

// Tool is one executable capability the registry exposes to the agent
// loop.
type Tool interface {
	// Name is the registry key; unique per process.
	Name() string

	// Description is the prose handed to the model.
	Description() string

	// Schema describes the tool parameters. Nil means the tool does not expect input.
	Schema() *JSONSchema

	// Execute runs the tool with validated parameters.
	Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error)
}
