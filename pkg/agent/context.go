package agent

import "time"

// Context accumulates per-run state: the iteration counter, loosely
// typed values middleware and tools share, and the tool results gathered
// so far.
type Context struct {
	Iteration       int
	StartedAt       time.Time
	Values          map[string]any
	ToolResults     []ToolResult
	LastModelOutput *ModelOutput
}

func NewContext() *Context {
	return &Context{
		StartedAt: time.Now(),
		Values:    map[string]any{},
	}
}
