package tool

import (
	"context"
	"time"
)

// StreamingTool marks a Tool that can emit incremental output while it
// runs. Implementations still return a final ToolResult so plain Execute
// callers keep working.
//
// Example usage when invoking a streaming tool:
//
//	streamSink := func(chunk string, isStderr bool) { fmt.Print(chunk) }
//	executor.Execute(ctx, tool.Call{
//		Name:       "bash",
//		Params:     map[string]any{"cmd": "echo hi"},
//		StreamSink: streamSink,
//	})
type StreamingTool interface {
	Tool

	// StreamExecute mirrors Execute but emits incremental chunks as they become
	// available. Emit MUST be safe for concurrent calls and MUST return
	// promptly to avoid blocking tool execution.
	StreamExecute(ctx context.Context, params map[string]interface{}, emit func(chunk string, isStderr bool)) (*ToolResult, error)
}

// StreamChunk represents a single streaming emission. This is an optional
// helper type to standardise event payloads.
type StreamChunk struct {
	Content   string
	IsStderr  bool
	Timestamp time.Time
}
