package middleware

import "context"

// Stage enumerates the interception points the chain fires during one
// agent run: around the run as a whole, around each model call, and
// around each tool call.
type Stage int

const (
	StageBeforeAgent Stage = iota
	StageBeforeModel
	StageAfterModel
	StageBeforeTool
	StageAfterTool
	StageAfterAgent
)

// String returns the stage's wire-friendly name.
func (s Stage) String() string {
	switch s {
	case StageBeforeAgent:
		return "before_agent"
	case StageBeforeModel:
		return "before_model"
	case StageAfterModel:
		return "after_model"
	case StageBeforeTool:
		return "before_tool"
	case StageAfterTool:
		return "after_tool"
	case StageAfterAgent:
		return "after_agent"
	default:
		return "unknown"
	}
}

// ContextKey identifies values the runtime stashes in a context for
// middleware and tool handlers to read.
type ContextKey string

// SessionIDContextKey carries the conversation's session identifier so
// handlers deep in a tool call can tag artifacts (spooled output files,
// progress events) with the session that produced them.
const SessionIDContextKey ContextKey = "session_id"

// State is the mutable bag of execution data shared across one stage
// firing. Field types are intentionally loose; a middleware asserts to
// the concrete types it knows about and ignores the rest.
type State struct {
	Iteration   int
	Agent       any
	ModelInput  any
	ModelOutput any
	ToolCall    any
	ToolResult  any
	Values      map[string]any
}

// Middleware receives every stage. Implementations usually embed Funcs
// and fill in only the hooks they care about.
type Middleware interface {
	Name() string
	BeforeAgent(ctx context.Context, st *State) error
	BeforeModel(ctx context.Context, st *State) error
	AfterModel(ctx context.Context, st *State) error
	BeforeTool(ctx context.Context, st *State) error
	AfterTool(ctx context.Context, st *State) error
	AfterAgent(ctx context.Context, st *State) error
}

// Funcs adapts a set of optional function pointers into a Middleware;
// hooks left nil are no-ops.
type Funcs struct {
	Identifier string

	OnBeforeAgent func(ctx context.Context, st *State) error
	OnBeforeModel func(ctx context.Context, st *State) error
	OnAfterModel  func(ctx context.Context, st *State) error
	OnBeforeTool  func(ctx context.Context, st *State) error
	OnAfterTool   func(ctx context.Context, st *State) error
	OnAfterAgent  func(ctx context.Context, st *State) error
}

func (f Funcs) Name() string {
	if f.Identifier != "" {
		return f.Identifier
	}
	return "middleware"
}

func (f Funcs) BeforeAgent(ctx context.Context, st *State) error {
	if f.OnBeforeAgent == nil {
		return nil
	}
	return f.OnBeforeAgent(ctx, st)
}

func (f Funcs) BeforeModel(ctx context.Context, st *State) error {
	if f.OnBeforeModel == nil {
		return nil
	}
	return f.OnBeforeModel(ctx, st)
}

func (f Funcs) AfterModel(ctx context.Context, st *State) error {
	if f.OnAfterModel == nil {
		return nil
	}
	return f.OnAfterModel(ctx, st)
}

func (f Funcs) BeforeTool(ctx context.Context, st *State) error {
	if f.OnBeforeTool == nil {
		return nil
	}
	return f.OnBeforeTool(ctx, st)
}

func (f Funcs) AfterTool(ctx context.Context, st *State) error {
	if f.OnAfterTool == nil {
		return nil
	}
	return f.OnAfterTool(ctx, st)
}

func (f Funcs) AfterAgent(ctx context.Context, st *State) error {
	if f.OnAfterAgent == nil {
		return nil
	}
	return f.OnAfterAgent(ctx, st)
}
