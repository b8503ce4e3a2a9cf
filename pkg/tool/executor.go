package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hearthlabs/agentloop/pkg/sandbox"
	"github.com/hearthlabs/agentloop/pkg/security"
)

// defaultOutputCap is the marshal-time clamp applied to every result:
// oversize tool_result output is clamped with a trailing truncation notice.
const defaultOutputCap = 30000

// Executor wires tool registry lookup with permission gating and
// sandbox enforcement. A nil sandbox manager disables filesystem/command
// enforcement; a nil mode gate disables mode-based permission gating and
// falls back to the sandbox's own allow/ask/deny rule matcher.
type Executor struct {
	registry  *Registry
	sandbox   *sandbox.Manager
	modeGate  *security.ModeGate
	persister *OutputPersister
	permCheck PermissionResolver
	outputCap int
}

// NewExecutor constructs an executor backed by the provided registry. When
// registry is nil a fresh Registry is created so callers never receive a nil
// executor by accident.
func NewExecutor(registry *Registry, sb *sandbox.Manager) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Executor{registry: registry, sandbox: sb, outputCap: defaultOutputCap}
}

// WithModeGate returns a shallow copy that consults gate (the
// {default, acceptEdits, plan, bypassPermissions} state machine) as the
// primary permission decision for every dispatch, ahead of the sandbox's
// rule matcher.
func (e *Executor) WithModeGate(gate *security.ModeGate) *Executor {
	if e == nil {
		exec := NewExecutor(nil, nil)
		exec.modeGate = gate
		return exec
	}
	clone := *e
	clone.modeGate = gate
	return &clone
}

// WithOutputCap returns a shallow copy that clamps tool_result output at n
// characters instead of the default ~30k.
func (e *Executor) WithOutputCap(n int) *Executor {
	if e == nil {
		exec := NewExecutor(nil, nil)
		exec.outputCap = n
		return exec
	}
	clone := *e
	clone.outputCap = n
	return &clone
}

// Registry exposes the underlying registry primarily for tests.
func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs a single tool call:
// resolve the descriptor, validate input, consult the permission engine,
// invoke the handler, then clamp its output. Parameters are shallow-cloned
// before being handed to the tool so concurrent callers never share maps.
func (e *Executor) Execute(ctx context.Context, call Call) (*CallResult, error) {
	if e == nil || e.registry == nil {
		return nil, errors.New("executor is not initialised")
	}
	name := strings.TrimSpace(call.Name)
	if name == "" {
		return nil, errors.New("tool name is empty")
	}

	// Step 1: resolve descriptor by name.
	tool, err := e.registry.Get(name)
	if err != nil {
		return nil, &DispatchError{Kind: ErrUnknownTool, Tool: name, Details: err.Error()}
	}

	// Step 2: validate input against the descriptor's JSON schema.
	params := call.cloneParams()
	if schema := tool.Schema(); schema != nil {
		validator := e.registry.currentValidator()
		if validator != nil {
			if verr := validator.Validate(params, schema); verr != nil {
				return nil, &DispatchError{Kind: ErrInvalidInput, Tool: name, Details: verr.Error()}
			}
		}
	}

	// Step 3: consult the permission engine.
	if err := e.checkPermission(ctx, call, name, params); err != nil {
		return nil, err
	}
	if e.sandbox != nil {
		if err := e.sandbox.Enforce(call.Path, call.Host, call.Usage); err != nil {
			return nil, err
		}
	}

	// Step 4: invoke the handler.
	started := time.Now()
	var (
		res     *ToolResult
		execErr error
	)
	if streamingTool, ok := tool.(StreamingTool); ok && call.StreamSink != nil {
		res, execErr = streamingTool.StreamExecute(ctx, params, call.StreamSink)
	} else {
		res, execErr = tool.Execute(ctx, params)
	}

	// Step 5: marshal, clamping oversize output.
	clampOutput(res, e.outputCapOrDefault())

	if e.persister != nil && res != nil {
		// MaybePersist errors are logged internally; ignore return value
		e.persister.MaybePersist(call, res) //nolint:errcheck
	}
	cr := &CallResult{
		Call:        call,
		Result:      res,
		Err:         execErr,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	return cr, execErr
}

// checkPermission consults the mode gate when configured, falling
// back to the sandbox's rule matcher for callers that have not yet adopted
// a ModeGate. On "ask" it defers to the configured resolver; a resolver-less
// ask, or an ask that times out, is treated as a deny.
func (e *Executor) checkPermission(ctx context.Context, call Call, name string, params map[string]any) error {
	if e.modeGate != nil {
		resource := security.ExtractResource(name, params)
		switch e.modeGate.Check(name, resource, params) {
		case security.VerdictDeny:
			return &DispatchError{Kind: ErrPermissionDenied, Tool: name, Details: fmt.Sprintf("mode denies %s for %s", name, resource)}
		case security.VerdictAsk:
			decision, err := e.resolvePermission(ctx, call, security.PermissionDecision{Action: security.PermissionAsk, Tool: name, Target: resource})
			if err != nil {
				return err
			}
			switch decision.Action {
			case security.PermissionDeny, security.PermissionAsk, security.PermissionUnknown:
				return &DispatchError{Kind: ErrPermissionDenied, Tool: name, Details: fmt.Sprintf("ask not resolved for %s", resource)}
			case security.PermissionAllow:
				// The resolver only tells us this one dispatch was allowed;
				// without an explicit session-scope signal we never persist
				// it to the accepted list (allow-once is the safe default).
			}
		}
		return nil
	}

	if e.sandbox == nil {
		return nil
	}
	decision, err := e.sandbox.CheckToolPermission(name, params)
	if err != nil {
		return err
	}
	decision, err = e.resolvePermission(ctx, call, decision)
	if err != nil {
		return err
	}
	switch decision.Action {
	case security.PermissionDeny:
		return &DispatchError{Kind: ErrPermissionDenied, Tool: name, Details: fmt.Sprintf("denied by rule %q for %s", decision.Rule, decision.Target)}
	case security.PermissionAsk:
		return &DispatchError{Kind: ErrPermissionDenied, Tool: name, Details: fmt.Sprintf("requires approval (rule %q for %s)", decision.Rule, decision.Target)}
	}
	return nil
}

func (e *Executor) outputCapOrDefault() int {
	if e.outputCap > 0 {
		return e.outputCap
	}
	return defaultOutputCap
}

// clampOutput truncates oversize tool output in place, appending a trailing
// notice.
func clampOutput(res *ToolResult, cap int) {
	if res == nil || cap <= 0 || len(res.Output) <= cap {
		return
	}
	omitted := len(res.Output) - cap
	res.Output = fmt.Sprintf("%s\n... [truncated, %d bytes omitted]", res.Output[:cap], omitted)
	if res.OutputRef == nil {
		res.OutputRef = &OutputRef{Truncated: true, SizeBytes: int64(omitted + cap)}
	} else {
		res.OutputRef.Truncated = true
	}
}

// ExecuteAll runs the provided calls concurrently and preserves ordering in the
// returned slice. Each call is isolated with its own parameter copy. Execution
// stops early when the context is cancelled; tools observe ctx directly.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call) []CallResult {
	results := make([]CallResult, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))

	for i := range calls {
		call := calls[i]
		go func(idx int) {
			defer wg.Done()
			if ctx != nil && ctx.Err() != nil {
				results[idx] = CallResult{Call: call, Err: ctx.Err()}
				return
			}
			cr, err := e.Execute(ctx, call)
			if cr != nil {
				results[idx] = *cr
				return
			}
			// When executor is nil, propagate error without result payload.
			results[idx] = CallResult{Call: call, Err: err}
		}(i)
	}

	wg.Wait()
	return results
}

// WithSandbox returns a shallow copy using the provided sandbox manager.
func (e *Executor) WithSandbox(sb *sandbox.Manager) *Executor {
	if e == nil {
		return NewExecutor(nil, sb)
	}
	clone := *e
	clone.sandbox = sb
	return &clone
}

// PermissionResolver allows callers to approve or deny sandbox PermissionAsk
// outcomes (for example via a host UI). Returning PermissionAsk keeps the
// request pending.
type PermissionResolver func(context.Context, Call, security.PermissionDecision) (security.PermissionDecision, error)

// WithPermissionResolver returns a shallow copy using the provided resolver.
func (e *Executor) WithPermissionResolver(resolver PermissionResolver) *Executor {
	if e == nil {
		exec := NewExecutor(nil, nil)
		exec.permCheck = resolver
		return exec
	}
	clone := *e
	clone.permCheck = resolver
	return &clone
}

// WithOutputPersister returns a shallow copy using the provided persister.
func (e *Executor) WithOutputPersister(persister *OutputPersister) *Executor {
	if e == nil {
		exec := NewExecutor(nil, nil)
		exec.persister = persister
		return exec
	}
	clone := *e
	clone.persister = persister
	return &clone
}

func (e *Executor) resolvePermission(ctx context.Context, call Call, decision security.PermissionDecision) (security.PermissionDecision, error) {
	if decision.Action != security.PermissionAsk || e == nil || e.permCheck == nil {
		return decision, nil
	}
	resolved, err := e.permCheck(ctx, call, decision)
	if err != nil {
		return decision, err
	}
	if resolved.Rule == "" {
		resolved.Rule = decision.Rule
	}
	if resolved.Target == "" {
		resolved.Target = decision.Target
	}
	if resolved.Action == security.PermissionUnknown {
		resolved.Action = security.PermissionAsk
	}
	return resolved, nil
}
