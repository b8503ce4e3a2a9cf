package security

import (
	"strings"
	"sync"
)

// Mode is one of the four top-level permission modes gating every tool
// dispatch, independent of and outer to the per-rule PermissionMatcher.
type Mode string

const (
	ModeDefault           Mode = "default"
	ModeAcceptEdits       Mode = "acceptEdits"
	ModePlan              Mode = "plan"
	ModeBypassPermissions Mode = "bypassPermissions"
)

// Class is a tool's permission classification, used to decide whether a
// mode allows, asks, or denies it outright.
type Class string

const (
	ClassRead    Class = "read"
	ClassWrite   Class = "write"
	ClassExec    Class = "exec"
	ClassNetwork Class = "network"
	ClassPlan    Class = "plan" // EnterPlanMode / ExitPlanMode
)

// builtinClasses classifies the builtin tool set. Tools absent
// from this map default to ClassWrite (the conservative choice: unknown
// side effects are treated as needing approval, never silently allowed).
var builtinClasses = map[string]Class{
	"Read":            ClassRead,
	"Glob":            ClassRead,
	"Grep":            ClassRead,
	"BashOutput":      ClassRead,
	"BashStatus":      ClassRead,
	"TaskGet":         ClassRead,
	"TaskList":        ClassRead,
	"AskUserQuestion": ClassRead,
	"Write":           ClassWrite,
	"Edit":            ClassWrite,
	"TodoWrite":       ClassWrite,
	"TaskCreate":      ClassWrite,
	"TaskUpdate":      ClassWrite,
	"Bash":            ClassExec,
	"KillTask":        ClassExec,
	"Task":            ClassExec,
	"SlashCommand":    ClassExec,
	"Skill":           ClassExec,
	"WebFetch":        ClassNetwork,
	"WebSearch":       ClassNetwork,
	"EnterPlanMode":   ClassPlan,
	"ExitPlanMode":    ClassPlan,
}

// ClassifyTool returns the permission class for a tool name.
func ClassifyTool(name string) Class {
	if c, ok := builtinClasses[name]; ok {
		return c
	}
	return ClassWrite
}

// Verdict is the outer gate's answer for one dispatch attempt.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictAsk   Verdict = "ask"
	VerdictDeny  Verdict = "deny"
)

// acceptedKey identifies a (tool, resource) pair in a session's accepted list.
type acceptedKey struct {
	tool     string
	resource string
}

// ModeGate is the per-session outer permission gate described in the
// permission engine: it decides allow/ask/deny purely from {mode, tool
// class, accepted list}, deferring to the inner PermissionMatcher only
// when the mode itself would otherwise ask.
type ModeGate struct {
	mu       sync.Mutex
	mode     Mode
	accepted map[acceptedKey]bool
	matcher  *PermissionMatcher
}

// NewModeGate builds a gate for one session. matcher may be nil (no
// rule-based overrides; mode semantics alone decide).
func NewModeGate(mode Mode, matcher *PermissionMatcher) *ModeGate {
	if mode == "" {
		mode = ModeDefault
	}
	return &ModeGate{mode: mode, accepted: make(map[acceptedKey]bool), matcher: matcher}
}

// SetMode changes the active mode (e.g. in response to a user toggling
// acceptEdits mid-session).
func (g *ModeGate) SetMode(mode Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
}

// Mode returns the active mode.
func (g *ModeGate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// Check decides whether toolName may run against resource (a file path,
// command name, or host, per the tool's kind) under the gate's current
// mode. params is passed through to the inner rule matcher for target
// derivation; resource is the already-extracted resource when the caller
// has one cheaply available (pass "" to let the matcher derive it).
func (g *ModeGate) Check(toolName, resource string, params map[string]any) Verdict {
	class := ClassifyTool(toolName)

	g.mu.Lock()
	mode := g.mode
	g.mu.Unlock()

	switch mode {
	case ModeBypassPermissions:
		return VerdictAllow

	case ModePlan:
		if class == ClassRead || class == ClassPlan {
			return VerdictAllow
		}
		return VerdictDeny

	case ModeAcceptEdits:
		if class == ClassRead {
			return VerdictAllow
		}
		if class == ClassWrite {
			return VerdictAllow
		}
		return g.defaultDecision(toolName, resource, params, class)

	case ModeDefault:
		fallthrough
	default:
		if class == ClassRead {
			return VerdictAllow
		}
		return g.defaultDecision(toolName, resource, params, class)
	}
}

// defaultDecision applies the accepted-list and inner rule matcher for
// write/exec/network classes under default/acceptEdits modes.
func (g *ModeGate) defaultDecision(toolName, resource string, params map[string]any, class Class) Verdict {
	key := acceptedKey{tool: toolName, resource: resource}
	g.mu.Lock()
	accepted := g.accepted[key]
	g.mu.Unlock()
	if accepted {
		return VerdictAllow
	}

	if g.matcher != nil {
		decision := g.matcher.Match(toolName, params)
		switch decision.Action {
		case PermissionAllow:
			return VerdictAllow
		case PermissionDeny:
			return VerdictDeny
		}
	}
	return VerdictAsk
}

// Resolution is the user's answer to an "ask" prompt.
type Resolution string

const (
	ResolveAllowOnce    Resolution = "allow-once"
	ResolveAllowSession Resolution = "allow-for-session"
	ResolveDeny         Resolution = "deny"
)

// Resolve records the user's response to a prior Check that returned
// VerdictAsk. allow-for-session updates the accepted list for the
// remainder of the session (never persisted to disk unless the caller
// separately chooses to do so); allow-once and deny affect only the
// current dispatch and are not recorded.
func (g *ModeGate) Resolve(toolName, resource string, res Resolution) {
	if res != ResolveAllowSession {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accepted[acceptedKey{tool: toolName, resource: resource}] = true
}

// ExtractResource derives the resource string for a tool invocation: file
// tools contribute their target path, Bash contributes the first token of
// its command, web tools contribute the host.
func ExtractResource(toolName string, params map[string]any) string {
	switch toolName {
	case "Bash":
		cmd := stringParam(params, "command")
		name, _ := splitCommandNameArgs(cmd)
		return name
	case "WebFetch", "WebSearch":
		return hostOf(stringParam(params, "url"))
	default:
		for _, key := range []string{"file_path", "path", "notebook_path"} {
			if v := stringParam(params, key); v != "" {
				return v
			}
		}
	}
	return ""
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func hostOf(rawURL string) string {
	u := strings.TrimPrefix(rawURL, "https://")
	u = strings.TrimPrefix(u, "http://")
	if idx := strings.IndexAny(u, "/?#"); idx >= 0 {
		u = u[:idx]
	}
	return u
}
