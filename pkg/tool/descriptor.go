package tool

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hearthlabs/agentloop/pkg/security"
)

// ToolDescriptor is the JSON-schema view of a registered tool handed to the
// model, plus the metadata the dispatcher needs to gate and schedule it:
// its permission classification and whether it may run concurrently
// with other in-flight calls.
type ToolDescriptor struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	InputSchema     *JSONSchema    `json:"input_schema,omitempty"`
	Category        string         `json:"category,omitempty"`
	PermissionClass security.Class `json:"permission_class"`
	ParallelSafe    bool           `json:"parallel_safe"`
}

// ClassifiedTool is implemented by tools that know their own permission
// class and scheduling category instead of relying on the registry's
// name-based fallback (security.ClassifyTool).
type ClassifiedTool interface {
	Category() string
	PermissionClass() security.Class
}

// ParallelSafeTool is implemented by tools the dispatcher may run
// concurrently with other parallel-safe calls operating on disjoint
// resources.
type ParallelSafeTool interface {
	ParallelSafe() bool
}

func describe(t Tool) ToolDescriptor {
	desc := ToolDescriptor{
		Name:            t.Name(),
		Description:     t.Description(),
		InputSchema:     t.Schema(),
		PermissionClass: security.ClassifyTool(t.Name()),
	}
	if c, ok := t.(ClassifiedTool); ok {
		desc.Category = c.Category()
		desc.PermissionClass = c.PermissionClass()
	}
	if p, ok := t.(ParallelSafeTool); ok {
		desc.ParallelSafe = p.ParallelSafe()
	}
	return desc
}

// GetDefinitions returns the JSON-schema view of every registered tool,
// sorted by name so the model sees a stable ordering across calls.
func (r *Registry) GetDefinitions() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, describe(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FilterDefinitions narrows GetDefinitions() to the per-session tool list
// for a session: allowedTools/disallowedTools, each accepted either as
// a slice or as a comma-separated string. An empty allowed list means "all
// registered tools"; disallowed is applied after allowed and always wins.
func (r *Registry) FilterDefinitions(allowed, disallowed []string) []ToolDescriptor {
	allowSet := toolNameSet(allowed)
	denySet := toolNameSet(disallowed)

	defs := r.GetDefinitions()
	if len(allowSet) == 0 && len(denySet) == 0 {
		return defs
	}

	out := make([]ToolDescriptor, 0, len(defs))
	for _, d := range defs {
		if len(allowSet) > 0 {
			if _, ok := allowSet[strings.ToLower(d.Name)]; !ok {
				continue
			}
		}
		if _, denied := denySet[strings.ToLower(d.Name)]; denied {
			continue
		}
		out = append(out, d)
	}
	return out
}

func toolNameSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, raw := range names {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				set[part] = struct{}{}
			}
		}
	}
	return set
}

// ErrorKind classifies a dispatch failure, so
// callers can translate it into a tool_result without string-matching.
type ErrorKind string

const (
	ErrUnknownTool      ErrorKind = "unknown_tool"
	ErrInvalidInput     ErrorKind = "invalid_input"
	ErrPermissionDenied ErrorKind = "permission_denied"
)

// DispatchError is the structured error shape returned by Execute for any
// of the three pre-invocation failure kinds.
type DispatchError struct {
	Kind    ErrorKind
	Tool    string
	Details string
}

func (e *DispatchError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Details)
}
