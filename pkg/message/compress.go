package message

import (
	"fmt"
	"strings"
)

// Default thresholds for the context manager's compression cascade (the
// compactor in pkg/api falls back to them). These are conservative defaults; callers needing
// different budgets should pass explicit values.
const (
	DefaultToolOutputCap      = 2000
	DefaultCodeBlockLineLimit = 40
)

// TrimToolOutputs replaces any tool_result whose content exceeds cap bytes
// with a structured truncation summary. The tool_use/tool_result pairing
// (ToolCall.ID/Name) is preserved; only the Result payload shrinks.
func TrimToolOutputs(msgs []Message, cap int) []Message {
	if cap <= 0 || len(msgs) == 0 {
		return msgs
	}
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		if len(msg.ToolCalls) == 0 {
			out[i] = msg
			continue
		}
		clone := msg
		calls := make([]ToolCall, len(msg.ToolCalls))
		copy(calls, msg.ToolCalls)
		for j, call := range calls {
			if len(call.Result) <= cap {
				continue
			}
			preview := call.Result[:cap]
			omitted := len(call.Result) - cap
			calls[j].Result = fmt.Sprintf(`{"truncated":true,"preview":%q,"omitted":%d}`, preview, omitted)
		}
		clone.ToolCalls = calls
		out[i] = clone
	}
	return out
}

// CollapseCodeBlocks collapses fenced code blocks longer than lineLimit lines
// inside message text to a short elision marker, to shrink older turns
// without losing prose.
func CollapseCodeBlocks(msgs []Message, lineLimit int) []Message {
	if lineLimit <= 0 || len(msgs) == 0 {
		return msgs
	}
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		if !strings.Contains(msg.Content, "```") {
			out[i] = msg
			continue
		}
		clone := msg
		clone.Content = collapseFences(msg.Content, lineLimit)
		out[i] = clone
	}
	return out
}

func collapseFences(content string, lineLimit int) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	i := 0
	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			j := i + 1
			for j < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				j++
			}
			if j < len(lines) {
				blockLen := j - i - 1
				if blockLen > lineLimit {
					out = append(out, fmt.Sprintf("«code block elided: %d lines»", blockLen))
					i = j + 1
					continue
				}
				out = append(out, lines[i:j+1]...)
				i = j + 1
				continue
			}
		}
		out = append(out, line)
		i++
	}
	return strings.Join(out, "\n")
}
