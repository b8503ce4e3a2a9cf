package decode

import (
	"encoding/json"
	"strings"
)

// tolerantParse best-effort parses a streamed, possibly-incomplete JSON
// buffer. It first attempts a strict parse; on failure it closes unbalanced
// delimiters (strips a trailing comma before a closing bracket/brace, closes
// an odd number of quotes, and closes unclosed []/{} in order of openness)
// and retries once. It returns (value, ok); ok is false when even the
// repaired buffer does not parse, in which case callers should keep the
// last known-good value.
func tolerantParse(buf string) (map[string]any, bool) {
	if strings.TrimSpace(buf) == "" {
		return map[string]any{}, true
	}

	var v map[string]any
	if err := json.Unmarshal([]byte(buf), &v); err == nil {
		return v, true
	}

	repaired := repairJSON(buf)
	if err := json.Unmarshal([]byte(repaired), &v); err == nil {
		return v, true
	}
	return nil, false
}

// repairJSON applies the closing-delimiter heuristics described in the
// decoder spec: strip a dangling trailing comma, close an odd-count
// unterminated string, then close any unmatched [ or { in the order they
// were opened.
func repairJSON(buf string) string {
	s := strings.TrimRight(buf, " \t\n\r")

	// Track bracket/brace/quote state, skipping escaped and in-string chars.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	// Strip a trailing comma immediately preceding whatever would close next
	// (handles "...,"} or a trailing comma at end-of-buffer before we append
	// closers below).
	trimmed := strings.TrimRight(s, " \t\n\r")
	trimmed = strings.TrimSuffix(trimmed, ",")

	var b strings.Builder
	b.WriteString(trimmed)

	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			b.WriteByte('}')
		case '[':
			b.WriteByte(']')
		}
	}
	return b.String()
}
