package config

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// sensitiveKeyPattern matches config keys whose values must never appear in
// a user-visible export: api keys, tokens, secrets, and auth headers.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)api[_-]?key|token|secret|authorization`)

const redactedValue = "***"

// ExportRedacted marshals settings to JSON and masks every key matching
// sensitiveKeyPattern at any depth, replacing its value with "***" while
// leaving the surrounding structure intact. It walks the tree with gjson
// (read) and rewrites matched paths with sjson (write) rather than round
// tripping through a typed struct, so newly added settings fields are
// covered without this function needing to know their names.
func ExportRedacted(s *Settings) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("config: marshal settings: %w", err)
	}
	redacted, err := redactJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("config: redact settings: %w", err)
	}
	return []byte(redacted), nil
}

// redactJSON returns doc with every object key matching sensitiveKeyPattern
// masked, at any nesting depth including inside arrays.
func redactJSON(doc string) (string, error) {
	paths := collectSensitivePaths(gjson.Parse(doc), "")
	out := doc
	for _, p := range paths {
		var err error
		out, err = sjson.Set(out, p, redactedValue)
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

// collectSensitivePaths walks a parsed gjson value, returning sjson-style
// paths to every leaf or object whose key matches sensitiveKeyPattern.
// Matched objects/arrays are not descended into further, so their whole
// value is redacted. Other containers are walked, so a non-matching key
// such as an MCP server's "headers" keeps its shape and only its matching
// entries (e.g. "Authorization") are masked.
func collectSensitivePaths(v gjson.Result, prefix string) []string {
	var out []string
	switch {
	case v.IsObject():
		v.ForEach(func(key, val gjson.Result) bool {
			path := joinPath(prefix, key.String())
			if sensitiveKeyPattern.MatchString(key.String()) {
				out = append(out, path)
				return true
			}
			out = append(out, collectSensitivePaths(val, path)...)
			return true
		})
	case v.IsArray():
		i := 0
		v.ForEach(func(_, val gjson.Result) bool {
			path := fmt.Sprintf("%s.%d", prefix, i)
			out = append(out, collectSensitivePaths(val, path)...)
			i++
			return true
		})
	}
	return out
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
