package config

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// settingsVersion is stamped into every migrated settings document so
// future migrations can tell which rules have already run.
const settingsVersion = "2"

// legacyModelAliases maps retired model names to their canonical
// replacements. Unrecognized names pass through untouched.
var legacyModelAliases = map[string]string{
	"claude-instant":         "claude-3-5-haiku-latest",
	"claude-instant-1":       "claude-3-5-haiku-latest",
	"claude-instant-1.2":     "claude-3-5-haiku-latest",
	"claude-2":               "claude-3-5-sonnet-20241022",
	"claude-2.0":             "claude-3-5-sonnet-20241022",
	"claude-2.1":             "claude-3-5-sonnet-20241022",
	"claude-3-sonnet-latest": "claude-3-5-sonnet-20241022",
	"claude-3-5-sonnet":      "claude-3-5-sonnet-20241022",
}

// migrateRawSettings rewrites a settings JSON document in place before it
// is decoded: legacy field names move to their current spelling, retired
// model aliases are canonicalized, and the document is stamped with the
// current settings version. Operates on the raw tree (gjson/sjson) so
// fields the Settings struct doesn't model are preserved verbatim. A
// document that fails to parse is returned unchanged; the decode step
// will report the real error.
func migrateRawSettings(data []byte) []byte {
	doc := string(data)
	if !gjson.Valid(doc) {
		return data
	}

	// autoSave predates enableAutoSave; the new spelling wins when both
	// are present.
	if auto := gjson.Get(doc, "autoSave"); auto.Exists() {
		if !gjson.Get(doc, "enableAutoSave").Exists() {
			doc, _ = sjson.Set(doc, "enableAutoSave", auto.Bool())
		}
		doc, _ = sjson.Delete(doc, "autoSave")
	}

	if mdl := gjson.Get(doc, "model"); mdl.Exists() {
		if canonical, ok := legacyModelAliases[mdl.String()]; ok {
			doc, _ = sjson.Set(doc, "model", canonical)
		}
	}

	doc, _ = sjson.Set(doc, "version", settingsVersion)
	return []byte(doc)
}
