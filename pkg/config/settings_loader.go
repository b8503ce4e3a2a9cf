package config

import (
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hearthlabs/agentloop/internal/obs"
)

// SettingsLoader composes settings using the simplified precedence model.
// Higher-priority layers override lower ones while preserving unspecified fields.
// Order (low -> high): defaults < global < project < local < env < runtime overrides.
type SettingsLoader struct {
	ProjectRoot string
	// GlobalPath overrides the user-global settings file location. Empty
	// resolves $CLAUDE_CONFIG_DIR/settings.json, then ~/.claude/settings.json.
	GlobalPath       string
	RuntimeOverrides *Settings
	FS               *FS
}

// Load resolves and merges settings across all layers.
func (l *SettingsLoader) Load() (*Settings, error) {
	if strings.TrimSpace(l.ProjectRoot) == "" {
		return nil, errors.New("project root is required for settings loading")
	}

	root := l.ProjectRoot
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	} else {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	merged := GetDefaultSettings()

	// A broken user-global file degrades to a warning so one bad file
	// doesn't take down every project on the machine.
	if path := getGlobalSettingsPath(l.GlobalPath); path != "" {
		if err := applySettingsLayer(&merged, "global", path, l.FS); err != nil {
			obs.Logger().Warn().Err(err).Msg("settings: global layer rejected")
		}
	}

	layers := []struct {
		name string
		path string
	}{
		{name: "project", path: getProjectSettingsPath(root)},
		{name: "local", path: getLocalSettingsPath(root)},
	}

	for _, layer := range layers {
		if err := applySettingsLayer(&merged, layer.name, layer.path, l.FS); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&merged)

	if l.RuntimeOverrides != nil {
		obs.Logger().Debug().Msg("settings: applying runtime overrides")
		if next := MergeSettings(&merged, l.RuntimeOverrides); next != nil {
			merged = *next
		}
	} else {
		obs.Logger().Debug().Msg("settings: no runtime overrides provided")
	}

	return &merged, nil
}

// getGlobalSettingsPath resolves the user-global settings file:
// an explicit override wins, then $CLAUDE_CONFIG_DIR/settings.json,
// then ~/.claude/settings.json. Empty means no global layer.
func getGlobalSettingsPath(override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	if dir := strings.TrimSpace(os.Getenv("CLAUDE_CONFIG_DIR")); dir != "" {
		return filepath.Join(dir, "settings.json")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".claude", "settings.json")
}

// applyEnvOverrides maps the whitelisted process environment variables
// onto the resolved settings. Invalid values are rejected with a warning
// rather than failing the load.
func applyEnvOverrides(s *Settings) {
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		s.AnthropicAPIKey = v
	} else if v := strings.TrimSpace(os.Getenv("CLAUDE_API_KEY")); v != "" {
		s.AnthropicAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); v != "" {
		s.AnthropicBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_CODE_MAX_OUTPUT_TOKENS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxOutputTokens = n
		} else {
			obs.Logger().Warn().Str("value", v).Msg("settings: ignoring invalid CLAUDE_CODE_MAX_OUTPUT_TOKENS")
		}
	}
	if v, ok := parseEnvBool("CLAUDE_CODE_USE_BEDROCK"); ok {
		s.UseBedrock = boolPtr(v)
	}
	if v, ok := parseEnvBool("CLAUDE_CODE_DISABLE_TELEMETRY"); ok {
		s.DisableTelemetry = boolPtr(v)
	} else if v, ok := parseEnvBool("DISABLE_TELEMETRY"); ok {
		s.DisableTelemetry = boolPtr(v)
	}
}

func parseEnvBool(name string) (value, ok bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		obs.Logger().Warn().Str("var", name).Str("value", raw).Msg("settings: ignoring invalid boolean")
		return false, false
	}
	return v, true
}

// getProjectSettingsPath returns the tracked project settings path.
func getProjectSettingsPath(root string) string {
	if strings.TrimSpace(root) == "" {
		return ""
	}
	return filepath.Join(root, ".claude", "settings.json")
}

// getLocalSettingsPath returns the untracked project-local settings path.
func getLocalSettingsPath(root string) string {
	if strings.TrimSpace(root) == "" {
		return ""
	}
	return filepath.Join(root, ".claude", "settings.local.json")
}

// loadJSONFile decodes a settings JSON file. Missing files return (nil, nil).
func loadJSONFile(path string, filesystem *FS) (*Settings, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	var (
		data []byte
		err  error
	)
	if filesystem != nil {
		data, err = filesystem.ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	data = migrateRawSettings(data)
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &s, nil
}

func applySettingsLayer(dst *Settings, name, path string, filesystem *FS) error {
	if path == "" {
		obs.Logger().Debug().Str("layer", name).Msg("settings: layer skipped, no path")
		return nil
	}
	cfg, err := loadJSONFile(path, filesystem)
	if err != nil {
		return fmt.Errorf("load %s settings: %w", name, err)
	}
	if cfg == nil {
		obs.Logger().Debug().Str("layer", name).Str("path", path).Msg("settings: layer not found")
		return nil
	}
	obs.Logger().Debug().Str("layer", name).Str("path", path).Msg("settings: applying layer")
	if next := MergeSettings(dst, cfg); next != nil {
		*dst = *next
	}
	return nil
}
