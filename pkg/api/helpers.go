package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveProjectRoot locates the project root.
// Precedence: env var > nearest go.mod walking upward > current directory.
// Symlinks are resolved (macOS /var -> /private/var).
func ResolveProjectRoot() (string, error) {
	// Env var wins when set.
	if root := strings.TrimSpace(os.Getenv("AGENTSDK_PROJECT_ROOT")); root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("resolve project root: %w", err)
		}
		// Resolve symlinks.
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			return resolved, nil
		}
		return abs, nil
	}

	// Otherwise walk upward to the directory containing go.mod.
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	// Search upward from the current directory.
	current := cwd
	for {
		gomod := filepath.Join(current, "go.mod")
		if _, err := os.Stat(gomod); err == nil {
			// Found go.mod; resolve symlinks.
			if resolved, err := filepath.EvalSymlinks(current); err == nil {
				return resolved, nil
			}
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached the filesystem root; fall back to the current directory.
			break
		}
		current = parent
	}

	// No go.mod found; use the working directory.
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil {
		return resolved, nil
	}
	return cwd, nil
}
