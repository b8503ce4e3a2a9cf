//go:build !windows

package tool

import "path/filepath"

// Persisted tool output lands under /tmp.
func toolOutputBaseDir() string {
	return filepath.Join(string(filepath.Separator), "tmp", "agentsdk", "tool-output")
}
