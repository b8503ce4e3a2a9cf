//go:build windows

package tool

import (
	"os"
	"path/filepath"
)

// Persisted tool output lands under the user temp dir on Windows.
func toolOutputBaseDir() string {
	return filepath.Join(os.TempDir(), "agentsdk", "tool-output")
}
