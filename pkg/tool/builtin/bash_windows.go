//go:build windows

package toolbuiltin

import (
	"os"
	"path/filepath"
)

// Spooled bash output lands under the user temp dir on Windows.
func bashOutputBaseDir() string {
	return filepath.Join(os.TempDir(), "agentsdk", "bash-output")
}
