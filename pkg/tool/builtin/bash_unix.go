//go:build !windows

package toolbuiltin

import "path/filepath"

// Spooled bash output lands under /tmp.
func bashOutputBaseDir() string {
	return filepath.Join(string(filepath.Separator), "tmp", "agentsdk", "bash-output")
}
