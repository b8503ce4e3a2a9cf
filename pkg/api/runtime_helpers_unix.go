//go:build !windows

package api

import "path/filepath"

// Spool directories live under /tmp so they survive a crashed run for
// inspection but are reclaimed by the OS eventually.
func bashOutputBaseDir() string {
	return filepath.Join(string(filepath.Separator), "tmp", "agentsdk", "bash-output")
}

func toolOutputBaseDir() string {
	return filepath.Join(string(filepath.Separator), "tmp", "agentsdk", "tool-output")
}
