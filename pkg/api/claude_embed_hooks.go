package api

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const embeddedClaudeHooksDir = ".claude/hooks"

// materializeEmbeddedClaudeHooks copies hook scripts bundled in an
// embedded .claude/hooks directory onto disk so the shell executor can
// run them. Existing files are left alone.
func materializeEmbeddedClaudeHooks(projectRoot string, embedFS fs.FS) error {
	if embedFS == nil {
		return nil
	}

	root := strings.TrimSpace(projectRoot)
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	info, err := fs.Stat(embedFS, embeddedClaudeHooksDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat embedded %s: %w", embeddedClaudeHooksDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("embedded %s is not a directory", embeddedClaudeHooksDir)
	}

	return fs.WalkDir(embedFS, embeddedClaudeHooksDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}

		rel := filepath.Clean(filepath.FromSlash(path))
		prefix := embeddedClaudeHooksDir + string(filepath.Separator)
		if rel != embeddedClaudeHooksDir && !strings.HasPrefix(rel, prefix) {
			return nil
		}

		dest := filepath.Join(root, rel)
		if _, err := os.Stat(dest); err == nil {
			return nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Dir(dest), err)
		}

		data, err := fs.ReadFile(embedFS, path)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", path, err)
		}

		tmp := dest + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, dest); err != nil {
			_ = os.Remove(tmp)
			if _, statErr := os.Stat(dest); statErr == nil {
				return nil
			}
			return fmt.Errorf("rename %s: %w", dest, err)
		}

		return nil
	})
}
