package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FS is a unified filesystem accessor over the OS filesystem and an
// optional embedded FS. The OS wins: the embedded FS is only consulted
// when the OS operation fails.
type FS struct {
	projectRoot string
	embedFS     fs.FS
}

// NewFS builds a new filesystem abstraction instance.
func NewFS(projectRoot string, embedFS fs.FS) *FS {
	root := strings.TrimSpace(projectRoot)
	if root != "" {
		root = filepath.Clean(root)
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &FS{
		projectRoot: root,
		embedFS:     embedFS,
	}
}

// ReadFile reads a file, OS first, falling back to the embedded FS.
func (f *FS) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil || f.embedFS == nil {
		return data, err
	}

	embedPath := f.toEmbedPath(path)
	data, embedErr := fs.ReadFile(f.embedFS, embedPath)
	if embedErr != nil {
		return nil, fmt.Errorf("read file %s: %w", path, errors.Join(err, embedErr))
	}
	return data, nil
}

// Open opens the file at path, OS first, falling back to the embedded FS.
func (f *FS) Open(path string) (fs.File, error) {
	osFile, err := os.Open(path)
	if err == nil || f.embedFS == nil {
		return osFile, err
	}

	embedPath := f.toEmbedPath(path)
	file, embedErr := f.embedFS.Open(embedPath)
	if embedErr != nil {
		return nil, fmt.Errorf("open file %s: %w", path, errors.Join(err, embedErr))
	}
	return file, nil
}

// Stat returns file info, OS first, falling back to the embedded FS.
func (f *FS) Stat(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err == nil || f.embedFS == nil {
		return info, err
	}

	embedPath := f.toEmbedPath(path)
	info, embedErr := fs.Stat(f.embedFS, embedPath)
	if embedErr != nil {
		return nil, fmt.Errorf("stat file %s: %w", path, errors.Join(err, embedErr))
	}
	return info, nil
}

// ReadDir lists a directory, OS first, falling back to the embedded FS.
func (f *FS) ReadDir(path string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err == nil || f.embedFS == nil {
		return entries, err
	}

	embedPath := f.toEmbedPath(path)
	entries, embedErr := fs.ReadDir(f.embedFS, embedPath)
	if embedErr != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, errors.Join(err, embedErr))
	}
	return entries, nil
}

// WalkDir walks a directory tree, OS first, falling back to the embedded FS.
func (f *FS) WalkDir(root string, fn fs.WalkDirFunc) error {
	_, statErr := os.Stat(root)
	if statErr == nil {
		return filepath.WalkDir(root, fn)
	}
	if f.embedFS == nil {
		return statErr
	}

	embedRoot := f.toEmbedPath(root)
	if embedRoot == "" {
		embedRoot = "."
	}

	adapter := func(path string, d fs.DirEntry, walkErr error) error {
		if f.projectRoot == "" {
			return fn(filepath.FromSlash(path), d, walkErr)
		}
		full := filepath.Join(f.projectRoot, filepath.FromSlash(path))
		return fn(full, d, walkErr)
	}

	return fs.WalkDir(f.embedFS, embedRoot, adapter)
}

// toEmbedPath converts an absolute path to the embedded FS's relative form.
func (f *FS) toEmbedPath(path string) string {
	cleaned := filepath.Clean(path)
	if cleaned == "." && path == "" {
		cleaned = ""
	}

	absPath := cleaned
	if !filepath.IsAbs(absPath) && !isWindowsAbs(absPath) {
		if f.projectRoot != "" {
			absPath = filepath.Join(f.projectRoot, absPath)
		} else if resolved, err := filepath.Abs(absPath); err == nil {
			absPath = resolved
		}
	}

	pathSlash := normalizeSlashes(absPath)
	rootSlash := normalizeSlashes(f.projectRoot)
	if rootSlash != "" && strings.HasPrefix(pathSlash, rootSlash) {
		switch {
		case len(pathSlash) == len(rootSlash):
			pathSlash = ""
		case len(pathSlash) > len(rootSlash):
			next := pathSlash[len(rootSlash)]
			if next == '/' {
				pathSlash = pathSlash[len(rootSlash)+1:]
			} else if rootSlash == "/" {
				pathSlash = pathSlash[len(rootSlash):]
			}
		}
	}

	pathSlash = strings.TrimLeft(pathSlash, "/")
	return pathSlash
}

func normalizeSlashes(path string) string {
	if path == "" {
		return ""
	}
	return strings.ReplaceAll(filepath.ToSlash(path), "\\", "/")
}

func isWindowsAbs(path string) bool {
	if len(path) < 3 {
		return false
	}
	if path[0] == '\\' && path[1] == '\\' {
		return true
	}
	if path[1] != ':' {
		return false
	}
	letter := path[0]
	if (letter < 'A' || letter > 'Z') && (letter < 'a' || letter > 'z') {
		return false
	}
	sep := path[2]
	return sep == '\\' || sep == '/'
}
