// Package artifact persists binary outputs such as screenshots.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store writes artifacts under one directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, or os.TempDir() when dir is empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// PathFor returns where an artifact called name is stored. Path separators
// and other unsafe characters are replaced, and ".png" is appended when the
// name has no extension.
func (s *Store) PathFor(name string) string {
	clean := unsafeChars.ReplaceAllString(filepath.Base(strings.TrimSpace(name)), "_")
	clean = strings.TrimLeft(clean, ".")
	if clean == "" || clean == "_" {
		clean = "screenshot"
	}
	if filepath.Ext(clean) == "" {
		clean += ".png"
	}
	return filepath.Join(s.dir, clean)
}

// Save writes data and returns the absolute path. An existing file with
// the same name is replaced.
func (s *Store) Save(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := s.PathFor(name)
	tmp, err := os.CreateTemp(s.dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	// CreateTemp makes the file owner-only.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store artifact: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
