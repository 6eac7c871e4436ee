// Package artifact owns the single on-disk working image file.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store is bound to one well-known path. At most one artifact exists at a
// time; every new write replaces the previous content.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Create removes any previous artifact and opens a fresh file for writing.
func (s *Store) Create() (*os.File, error) {
	if err := s.Remove(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("artifact: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("artifact: create: %w", err)
	}
	return f, nil
}

// Write replaces the artifact with data. On failure the artifact is absent.
func (s *Store) Write(data []byte) error {
	f, err := s.Create()
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.Remove()
		return fmt.Errorf("artifact: write: %w", err)
	}
	if err := f.Close(); err != nil {
		s.Remove()
		return fmt.Errorf("artifact: close: %w", err)
	}
	return nil
}

// Read returns the full artifact content. A missing artifact yields an
// error matching fs.ErrNotExist.
func (s *Store) Read() ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read: %w", err)
	}
	return b, nil
}

// Remove deletes the artifact. Removing an absent artifact is not an error.
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("artifact: remove: %w", err)
}

func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && info.Mode().IsRegular()
}

// Size reports the artifact size in bytes.
func (s *Store) Size() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("artifact: stat: %w", err)
	}
	return info.Size(), nil
}
