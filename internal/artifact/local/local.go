// Package local implements an artifact store on the local filesystem.
// Buckets are directories under a root; file://bucket/key maps to
// <root>/bucket/key.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/seantiz/factory-scheduler/internal/artifact"
)

// Scheme is the URI scheme served by Store.
const Scheme = "file"

// Compile-time interface satisfaction check.
var (
	_ artifact.Store   = (*Store)(nil)
	_ artifact.Locator = (*Store)(nil)
)

// Store keeps artifacts as files under a root directory.
type Store struct {
	root string
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) Scheme() string { return Scheme }

// LocalPath maps an artifact path onto the filesystem.
func (s *Store) LocalPath(path string) (string, error) {
	p, err := artifact.Resolve(path, Scheme)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, p.Bucket, filepath.FromSlash(p.Key)), nil
}

// Locate returns a file URL for path.
func (s *Store) Locate(path string) (string, error) {
	local, err := s.LocalPath(path)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(local)}).String(), nil
}

func (s *Store) Upload(_ context.Context, path string, data []byte, overwrite bool) error {
	target, err := s.LocalPath(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%w: %s", artifact.ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	// Write to a sibling temp file and rename so readers never see a
	// partially written object.
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, path string) ([]byte, error) {
	target, err := s.LocalPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	target, err := s.LocalPath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return true, nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	target, err := s.LocalPath(path)
	if err != nil {
		return err
	}
	err = os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", artifact.ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
