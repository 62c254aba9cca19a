// Package setup persists the measurement setup as TOML and renders the
// configuration export document.
package setup

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jscheidtmann/BadWeatherMountTester/internal/geometry"
	"github.com/jscheidtmann/BadWeatherMountTester/internal/velocity"
)

// File is the on-disk setup.
type File struct {
	Geometry geometry.Config `toml:"geometry"`
	Stripes  velocity.Layout `toml:"stripes"`
}

// Defaults returns the setup of a fresh installation.
func Defaults() File {
	return File{Geometry: geometry.Default(), Stripes: velocity.DefaultLayout()}
}

// Load reads a setup file. A missing file yields the defaults. Keys absent
// from the file keep their default values.
func Load(path string) (File, error) {
	if path == "" {
		return File{}, fmt.Errorf("setup path is empty")
	}
	f := Defaults()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return File{}, fmt.Errorf("failed to stat setup: %w", err)
	}
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return File{}, fmt.Errorf("failed to decode setup: %w", err)
	}
	if err := f.Geometry.CheckValues(); err != nil {
		return File{}, fmt.Errorf("setup %s: %w", path, err)
	}
	if err := f.Stripes.Validate(); err != nil {
		return File{}, fmt.Errorf("setup %s: %w", path, err)
	}
	return f, nil
}

// Save writes f to path, replacing any existing file atomically.
func Save(path string, f File) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("failed to encode setup: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".setup-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write setup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Store serializes access to one setup file. A Store with an empty path
// keeps the setup in memory only.
type Store struct {
	mu      sync.Mutex
	path    string
	current File
}

// Open loads the setup at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, current: Defaults()}
	if path == "" {
		return s, nil
	}
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.current = f
	return s, nil
}

// Path returns the file path, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

// Get returns the current setup.
func (s *Store) Get() File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetGeometry replaces the stored geometry and persists the file.
func (s *Store) SetGeometry(g geometry.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	next.Geometry = g
	if s.path != "" {
		if err := Save(s.path, next); err != nil {
			return err
		}
	}
	s.current = next
	return nil
}
