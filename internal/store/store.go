// Package store persists the set of peripherals the application has
// connected to.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blecentral/internal/ble"
)

// identityFile is the on-disk layout.
type identityFile struct {
	Peripherals []ble.Identity `yaml:"peripherals"`
}

// File keeps identities in a YAML file. The file is read once and cached;
// every Save rewrites it through a temporary file and a rename.
type File struct {
	path string

	mu     sync.Mutex
	loaded bool
	ids    []ble.Identity
}

// NewFile returns a store backed by path. The file need not exist yet.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

// Load returns the persisted identities. A missing file is an empty set.
func (f *File) Load() ([]ble.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loaded {
		ids, err := readFile(f.path)
		if err != nil {
			return nil, err
		}
		f.ids = ids
		f.loaded = true
	}
	return append([]ble.Identity(nil), f.ids...), nil
}

// Save replaces the persisted set. Duplicates are dropped, order is kept.
func (f *File) Save(ids []ble.Identity) error {
	ids = dedupe(ids)
	data, err := yaml.Marshal(identityFile{Peripherals: ids})
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeAtomic(f.path, data); err != nil {
		return err
	}
	f.ids = ids
	f.loaded = true
	return nil
}

func readFile(path string) ([]ble.Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	var file identityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	return dedupe(file.Peripherals), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".peripherals-*.yaml")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store: replace %s: %w", path, err)
	}
	return nil
}

func dedupe(ids []ble.Identity) []ble.Identity {
	seen := make(map[ble.Identity]bool, len(ids))
	out := make([]ble.Identity, 0, len(ids))
	for _, id := range ids {
		if id.IsNil() || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Memory is an in-process store.
type Memory struct {
	mu  sync.Mutex
	ids []ble.Identity

	// LoadErr and SaveErr, when set, are returned by Load and Save.
	LoadErr error
	SaveErr error
	Saves   int
}

// NewMemory returns a store preloaded with ids.
func NewMemory(ids ...ble.Identity) *Memory {
	return &Memory{ids: dedupe(ids)}
}

func (m *Memory) Load() ([]ble.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return append([]ble.Identity(nil), m.ids...), nil
}

func (m *Memory) Save(ids []ble.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.ids = dedupe(ids)
	m.Saves++
	return nil
}

// Contains reports whether id is persisted.
func (m *Memory) Contains(id ble.Identity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.ids {
		if p == id {
			return true
		}
	}
	return false
}
