package shortcut

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var _ Store = (*FileStore)(nil)

// File is the on-disk layout of a shortcut file.
//
// Example:
//
//	shortcuts:
//	  - name: check-inbox
//	    description: Open the inbox and summarise unread mail
//	    prompt: Go to https://mail.example.com and list unread messages.
//	    created_at: 2025-03-01T10:00:00Z
type File struct {
	Shortcuts []Shortcut `yaml:"shortcuts"`
}

// FileStore is a [Store] backed by a YAML file. Every mutation rewrites the
// whole file through a temporary file and a rename, so readers never observe a
// partial write.
type FileStore struct {
	path string

	mu    sync.RWMutex
	items map[string]Shortcut
	now   func() time.Time
}

// OpenFileStore loads path into memory. A missing file yields an empty store
// that creates the file on the first Save.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, items: make(map[string]Shortcut)}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("shortcut: open %q: %w", path, err)
	}
	defer f.Close()

	file, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("shortcut: parse %q: %w", path, err)
	}
	for i, sc := range file.Shortcuts {
		if err := Validate(sc); err != nil {
			return nil, fmt.Errorf("shortcut: %q entry %d: %w", path, i, err)
		}
		s.items[sc.Name] = sc
	}
	return s, nil
}

// Decode parses a shortcut file. Unknown keys are rejected. An empty input is
// an empty file.
func Decode(r io.Reader) (*File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("shortcut: decode yaml: %w", err)
	}
	return &file, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// List implements [Store.List].
func (s *FileStore) List(context.Context) ([]Shortcut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.items), nil
}

// Get implements [Store.Get].
func (s *FileStore) Get(_ context.Context, name string) (Shortcut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.items[name]
	if !ok {
		return Shortcut{}, ErrNotFound
	}
	return sc, nil
}

// Save implements [Store.Save]. The in-memory state only changes when the
// file was written.
func (s *FileStore) Save(_ context.Context, sc Shortcut) error {
	if err := Validate(sc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]Shortcut, len(s.items)+1)
	for k, v := range s.items {
		next[k] = v
	}
	next[sc.Name] = stamp(sc, s.now)
	if err := s.write(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// Delete implements [Store.Delete].
func (s *FileStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[name]; !ok {
		return ErrNotFound
	}
	next := make(map[string]Shortcut, len(s.items))
	for k, v := range s.items {
		if k != name {
			next[k] = v
		}
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// write must be called with s.mu held.
func (s *FileStore) write(items map[string]Shortcut) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("shortcut: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".shortcuts-*.yaml")
	if err != nil {
		return fmt.Errorf("shortcut: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(File{Shortcuts: sortedValues(items)}); err != nil {
		tmp.Close()
		return fmt.Errorf("shortcut: encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("shortcut: encode yaml: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("shortcut: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("shortcut: replace %q: %w", s.path, err)
	}
	return nil
}
