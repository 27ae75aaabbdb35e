package shortcut

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]Shortcut
	now   func() time.Time
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]Shortcut)}
}

// List implements [Store.List].
func (s *MemStore) List(context.Context) ([]Shortcut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.items), nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, name string) (Shortcut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.items[name]
	if !ok {
		return Shortcut{}, ErrNotFound
	}
	return sc, nil
}

// Save implements [Store.Save].
func (s *MemStore) Save(_ context.Context, sc Shortcut) error {
	if err := Validate(sc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[string]Shortcut)
	}
	s.items[sc.Name] = stamp(sc, s.now)
	return nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return ErrNotFound
	}
	delete(s.items, name)
	return nil
}

func sortedValues(m map[string]Shortcut) []Shortcut {
	out := make([]Shortcut, 0, len(m))
	for _, sc := range m {
		out = append(out, sc)
	}
	slices.SortFunc(out, func(a, b Shortcut) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func stamp(sc Shortcut, now func() time.Time) Shortcut {
	if sc.CreatedAt.IsZero() {
		if now == nil {
			now = time.Now
		}
		sc.CreatedAt = now().UTC()
	}
	return sc
}
