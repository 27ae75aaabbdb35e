// Package shortcut stores named, reusable instructions and exposes them to the
// model as tools.
package shortcut

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is returned by Get and Delete when no shortcut has the name.
var ErrNotFound = errors.New("shortcut not found")

var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Shortcut is a saved instruction the user can invoke by name.
type Shortcut struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Prompt      string    `yaml:"prompt" json:"prompt"`
	CreatedAt   time.Time `yaml:"created_at" json:"createdAt"`
}

// Store persists shortcuts. Implementations must be safe for concurrent use.
type Store interface {
	// List returns all shortcuts sorted by name.
	List(ctx context.Context) ([]Shortcut, error)

	// Get returns the named shortcut or [ErrNotFound].
	Get(ctx context.Context, name string) (Shortcut, error)

	// Save creates or replaces a shortcut. A zero CreatedAt is set to now.
	Save(ctx context.Context, s Shortcut) error

	// Delete removes the named shortcut or returns [ErrNotFound].
	Delete(ctx context.Context, name string) error
}

// Validate checks the name and prompt of s.
//
// Rules:
//   - Name is 1-64 characters of lower-case letters, digits, '-' and '_'.
//   - Prompt must be non-empty.
func Validate(s Shortcut) error {
	var errs []error
	if !namePattern.MatchString(s.Name) {
		errs = append(errs, fmt.Errorf("name %q must be 1-64 lower-case letters, digits, '-' or '_'", s.Name))
	}
	if s.Prompt == "" {
		errs = append(errs, errors.New("prompt must not be empty"))
	}
	return errors.Join(errs...)
}
