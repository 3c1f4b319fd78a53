// Package users defines the read-mostly user directory consumed by the
// session layer: existence checks, the profile snapshot cached at session
// start, and the dual-written preferred distance unit.
package users

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user id does not exist in the directory.
var ErrNotFound = errors.New("user not found")

// Profile is the subset of a user row the session layer needs.
type Profile struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Email               string   `json:"email"`
	TrainingLevel       string   `json:"training_level,omitempty"`
	Goals               []string `json:"goals,omitempty"`
	DefaultDistanceUnit string   `json:"default_distance_unit,omitempty"`
}

// Directory looks up users in the backing user store.
type Directory interface {
	// Lookup returns the profile for id, or ErrNotFound.
	Lookup(ctx context.Context, id string) (*Profile, error)

	// RecentRunCount returns how many runs the user logged since the given time.
	RecentRunCount(ctx context.Context, id string, since time.Time) (int, error)

	// SetDistanceUnit updates the user's preferred distance unit on the profile row.
	SetDistanceUnit(ctx context.Context, id, unit string) error
}
