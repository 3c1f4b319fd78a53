package users

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryDirectory implements Directory over an in-memory set of profiles.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	runs     map[string][]time.Time
}

// NewMemoryDirectory creates a directory seeded with the given profiles.
func NewMemoryDirectory(profiles ...Profile) *MemoryDirectory {
	d := &MemoryDirectory{
		profiles: make(map[string]*Profile, len(profiles)),
		runs:     make(map[string][]time.Time),
	}
	for i := range profiles {
		d.Put(profiles[i])
	}
	return d
}

// Put adds or replaces a profile.
func (d *MemoryDirectory) Put(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p.Goals = slices.Clone(p.Goals)
	d.profiles[p.ID] = &p
}

// AddRun records a run date for a user, used by RecentRunCount.
func (d *MemoryDirectory) AddRun(id string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs[id] = append(d.runs[id], at)
}

// Lookup returns the profile for id, or ErrNotFound.
func (d *MemoryDirectory) Lookup(_ context.Context, id string) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Goals = slices.Clone(p.Goals)
	return &cp, nil
}

// RecentRunCount returns how many runs the user logged since the given time.
func (d *MemoryDirectory) RecentRunCount(_ context.Context, id string, since time.Time) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, at := range d.runs[id] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

// SetDistanceUnit updates the user's preferred distance unit.
func (d *MemoryDirectory) SetDistanceUnit(_ context.Context, id, unit string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.DefaultDistanceUnit = unit
	return nil
}

// Verify interface compliance.
var _ Directory = (*MemoryDirectory)(nil)
