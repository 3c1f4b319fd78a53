package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store using an in-memory map. It backs the
// manager when persistence is disabled and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Insert persists a new record, assigning an id when it has none.
func (s *MemoryStore) Insert(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.records[r.ID] = copyRecord(r)
	return nil
}

// Update overwrites an existing record. Unknown ids are ignored.
func (s *MemoryStore) Update(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ID]; !ok {
		return nil
	}
	s.records[r.ID] = copyRecord(r)
	return nil
}

// FindActive returns the newest active, unexpired record for the user.
func (s *MemoryStore) FindActive(_ context.Context, userID string, now time.Time) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Record
	for _, r := range s.records {
		if r.UserID != userID || !r.Active || !now.Before(r.ExpiresAt) {
			continue
		}
		if found == nil || r.LastActivity.After(found.LastActivity) {
			found = r
		}
	}
	if found == nil {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return copyRecord(found), nil
}

// ListActive returns all active, unexpired records.
func (s *MemoryStore) ListActive(_ context.Context, now time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Active && now.Before(r.ExpiresAt) {
			result = append(result, copyRecord(r))
		}
	}
	return result, nil
}

// Deactivate marks a record inactive.
func (s *MemoryStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[id]; ok {
		r.Active = false
	}
	return nil
}

// DeleteIdleBefore removes records idle since before cutoff.
func (s *MemoryStore) DeleteIdleBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.records {
		if r.LastActivity.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the record with the given id, or nil.
func (s *MemoryStore) Get(id string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil
	}
	return copyRecord(r)
}

// Len returns the number of stored records, active or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Data.ConversationContext = r.Data.ConversationContext.clone()
	return &c
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
