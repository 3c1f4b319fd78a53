package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrStorageUnavailable wraps failures of the durable store. Manager
// operations log it and carry on from memory; it is never returned to
// callers of the public Manager API.
var ErrStorageUnavailable = errors.New("session storage unavailable")

// Payload is the JSON document stored with each durable record.
type Payload struct {
	UserID              string              `json:"user_id"`
	SessionID           string              `json:"session_id"`
	CreatedAt           time.Time           `json:"created_at"`
	LastActivity        time.Time           `json:"last_activity"`
	Preferences         Preferences         `json:"preferences"`
	ConversationContext ConversationContext `json:"conversation_context"`
	CachedUserData      CachedProfile       `json:"cached_user_data"`
	SessionMetadata     map[string]any      `json:"session_metadata,omitempty"`
}

// Record is one durable session row.
type Record struct {
	// ID is the durable row identifier, distinct from the session id.
	ID string

	UserID    string
	SessionID string
	Data      Payload

	CreatedAt    time.Time
	LastActivity time.Time

	// ExpiresAt is LastActivity plus the idle timeout at the time of the write.
	ExpiresAt time.Time

	Active bool
}

// MarshalData encodes the record payload.
func (r *Record) MarshalData() ([]byte, error) {
	b, err := json.Marshal(r.Data)
	if err != nil {
		return nil, fmt.Errorf("marshaling session data: %w", err)
	}
	return b, nil
}

// UnmarshalData decodes a stored payload into the record. Missing
// preference fields keep their defaults.
func (r *Record) UnmarshalData(b []byte) error {
	data := Payload{
		Preferences:         DefaultPreferences(),
		ConversationContext: newConversationContext(),
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &data); err != nil {
			return fmt.Errorf("unmarshaling session data: %w", err)
		}
	}
	r.Data = data
	return nil
}

// Store defines the interface for durable session persistence.
type Store interface {
	// Insert persists a new record.
	Insert(ctx context.Context, r *Record) error

	// Update overwrites the mutable columns of an existing record.
	Update(ctx context.Context, r *Record) error

	// FindActive returns the most recent active, unexpired record for the
	// user. Returns nil, nil if there is none.
	FindActive(ctx context.Context, userID string, now time.Time) (*Record, error)

	// ListActive returns every active, unexpired record.
	ListActive(ctx context.Context, now time.Time) ([]*Record, error)

	// Deactivate marks a record inactive.
	Deactivate(ctx context.Context, id string) error

	// DeleteIdleBefore removes records whose last activity is older than
	// cutoff, active or not, and returns how many were removed.
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// snapshot captures the session as a durable record along with the
// mutation version it reflects.
func (s *Session) snapshot(idle time.Duration, active bool) (*Record, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := Payload{
		UserID:              s.userID,
		SessionID:           s.sessionID,
		CreatedAt:           s.createdAt,
		LastActivity:        s.lastActivity,
		Preferences:         s.preferences,
		ConversationContext: s.conversation.clone(),
		CachedUserData:      s.profile,
		SessionMetadata: map[string]any{
			"version": s.version,
		},
	}
	return &Record{
		ID:           s.recordID,
		UserID:       s.userID,
		SessionID:    s.sessionID,
		Data:         data,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		ExpiresAt:    s.lastActivity.Add(idle),
		Active:       active,
	}, s.version
}

// markSaved clears the dirty flag if nothing changed since version was
// captured.
func (s *Session) markSaved(recordID string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordID = recordID
	if version > s.savedVersion {
		s.savedVersion = version
	}
}

func (s *Session) durableID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordID
}

// restore rebuilds a clean in-memory session from a durable record.
func restore(r *Record) *Session {
	sess := &Session{
		userID:       r.UserID,
		sessionID:    r.SessionID,
		createdAt:    r.CreatedAt,
		lastActivity: r.LastActivity,
		preferences:  r.Data.Preferences,
		conversation: r.Data.ConversationContext.clone(),
		profile:      r.Data.CachedUserData,
		recordID:     r.ID,
		version:      1,
		savedVersion: 1,
	}
	if sess.sessionID == "" {
		sess.sessionID = r.Data.SessionID
	}
	if sess.conversation.Mood == "" {
		sess.conversation.Mood = MoodNeutral
	}
	return sess
}
