// Package session provides per-user session management for the coach
// server. It defines the Session entity, the durable Store contract and the
// Manager that owns the process-wide map of active sessions.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/maratron-ai/maratron-monorepo/pkg/users"
)

// DistanceUnit is the user's preferred distance unit.
type DistanceUnit string

// Distance units.
const (
	Miles      DistanceUnit = "miles"
	Kilometers DistanceUnit = "kilometers"
)

// Valid reports whether u is a known distance unit.
func (u DistanceUnit) Valid() bool {
	return u == Miles || u == Kilometers
}

// Mood is the tracked mood of the conversation.
type Mood string

// Conversation moods.
const (
	MoodPositive   Mood = "positive"
	MoodNeutral    Mood = "neutral"
	MoodFrustrated Mood = "frustrated"
)

// Valid reports whether m is a known mood.
func (m Mood) Valid() bool {
	return m == MoodPositive || m == MoodNeutral || m == MoodFrustrated
}

const (
	// MaxMentions bounds each of the mention lists in ConversationContext.
	MaxMentions = 20

	// MinResultsPerQuery and MaxResultsPerQuery bound Preferences.MaxResultsPerQuery.
	MinResultsPerQuery = 1
	MaxResultsPerQuery = 100

	defaultResultsPerQuery = 10
)

// Preferences are the user's chat preferences.
type Preferences struct {
	DistanceUnit        DistanceUnit `json:"distance_unit"`
	DateFormat          string       `json:"date_format"`
	Timezone            string       `json:"timezone"`
	Language            string       `json:"language"`
	NotificationEnabled bool         `json:"notification_enabled"`
	DetailedResponses   bool         `json:"detailed_responses"`
	IncludeSocialData   bool         `json:"include_social_data"`
	MaxResultsPerQuery  int          `json:"max_results_per_query"`
}

// DefaultPreferences returns the preferences applied when none are stored.
func DefaultPreferences() Preferences {
	return Preferences{
		DistanceUnit:        Miles,
		DateFormat:          "YYYY-MM-DD",
		Timezone:            "UTC",
		Language:            "en",
		NotificationEnabled: true,
		DetailedResponses:   true,
		IncludeSocialData:   true,
		MaxResultsPerQuery:  defaultResultsPerQuery,
	}
}

// PreferencesPatch is a merge-patch onto Preferences. Nil fields are left
// untouched.
type PreferencesPatch struct {
	DistanceUnit        *DistanceUnit
	DateFormat          *string
	Timezone            *string
	Language            *string
	NotificationEnabled *bool
	DetailedResponses   *bool
	IncludeSocialData   *bool
	MaxResultsPerQuery  *int
}

// Apply merges the patch into p.
func (pp PreferencesPatch) Apply(p *Preferences) {
	if pp.DistanceUnit != nil {
		p.DistanceUnit = *pp.DistanceUnit
	}
	if pp.DateFormat != nil {
		p.DateFormat = *pp.DateFormat
	}
	if pp.Timezone != nil {
		p.Timezone = *pp.Timezone
	}
	if pp.Language != nil {
		p.Language = *pp.Language
	}
	if pp.NotificationEnabled != nil {
		p.NotificationEnabled = *pp.NotificationEnabled
	}
	if pp.DetailedResponses != nil {
		p.DetailedResponses = *pp.DetailedResponses
	}
	if pp.IncludeSocialData != nil {
		p.IncludeSocialData = *pp.IncludeSocialData
	}
	if pp.MaxResultsPerQuery != nil {
		p.MaxResultsPerQuery = *pp.MaxResultsPerQuery
	}
}

// ConversationContext is short-term memory of the ongoing conversation.
type ConversationContext struct {
	LastTopic      *string  `json:"last_topic"`
	LastAction     *string  `json:"last_action"`
	Mood           Mood     `json:"conversation_mood"`
	MentionedRuns  []string `json:"mentioned_runs"`
	MentionedShoes []string `json:"mentioned_shoes"`
	MentionedGoals []string `json:"mentioned_goals"`
}

func newConversationContext() ConversationContext {
	return ConversationContext{
		Mood:           MoodNeutral,
		MentionedRuns:  []string{},
		MentionedShoes: []string{},
		MentionedGoals: []string{},
	}
}

func (c ConversationContext) clone() ConversationContext {
	c.LastTopic = clonePtr(c.LastTopic)
	c.LastAction = clonePtr(c.LastAction)
	c.MentionedRuns = slices.Clone(c.MentionedRuns)
	c.MentionedShoes = slices.Clone(c.MentionedShoes)
	c.MentionedGoals = slices.Clone(c.MentionedGoals)
	return c
}

// ContextPatch is a merge-patch onto ConversationContext. Nil fields are
// left untouched; a non-nil list replaces the stored list.
type ContextPatch struct {
	LastTopic      *string
	LastAction     *string
	Mood           *Mood
	MentionedRuns  *[]string
	MentionedShoes *[]string
	MentionedGoals *[]string
}

// Apply merges the patch into c, capping each list at MaxMentions.
func (cp ContextPatch) Apply(c *ConversationContext) {
	if cp.LastTopic != nil {
		c.LastTopic = clonePtr(cp.LastTopic)
	}
	if cp.LastAction != nil {
		c.LastAction = clonePtr(cp.LastAction)
	}
	if cp.Mood != nil {
		c.Mood = *cp.Mood
	}
	if cp.MentionedRuns != nil {
		c.MentionedRuns = capMentions(*cp.MentionedRuns)
	}
	if cp.MentionedShoes != nil {
		c.MentionedShoes = capMentions(*cp.MentionedShoes)
	}
	if cp.MentionedGoals != nil {
		c.MentionedGoals = capMentions(*cp.MentionedGoals)
	}
}

// capMentions keeps the most recent MaxMentions entries.
func capMentions(list []string) []string {
	if len(list) > MaxMentions {
		list = list[len(list)-MaxMentions:]
	}
	return slices.Clone(list)
}

// CachedProfile is a snapshot of the user row taken when the session was
// created. It may go stale and is never used for authorization.
type CachedProfile struct {
	Name             string   `json:"name,omitempty"`
	Email            string   `json:"email,omitempty"`
	TrainingLevel    string   `json:"training_level,omitempty"`
	Goals            []string `json:"goals,omitempty"`
	RecentRunsCount  int      `json:"recent_runs_count"`
	RecentRunsWindow string   `json:"recent_runs_window,omitempty"`
}

func profileSnapshot(p *users.Profile, recentRuns int) CachedProfile {
	return CachedProfile{
		Name:             p.Name,
		Email:            p.Email,
		TrainingLevel:    p.TrainingLevel,
		Goals:            slices.Clone(p.Goals),
		RecentRunsCount:  recentRuns,
		RecentRunsWindow: "30d",
	}
}

// Session is one user's interaction window. All fields are guarded by mu;
// readers get copies through the accessor methods.
type Session struct {
	mu sync.Mutex

	userID    string
	sessionID string
	createdAt time.Time

	lastActivity time.Time
	preferences  Preferences
	conversation ConversationContext
	profile      CachedProfile

	// recordID is the durable row id, empty until first inserted.
	recordID string

	// version increments on every mutation; savedVersion is the version
	// last written to the durable store.
	version      uint64
	savedVersion uint64

	// flushMu serializes durable writes of this session.
	flushMu sync.Mutex
}

func newSession(userID, sessionID string, now time.Time) *Session {
	return &Session{
		userID:       userID,
		sessionID:    sessionID,
		createdAt:    now,
		lastActivity: now,
		preferences:  DefaultPreferences(),
		conversation: newConversationContext(),
		version:      1,
	}
}

// UserID returns the owning user id.
func (s *Session) UserID() string { return s.userID }

// ID returns the session id. It never changes for the life of the session.
func (s *Session) ID() string { return s.sessionID }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the last time the session was touched.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Preferences returns a copy of the session's preferences.
func (s *Session) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferences
}

// ConversationContext returns a copy of the conversation context.
func (s *Session) ConversationContext() ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation.clone()
}

// Profile returns a copy of the cached profile snapshot.
func (s *Session) Profile() CachedProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profile
	p.Goals = slices.Clone(p.Goals)
	return p
}

// Dirty reports whether the session has mutations not yet written to the
// durable store.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != s.savedVersion
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.After(s.LastActivity().Add(timeout))
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.version++
}

func (s *Session) updatePreferences(patch PreferencesPatch, now time.Time) Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	patch.Apply(&s.preferences)
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.version++
	return s.preferences
}

func (s *Session) updateConversation(patch ContextPatch, now time.Time) ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	patch.Apply(&s.conversation)
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.version++
	return s.conversation.clone()
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
