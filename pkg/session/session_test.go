package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDefaultPreferences(t *testing.T) {
	p := DefaultPreferences()
	assert.Equal(t, Miles, p.DistanceUnit)
	assert.Equal(t, "UTC", p.Timezone)
	assert.Equal(t, "en", p.Language)
	assert.True(t, p.DetailedResponses)
	assert.True(t, p.IncludeSocialData)
	assert.Equal(t, 10, p.MaxResultsPerQuery)
}

func TestPreferencesPatch_Apply(t *testing.T) {
	p := DefaultPreferences()
	PreferencesPatch{
		DistanceUnit:       ptr(Kilometers),
		DetailedResponses:  ptr(false),
		MaxResultsPerQuery: ptr(25),
	}.Apply(&p)

	assert.Equal(t, Kilometers, p.DistanceUnit)
	assert.False(t, p.DetailedResponses)
	assert.Equal(t, 25, p.MaxResultsPerQuery)
	assert.Equal(t, "UTC", p.Timezone, "untouched fields keep their value")
	assert.True(t, p.IncludeSocialData)
}

func TestPreferencesPatch_Idempotent(t *testing.T) {
	patch := PreferencesPatch{
		DistanceUnit: ptr(Kilometers),
		Timezone:     ptr("Europe/Oslo"),
		Language:     ptr("nb"),
	}

	once := DefaultPreferences()
	patch.Apply(&once)

	twice := DefaultPreferences()
	patch.Apply(&twice)
	patch.Apply(&twice)

	assert.Equal(t, once, twice)
}

func TestContextPatch_Apply(t *testing.T) {
	c := newConversationContext()
	ContextPatch{
		LastTopic:     ptr("tempo runs"),
		Mood:          ptr(MoodFrustrated),
		MentionedRuns: &[]string{"r1", "r2"},
	}.Apply(&c)

	require.NotNil(t, c.LastTopic)
	assert.Equal(t, "tempo runs", *c.LastTopic)
	assert.Nil(t, c.LastAction)
	assert.Equal(t, MoodFrustrated, c.Mood)
	assert.Equal(t, []string{"r1", "r2"}, c.MentionedRuns)
	assert.Empty(t, c.MentionedShoes)
}

func TestContextPatch_CapsMentions(t *testing.T) {
	list := make([]string, 0, 30)
	for i := range 30 {
		list = append(list, fmt.Sprintf("shoe-%d", i))
	}

	c := newConversationContext()
	ContextPatch{MentionedShoes: &list}.Apply(&c)

	require.Len(t, c.MentionedShoes, MaxMentions)
	assert.Equal(t, "shoe-10", c.MentionedShoes[0], "oldest entries are dropped")
	assert.Equal(t, "shoe-29", c.MentionedShoes[MaxMentions-1])

	list[29] = "changed"
	assert.Equal(t, "shoe-29", c.MentionedShoes[MaxMentions-1], "stored list is a copy")
}

func TestEnums(t *testing.T) {
	assert.True(t, Miles.Valid())
	assert.True(t, Kilometers.Valid())
	assert.False(t, DistanceUnit("furlongs").Valid())

	assert.True(t, MoodPositive.Valid())
	assert.True(t, MoodNeutral.Valid())
	assert.True(t, MoodFrustrated.Valid())
	assert.False(t, Mood("angry").Valid())
}

func TestSession_DirtyTracking(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	s := newSession("u1", "s1", now)
	assert.True(t, s.Dirty(), "new sessions need a first write")

	rec, version := s.snapshot(time.Hour, true)
	assert.Equal(t, now.Add(time.Hour), rec.ExpiresAt)

	// A mutation during the write keeps the session dirty.
	s.touch(now.Add(time.Second))
	s.markSaved("rec-1", version)
	assert.True(t, s.Dirty())

	_, version = s.snapshot(time.Hour, true)
	s.markSaved("rec-1", version)
	assert.False(t, s.Dirty())
	assert.Equal(t, "rec-1", s.durableID())
}

func TestSession_LastActivityMonotonic(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	s := newSession("u1", "s1", now)

	s.touch(now.Add(-time.Minute))
	assert.Equal(t, now, s.LastActivity())

	s.touch(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), s.LastActivity())
}

func TestSession_AccessorsReturnCopies(t *testing.T) {
	s := newSession("u1", "s1", time.Now())
	s.updateConversation(ContextPatch{MentionedGoals: &[]string{"sub-3"}}, time.Now())

	c := s.ConversationContext()
	c.MentionedGoals[0] = "changed"
	assert.Equal(t, "sub-3", s.ConversationContext().MentionedGoals[0])
}

func TestRestore(t *testing.T) {
	last := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	rec := newTestRecord("rec-9", "u1", last, true)
	rec.Data.CachedUserData = CachedProfile{Name: "Sam", RecentRunsCount: 7}

	s := restore(rec)
	assert.Equal(t, "u1", s.UserID())
	assert.Equal(t, "sess-rec-9", s.ID())
	assert.Equal(t, last, s.LastActivity())
	assert.Equal(t, "Sam", s.Profile().Name)
	assert.Equal(t, MoodNeutral, s.ConversationContext().Mood)
	assert.False(t, s.Dirty(), "a restored session matches its record")
	assert.Equal(t, "rec-9", s.durableID())
}
