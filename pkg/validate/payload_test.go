package validate

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratron-ai/maratron-monorepo/pkg/session"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestUserID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"canonical", "123e4567-e89b-12d3-a456-426614174000", true},
		{"uppercase", "123E4567-E89B-12D3-A456-426614174000", true},
		{"empty", "", false},
		{"no hyphens", "123e4567e89b12d3a456426614174000", false},
		{"braced", "{123e4567-e89b-12d3-a456-426614174000}", false},
		{"urn", "urn:uuid:123e4567-e89b-12d3-a456-426614174000", false},
		{"sql injection", "1' OR '1'='1", false},
		{"bad hex", "123e4567-e89b-12d3-a456-42661417400g", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := UserID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "user_id", verr.Field)
		})
	}
}

func TestPreferences_Valid(t *testing.T) {
	patch, err := Preferences(decode(t, `{
		"distance_unit": "kilometers",
		"max_results_per_query": 25,
		"detailed_responses": false,
		"include_social_data": true,
		"notification_enabled": false,
		"timezone": "America/Denver",
		"language": "en-US",
		"date_format": "MM/DD/YYYY",
		"favourite_colour": "green"
	}`))
	require.NoError(t, err)

	require.NotNil(t, patch.DistanceUnit)
	assert.Equal(t, session.Kilometers, *patch.DistanceUnit)
	require.NotNil(t, patch.MaxResultsPerQuery)
	assert.Equal(t, 25, *patch.MaxResultsPerQuery)
	require.NotNil(t, patch.DetailedResponses)
	assert.False(t, *patch.DetailedResponses)
	require.NotNil(t, patch.Timezone)
	assert.Equal(t, "America/Denver", *patch.Timezone)
	require.NotNil(t, patch.DateFormat)
}

func TestPreferences_EmptyPatch(t *testing.T) {
	patch, err := Preferences(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, session.PreferencesPatch{}, patch)
}

func TestPreferences_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"unknown unit", `{"distance_unit": "furlongs"}`, "distance_unit"},
		{"unit not string", `{"distance_unit": 1}`, "distance_unit"},
		{"max results too high", `{"max_results_per_query": 500}`, "max_results_per_query"},
		{"max results zero", `{"max_results_per_query": 0}`, "max_results_per_query"},
		{"max results fractional", `{"max_results_per_query": 2.5}`, "max_results_per_query"},
		{"max results string", `{"max_results_per_query": "10"}`, "max_results_per_query"},
		{"detailed not bool", `{"detailed_responses": "yes"}`, "detailed_responses"},
		{"social not bool", `{"include_social_data": 1}`, "include_social_data"},
		{"timezone too long", `{"timezone": "` + strings.Repeat("x", 51) + `"}`, "timezone"},
		{"timezone empty", `{"timezone": ""}`, "timezone"},
		{"language too long", `{"language": "english-united-states"}`, "language"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preferences(decode(t, tt.payload))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestPreferences_MaxResultsMessageNamesRange(t *testing.T) {
	_, err := Preferences(map[string]any{"max_results_per_query": 500})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_results_per_query")
	assert.Contains(t, err.Error(), "[1,100]")
}

func TestPreferences_GoIntegers(t *testing.T) {
	patch, err := Preferences(map[string]any{"max_results_per_query": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, *patch.MaxResultsPerQuery)
}

func TestConversationContext_Valid(t *testing.T) {
	patch, err := ConversationContext(decode(t, `{
		"conversation_mood": "positive",
		"last_topic": "marathon\u0007 taper",
		"last_action": "viewed runs",
		"mentioned_runs": ["r1", "r2"],
		"mentioned_shoes": [],
		"other": 1
	}`))
	require.NoError(t, err)

	require.NotNil(t, patch.Mood)
	assert.Equal(t, session.MoodPositive, *patch.Mood)
	require.NotNil(t, patch.LastTopic)
	assert.Equal(t, "marathon taper", *patch.LastTopic, "control characters are stripped")
	require.NotNil(t, patch.MentionedRuns)
	assert.Equal(t, []string{"r1", "r2"}, *patch.MentionedRuns)
	require.NotNil(t, patch.MentionedShoes)
	assert.Empty(t, *patch.MentionedShoes)
	assert.Nil(t, patch.MentionedGoals)
}

func TestConversationContext_Invalid(t *testing.T) {
	tooMany := make([]string, 21)
	for i := range tooMany {
		tooMany[i] = `"x"`
	}

	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"bad mood", `{"conversation_mood": "angry"}`, "conversation_mood"},
		{"topic too long", `{"last_topic": "` + strings.Repeat("a", 101) + `"}`, "last_topic"},
		{"topic null", `{"last_topic": null}`, "last_topic"},
		{"action not string", `{"last_action": 5}`, "last_action"},
		{"runs not array", `{"mentioned_runs": "r1"}`, "mentioned_runs"},
		{"too many shoes", `{"mentioned_shoes": [` + strings.Join(tooMany, ",") + `]}`, "mentioned_shoes"},
		{"goal not string", `{"mentioned_goals": [1]}`, "mentioned_goals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConversationContext(decode(t, tt.payload))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("a\x00b\nc", 10))
	assert.Equal(t, "héll", SanitizeString("héllo", 4))
	assert.Equal(t, "", SanitizeString("", 4))
}

func TestValidationError_Message(t *testing.T) {
	err := error(&ValidationError{Field: "timezone", Expected: "a string"})
	assert.Equal(t, "invalid timezone: must be a string", err.Error())

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}
