package validate

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/maratron-ai/maratron-monorepo/pkg/session"
)

const (
	userIDLength      = 36
	maxTimezoneLength = 50
	maxLanguageLength = 10
	maxDateFmtLength  = 20
	maxContextText    = 100
)

// UserID checks that id is a canonical hyphenated UUID.
func UserID(id string) error {
	if len(id) != userIDLength || uuid.Validate(id) != nil {
		return &ValidationError{Field: "user_id", Expected: "a UUID like 123e4567-e89b-12d3-a456-426614174000"}
	}
	return nil
}

// Preferences validates a preference payload field by field and returns
// the patch to apply. Unknown keys are ignored.
func Preferences(raw map[string]any) (session.PreferencesPatch, error) {
	var p session.PreferencesPatch

	if v, ok := raw["distance_unit"]; ok {
		s, isStr := v.(string)
		unit := session.DistanceUnit(s)
		if !isStr || !unit.Valid() {
			return p, &ValidationError{Field: "distance_unit", Expected: `"miles" or "kilometers"`}
		}
		p.DistanceUnit = &unit
	}

	if v, ok := raw["max_results_per_query"]; ok {
		n, isInt := integer(v)
		if !isInt || n < session.MinResultsPerQuery || n > session.MaxResultsPerQuery {
			return p, &ValidationError{
				Field:    "max_results_per_query",
				Expected: fmt.Sprintf("an integer in [%d,%d]", session.MinResultsPerQuery, session.MaxResultsPerQuery),
			}
		}
		p.MaxResultsPerQuery = &n
	}

	var err error
	if p.DetailedResponses, err = optionalBool(raw, "detailed_responses"); err != nil {
		return p, err
	}
	if p.IncludeSocialData, err = optionalBool(raw, "include_social_data"); err != nil {
		return p, err
	}
	if p.NotificationEnabled, err = optionalBool(raw, "notification_enabled"); err != nil {
		return p, err
	}
	if p.Timezone, err = optionalString(raw, "timezone", maxTimezoneLength); err != nil {
		return p, err
	}
	if p.Language, err = optionalString(raw, "language", maxLanguageLength); err != nil {
		return p, err
	}
	if p.DateFormat, err = optionalString(raw, "date_format", maxDateFmtLength); err != nil {
		return p, err
	}
	return p, nil
}

// ConversationContext validates a conversation-context payload and returns
// the patch to apply. Unknown keys are ignored.
func ConversationContext(raw map[string]any) (session.ContextPatch, error) {
	var c session.ContextPatch

	if v, ok := raw["conversation_mood"]; ok {
		s, isStr := v.(string)
		mood := session.Mood(s)
		if !isStr || !mood.Valid() {
			return c, &ValidationError{Field: "conversation_mood", Expected: `"positive", "neutral" or "frustrated"`}
		}
		c.Mood = &mood
	}

	var err error
	if c.LastTopic, err = optionalText(raw, "last_topic"); err != nil {
		return c, err
	}
	if c.LastAction, err = optionalText(raw, "last_action"); err != nil {
		return c, err
	}
	if c.MentionedRuns, err = optionalList(raw, "mentioned_runs"); err != nil {
		return c, err
	}
	if c.MentionedShoes, err = optionalList(raw, "mentioned_shoes"); err != nil {
		return c, err
	}
	if c.MentionedGoals, err = optionalList(raw, "mentioned_goals"); err != nil {
		return c, err
	}
	return c, nil
}

// SanitizeString strips control characters and truncates to maxLen runes.
func SanitizeString(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if r := []rune(cleaned); len(r) > maxLen {
		return string(r[:maxLen])
	}
	return cleaned
}

// integer accepts Go integers and integral JSON numbers.
func integer(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func optionalBool(raw map[string]any, field string) (*bool, error) {
	v, ok := raw[field]
	if !ok {
		return nil, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return nil, &ValidationError{Field: field, Expected: "a boolean"}
	}
	return &b, nil
}

func optionalString(raw map[string]any, field string, maxLen int) (*string, error) {
	v, ok := raw[field]
	if !ok {
		return nil, nil
	}
	s, isStr := v.(string)
	if !isStr || s == "" || len(s) > maxLen {
		return nil, &ValidationError{Field: field, Expected: fmt.Sprintf("a non-empty string of at most %d characters", maxLen)}
	}
	return &s, nil
}

func optionalText(raw map[string]any, field string) (*string, error) {
	v, ok := raw[field]
	if !ok {
		return nil, nil
	}
	s, isStr := v.(string)
	if !isStr || len([]rune(s)) > maxContextText {
		return nil, &ValidationError{Field: field, Expected: fmt.Sprintf("a string of at most %d characters", maxContextText)}
	}
	s = SanitizeString(s, maxContextText)
	return &s, nil
}

func optionalList(raw map[string]any, field string) (*[]string, error) {
	v, ok := raw[field]
	if !ok {
		return nil, nil
	}
	expected := fmt.Sprintf("an array of at most %d strings", session.MaxMentions)

	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		out := list
		if len(out) > session.MaxMentions {
			return nil, &ValidationError{Field: field, Expected: expected}
		}
		return &out, nil
	default:
		return nil, &ValidationError{Field: field, Expected: expected}
	}

	if len(items) > session.MaxMentions {
		return nil, &ValidationError{Field: field, Expected: expected}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, isStr := item.(string)
		if !isStr {
			return nil, &ValidationError{Field: field, Expected: expected}
		}
		out = append(out, s)
	}
	return &out, nil
}
