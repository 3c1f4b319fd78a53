package platform

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratron-ai/maratron-monorepo/pkg/isolation"
	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	"github.com/maratron-ai/maratron-monorepo/pkg/users"
	"github.com/maratron-ai/maratron-monorepo/pkg/validate"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{
			name:     "rate limited",
			err:      &validate.LimitError{Operation: "set_current_user", RetryAfter: 42 * time.Second},
			wantText: "RATE_LIMITED (retryable after 42s): set_current_user: rate limit exceeded, retry in 42s",
		},
		{
			name:     "bare rate limit sentinel",
			err:      fmt.Errorf("wrapped: %w", validate.ErrRateLimited),
			wantText: "RATE_LIMITED (retryable): wrapped: rate limit exceeded",
		},
		{
			name:     "access denied",
			err:      &isolation.AccessDeniedError{Message: "Can only access your own data"},
			wantText: "ACCESS_DENIED: Can only access your own data",
		},
		{
			name:     "validation",
			err:      &validate.ValidationError{Field: "user_id", Expected: "a UUID"},
			wantText: "VALIDATION_ERROR: invalid user_id: must be a UUID",
		},
		{
			name:     "no session",
			err:      session.ErrNoActiveSession,
			wantText: "NO_SESSION: " + noSessionMessage,
		},
		{
			name:     "unknown user",
			err:      fmt.Errorf("%w: abc", users.ErrNotFound),
			wantText: "NOT_FOUND: " + users.ErrNotFound.Error() + ": abc",
		},
		{
			name:     "internal errors are hidden",
			err:      errors.New("pq: connection refused"),
			wantText: "INTERNAL: internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantText, classify(tt.err).text())
		})
	}
}

func TestClassify_RetryableOnlyForRateLimits(t *testing.T) {
	assert.True(t, classify(&validate.LimitError{Blocked: true}).Retryable)
	assert.False(t, classify(&isolation.AccessDeniedError{}).Retryable)
	assert.False(t, classify(errors.New("boom")).Retryable)
}

func TestErrorResult(t *testing.T) {
	res, structured, err := errorResult(session.ErrNoActiveSession)
	require.NoError(t, err)
	assert.Nil(t, structured)
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t, "NO_SESSION: "+noSessionMessage, text.Text)
}

func TestJSONResult(t *testing.T) {
	res, _, err := jsonResult(map[string]int{"count": 3})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, `{"count": 3}`, text.Text)

	res, _, err = jsonResult(func() {})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
