package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maratron-ai/maratron-monorepo/pkg/audit"
	"github.com/maratron-ai/maratron-monorepo/pkg/auth"
	"github.com/maratron-ai/maratron-monorepo/pkg/isolation"
	"github.com/maratron-ai/maratron-monorepo/pkg/middleware"
	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	"github.com/maratron-ai/maratron-monorepo/pkg/users"
	"github.com/maratron-ai/maratron-monorepo/pkg/validate"
)

// Tool names.
const (
	toolSetCurrentUser     = "set_current_user"
	toolGetCurrentUser     = "get_current_user"
	toolSwitchUserContext  = "switch_user_context"
	toolClearUserContext   = "clear_user_context"
	toolUpdatePreferences  = "update_user_preferences"
	toolUpdateConversation = "update_conversation_context"
	toolGetSessionInfo     = "get_session_info"
	toolListActiveSessions = "list_active_sessions"
	toolGetSessionHistory  = "get_session_history"
	toolListRecentRuns     = "list_recent_runs"
	toolListShoes          = "list_shoes"
	toolRetireShoe         = "retire_shoe"
	toolGetSecurityEvents  = "get_security_events"
)

// lockoutSelectUser is the lockout key shared by set_current_user and
// switch_user_context, so alternating between them gains nothing.
const lockoutSelectUser = "select_user"

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	sessionHistoryTable = "UserSessions"
)

const sessionHistoryQuery = `
	SELECT "sessionId", "createdAt", "lastActivity", "expiresAt", active
	FROM "UserSessions"
	WHERE "userId" = $1
	ORDER BY "createdAt" DESC
	LIMIT $2`

type userIDInput struct {
	UserID string `json:"user_id" jsonschema:"the user's UUID"`
}

type optionalUserInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"the user's UUID; defaults to the current user"`
}

type preferencesInput struct {
	Preferences map[string]any `json:"preferences" jsonschema:"preference fields to change: distance_unit, timezone, language, date_format, detailed_responses, include_social_data, notification_enabled, max_results_per_query"`
}

type conversationInput struct {
	Context map[string]any `json:"context" jsonschema:"context fields to change: last_topic, last_action, conversation_mood, mentioned_runs, mentioned_shoes, mentioned_goals"`
}

type historyInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"the user's UUID; defaults to the current user"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum sessions to return, 1-100, default 10"`
}

type emptyInput struct{}

// userContextOutput is returned when the current user changes.
type userContextOutput struct {
	Status           string `json:"status"`
	UserID           string `json:"user_id"`
	PreviousUserID   string `json:"previous_user_id,omitempty"`
	Name             string `json:"name,omitempty"`
	TrainingLevel    string `json:"training_level,omitempty"`
	RecentRunsCount  int    `json:"recent_runs_count"`
	RecentRunsWindow string `json:"recent_runs_window,omitempty"`
	DistanceUnit     string `json:"distance_unit"`
	SessionID        string `json:"session_id"`
}

// currentUserOutput describes the current session in full.
type currentUserOutput struct {
	UserID              string                      `json:"user_id"`
	Profile             session.CachedProfile       `json:"profile"`
	Preferences         session.Preferences         `json:"preferences"`
	ConversationContext session.ConversationContext `json:"conversation_context"`
	SessionID           string                      `json:"session_id"`
	CreatedAt           time.Time                   `json:"created_at"`
	LastActivity        time.Time                   `json:"last_activity"`
}

type clearOutput struct {
	Status         string `json:"status"`
	PreviousUserID string `json:"previous_user_id,omitempty"`
}

type activeSessionsOutput struct {
	ActiveCount int           `json:"active_count"`
	Current     *session.Info `json:"current,omitempty"`
}

type historyOutput struct {
	UserID   string          `json:"user_id"`
	Count    int             `json:"count"`
	Sessions []isolation.Row `json:"sessions"`
}

// registerSessionTools registers the user-context tools.
func (p *Platform) registerSessionTools() {
	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolSetCurrentUser,
		Description: "Set the current user for all subsequent operations. Creates or resumes that user's session.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in userIDInput) (*mcp.CallToolResult, any, error) {
		return p.handleSelectUser(ctx, toolSetCurrentUser, in.UserID)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolGetCurrentUser,
		Description: "Show the current user's profile, preferences, session and conversation context.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
		return p.handleGetCurrentUser(ctx)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolSwitchUserContext,
		Description: "Switch the current user to another user.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in userIDInput) (*mcp.CallToolResult, any, error) {
		return p.handleSelectUser(ctx, toolSwitchUserContext, in.UserID)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolClearUserContext,
		Description: "Clear the current user. Sessions are kept and can be resumed.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
		return p.handleClearUserContext()
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolUpdatePreferences,
		Description: "Update the current user's preferences. Only the given fields change.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in preferencesInput) (*mcp.CallToolResult, any, error) {
		return p.handleUpdatePreferences(ctx, in)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolUpdateConversation,
		Description: "Update the conversation context of the current user. Only the given fields change.",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in conversationInput) (*mcp.CallToolResult, any, error) {
		return p.handleUpdateConversation(in)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolGetSessionInfo,
		Description: "Show session metadata for the current user.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in optionalUserInput) (*mcp.CallToolResult, any, error) {
		return p.handleGetSessionInfo(ctx, in.UserID)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolListActiveSessions,
		Description: "Count the active sessions held by this server and describe the current one.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
		return p.handleListActiveSessions()
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolGetSessionHistory,
		Description: "List the current user's past sessions, newest first.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in historyInput) (*mcp.CallToolResult, any, error) {
		return p.handleGetSessionHistory(ctx, in)
	})
}

// handleSelectUser makes userID current. Requests are budgeted per target
// id; malformed and unknown ids count as failures of the caller, who is
// locked out after too many.
func (p *Platform) handleSelectUser(ctx context.Context, op, userID string) (*mcp.CallToolResult, any, error) {
	caller := callerKey(ctx)
	if err := p.limiter.CheckLockout(lockoutSelectUser, caller); err != nil {
		return errorResult(err)
	}
	if err := validate.UserID(userID); err != nil {
		p.limiter.RecordFailure(lockoutSelectUser, caller)
		return errorResult(err)
	}
	if err := p.limiter.Check(op, userID); err != nil {
		return errorResult(err)
	}

	previous := p.sessions.CurrentUserID()
	sess, err := p.sessions.SetCurrentUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			p.limiter.RecordFailure(lockoutSelectUser, caller)
		}
		return errorResult(err)
	}
	p.sessions.TrackAction(op)

	profile := sess.Profile()
	out := userContextOutput{
		Status:           "user context set",
		UserID:           sess.UserID(),
		Name:             profile.Name,
		TrainingLevel:    profile.TrainingLevel,
		RecentRunsCount:  profile.RecentRunsCount,
		RecentRunsWindow: profile.RecentRunsWindow,
		DistanceUnit:     string(sess.Preferences().DistanceUnit),
		SessionID:        sess.ID(),
	}
	if op == toolSwitchUserContext {
		out.Status = "user context switched"
		out.PreviousUserID = previous
	}
	return jsonResult(out)
}

func (p *Platform) handleGetCurrentUser(_ context.Context) (*mcp.CallToolResult, any, error) {
	sess := p.sessions.CurrentSession()
	if sess == nil {
		return errorResult(session.ErrNoActiveSession)
	}
	return jsonResult(currentUserOutput{
		UserID:              sess.UserID(),
		Profile:             sess.Profile(),
		Preferences:         sess.Preferences(),
		ConversationContext: sess.ConversationContext(),
		SessionID:           sess.ID(),
		CreatedAt:           sess.CreatedAt(),
		LastActivity:        sess.LastActivity(),
	})
}

func (p *Platform) handleClearUserContext() (*mcp.CallToolResult, any, error) {
	previous := p.sessions.CurrentUserID()
	p.sessions.ClearCurrentUser()
	return jsonResult(clearOutput{Status: "user context cleared", PreviousUserID: previous})
}

func (p *Platform) handleUpdatePreferences(ctx context.Context, in preferencesInput) (*mcp.CallToolResult, any, error) {
	current := p.sessions.CurrentUserID()
	if current == "" {
		return errorResult(session.ErrNoActiveSession)
	}
	if err := p.limiter.Check(toolUpdatePreferences, current); err != nil {
		return errorResult(err)
	}
	patch, err := validate.Preferences(in.Preferences)
	if err != nil {
		return errorResult(err)
	}
	prefs, err := p.sessions.UpdatePreferences(ctx, patch)
	if err != nil {
		return errorResult(err)
	}
	p.sessions.TrackAction(toolUpdatePreferences)
	return jsonResult(prefs)
}

func (p *Platform) handleUpdateConversation(in conversationInput) (*mcp.CallToolResult, any, error) {
	current := p.sessions.CurrentUserID()
	if current == "" {
		return errorResult(session.ErrNoActiveSession)
	}
	if err := p.limiter.Check(toolUpdateConversation, current); err != nil {
		return errorResult(err)
	}
	patch, err := validate.ConversationContext(in.Context)
	if err != nil {
		return errorResult(err)
	}
	cc, err := p.sessions.UpdateConversationContext(patch)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(cc)
}

// handleGetSessionInfo describes the current user's session. Naming any
// other user is a cross-user access and is audited as such.
func (p *Platform) handleGetSessionInfo(ctx context.Context, userID string) (*mcp.CallToolResult, any, error) {
	current := p.sessions.CurrentUserID()
	if userID == "" {
		if current == "" {
			return errorResult(session.ErrNoActiveSession)
		}
		userID = current
	}
	if err := validate.UserID(userID); err != nil {
		return errorResult(err)
	}
	if userID != current {
		return errorResult(p.denySessionAccess(ctx, current, userID))
	}

	info := p.sessions.SessionInfo(userID)
	if info == nil {
		return errorResult(fmt.Errorf("%w: no active session for user %s", ErrNotFound, userID))
	}
	return jsonResult(info)
}

// denySessionAccess records a violation for reading another user's
// session metadata.
func (p *Platform) denySessionAccess(ctx context.Context, actor, target string) error {
	reason := isolation.ReasonCrossUser
	message := "Can only access your own data"
	if actor == "" {
		reason = isolation.ReasonNoSession
		message = "No user session active"
	}
	logged := actor
	if logged == "" {
		logged = audit.UnknownActor
	}

	event := audit.NewViolation(logged, toolGetSessionInfo, reason).
		WithTimestamp(p.now()).
		WithTable(sessionHistoryTable).
		WithTarget(target).
		WithPrincipal(auth.Principal(ctx))
	if err := p.auditLogger.Log(ctx, *event); err != nil {
		slog.Error("failed to record security violation", "operation", toolGetSessionInfo, "error", err)
	}
	return &isolation.AccessDeniedError{
		Actor:     logged,
		Target:    target,
		Operation: toolGetSessionInfo,
		Table:     sessionHistoryTable,
		Reason:    reason,
		Message:   message,
	}
}

// handleListActiveSessions reports how many sessions are live. Only the
// caller's own session is described.
func (p *Platform) handleListActiveSessions() (*mcp.CallToolResult, any, error) {
	out := activeSessionsOutput{ActiveCount: p.sessions.ActiveCount()}
	if current := p.sessions.CurrentUserID(); current != "" {
		out.Current = p.sessions.SessionInfo(current)
	}
	return jsonResult(out)
}

// handleGetSessionHistory reads durable session records through the guard.
func (p *Platform) handleGetSessionHistory(ctx context.Context, in historyInput) (*mcp.CallToolResult, any, error) {
	userID := in.UserID
	if userID == "" {
		userID = p.sessions.CurrentUserID()
		if userID == "" {
			return errorResult(session.ErrNoActiveSession)
		}
	}
	if err := validate.UserID(userID); err != nil {
		return errorResult(err)
	}

	limit := in.Limit
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	rows, err := p.guard.Fetch(ctx, isolation.Request{
		Table:        sessionHistoryTable,
		Query:        sessionHistoryQuery,
		Args:         []any{userID, limit},
		TargetUserID: userID,
	})
	if err != nil {
		return errorResult(err)
	}
	p.sessions.TrackAction(toolGetSessionHistory)

	if rows == nil {
		rows = []isolation.Row{}
	}
	return jsonResult(historyOutput{UserID: userID, Count: len(rows), Sessions: rows})
}

// callerKey identifies the transport principal for lockout accounting.
func callerKey(ctx context.Context) string {
	if principal := auth.Principal(ctx); principal != "" {
		return principal
	}
	return middleware.LocalPrincipal
}

func isNotFound(err error) bool {
	return errors.Is(err, users.ErrNotFound)
}
