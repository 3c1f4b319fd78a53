package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maratron-ai/maratron-monorepo/pkg/isolation"
	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	"github.com/maratron-ai/maratron-monorepo/pkg/users"
	"github.com/maratron-ai/maratron-monorepo/pkg/validate"
)

// Error categories that prefix the text of a failed tool call.
const (
	CategoryAccessDenied = "ACCESS_DENIED"
	CategoryNotFound     = "NOT_FOUND"
	CategoryValidation   = "VALIDATION_ERROR"
	CategoryRateLimited  = "RATE_LIMITED"
	CategoryNoSession    = "NO_SESSION"
	CategoryInternal     = "INTERNAL"
)

const noSessionMessage = "No user context set. Use set_current_user first."

// ErrNotFound reports a missing session, shoe or profile.
var ErrNotFound = errors.New("not found")

// failure is a classified tool error.
type failure struct {
	Category   string
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

// classify maps an error onto the category a client acts on. Only rate
// limiting is retryable; internal errors are logged and hidden.
func classify(err error) failure {
	var (
		limited *validate.LimitError
		denied  *isolation.AccessDeniedError
		invalid *validate.ValidationError
	)
	switch {
	case errors.As(err, &limited):
		return failure{Category: CategoryRateLimited, Message: limited.Error(), Retryable: true, RetryAfter: limited.RetryAfter}
	case errors.Is(err, validate.ErrRateLimited), errors.Is(err, validate.ErrBlocked):
		return failure{Category: CategoryRateLimited, Message: err.Error(), Retryable: true}
	case errors.As(err, &denied):
		return failure{Category: CategoryAccessDenied, Message: denied.Message}
	case errors.Is(err, isolation.ErrAccessDenied):
		return failure{Category: CategoryAccessDenied, Message: err.Error()}
	case errors.As(err, &invalid):
		return failure{Category: CategoryValidation, Message: invalid.Error()}
	case errors.Is(err, session.ErrNoActiveSession):
		return failure{Category: CategoryNoSession, Message: noSessionMessage}
	case errors.Is(err, users.ErrNotFound), errors.Is(err, ErrNotFound):
		return failure{Category: CategoryNotFound, Message: err.Error()}
	default:
		slog.Error("tool call failed", "error", err)
		return failure{Category: CategoryInternal, Message: "internal error"}
	}
}

// text renders the failure for the tool result.
func (f failure) text() string {
	if f.Retryable {
		if f.RetryAfter > 0 {
			return fmt.Sprintf("%s (retryable after %s): %s", f.Category, f.RetryAfter.Round(time.Second), f.Message)
		}
		return fmt.Sprintf("%s (retryable): %s", f.Category, f.Message)
	}
	return f.Category + ": " + f.Message
}

// errorResult converts err into a failed tool result.
func errorResult(err error) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{ //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError, not as Go errors
		Content: []mcp.Content{
			&mcp.TextContent{Text: classify(err).text()},
		},
		IsError: true,
	}, nil, nil
}

// jsonResult returns v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encoding result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}
