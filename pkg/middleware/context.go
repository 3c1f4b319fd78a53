// Package middleware provides MCP protocol-level middleware: it resolves
// the transport principal of each request and logs tool calls.
package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys.
type contextKey int

const callContextKey contextKey = iota

// Transport names.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// CallContext holds per-request metadata for an MCP call.
type CallContext struct {
	RequestID string
	StartTime time.Time

	// Method is the MCP method, e.g. "tools/call".
	Method string

	// Name is the tool name or resource URI.
	Name string

	// Principal is the authenticated transport identity.
	Principal string
	Transport string

	// Results (populated after handler)
	Success      bool
	ErrorMessage string
	Duration     time.Duration
}

// NewCallContext creates a call context with a fresh request id.
func NewCallContext(method, name string) *CallContext {
	return &CallContext{
		RequestID: uuid.NewString(),
		StartTime: time.Now(),
		Method:    method,
		Name:      name,
	}
}

// WithCallContext adds call context to the context.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey, cc)
}

// GetCallContext retrieves call context from the context.
func GetCallContext(ctx context.Context) *CallContext {
	if cc, ok := ctx.Value(callContextKey).(*CallContext); ok {
		return cc
	}
	return nil
}
