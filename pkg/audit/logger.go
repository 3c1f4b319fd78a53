// Package audit records security-relevant data access: every guarded read
// or write that was allowed, and every attempt that was denied.
package audit

import (
	"context"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error
}

// Reader retrieves recorded events.
type Reader interface {
	// Query retrieves audit events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
}

// Kind categorizes audit events.
type Kind string

const (
	// KindAccess is an allowed data access.
	KindAccess Kind = "access"

	// KindViolation is a denied access attempt.
	KindViolation Kind = "violation"
)

// Event represents an auditable data access.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`

	// Actor is the current user id, or UnknownActor when no session was set.
	Actor string `json:"actor"`

	// Principal is the authenticated transport identity, if any.
	Principal string `json:"principal,omitempty"`

	Operation string         `json:"operation"`
	Table     string         `json:"table,omitempty"`
	Target    string         `json:"target,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// UnknownActor is recorded when no user session was active.
const UnknownActor = "unknown"

// QueryFilter defines criteria for querying audit events.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Actor     string
	Kind      Kind
	Table     string
	Limit     int
	Offset    int
}

// Config configures audit logging.
type Config struct {
	Enabled       bool
	Persist       bool
	RetentionDays int
}
