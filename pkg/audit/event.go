package audit

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewAccess creates an event for an allowed access.
func NewAccess(actor, operation string) *Event {
	return newEvent(KindAccess, actor, operation)
}

// NewViolation creates an event for a denied access attempt.
func NewViolation(actor, operation, reason string) *Event {
	e := newEvent(KindViolation, actor, operation)
	e.Reason = reason
	return e
}

func newEvent(kind Kind, actor, operation string) *Event {
	if actor == "" {
		actor = UnknownActor
	}
	return &Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Actor:     actor,
		Operation: operation,
	}
}

// WithTimestamp overrides the creation time, for callers that run on an
// injected clock.
func (e *Event) WithTimestamp(ts time.Time) *Event {
	e.Timestamp = ts.UTC()
	return e
}

// WithTable sets the table touched by the operation.
func (e *Event) WithTable(table string) *Event {
	e.Table = table
	return e
}

// WithTarget sets the user id the operation was scoped to.
func (e *Event) WithTarget(target string) *Event {
	e.Target = target
	return e
}

// WithPrincipal sets the authenticated transport identity.
func (e *Event) WithPrincipal(principal string) *Event {
	e.Principal = principal
	return e
}

// WithParams adds a parameter summary to the event.
func (e *Event) WithParams(params map[string]any) *Event {
	e.Params = SanitizeParameters(params)
	return e
}

// generateEventID returns a time-sortable unique id.
func generateEventID() string {
	return ulid.Make().String()
}

// SummarizeArgs describes positional query arguments by count and type so
// that raw values never reach the audit trail.
func SummarizeArgs(args []any) map[string]any {
	types := make([]string, len(args))
	for i, a := range args {
		types[i] = fmt.Sprintf("%T", a)
	}
	return map[string]any{
		"arg_count": len(args),
		"arg_types": types,
	}
}

// SanitizeParameters removes sensitive parameters from the event.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	sensitiveKeys := map[string]bool{
		"password":      true,
		"secret":        true,
		"token":         true,
		"api_key":       true,
		"authorization": true,
		"email":         true,
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}
