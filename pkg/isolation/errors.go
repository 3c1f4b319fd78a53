package isolation

import (
	"errors"
	"fmt"
)

// ErrAccessDenied is the sentinel every denial unwraps to.
var ErrAccessDenied = errors.New("access denied")

// Denial reasons recorded on AccessDeniedError and in the audit trail.
const (
	ReasonNoSession      = "no active session"
	ReasonCrossUser      = "cross-user access"
	ReasonMissingFilter  = "missing user filter"
	ReasonForbidden      = "statement not permitted"
	ReasonMissingOwner   = "insert without owning user"
	ReasonEmptyStatement = "empty statement"
)

// AccessDeniedError describes a guarded call that was refused before
// reaching the database.
type AccessDeniedError struct {
	Actor     string
	Target    string
	Operation string
	Table     string
	Reason    string
	Message   string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Message)
}

// Unwrap returns ErrAccessDenied for errors.Is checks.
func (*AccessDeniedError) Unwrap() error {
	return ErrAccessDenied
}
