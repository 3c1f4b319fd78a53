// Package auth authenticates callers of the HTTP transport. It identifies
// the client connecting to the server (an agent runtime, a web app), not the
// runner whose data is being served; that is the session layer's concern.
package auth

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrMissingCredentials is returned when no token was presented.
	ErrMissingCredentials = errors.New("no credentials presented")

	// ErrInvalidCredentials is returned when a token was presented but
	// not accepted.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Auth types recorded on UserContext.
const (
	AuthTypeAPIKey    = "apikey"
	AuthTypeJWT       = "jwt"
	AuthTypeAnonymous = "anonymous"
	AuthTypeLocal     = "local"
)

// Authenticator validates the token carried by ctx.
type Authenticator interface {
	Authenticate(ctx context.Context) (*UserContext, error)
}

// contextKey is a private type for context keys.
type contextKey int

const (
	userContextKey contextKey = iota
	tokenContextKey
)

// UserContext holds the authenticated client identity.
type UserContext struct {
	UserID   string   `json:"user_id"`
	Name     string   `json:"name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	AuthType string   `json:"auth_type"`
}

// WithUserContext adds user context to the context.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, uc)
}

// GetUserContext retrieves user context from the context.
func GetUserContext(ctx context.Context) *UserContext {
	if uc, ok := ctx.Value(userContextKey).(*UserContext); ok {
		return uc
	}
	return nil
}

// Principal returns the authenticated client id carried by ctx, or "".
func Principal(ctx context.Context) string {
	if uc := GetUserContext(ctx); uc != nil {
		return uc.UserID
	}
	return ""
}

// WithToken adds a raw credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken retrieves the raw credential from the context.
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenContextKey).(string); ok {
		return token
	}
	return ""
}

// HasRole checks if the client has a specific role.
func (uc *UserContext) HasRole(role string) bool {
	return slices.Contains(uc.Roles, role)
}
