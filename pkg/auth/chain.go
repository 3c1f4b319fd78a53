package auth

import (
	"context"
	"errors"
)

// ChainedAuthenticator tries multiple authenticators in order.
type ChainedAuthenticator struct {
	authenticators []Authenticator
	allowAnonymous bool
}

// ChainedAuthConfig configures the chained authenticator.
type ChainedAuthConfig struct {
	AllowAnonymous bool
}

// NewChainedAuthenticator creates a new chained authenticator.
func NewChainedAuthenticator(cfg ChainedAuthConfig, authenticators ...Authenticator) *ChainedAuthenticator {
	return &ChainedAuthenticator{
		authenticators: authenticators,
		allowAnonymous: cfg.AllowAnonymous,
	}
}

// Authenticate tries each authenticator in order. When anonymous access is
// allowed, a request presenting no credentials at all is accepted; a
// request presenting bad credentials is still rejected.
func (c *ChainedAuthenticator) Authenticate(ctx context.Context) (*UserContext, error) {
	if GetToken(ctx) == "" {
		if c.allowAnonymous {
			return &UserContext{UserID: AuthTypeAnonymous, AuthType: AuthTypeAnonymous}, nil
		}
		return nil, ErrMissingCredentials
	}

	var errs []error
	for _, a := range c.authenticators {
		uc, err := a.Authenticate(ctx)
		if err == nil && uc != nil {
			return uc, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil, ErrInvalidCredentials
	}
	return nil, errors.Join(errs...)
}

// Verify interface compliance.
var _ Authenticator = (*ChainedAuthenticator)(nil)
