package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyConfig holds API key configuration.
type APIKeyConfig struct {
	Keys []APIKey
}

// APIKey represents an API key entry. Only the bcrypt hash of the key is
// configured; the plaintext never has to be stored by the server.
type APIKey struct {
	Name    string   `yaml:"name"`
	KeyHash string   `yaml:"key_hash"`
	Roles   []string `yaml:"roles"`
}

// APIKeyAuthenticator authenticates using hashed API keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator. Every entry
// must carry a name and a valid bcrypt hash.
func NewAPIKeyAuthenticator(cfg APIKeyConfig) (*APIKeyAuthenticator, error) {
	keys := make([]APIKey, 0, len(cfg.Keys))
	for i, k := range cfg.Keys {
		if k.Name == "" {
			return nil, fmt.Errorf("api key %d: name is required", i)
		}
		if _, err := bcrypt.Cost([]byte(k.KeyHash)); err != nil {
			return nil, fmt.Errorf("api key %q: invalid bcrypt hash: %w", k.Name, err)
		}
		keys = append(keys, k)
	}
	return &APIKeyAuthenticator{keys: keys}, nil
}

// HashAPIKey returns the bcrypt hash to configure for a plaintext key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}
	return string(hash), nil
}

// Authenticate validates the API key and returns the client identity.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*UserContext, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, ErrMissingCredentials
	}

	for _, k := range a.keys {
		err := bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(token))
		if err == nil {
			return &UserContext{
				UserID:   "apikey:" + k.Name,
				Name:     k.Name,
				Roles:    k.Roles,
				AuthType: AuthTypeAPIKey,
			}, nil
		}
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, fmt.Errorf("comparing api key %q: %w", k.Name, err)
		}
	}
	return nil, fmt.Errorf("api key: %w", ErrInvalidCredentials)
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
