package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	testIssuer    = "https://auth.maratron.test"
	testRoleCoach = "coach"
)

var testSigningKey = []byte("test-signing-key-at-least-32-bytes-long")

func mustHash(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing key: %v", err)
	}
	return string(hash)
}

func signToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestUserContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if GetUserContext(ctx) != nil {
		t.Error("GetUserContext() on empty context should be nil")
	}
	if Principal(ctx) != "" {
		t.Error("Principal() on empty context should be empty")
	}

	uc := &UserContext{UserID: "apikey:web", Roles: []string{testRoleCoach}, AuthType: AuthTypeAPIKey}
	ctx = WithUserContext(ctx, uc)
	if got := GetUserContext(ctx); got != uc {
		t.Errorf("GetUserContext() = %v, want %v", got, uc)
	}
	if Principal(ctx) != "apikey:web" {
		t.Errorf("Principal() = %q", Principal(ctx))
	}
	if !uc.HasRole(testRoleCoach) || uc.HasRole("admin") {
		t.Errorf("HasRole() mismatch for %v", uc.Roles)
	}

	ctx = WithToken(ctx, "tok")
	if GetToken(ctx) != "tok" {
		t.Errorf("GetToken() = %q", GetToken(ctx))
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	a, err := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []APIKey{
		{Name: "web", KeyHash: mustHash(t, "web-key"), Roles: []string{testRoleCoach}},
		{Name: "agent", KeyHash: mustHash(t, "agent-key")},
	}})
	if err != nil {
		t.Fatalf("NewAPIKeyAuthenticator() error = %v", err)
	}

	t.Run("valid key", func(t *testing.T) {
		uc, err := a.Authenticate(WithToken(context.Background(), "agent-key"))
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if uc.UserID != "apikey:agent" || uc.AuthType != AuthTypeAPIKey {
			t.Errorf("got %+v", uc)
		}
	})

	t.Run("roles carried", func(t *testing.T) {
		uc, err := a.Authenticate(WithToken(context.Background(), "web-key"))
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if !uc.HasRole(testRoleCoach) {
			t.Errorf("Roles = %v", uc.Roles)
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := a.Authenticate(WithToken(context.Background(), "nope"))
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("no key", func(t *testing.T) {
		_, err := a.Authenticate(context.Background())
		if !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("error = %v, want ErrMissingCredentials", err)
		}
	})
}

func TestNewAPIKeyAuthenticator_RejectsBadConfig(t *testing.T) {
	if _, err := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []APIKey{{Name: "x", KeyHash: "plaintext"}}}); err == nil {
		t.Error("expected error for non-bcrypt hash")
	}
	if _, err := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []APIKey{{KeyHash: mustHash(t, "k")}}}); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey("secret")
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")) != nil {
		t.Error("hash does not verify")
	}
}

func TestJWTAuthenticator(t *testing.T) {
	a, err := NewJWTAuthenticator(JWTConfig{Issuer: testIssuer, SigningKey: testSigningKey})
	if err != nil {
		t.Fatalf("NewJWTAuthenticator() error = %v", err)
	}
	now := time.Now()

	valid := jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "web-app",
		"name":  "Maratron Web",
		"exp":   now.Add(time.Hour).Unix(),
		"roles": []any{testRoleCoach, 7},
	}

	t.Run("valid token", func(t *testing.T) {
		tok := signToken(t, valid, jwt.SigningMethodHS256, testSigningKey)
		uc, err := a.Authenticate(WithToken(context.Background(), tok))
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}
		if uc.UserID != "web-app" || uc.Name != "Maratron Web" || uc.AuthType != AuthTypeJWT {
			t.Errorf("got %+v", uc)
		}
		if len(uc.Roles) != 1 || uc.Roles[0] != testRoleCoach {
			t.Errorf("Roles = %v", uc.Roles)
		}
	})

	expired := jwt.MapClaims{"iss": testIssuer, "sub": "x", "exp": now.Add(-time.Hour).Unix()}
	foreign := jwt.MapClaims{"iss": "https://evil.test", "sub": "x", "exp": now.Add(time.Hour).Unix()}
	noExpiry := jwt.MapClaims{"iss": testIssuer, "sub": "x"}
	noSubject := jwt.MapClaims{"iss": testIssuer, "exp": now.Add(time.Hour).Unix()}
	otherKey := []byte("another-signing-key-that-is-long-enough")

	rejects := map[string]string{}
	rejects["wrong key"] = signToken(t, valid, jwt.SigningMethodHS256, otherKey)
	rejects["wrong issuer"] = signToken(t, foreign, jwt.SigningMethodHS256, testSigningKey)
	rejects["expired"] = signToken(t, expired, jwt.SigningMethodHS256, testSigningKey)
	rejects["no expiry"] = signToken(t, noExpiry, jwt.SigningMethodHS256, testSigningKey)
	rejects["no subject"] = signToken(t, noSubject, jwt.SigningMethodHS256, testSigningKey)
	rejects["garbage"] = "a.b.c"

	for name, tok := range rejects {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(WithToken(context.Background(), tok))
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("error = %v, want ErrInvalidCredentials", err)
			}
		})
	}

	t.Run("no token", func(t *testing.T) {
		_, err := a.Authenticate(context.Background())
		if !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("error = %v, want ErrMissingCredentials", err)
		}
	})
}

func TestNewJWTAuthenticator_Validation(t *testing.T) {
	if _, err := NewJWTAuthenticator(JWTConfig{SigningKey: testSigningKey}); err == nil {
		t.Error("expected error for missing issuer")
	}
	if _, err := NewJWTAuthenticator(JWTConfig{Issuer: testIssuer}); err == nil {
		t.Error("expected error for missing signing key")
	}
}

func TestChainedAuthenticator(t *testing.T) {
	keys, err := NewAPIKeyAuthenticator(APIKeyConfig{Keys: []APIKey{{Name: "web", KeyHash: mustHash(t, "web-key")}}})
	if err != nil {
		t.Fatal(err)
	}
	jwtAuth, err := NewJWTAuthenticator(JWTConfig{Issuer: testIssuer, SigningKey: testSigningKey})
	if err != nil {
		t.Fatal(err)
	}
	tok := signToken(t, jwt.MapClaims{
		"iss": testIssuer, "sub": "agent", "exp": time.Now().Add(time.Hour).Unix(),
	}, jwt.SigningMethodHS256, testSigningKey)

	strict := NewChainedAuthenticator(ChainedAuthConfig{}, keys, jwtAuth)
	open := NewChainedAuthenticator(ChainedAuthConfig{AllowAnonymous: true}, keys, jwtAuth)

	t.Run("first authenticator wins", func(t *testing.T) {
		uc, err := strict.Authenticate(WithToken(context.Background(), "web-key"))
		if err != nil || uc.AuthType != AuthTypeAPIKey {
			t.Fatalf("got %+v, %v", uc, err)
		}
	})

	t.Run("falls through to jwt", func(t *testing.T) {
		uc, err := strict.Authenticate(WithToken(context.Background(), tok))
		if err != nil || uc.UserID != "agent" {
			t.Fatalf("got %+v, %v", uc, err)
		}
	})

	t.Run("bad credentials rejected even when anonymous allowed", func(t *testing.T) {
		_, err := open.Authenticate(WithToken(context.Background(), "bogus"))
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		uc, err := open.Authenticate(context.Background())
		if err != nil || uc.AuthType != AuthTypeAnonymous {
			t.Fatalf("got %+v, %v", uc, err)
		}
		if _, err := strict.Authenticate(context.Background()); !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("error = %v, want ErrMissingCredentials", err)
		}
	})

	t.Run("empty chain", func(t *testing.T) {
		_, err := NewChainedAuthenticator(ChainedAuthConfig{}).Authenticate(WithToken(context.Background(), "x"))
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("error = %v", err)
		}
	})
}

// FuzzJWTAuthenticate fuzzes token parsing to find crashes or panics.
func FuzzJWTAuthenticate(f *testing.F) {
	f.Add("")
	f.Add("..")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ0ZXN0In0.signature")

	a, _ := NewJWTAuthenticator(JWTConfig{Issuer: testIssuer, SigningKey: testSigningKey})
	f.Fuzz(func(_ *testing.T, token string) {
		_, _ = a.Authenticate(WithToken(context.Background(), token))
	})
}
