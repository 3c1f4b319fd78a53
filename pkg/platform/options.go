package platform

import (
	"database/sql"
	"time"

	"github.com/maratron-ai/maratron-monorepo/pkg/audit"
	"github.com/maratron-ai/maratron-monorepo/pkg/auth"
	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	"github.com/maratron-ai/maratron-monorepo/pkg/users"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// Database connection (optional, will be opened from config if not provided).
	DB *sql.DB

	// SessionStore (optional, will be created from config if not provided).
	SessionStore session.Store

	// Directory (optional, defaults to the "Users" table).
	Directory users.Directory

	// AuditLogger receives audit events in addition to the configured sinks.
	AuditLogger audit.Logger

	// AuditReader (optional) serves get_security_events. Defaults to the
	// persisted audit store or the in-memory ring.
	AuditReader audit.Reader

	// Authenticator (optional, will be created from config if not provided).
	Authenticator auth.Authenticator

	// Now (optional) is the clock shared by the session manager and the
	// rate limiter.
	Now func() time.Time
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) {
		o.DB = db
	}
}

// WithSessionStore sets the durable session store.
func WithSessionStore(store session.Store) Option {
	return func(o *Options) {
		o.SessionStore = store
	}
}

// WithDirectory sets the user directory.
func WithDirectory(dir users.Directory) Option {
	return func(o *Options) {
		o.Directory = dir
	}
}

// WithAuditLogger adds an audit sink.
func WithAuditLogger(logger audit.Logger) Option {
	return func(o *Options) {
		o.AuditLogger = logger
	}
}

// WithAuditReader sets the source of get_security_events.
func WithAuditReader(reader audit.Reader) Option {
	return func(o *Options) {
		o.AuditReader = reader
	}
}

// WithAuthenticator sets the authenticator.
func WithAuthenticator(authenticator auth.Authenticator) Option {
	return func(o *Options) {
		o.Authenticator = authenticator
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}
