// Package platform wires the user-session manager, the tenant-isolation
// guard and the security audit trail into an MCP server.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maratron-ai/maratron-monorepo/pkg/audit"
	auditpostgres "github.com/maratron-ai/maratron-monorepo/pkg/audit/postgres"
	"github.com/maratron-ai/maratron-monorepo/pkg/auth"
	"github.com/maratron-ai/maratron-monorepo/pkg/database/migrate"
	"github.com/maratron-ai/maratron-monorepo/pkg/isolation"
	"github.com/maratron-ai/maratron-monorepo/pkg/middleware"
	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	sessionpostgres "github.com/maratron-ai/maratron-monorepo/pkg/session/postgres"
	"github.com/maratron-ai/maratron-monorepo/pkg/users"
	userspostgres "github.com/maratron-ai/maratron-monorepo/pkg/users/postgres"
	"github.com/maratron-ai/maratron-monorepo/pkg/validate"
)

// Platform is the main platform facade.
type Platform struct {
	config *Config
	now    func() time.Time

	// Core components
	mcpServer *mcp.Server
	lifecycle *Lifecycle

	// Storage
	db     *sql.DB
	ownsDB bool

	// Sessions and data access
	sessions  *session.Manager
	directory users.Directory
	guard     *isolation.Guard
	limiter   *validate.Limiter

	// Auth
	authenticator auth.Authenticator

	// Audit
	auditLogger audit.Logger
	auditReader audit.Reader
	auditStore  *auditpostgres.Store
}

// New creates a new platform instance. Tools, resources and prompts are
// registered immediately; background work begins with Start.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, errors.New("config is required")
	}

	p := &Platform{
		config:    options.Config,
		now:       options.Now,
		lifecycle: NewLifecycle(),
	}
	if p.now == nil {
		p.now = time.Now
	}

	if err := p.initializeComponents(options); err != nil {
		if p.ownsDB {
			_ = p.db.Close()
		}
		return nil, fmt.Errorf("initializing components: %w", err)
	}

	return p, nil
}

// initializeComponents initializes all platform components.
func (p *Platform) initializeComponents(opts *Options) error {
	if err := p.initDatabase(opts); err != nil {
		return err
	}
	p.initAudit(opts)
	p.initSessions(opts)
	if err := p.initAuth(opts); err != nil {
		return err
	}
	p.initLifecycle()
	p.finalizeSetup()
	return nil
}

// initDatabase uses the injected connection or opens one from the DSN.
func (p *Platform) initDatabase(opts *Options) error {
	if opts.DB != nil {
		p.db = opts.DB
		return nil
	}
	if p.config.Database.DSN == "" {
		return errors.New("database is required: set database.dsn")
	}

	db, err := sql.Open("postgres", p.config.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(p.config.Database.MaxOpenConns)
	p.db = db
	p.ownsDB = true
	return nil
}

// initAudit builds the audit fan-out: the structured log, the durable
// table or the in-memory ring, and any injected sink.
func (p *Platform) initAudit(opts *Options) {
	var loggers audit.MultiLogger

	if p.config.Audit.Enabled {
		loggers = append(loggers, audit.NewSlogLogger(nil))
	}
	if p.config.Audit.Persist {
		p.auditStore = auditpostgres.New(p.db, auditpostgres.Config{RetentionDays: p.config.Audit.RetentionDays})
		loggers = append(loggers, p.auditStore)
		p.auditReader = p.auditStore
	} else {
		mem := audit.NewMemoryLogger(p.config.Audit.MemoryCapacity)
		loggers = append(loggers, mem)
		p.auditReader = mem
	}
	if opts.AuditLogger != nil {
		loggers = append(loggers, opts.AuditLogger)
	}
	if opts.AuditReader != nil {
		p.auditReader = opts.AuditReader
	}
	p.auditLogger = loggers
}

// initSessions creates the session manager, the guard and the limiter.
func (p *Platform) initSessions(opts *Options) {
	store := opts.SessionStore
	if store == nil {
		if p.config.Sessions.Persist {
			store = sessionpostgres.New(p.db)
		} else {
			store = session.NewMemoryStore()
		}
	}

	p.directory = opts.Directory
	if p.directory == nil {
		p.directory = userspostgres.New(p.db)
	}

	scfg := p.config.SessionConfig()
	scfg.Now = p.now
	p.sessions = session.NewManager(store, p.directory, scfg)

	p.guard = isolation.New(p.db, p.sessions, p.auditLogger, isolation.Config{
		QueryTimeout: p.config.Database.QueryTimeout,
		Now:          p.now,
	})

	lcfg := p.config.LimiterConfig()
	lcfg.Now = p.now
	p.limiter = validate.NewLimiter(lcfg)
}

// initAuth initializes the http transport authenticator.
func (p *Platform) initAuth(opts *Options) error {
	if opts.Authenticator != nil {
		p.authenticator = opts.Authenticator
		return nil
	}
	authenticator, err := p.createAuthenticator()
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}
	p.authenticator = authenticator
	return nil
}

// createAuthenticator creates the authenticator based on config.
func (p *Platform) createAuthenticator() (auth.Authenticator, error) {
	var authenticators []auth.Authenticator

	if len(p.config.Auth.APIKeys) > 0 {
		apiKeyAuth, err := auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{Keys: p.config.Auth.APIKeys})
		if err != nil {
			return nil, fmt.Errorf("creating API key authenticator: %w", err)
		}
		authenticators = append(authenticators, apiKeyAuth)
	}

	if p.config.Auth.JWT.SigningKey != "" {
		jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     p.config.Auth.JWT.Issuer,
			SigningKey: []byte(p.config.Auth.JWT.SigningKey),
			RoleClaim:  p.config.Auth.JWT.RoleClaim,
		})
		if err != nil {
			return nil, fmt.Errorf("creating JWT authenticator: %w", err)
		}
		authenticators = append(authenticators, jwtAuth)
	}

	return auth.NewChainedAuthenticator(
		auth.ChainedAuthConfig{AllowAnonymous: p.config.Auth.AllowAnonymous},
		authenticators...,
	), nil
}

// initLifecycle registers background components. The database is
// registered first so it closes after the final session flush.
func (p *Platform) initLifecycle() {
	if p.ownsDB {
		p.lifecycle.AppendCloser("database", p.db)
	}
	if p.config.Database.AutoMigrate {
		p.lifecycle.Append("migrations", func(context.Context) error {
			return migrate.Run(p.db)
		}, nil)
	}
	if p.auditStore != nil {
		p.lifecycle.Append("audit retention",
			func(context.Context) error {
				p.auditStore.StartCleanupRoutine(p.config.Audit.CleanupInterval)
				return nil
			},
			func(context.Context) error {
				return p.auditStore.Close()
			})
	}
	p.lifecycle.Append("rate limiter",
		func(context.Context) error {
			p.limiter.StartCleanupRoutine(p.config.Security.CleanupInterval)
			return nil
		},
		func(context.Context) error {
			return p.limiter.Close()
		})
	p.lifecycle.Append("sessions",
		func(context.Context) error {
			p.sessions.Start()
			return nil
		},
		p.sessions.Close)
}

// finalizeSetup creates the MCP server and registers its surface.
func (p *Platform) finalizeSetup() {
	p.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    p.config.Server.Name,
		Version: p.config.Server.Version,
	}, &mcp.ServerOptions{
		Instructions: p.config.Server.Instructions,
	})

	// Last added runs first: the principal middleware sets the call
	// context the logging middleware reads.
	p.mcpServer.AddReceivingMiddleware(middleware.MCPLoggingMiddleware())
	p.mcpServer.AddReceivingMiddleware(middleware.MCPPrincipalMiddleware(p.authenticator, p.config.Server.Transport))

	p.registerSessionTools()
	p.registerDataTools()
	p.registerResources()
	p.registerPlatformPrompts()
	p.validateInstructions()
}

// Start starts background session persistence and cleanup.
func (p *Platform) Start(ctx context.Context) error {
	return p.lifecycle.Start(ctx)
}

// Stop stops background work, flushes dirty sessions within ctx and
// closes the database if the platform opened it.
func (p *Platform) Stop(ctx context.Context) error {
	return p.lifecycle.Stop(ctx)
}

// MCPServer returns the MCP server.
func (p *Platform) MCPServer() *mcp.Server {
	return p.mcpServer
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// DB returns the database connection.
func (p *Platform) DB() *sql.DB {
	return p.db
}

// Sessions returns the session manager.
func (p *Platform) Sessions() *session.Manager {
	return p.sessions
}

// Guard returns the isolation guard.
func (p *Platform) Guard() *isolation.Guard {
	return p.guard
}

// Authenticator returns the http transport authenticator.
func (p *Platform) Authenticator() auth.Authenticator {
	return p.authenticator
}
