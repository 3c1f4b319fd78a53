package platform

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maratron-ai/maratron-monorepo/pkg/auth"
	"github.com/maratron-ai/maratron-monorepo/pkg/isolation"
	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	"github.com/maratron-ai/maratron-monorepo/pkg/validate"
)

// CurrentConfigVersion is the config apiVersion written by this release.
const CurrentConfigVersion = "v1"

// supportedConfigVersions lists every apiVersion LoadConfig accepts.
var supportedConfigVersions = []string{CurrentConfigVersion}

// Transport names accepted in server.transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Defaults applied by LoadConfig.
const (
	defaultServerName       = "maratron-mcp"
	defaultServerVersion    = "1.0.0"
	defaultAddress          = ":8080"
	defaultShutdownTimeout  = 30 * time.Second
	defaultMaxOpenConns     = 10
	defaultRetentionDays    = 90
	defaultCleanupInterval  = 5 * time.Minute
	defaultAuditCleanup     = 24 * time.Hour
	defaultMinSigningKeyLen = 32
)

// Config holds the server configuration.
type Config struct {
	APIVersion string         `yaml:"apiVersion"`
	Server     ServerConfig   `yaml:"server"`
	Database   DatabaseConfig `yaml:"database"`
	Sessions   SessionsConfig `yaml:"sessions"`
	Security   SecurityConfig `yaml:"security"`
	Audit      AuditConfig    `yaml:"audit"`
	Auth       AuthConfig     `yaml:"auth"`
	Logging    LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`

	// Transport is "stdio" or "http".
	Transport string `yaml:"transport"`

	// Address is the listen address for the http transport.
	Address string `yaml:"address"`

	// Instructions are returned to clients on initialize.
	Instructions string `yaml:"instructions"`

	Prompts []PromptConfig `yaml:"prompts"`

	// ShutdownTimeout bounds graceful shutdown, including the final
	// session flush.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PromptConfig defines a static prompt served to clients.
type PromptConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Content     string `yaml:"content"`
}

// DatabaseConfig configures the Postgres connection shared with the web app.
type DatabaseConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// AutoMigrate applies the session and audit table migrations on start.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// SessionsConfig configures the user-session manager.
type SessionsConfig struct {
	// Persist stores sessions in the "UserSessions" table. When false
	// sessions live in memory only.
	Persist bool `yaml:"persist"`

	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	SaveInterval     time.Duration `yaml:"save_interval"`
	ExpiryInterval   time.Duration `yaml:"expiry_interval"`
	Retention        time.Duration `yaml:"retention"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	RecentRunsWindow time.Duration `yaml:"recent_runs_window"`
}

// SecurityConfig configures rate limiting and failed-attempt lockout.
type SecurityConfig struct {
	RateLimit       int           `yaml:"rate_limit"`
	RateWindow      time.Duration `yaml:"rate_window"`
	MaxFailures     int           `yaml:"max_failures"`
	FailureWindow   time.Duration `yaml:"failure_window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// AuditConfig configures the security audit trail.
type AuditConfig struct {
	// Enabled writes audit events to the structured log.
	Enabled bool `yaml:"enabled"`

	// Persist writes audit events to security_audit_logs.
	Persist bool `yaml:"persist"`

	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MemoryCapacity bounds the in-process ring used when events are
	// not persisted.
	MemoryCapacity int `yaml:"memory_capacity"`
}

// AuthConfig configures authentication of the http transport.
type AuthConfig struct {
	AllowAnonymous bool          `yaml:"allow_anonymous"`
	APIKeys        []auth.APIKey `yaml:"api_keys"`
	JWT            JWTConfig     `yaml:"jwt"`
}

// JWTConfig configures HMAC bearer tokens.
type JWTConfig struct {
	Issuer     string `yaml:"issuer"`
	SigningKey string `yaml:"signing_key"`
	RoleClaim  string `yaml:"role_claim"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes parses YAML configuration, expanding ${VAR}
// references and applying defaults.
func LoadConfigFromBytes(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	cfg := newDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if !slices.Contains(supportedConfigVersions, cfg.APIVersion) {
		return nil, fmt.Errorf("unsupported config apiVersion %q; supported versions: %s",
			cfg.APIVersion, strings.Join(supportedConfigVersions, ", "))
	}

	applyDefaults(cfg)
	return cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// newDefaultConfig returns a config whose boolean switches are set to
// their defaults, so a file that omits them keeps them on.
func newDefaultConfig() *Config {
	return &Config{
		Sessions: SessionsConfig{Persist: true},
		Audit:    AuditConfig{Enabled: true, Persist: true},
	}
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = defaultServerName
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = defaultServerVersion
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = TransportStdio
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = isolation.DefaultQueryTimeout
	}
	applySessionDefaults(&cfg.Sessions)
	applySecurityDefaults(&cfg.Security)
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = defaultRetentionDays
	}
	if cfg.Audit.CleanupInterval == 0 {
		cfg.Audit.CleanupInterval = defaultAuditCleanup
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applySessionDefaults(s *SessionsConfig) {
	if s.IdleTimeout == 0 {
		s.IdleTimeout = session.DefaultIdleTimeout
	}
	if s.SaveInterval == 0 {
		s.SaveInterval = session.DefaultSaveInterval
	}
	if s.ExpiryInterval == 0 {
		s.ExpiryInterval = session.DefaultExpiryInterval
	}
	if s.Retention == 0 {
		s.Retention = session.DefaultRetention
	}
	if s.StoreTimeout == 0 {
		s.StoreTimeout = session.DefaultStoreTimeout
	}
	if s.RecentRunsWindow == 0 {
		s.RecentRunsWindow = session.DefaultRecentRunsWindow
	}
}

func applySecurityDefaults(s *SecurityConfig) {
	if s.RateLimit == 0 {
		s.RateLimit = validate.DefaultMaxRequests
	}
	if s.RateWindow == 0 {
		s.RateWindow = validate.DefaultWindow
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = validate.DefaultMaxFailures
	}
	if s.FailureWindow == 0 {
		s.FailureWindow = validate.DefaultFailureWindow
	}
	if s.CleanupInterval == 0 {
		s.CleanupInterval = defaultCleanupInterval
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Transport != TransportStdio && c.Server.Transport != TransportHTTP {
		errs = append(errs, fmt.Sprintf("server.transport must be %q or %q", TransportStdio, TransportHTTP))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	if c.Sessions.SaveInterval >= c.Sessions.IdleTimeout {
		errs = append(errs, "sessions.save_interval must be shorter than sessions.idle_timeout")
	}
	if c.Security.RateLimit < 0 || c.Security.MaxFailures < 0 {
		errs = append(errs, "security.rate_limit and security.max_failures must not be negative")
	}
	if c.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retention_days must not be negative")
	}
	errs = append(errs, c.Auth.validate(c.Server.Transport)...)

	if _, ok := logLevels[c.Logging.Level]; !ok {
		errs = append(errs, "logging.level must be one of debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, "logging.format must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (a AuthConfig) validate(transport string) []string {
	var errs []string
	if transport == TransportHTTP && !a.AllowAnonymous && len(a.APIKeys) == 0 && a.JWT.SigningKey == "" {
		errs = append(errs, "auth: http transport needs api_keys, jwt.signing_key or allow_anonymous")
	}
	for i, k := range a.APIKeys {
		if k.Name == "" || k.KeyHash == "" {
			errs = append(errs, fmt.Sprintf("auth.api_keys[%d] needs name and key_hash", i))
		}
	}
	if a.JWT.SigningKey != "" && len(a.JWT.SigningKey) < defaultMinSigningKeyLen {
		errs = append(errs, fmt.Sprintf("auth.jwt.signing_key must be at least %d bytes", defaultMinSigningKeyLen))
	}
	return errs
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the configured log level, defaulting to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	if lvl, ok := logLevels[c.Level]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// SessionConfig converts the sessions section for the session manager.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		IdleTimeout:      c.Sessions.IdleTimeout,
		SaveInterval:     c.Sessions.SaveInterval,
		ExpiryInterval:   c.Sessions.ExpiryInterval,
		Retention:        c.Sessions.Retention,
		StoreTimeout:     c.Sessions.StoreTimeout,
		RecentRunsWindow: c.Sessions.RecentRunsWindow,
	}
}

// LimiterConfig converts the security section for the rate limiter.
func (c *Config) LimiterConfig() validate.LimiterConfig {
	return validate.LimiterConfig{
		MaxRequests:   c.Security.RateLimit,
		Window:        c.Security.RateWindow,
		MaxFailures:   c.Security.MaxFailures,
		FailureWindow: c.Security.FailureWindow,
	}
}
