// Package main provides the entry point for the maratron-mcp server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "github.com/maratron-ai/maratron-monorepo/internal/server"
	"github.com/maratron-ai/maratron-monorepo/pkg/health"
	"github.com/maratron-ai/maratron-monorepo/pkg/platform"
)

// databaseURLEnv supplies database.dsn when the config leaves it empty.
const databaseURLEnv = "DATABASE_URL"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	showVersion bool
}

func parseFlags(args []string) (serverOptions, error) {
	opts := serverOptions{}
	fs := flag.NewFlagSet("maratron-mcp", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.transport, "transport", "", "Transport type: stdio, http (overrides config)")
	fs.StringVar(&opts.address, "address", "", "Listen address for the http transport (overrides config)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parsing flags: %w", err)
	}
	return opts, nil
}

// loadConfig reads the config file, or the defaults when none is given,
// and applies flag and environment overrides before validating.
func loadConfig(opts serverOptions) (*platform.Config, error) {
	var (
		cfg *platform.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = platform.LoadConfig(opts.configPath)
	} else {
		cfg, err = platform.LoadConfigFromBytes(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = os.Getenv(databaseURLEnv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to w, never stdout, which
// carries the stdio transport.
func newLogger(cfg platform.LoggingConfig, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("maratron-mcp version %s\n", mcpserver.Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Logging, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := platform.New(platform.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating platform: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}
	slog.Info("maratron-mcp started",
		"version", cfg.Server.Version,
		"transport", cfg.Server.Transport,
	)

	serveErr := startServer(ctx, p, cfg)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	stopErr := p.Stop(stopCtx)
	slog.Info("maratron-mcp stopped")

	return errors.Join(serveErr, stopErr)
}

// startServer serves the platform on the configured transport until ctx
// is done or the client goes away.
func startServer(ctx context.Context, p *platform.Platform, cfg *platform.Config) error {
	switch cfg.Server.Transport {
	case platform.TransportStdio:
		err := p.MCPServer().Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("serving stdio: %w", err)
		}
		return nil
	case platform.TransportHTTP:
		checker := health.NewChecker(p.DB())
		handler := mcpserver.NewHandler(mcpserver.Options{
			MCPServer:     p.MCPServer(),
			Authenticator: p.Authenticator(),
			Health:        checker,
		})
		ln, err := net.Listen("tcp", cfg.Server.Address)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.Server.Address, err)
		}
		srv := mcpserver.New(cfg.Server.Address, handler)
		return mcpserver.Serve(ctx, srv, ln, checker, cfg.Server.ShutdownTimeout)
	default:
		return fmt.Errorf("unknown transport: %s", cfg.Server.Transport)
	}
}
