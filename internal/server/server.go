// Package server assembles the HTTP surface of the coaching MCP server:
// the streamable MCP endpoint behind authentication and the health probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maratron-ai/maratron-monorepo/pkg/auth"
	"github.com/maratron-ai/maratron-monorepo/pkg/health"
	httpauth "github.com/maratron-ai/maratron-monorepo/pkg/http"
)

// Version is set at build time.
var Version = "dev"

// Paths served by NewHandler.
const (
	PathMCP       = "/mcp"
	PathLiveness  = "/healthz"
	PathReadiness = "/readyz"
	PathVersion   = "/version"
)

const readHeaderTimeout = 10 * time.Second

// Options configures the HTTP handler.
type Options struct {
	// MCPServer serves every streamable session.
	MCPServer *mcp.Server

	// Authenticator guards the MCP endpoint. Nil leaves it open.
	Authenticator auth.Authenticator

	// Health backs the liveness and readiness probes.
	Health *health.Checker
}

// NewHandler returns the HTTP handler for the server.
func NewHandler(opts Options) http.Handler {
	mux := http.NewServeMux()

	var mcpHandler http.Handler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return opts.MCPServer
	}, nil)
	if opts.Authenticator != nil {
		mcpHandler = httpauth.AuthMiddleware(opts.Authenticator)(mcpHandler)
	}
	mux.Handle(PathMCP, mcpHandler)

	if opts.Health != nil {
		mux.Handle("GET "+PathLiveness, opts.Health.LivenessHandler())
		mux.Handle("GET "+PathReadiness, opts.Health.ReadinessHandler())
	}
	mux.HandleFunc("GET "+PathVersion, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": Version})
	})
	return mux
}

// New returns an http.Server for handler on addr.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Serve serves srv on ln until ctx is done, then drains: readiness turns
// to draining before the server stops accepting requests, and in-flight
// requests get up to shutdownTimeout to finish.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, checker *health.Checker, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	if checker != nil {
		checker.SetReady()
	}
	slog.Info("http server listening", "address", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	if checker != nil {
		checker.SetDraining()
	}
	slog.Info("http server draining", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}
