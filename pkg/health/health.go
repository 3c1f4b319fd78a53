// Package health provides readiness state tracking and HTTP health check
// handlers. Readiness also requires the database to answer a ping.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// DefaultPingTimeout bounds the database ping done by the readiness probe.
const DefaultPingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker tracks the readiness state of the server.
// It is safe for concurrent use.
type Checker struct {
	state       atomic.Int32
	db          Pinger
	pingTimeout time.Duration
}

// NewChecker creates a Checker in the Starting state. db may be nil when
// the server runs without a database.
func NewChecker(db Pinger) *Checker {
	return &Checker{db: db, pingTimeout: DefaultPingTimeout}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the Draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is Ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// CheckDatabase pings the database. A nil database is always healthy.
func (c *Checker) CheckDatabase(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	return c.db.PingContext(ctx)
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// LivenessHandler returns an http.HandlerFunc that always responds 200 OK.
// Use this for K8s livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler returns an http.HandlerFunc that responds 200 when ready
// and the database answers, and 503 otherwise.
// Use this for K8s readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: c.State()})
			return
		}
		if c.db == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: c.State()})
			return
		}
		if err := c.CheckDatabase(r.Context()); err != nil {
			slog.Warn("readiness database ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: c.State(), Database: "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: c.State(), Database: "ok"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
