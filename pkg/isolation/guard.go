// Package isolation guards tenant-scoped database access. Every guarded
// call is checked against the current session before it reaches the
// database: a caller without a session, a caller naming another user, and
// a statement without a recognized user-scoping predicate are all refused,
// and every outcome is written to the audit trail.
//
// The predicate check is lexical. It catches statements that obviously
// lack a user filter, but it is not an authorization system; the fixed
// queries behind UserRuns, UserShoes, UserProfile and RetireShoe are the
// strong guarantee.
package isolation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/maratron-ai/maratron-monorepo/pkg/audit"
	"github.com/maratron-ai/maratron-monorepo/pkg/auth"
)

// DefaultQueryTimeout bounds every guarded database call.
const DefaultQueryTimeout = 30 * time.Second

// Operation names recorded in the audit trail.
const (
	OpFetch      = "fetch"
	OpFetchRow   = "fetch_row"
	OpExecute    = "execute"
	OpGetRuns    = "get_runs"
	OpGetShoes   = "get_shoes"
	OpGetProfile = "get_profile"
	OpRetireShoe = "retire_shoe"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CurrentUser resolves the user the process is currently acting for.
// It returns "" when there is no live session.
type CurrentUser interface {
	CurrentUserID() string
}

// Config configures a Guard.
type Config struct {
	// QueryTimeout bounds each database call. Defaults to 30s.
	QueryTimeout time.Duration

	// OwnerTables are tables whose id column is itself the user id, so an
	// "id = $n" filter scopes a write and its bound value must be the
	// current user. Defaults to "Users".
	OwnerTables []string

	// Now stamps audit events. Defaults to time.Now.
	Now func() time.Time
}

// Request is one guarded statement.
type Request struct {
	// Table is the logical table, used in messages and audit records.
	Table string

	// Query is the statement text with placeholders.
	Query string

	// Args are the bound parameters.
	Args []any

	// TargetUserID is the user whose data the caller believes it is
	// touching. When set it must equal the current user.
	TargetUserID string
}

// Row is one result row keyed by column name.
type Row map[string]any

// Guard runs tenant-scoped statements on behalf of the current user.
type Guard struct {
	db       Querier
	sessions CurrentUser
	audit    audit.Logger
	cfg      Config
}

// New creates a guard. logger receives one event per guarded call.
func New(db Querier, sessions CurrentUser, logger audit.Logger, cfg Config) *Guard {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if len(cfg.OwnerTables) == 0 {
		cfg.OwnerTables = []string{tableUsers}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{db: db, sessions: sessions, audit: logger, cfg: cfg}
}

// Fetch runs a scoped query and returns all rows.
func (g *Guard) Fetch(ctx context.Context, req Request) ([]Row, error) {
	actor, err := g.check(ctx, OpFetch, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, req.Query, req.Args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", req.Table, err)
	}
	defer func() { _ = rows.Close() }()

	out, err := scanRows(rows, 0)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.Table, err)
	}

	g.recordAccess(ctx, actor, OpFetch, req.Table, req.TargetUserID, audit.SummarizeArgs(req.Args))
	return out, nil
}

// FetchRow runs a scoped query and returns its first row, or nil when
// there is none.
func (g *Guard) FetchRow(ctx context.Context, req Request) (Row, error) {
	actor, err := g.check(ctx, OpFetchRow, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, req.Query, req.Args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", req.Table, err)
	}
	defer func() { _ = rows.Close() }()

	out, err := scanRows(rows, 1)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.Table, err)
	}

	g.recordAccess(ctx, actor, OpFetchRow, req.Table, req.TargetUserID, audit.SummarizeArgs(req.Args))
	if len(out) == 0 {
		return nil, nil //nolint:nilnil // no row is not an error
	}
	return out[0], nil
}

// Execute runs a scoped statement and returns the number of rows
// affected. UPDATE and DELETE must filter by user; INSERT must name the
// owning user in TargetUserID.
func (g *Guard) Execute(ctx context.Context, req Request) (int64, error) {
	actor, err := g.check(ctx, OpExecute, req)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	res, err := g.db.ExecContext(ctx, req.Query, req.Args...)
	if err != nil {
		return 0, fmt.Errorf("executing on %s: %w", req.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}

	g.recordAccess(ctx, actor, OpExecute, req.Table, req.TargetUserID, audit.SummarizeArgs(req.Args))
	return n, nil
}

// check walks the guard's decision sequence: session, target, statement
// shape, bound values. The first failure is audited and returned.
func (g *Guard) check(ctx context.Context, op string, req Request) (string, error) {
	actor := g.sessions.CurrentUserID()
	d := denial{actor: actor, op: op, table: req.Table, target: req.TargetUserID, args: req.Args}

	if actor == "" {
		return "", g.deny(ctx, d, ReasonNoSession, "No user session active")
	}
	if req.TargetUserID != "" && req.TargetUserID != actor {
		return "", g.deny(ctx, d, ReasonCrossUser, "Can only access your own data")
	}

	sh := Inspect(req.Query)
	switch {
	case sh.Verb == "":
		return "", g.deny(ctx, d, ReasonEmptyStatement, "Statement is empty: "+req.Table)
	case sh.Forbidden:
		return "", g.deny(ctx, d, ReasonForbidden, "Statement not permitted: "+req.Table)
	case sh.Writes:
		if !sh.TenantFilter && !(sh.IDLookup && g.ownerTable(req.Table)) {
			return "", g.deny(ctx, d, ReasonMissingFilter, "Modification must filter by user: "+req.Table)
		}
	case sh.Inserts:
		if req.TargetUserID == "" {
			return "", g.deny(ctx, d, ReasonMissingOwner, "Insert must name the owning user: "+req.Table)
		}
	case !sh.Scoped():
		return "", g.deny(ctx, d, ReasonMissingFilter, "Query must filter by user: "+req.Table)
	}

	bound := sh.TenantValues
	if g.ownerTable(req.Table) {
		bound = append(slices.Clone(bound), sh.IDValues...)
	}
	for _, v := range bound {
		if got, ok := resolve(v, req.Args); ok && got != actor {
			if d.target == "" {
				d.target = got
			}
			return "", g.deny(ctx, d, ReasonCrossUser, "Can only access your own data")
		}
	}
	return actor, nil
}

// checkOwner is the explicit target check the fixed-shape getters run
// before the generic one.
func (g *Guard) checkOwner(ctx context.Context, op, table, target, message string) (string, error) {
	actor := g.sessions.CurrentUserID()
	d := denial{actor: actor, op: op, table: table, target: target}
	if actor == "" {
		return "", g.deny(ctx, d, ReasonNoSession, "No user session active")
	}
	if target != actor {
		return "", g.deny(ctx, d, ReasonCrossUser, message)
	}
	return actor, nil
}

func (g *Guard) ownerTable(table string) bool {
	return slices.Contains(g.cfg.OwnerTables, table)
}

type denial struct {
	actor  string
	op     string
	table  string
	target string
	args   []any
}

// deny records exactly one violation event and returns the error.
func (g *Guard) deny(ctx context.Context, d denial, reason, message string) error {
	actor := d.actor
	if actor == "" {
		actor = audit.UnknownActor
	}

	event := audit.NewViolation(actor, d.op, reason).
		WithTimestamp(g.cfg.Now()).
		WithTable(d.table).
		WithTarget(d.target).
		WithPrincipal(auth.Principal(ctx))
	if len(d.args) > 0 {
		event.WithParams(audit.SummarizeArgs(d.args))
	}
	if err := g.audit.Log(ctx, *event); err != nil {
		slog.Error("failed to record security violation", "operation", d.op, "error", err)
	}

	return &AccessDeniedError{
		Actor:     actor,
		Target:    d.target,
		Operation: d.op,
		Table:     d.table,
		Reason:    reason,
		Message:   message,
	}
}

func (g *Guard) recordAccess(ctx context.Context, actor, op, table, target string, params map[string]any) {
	if target == "" {
		target = actor
	}
	event := audit.NewAccess(actor, op).
		WithTimestamp(g.cfg.Now()).
		WithTable(table).
		WithTarget(target).
		WithPrincipal(auth.Principal(ctx)).
		WithParams(params)
	if err := g.audit.Log(ctx, *event); err != nil {
		slog.Error("failed to record data access", "operation", op, "error", err)
	}
}

// resolve returns the string form of a compared value.
func resolve(v Value, args []any) (string, bool) {
	if v.IsLit {
		return v.Literal, true
	}
	if v.Param < 1 || v.Param > len(args) {
		return "", false
	}
	switch a := args[v.Param-1].(type) {
	case string:
		return a, true
	case []byte:
		return string(a), true
	case fmt.Stringer:
		return a.String(), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(a), true
	}
}

// scanRows reads up to limit rows (all when limit is 0) into maps.
func scanRows(rows *sql.Rows, limit int) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			return out, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}
