// Package postgres provides PostgreSQL storage for sessions.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/maratron-ai/maratron-monorepo/pkg/session"
)

const sessionsTable = `"UserSessions"`

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", `"userId"`, `"sessionId"`, `"sessionData"`,
	`"createdAt"`, `"lastActivity"`, `"expiresAt"`, "active",
}

// Store implements session.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists a new session record.
func (s *Store) Insert(ctx context.Context, r *session.Record) error {
	data, err := r.MarshalData()
	if err != nil {
		return err
	}

	query, args, err := psq.Insert(sessionsTable).
		Columns(sessionColumns...).
		Values(r.ID, r.UserID, r.SessionID, string(data), r.CreatedAt, r.LastActivity, r.ExpiresAt, r.Active).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Update overwrites the payload, activity, expiry and active flag of an
// existing record.
func (s *Store) Update(ctx context.Context, r *session.Record) error {
	data, err := r.MarshalData()
	if err != nil {
		return err
	}

	query, args, err := psq.Update(sessionsTable).
		Set(`"sessionData"`, string(data)).
		Set(`"lastActivity"`, r.LastActivity).
		Set(`"expiresAt"`, r.ExpiresAt).
		Set("active", r.Active).
		Where(sq.Eq{"id": r.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// FindActive returns the most recent active, unexpired record for the user.
// Returns nil, nil if there is none.
func (s *Store) FindActive(ctx context.Context, userID string, now time.Time) (*session.Record, error) {
	query, args, err := activeQuery(now).
		Where(sq.Eq{`"userId"`: userID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	recs, err := s.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	return recs[0], nil
}

// ListActive returns every active, unexpired record, newest first.
func (s *Store) ListActive(ctx context.Context, now time.Time) ([]*session.Record, error) {
	query, args, err := activeQuery(now).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}
	return s.query(ctx, query, args)
}

// Deactivate marks a record inactive.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	query, args, err := psq.Update(sessionsTable).
		Set("active", false).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building session deactivate: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}
	return nil
}

// DeleteIdleBefore removes records whose last activity is older than
// cutoff. Rows still flagged active are included: a process that died
// without flushing never clears the flag.
func (s *Store) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psq.Delete(sessionsTable).
		Where(sq.Lt{`"lastActivity"`: cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building session cleanup: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading cleaned up session count: %w", err)
	}
	return n, nil
}

func activeQuery(now time.Time) sq.SelectBuilder {
	return psq.Select(sessionColumns...).
		From(sessionsTable).
		Where(sq.Eq{"active": true}).
		Where(sq.Gt{`"expiresAt"`: now}).
		OrderBy(`"lastActivity" DESC`)
}

func (s *Store) query(ctx context.Context, query string, args []any) ([]*session.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*session.Record
	for rows.Next() {
		rec, data, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		// A corrupt payload skips the row rather than failing recovery.
		if err := rec.UnmarshalData(data); err != nil {
			slog.Warn("skipping unreadable session record", "record_id", rec.ID, "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (*session.Record, []byte, error) {
	var rec session.Record
	var data []byte

	err := rows.Scan(&rec.ID, &rec.UserID, &rec.SessionID, &data,
		&rec.CreatedAt, &rec.LastActivity, &rec.ExpiresAt, &rec.Active)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning session row: %w", err)
	}
	return &rec, data, nil
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
