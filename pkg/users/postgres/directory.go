// Package postgres provides the PostgreSQL-backed user directory.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/maratron-ai/maratron-monorepo/pkg/users"
)

// Directory implements users.Directory on the application's "Users" and
// "Runs" tables.
type Directory struct {
	db *sql.DB
}

// New creates a new PostgreSQL user directory.
func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Lookup returns the profile for id, or users.ErrNotFound.
func (d *Directory) Lookup(ctx context.Context, id string) (*users.Profile, error) {
	query := `
		SELECT id, name, email, "trainingLevel", goals, "defaultDistanceUnit"
		FROM "Users"
		WHERE id = $1
	`
	var (
		p             users.Profile
		trainingLevel sql.NullString
		distanceUnit  sql.NullString
		goals         []string
	)
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Email, &trainingLevel, pq.Array(&goals), &distanceUnit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	p.TrainingLevel = trainingLevel.String
	p.DefaultDistanceUnit = distanceUnit.String
	p.Goals = goals
	return &p, nil
}

// RecentRunCount returns how many runs the user logged since the given time.
func (d *Directory) RecentRunCount(ctx context.Context, id string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM "Runs" WHERE "userId" = $1 AND date >= $2`

	var count int
	if err := d.db.QueryRowContext(ctx, query, id, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting recent runs: %w", err)
	}
	return count, nil
}

// SetDistanceUnit updates the user's preferred distance unit.
func (d *Directory) SetDistanceUnit(ctx context.Context, id, unit string) error {
	query := `UPDATE "Users" SET "defaultDistanceUnit" = $1, "updatedAt" = NOW() WHERE id = $2`

	res, err := d.db.ExecContext(ctx, query, unit, id)
	if err != nil {
		return fmt.Errorf("updating distance unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return users.ErrNotFound
	}
	return nil
}

// Verify interface compliance.
var _ users.Directory = (*Directory)(nil)
