package isolation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	tableUsers = "Users"
	tableRuns  = "Runs"
	tableShoes = "Shoes"

	defaultRunLimit = 10
	maxRunLimit     = 100
)

const runsQuery = `
	SELECT id, date, duration, distance, "distanceUnit", name, pace, notes, "elevationGain"
	FROM "Runs"
	WHERE "userId" = $1
	ORDER BY date DESC
	LIMIT $2
`

const shoesQuery = `
	SELECT id, name, "maxDistance", "currentDistance", "distanceUnit", retired, notes, "createdAt"
	FROM "Shoes"
	WHERE "userId" = $1
	ORDER BY "createdAt" DESC
`

const profileQuery = `
	SELECT id, name, email, "trainingLevel", "defaultDistanceUnit", "createdAt", "updatedAt"
	FROM "Users"
	WHERE id = $1
`

const retireShoeQuery = `
	UPDATE "Shoes"
	SET retired = true, "updatedAt" = NOW()
	WHERE id = $1 AND "userId" = $2
`

// Run is one logged run.
type Run struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	Duration      string    `json:"duration"`
	Distance      float64   `json:"distance"`
	DistanceUnit  string    `json:"distance_unit"`
	Name          string    `json:"name,omitempty"`
	Pace          string    `json:"pace,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	ElevationGain *float64  `json:"elevation_gain,omitempty"`
}

// Shoe is one pair of tracked shoes.
type Shoe struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	MaxDistance     float64   `json:"max_distance"`
	CurrentDistance float64   `json:"current_distance"`
	DistanceUnit    string    `json:"distance_unit"`
	Retired         bool      `json:"retired"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Profile is a user's own profile row.
type Profile struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	TrainingLevel       string    `json:"training_level,omitempty"`
	DefaultDistanceUnit string    `json:"default_distance_unit,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// UserRuns returns the target user's most recent runs, newest first.
// limit is clamped to [1,100]; zero means 10.
func (g *Guard) UserRuns(ctx context.Context, target string, limit int) ([]Run, error) {
	switch {
	case limit <= 0:
		limit = defaultRunLimit
	case limit > maxRunLimit:
		limit = maxRunLimit
	}

	req := Request{Table: tableRuns, Query: runsQuery, Args: []any{target, limit}, TargetUserID: target}
	actor, err := g.checkFixed(ctx, OpGetRuns, req, "Can only access your own data")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, runsQuery, target, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			name, pace, notes sql.NullString
			elevation         sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Date, &r.Duration, &r.Distance, &r.DistanceUnit,
			&name, &pace, &notes, &elevation); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Name, r.Pace, r.Notes = name.String, pace.String, notes.String
		if elevation.Valid {
			r.ElevationGain = &elevation.Float64
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	g.recordAccess(ctx, actor, OpGetRuns, tableRuns, target, map[string]any{"limit": limit})
	return runs, nil
}

// UserShoes returns all of the target user's shoes, newest first.
func (g *Guard) UserShoes(ctx context.Context, target string) ([]Shoe, error) {
	req := Request{Table: tableShoes, Query: shoesQuery, Args: []any{target}, TargetUserID: target}
	actor, err := g.checkFixed(ctx, OpGetShoes, req, "Can only access your own data")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, shoesQuery, target)
	if err != nil {
		return nil, fmt.Errorf("querying shoes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var shoes []Shoe
	for rows.Next() {
		var (
			s     Shoe
			notes sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.MaxDistance, &s.CurrentDistance, &s.DistanceUnit,
			&s.Retired, &notes, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning shoe: %w", err)
		}
		s.Notes = notes.String
		shoes = append(shoes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shoes: %w", err)
	}

	g.recordAccess(ctx, actor, OpGetShoes, tableShoes, target, nil)
	return shoes, nil
}

// UserProfile returns the target user's own profile, or nil if the row
// does not exist.
func (g *Guard) UserProfile(ctx context.Context, target string) (*Profile, error) {
	req := Request{Table: tableUsers, Query: profileQuery, Args: []any{target}, TargetUserID: target}
	actor, err := g.checkFixed(ctx, OpGetProfile, req, "Can only access your own profile")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, profileQuery, target)
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying profile: %w", err)
		}
		g.recordAccess(ctx, actor, OpGetProfile, tableUsers, target, nil)
		return nil, nil //nolint:nilnil // absent profile is not an error
	}

	var (
		p                           Profile
		trainingLevel, distanceUnit sql.NullString
	)
	if err := rows.Scan(&p.ID, &p.Name, &p.Email, &trainingLevel, &distanceUnit,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}
	p.TrainingLevel = trainingLevel.String
	p.DefaultDistanceUnit = distanceUnit.String

	g.recordAccess(ctx, actor, OpGetProfile, tableUsers, target, nil)
	return &p, nil
}

// RetireShoe marks one of the target user's shoes retired. It reports
// whether a shoe was updated; a shoe owned by someone else is
// indistinguishable from a missing one.
func (g *Guard) RetireShoe(ctx context.Context, target, shoeID string) (bool, error) {
	req := Request{Table: tableShoes, Query: retireShoeQuery, Args: []any{shoeID, target}, TargetUserID: target}
	actor, err := g.checkFixed(ctx, OpRetireShoe, req, "Can only access your own data")
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	res, err := g.db.ExecContext(ctx, retireShoeQuery, shoeID, target)
	if err != nil {
		return false, fmt.Errorf("retiring shoe: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}

	g.recordAccess(ctx, actor, OpRetireShoe, tableShoes, target, map[string]any{"shoe_id": shoeID, "updated": n > 0})
	return n > 0, nil
}

// checkFixed runs the explicit owner check and then the generic guard
// over the fixed statement.
func (g *Guard) checkFixed(ctx context.Context, op string, req Request, message string) (string, error) {
	if _, err := g.checkOwner(ctx, op, req.Table, req.TargetUserID, message); err != nil {
		return "", err
	}
	return g.check(ctx, op, req)
}
