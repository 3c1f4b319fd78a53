package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"

	"github.com/maratron-ai/maratron-monorepo/pkg/isolation"
	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	"github.com/maratron-ai/maratron-monorepo/pkg/validate"
)

// Resource URIs and templates.
const (
	currentProfileURI   = "user://profile"
	databaseSchemaURI   = "database://schema"
	userProfileTemplate = "users://profile/{user_id}"
	recentRunsTemplate  = "runs://user/{user_id}/recent"
	runSummaryTemplate  = "runs://user/{user_id}/summary/{period}"
	userShoesTemplate   = "shoes://user/{user_id}"
)

const (
	defaultSummaryDays = 30
	maxSummaryDays     = 3650
	daysPerWeek        = 7
)

const schemaQuery = `
	SELECT table_name, column_name, data_type, is_nullable
	FROM information_schema.columns
	WHERE table_schema = 'public'
	ORDER BY table_name, ordinal_position`

const runSummaryQuery = `
	SELECT COUNT(*) AS run_count,
		COALESCE(SUM(distance), 0) AS total_distance,
		COALESCE(AVG(distance), 0) AS avg_distance,
		COALESCE(MIN(distance), 0) AS min_distance,
		COALESCE(MAX(distance), 0) AS max_distance
	FROM "Runs"
	WHERE "userId" = $1 AND date >= $2`

// schemaColumn is one column of the database://schema listing.
type schemaColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type schemaTable struct {
	Name    string         `json:"name"`
	Columns []schemaColumn `json:"columns"`
}

type schemaResult struct {
	Tables []schemaTable `json:"tables"`
}

type runSummaryResult struct {
	UserID          string  `json:"user_id"`
	Name            string  `json:"name"`
	PeriodDays      int     `json:"period_days"`
	DistanceUnit    string  `json:"distance_unit"`
	RunCount        int     `json:"run_count"`
	TotalDistance   float64 `json:"total_distance"`
	AverageDistance float64 `json:"average_distance"`
	ShortestRun     float64 `json:"shortest_run"`
	LongestRun      float64 `json:"longest_run"`
	RunsPerWeek     float64 `json:"runs_per_week"`
}

// registerResources registers static resources and resource templates.
func (p *Platform) registerResources() {
	p.mcpServer.AddResource(&mcp.Resource{
		URI:         currentProfileURI,
		Name:        "Current User Profile",
		Description: "Profile of the current user",
		MIMEType:    "application/json",
	}, p.handleCurrentProfileResource)

	p.mcpServer.AddResource(&mcp.Resource{
		URI:         databaseSchemaURI,
		Name:        "Database Schema",
		Description: "Tables and columns of the public schema",
		MIMEType:    "application/json",
	}, p.handleSchemaResource)

	p.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: userProfileTemplate,
		Name:        "User Profile",
		Description: "Profile of a user; only the current user's profile can be read",
		MIMEType:    "application/json",
	}, p.handleUserProfileResource)

	p.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: recentRunsTemplate,
		Name:        "Recent Runs",
		Description: "A user's most recent runs in their preferred distance unit",
		MIMEType:    "application/json",
	}, p.handleRecentRunsResource)

	p.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: runSummaryTemplate,
		Name:        "Run Summary",
		Description: "Run statistics over a period such as 7d or 30d",
		MIMEType:    "application/json",
	}, p.handleRunSummaryResource)

	p.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: userShoesTemplate,
		Name:        "Shoe Collection",
		Description: "A user's active and retired shoes",
		MIMEType:    "application/json",
	}, p.handleShoesResource)
}

func (p *Platform) handleCurrentProfileResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	current := p.sessions.CurrentUserID()
	if current == "" {
		return nil, resourceError(uri, session.ErrNoActiveSession)
	}
	return p.readProfile(ctx, uri, current)
}

func (p *Platform) handleUserProfileResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	userID, err := templateUserID(userProfileTemplate, uri)
	if err != nil {
		return nil, resourceError(uri, err)
	}
	return p.readProfile(ctx, uri, userID)
}

func (p *Platform) readProfile(ctx context.Context, uri, userID string) (*mcp.ReadResourceResult, error) {
	profile, err := p.guard.UserProfile(ctx, userID)
	if err != nil {
		return nil, resourceError(uri, err)
	}
	if profile == nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}
	p.sessions.TrackTopic("user_profile")
	return marshalResourceResult(uri, profile)
}

// handleSchemaResource lists the columns of the public schema. Row counts
// are not reported: counting a shared table reads every tenant's rows.
func (p *Platform) handleSchemaResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	rows, err := p.guard.Fetch(ctx, isolation.Request{Table: "information_schema.columns", Query: schemaQuery})
	if err != nil {
		return nil, resourceError(uri, err)
	}
	p.sessions.TrackTopic("database_schema")
	return marshalResourceResult(uri, buildSchema(rows))
}

func buildSchema(rows []isolation.Row) schemaResult {
	out := schemaResult{Tables: []schemaTable{}}
	for _, r := range rows {
		table := fmt.Sprint(r["table_name"])
		if n := len(out.Tables); n == 0 || out.Tables[n-1].Name != table {
			out.Tables = append(out.Tables, schemaTable{Name: table})
		}
		t := &out.Tables[len(out.Tables)-1]
		t.Columns = append(t.Columns, schemaColumn{
			Name:     fmt.Sprint(r["column_name"]),
			Type:     fmt.Sprint(r["data_type"]),
			Nullable: fmt.Sprint(r["is_nullable"]) == "YES",
		})
	}
	return out
}

func (p *Platform) handleRecentRunsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	userID, err := templateUserID(recentRunsTemplate, uri)
	if err != nil {
		return nil, resourceError(uri, err)
	}

	runs, err := p.guard.UserRuns(ctx, userID, p.sessions.MaxResults())
	if err != nil {
		return nil, resourceError(uri, err)
	}
	p.sessions.TrackTopic(recentRunsTopic)

	unit := p.sessions.DistanceUnit()
	return marshalResourceResult(uri, runsOutput{
		UserID:       userID,
		DistanceUnit: string(unit),
		Count:        len(runs),
		Runs:         convertRuns(runs, unit),
	})
}

// handleRunSummaryResource aggregates the user's runs over the period.
// Distances are summed as stored and labelled with the user's default
// unit.
func (p *Platform) handleRunSummaryResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	vars, err := parseTemplateVars(runSummaryTemplate, uri)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}
	userID := vars["user_id"]
	if err := validate.UserID(userID); err != nil {
		return nil, resourceError(uri, err)
	}
	days, err := parsePeriod(vars["period"])
	if err != nil {
		return nil, resourceError(uri, err)
	}

	profile, err := p.guard.UserProfile(ctx, userID)
	if err != nil {
		return nil, resourceError(uri, err)
	}
	if profile == nil {
		return nil, mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}

	since := p.now().Add(-time.Duration(days) * 24 * time.Hour)
	row, err := p.guard.FetchRow(ctx, isolation.Request{
		Table:        "Runs",
		Query:        runSummaryQuery,
		Args:         []any{userID, since},
		TargetUserID: userID,
	})
	if err != nil {
		return nil, resourceError(uri, err)
	}
	p.sessions.TrackTopic("run_summary")

	unit := profile.DefaultDistanceUnit
	if unit == "" {
		unit = string(session.Miles)
	}
	out := runSummaryResult{UserID: userID, Name: profile.Name, PeriodDays: days, DistanceUnit: unit}
	if row != nil {
		out.RunCount = int(number(row["run_count"]))
		out.TotalDistance = round2(number(row["total_distance"]))
		out.AverageDistance = round2(number(row["avg_distance"]))
		out.ShortestRun = round2(number(row["min_distance"]))
		out.LongestRun = round2(number(row["max_distance"]))
		out.RunsPerWeek = math.Round(float64(out.RunCount)*daysPerWeek/float64(days)*10) / 10
	}
	return marshalResourceResult(uri, out)
}

func (p *Platform) handleShoesResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	userID, err := templateUserID(userShoesTemplate, uri)
	if err != nil {
		return nil, resourceError(uri, err)
	}

	shoes, err := p.guard.UserShoes(ctx, userID)
	if err != nil {
		return nil, resourceError(uri, err)
	}
	p.sessions.TrackTopic(shoesTopic)
	return marshalResourceResult(uri, splitShoes(userID, shoes))
}

// parsePeriod reads a period such as "30d". A period without the day
// suffix falls back to 30 days.
func parsePeriod(period string) (int, error) {
	digits, ok := strings.CutSuffix(period, "d")
	if !ok {
		return defaultSummaryDays, nil
	}
	days, err := strconv.Atoi(digits)
	if err != nil || days < 1 || days > maxSummaryDays {
		return 0, &validate.ValidationError{Field: "period", Expected: "a number of days such as 7d or 30d"}
	}
	return days, nil
}

// number converts a scanned aggregate to float64.
func number(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

// templateUserID extracts and validates the user_id variable.
func templateUserID(template, uri string) (string, error) {
	vars, err := parseTemplateVars(template, uri)
	if err != nil {
		return "", err
	}
	userID := vars["user_id"]
	if err := validate.UserID(userID); err != nil {
		return "", err
	}
	return userID, nil
}

// parseTemplateVars extracts named variables from a URI using a URI template.
// Returns a map of variable names to their values, or an error if the URI
// doesn't match the template.
func parseTemplateVars(templateStr, uri string) (map[string]string, error) {
	tmpl, err := uritemplate.New(templateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", templateStr, err)
	}

	match := tmpl.Match(uri)
	if match == nil {
		return nil, fmt.Errorf("%w: uri %q does not match template %q", ErrNotFound, uri, templateStr)
	}

	result := make(map[string]string)
	for _, name := range tmpl.Varnames() {
		result[name] = match.Get(name).String()
	}
	return result, nil
}

// resourceError converts err into a resource read error carrying the
// same category prefix as tool errors.
func resourceError(uri string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return mcp.ResourceNotFoundError(uri) //nolint:wrapcheck // MCP protocol error returned as-is for SDK type matching
	}
	return fmt.Errorf("reading %s: %s", uri, classify(err).text())
}

// marshalResourceResult marshals a value to JSON and wraps it in a ReadResourceResult.
func marshalResourceResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}
