package platform

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maratron-ai/maratron-monorepo/pkg/audit"
	"github.com/maratron-ai/maratron-monorepo/pkg/isolation"
	"github.com/maratron-ai/maratron-monorepo/pkg/session"
	"github.com/maratron-ai/maratron-monorepo/pkg/validate"
)

const (
	kilometersPerMile     = 1.60934
	defaultEventLimit     = 50
	maxEventLimit         = 200
	maxShoeIDLength       = 100
	shoeIDExpectation     = "a non-empty id of at most 100 characters"
	eventKindExpectation  = `"access" or "violation"`
	recentRunsTopic       = "runs"
	shoesTopic            = "shoes"
	securityEventsTopic   = "security_events"
	retiredShoeStatusText = "shoe retired"
)

type runsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum runs to return, 1-100; defaults to the user's max_results_per_query"`
}

type shoesInput struct {
	IncludeRetired bool `json:"include_retired,omitempty" jsonschema:"also list retired shoes"`
}

type retireShoeInput struct {
	ShoeID string `json:"shoe_id" jsonschema:"id of one of the current user's shoes"`
}

type securityEventsInput struct {
	Kind  string `json:"kind,omitempty" jsonschema:"only events of this kind: access or violation"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum events to return, 1-200, default 50"`
}

// runOutput is a run with its distance in the user's preferred unit.
type runOutput struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	Name          string    `json:"name,omitempty"`
	Distance      float64   `json:"distance"`
	DistanceUnit  string    `json:"distance_unit"`
	Duration      string    `json:"duration"`
	Pace          string    `json:"pace,omitempty"`
	ElevationGain *float64  `json:"elevation_gain,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

type runsOutput struct {
	UserID       string      `json:"user_id"`
	DistanceUnit string      `json:"distance_unit"`
	Count        int         `json:"count"`
	Runs         []runOutput `json:"runs"`
}

type shoeOutput struct {
	isolation.Shoe
	UsagePercent float64 `json:"usage_percent"`
}

type shoesOutput struct {
	UserID  string       `json:"user_id"`
	Active  []shoeOutput `json:"active"`
	Retired []shoeOutput `json:"retired,omitempty"`
}

type retireShoeOutput struct {
	Status string `json:"status"`
	ShoeID string `json:"shoe_id"`
}

type securityEventsOutput struct {
	UserID string        `json:"user_id"`
	Count  int           `json:"count"`
	Events []audit.Event `json:"events"`
}

// registerDataTools registers the tools that read or change coach data
// through the isolation guard.
func (p *Platform) registerDataTools() {
	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolListRecentRuns,
		Description: "List the current user's most recent runs, in the user's preferred distance unit.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in runsInput) (*mcp.CallToolResult, any, error) {
		return p.handleListRecentRuns(ctx, in)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolListShoes,
		Description: "List the current user's shoes with their mileage.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in shoesInput) (*mcp.CallToolResult, any, error) {
		return p.handleListShoes(ctx, in)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolRetireShoe,
		Description: "Mark one of the current user's shoes as retired.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in retireShoeInput) (*mcp.CallToolResult, any, error) {
		return p.handleRetireShoe(ctx, in)
	})

	mcp.AddTool(p.mcpServer, &mcp.Tool{
		Name:        toolGetSecurityEvents,
		Description: "List recent security audit events recorded for the current user.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in securityEventsInput) (*mcp.CallToolResult, any, error) {
		return p.handleGetSecurityEvents(ctx, in)
	})
}

func (p *Platform) handleListRecentRuns(ctx context.Context, in runsInput) (*mcp.CallToolResult, any, error) {
	current := p.sessions.CurrentUserID()
	if current == "" {
		return errorResult(session.ErrNoActiveSession)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = p.sessions.MaxResults()
	}

	runs, err := p.guard.UserRuns(ctx, current, limit)
	if err != nil {
		return errorResult(err)
	}
	p.sessions.TrackAction(toolListRecentRuns)
	p.sessions.TrackTopic(recentRunsTopic)

	unit := p.sessions.DistanceUnit()
	return jsonResult(runsOutput{
		UserID:       current,
		DistanceUnit: string(unit),
		Count:        len(runs),
		Runs:         convertRuns(runs, unit),
	})
}

func (p *Platform) handleListShoes(ctx context.Context, in shoesInput) (*mcp.CallToolResult, any, error) {
	current := p.sessions.CurrentUserID()
	if current == "" {
		return errorResult(session.ErrNoActiveSession)
	}

	shoes, err := p.guard.UserShoes(ctx, current)
	if err != nil {
		return errorResult(err)
	}
	p.sessions.TrackAction(toolListShoes)
	p.sessions.TrackTopic(shoesTopic)

	out := splitShoes(current, shoes)
	if !in.IncludeRetired {
		out.Retired = nil
	}
	return jsonResult(out)
}

func (p *Platform) handleRetireShoe(ctx context.Context, in retireShoeInput) (*mcp.CallToolResult, any, error) {
	current := p.sessions.CurrentUserID()
	if current == "" {
		return errorResult(session.ErrNoActiveSession)
	}
	if in.ShoeID == "" || len(in.ShoeID) > maxShoeIDLength {
		return errorResult(&validate.ValidationError{Field: "shoe_id", Expected: shoeIDExpectation})
	}

	updated, err := p.guard.RetireShoe(ctx, current, in.ShoeID)
	if err != nil {
		return errorResult(err)
	}
	if !updated {
		return errorResult(fmt.Errorf("%w: shoe %s", ErrNotFound, in.ShoeID))
	}
	p.sessions.TrackAction(toolRetireShoe)
	return jsonResult(retireShoeOutput{Status: retiredShoeStatusText, ShoeID: in.ShoeID})
}

// handleGetSecurityEvents lists the audit events whose actor is the
// current user. Events of other users are never returned.
func (p *Platform) handleGetSecurityEvents(ctx context.Context, in securityEventsInput) (*mcp.CallToolResult, any, error) {
	current := p.sessions.CurrentUserID()
	if current == "" {
		return errorResult(session.ErrNoActiveSession)
	}

	kind := audit.Kind(in.Kind)
	if kind != "" && kind != audit.KindAccess && kind != audit.KindViolation {
		return errorResult(&validate.ValidationError{Field: "kind", Expected: eventKindExpectation})
	}
	limit := in.Limit
	switch {
	case limit <= 0:
		limit = defaultEventLimit
	case limit > maxEventLimit:
		limit = maxEventLimit
	}

	events, err := p.auditReader.Query(ctx, audit.QueryFilter{Actor: current, Kind: kind, Limit: limit})
	if err != nil {
		return errorResult(fmt.Errorf("querying audit events: %w", err))
	}
	p.sessions.TrackTopic(securityEventsTopic)

	if events == nil {
		events = []audit.Event{}
	}
	return jsonResult(securityEventsOutput{UserID: current, Count: len(events), Events: events})
}

// convertRuns renders runs in unit, rounding converted distances to two
// decimals.
func convertRuns(runs []isolation.Run, unit session.DistanceUnit) []runOutput {
	out := make([]runOutput, 0, len(runs))
	for _, r := range runs {
		distance, runUnit := convertDistance(r.Distance, r.DistanceUnit, unit)
		out = append(out, runOutput{
			ID:            r.ID,
			Date:          r.Date,
			Name:          r.Name,
			Distance:      distance,
			DistanceUnit:  runUnit,
			Duration:      r.Duration,
			Pace:          r.Pace,
			ElevationGain: r.ElevationGain,
			Notes:         r.Notes,
		})
	}
	return out
}

// convertDistance converts d from one unit to another. Unknown units are
// returned unchanged.
func convertDistance(d float64, from string, to session.DistanceUnit) (float64, string) {
	switch {
	case from == string(to):
		return d, from
	case from == string(session.Miles) && to == session.Kilometers:
		return round2(d * kilometersPerMile), string(to)
	case from == string(session.Kilometers) && to == session.Miles:
		return round2(d / kilometersPerMile), string(to)
	default:
		return d, from
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func splitShoes(userID string, shoes []isolation.Shoe) shoesOutput {
	out := shoesOutput{UserID: userID, Active: []shoeOutput{}}
	for _, s := range shoes {
		so := shoeOutput{Shoe: s}
		if s.MaxDistance > 0 {
			so.UsagePercent = math.Round(s.CurrentDistance/s.MaxDistance*1000) / 10
		}
		if s.Retired {
			out.Retired = append(out.Retired, so)
		} else {
			out.Active = append(out.Active, so)
		}
	}
	return out
}
