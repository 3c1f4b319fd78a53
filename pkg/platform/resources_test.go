package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maratron-ai/maratron-monorepo/pkg/isolation"
	"github.com/maratron-ai/maratron-monorepo/pkg/validate"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		period  string
		want    int
		wantErr bool
	}{
		{period: "7d", want: 7},
		{period: "30d", want: 30},
		{period: "month", want: defaultSummaryDays},
		{period: "", want: defaultSummaryDays},
		{period: "0d", wantErr: true},
		{period: "xd", wantErr: true},
		{period: "99999d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			got, err := parsePeriod(tt.period)
			if tt.wantErr {
				var invalid *validate.ValidationError
				require.True(t, errors.As(err, &invalid), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNumber(t *testing.T) {
	assert.InDelta(t, 4, number(int64(4)), 0)
	assert.InDelta(t, 2.5, number(2.5), 0)
	assert.InDelta(t, 12.75, number("12.75"), 0)
	assert.InDelta(t, 0, number(nil), 0)
}

func TestBuildSchema(t *testing.T) {
	got := buildSchema([]isolation.Row{
		{"table_name": "Runs", "column_name": "id", "data_type": "text", "is_nullable": "NO"},
		{"table_name": "Runs", "column_name": "pace", "data_type": "text", "is_nullable": "YES"},
		{"table_name": "Users", "column_name": "id", "data_type": "text", "is_nullable": "NO"},
	})

	require.Len(t, got.Tables, 2)
	assert.Equal(t, "Runs", got.Tables[0].Name)
	assert.Equal(t, []schemaColumn{
		{Name: "id", Type: "text", Nullable: false},
		{Name: "pace", Type: "text", Nullable: true},
	}, got.Tables[0].Columns)
	assert.Equal(t, "Users", got.Tables[1].Name)

	assert.Empty(t, buildSchema(nil).Tables)
}

func TestParseTemplateVars(t *testing.T) {
	vars, err := parseTemplateVars(runSummaryTemplate, "runs://user/abc/summary/7d")
	require.NoError(t, err)
	assert.Equal(t, "abc", vars["user_id"])
	assert.Equal(t, "7d", vars["period"])

	_, err = parseTemplateVars(userShoesTemplate, "runs://user/abc/recent")
	require.ErrorIs(t, err, ErrNotFound)
}
