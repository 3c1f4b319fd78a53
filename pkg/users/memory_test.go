package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memTestUserID = "7f1c2a9e-4b3d-4e8f-9a6b-1c2d3e4f5a6b"

func TestMemoryDirectory_Lookup(t *testing.T) {
	d := NewMemoryDirectory(Profile{ID: memTestUserID, Name: "Ada", Goals: []string{"sub-3"}})
	ctx := context.Background()

	p, err := d.Lookup(ctx, memTestUserID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)

	p.Goals[0] = "mutated"
	again, err := d.Lookup(ctx, memTestUserID)
	require.NoError(t, err)
	assert.Equal(t, "sub-3", again.Goals[0], "lookup must return a copy")
}

func TestMemoryDirectory_LookupNotFound(t *testing.T) {
	d := NewMemoryDirectory()

	_, err := d.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDirectory_RecentRunCount(t *testing.T) {
	d := NewMemoryDirectory(Profile{ID: memTestUserID})
	now := time.Now()
	d.AddRun(memTestUserID, now.Add(-48*time.Hour))
	d.AddRun(memTestUserID, now.Add(-40*24*time.Hour))

	count, err := d.RecentRunCount(context.Background(), memTestUserID, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryDirectory_SetDistanceUnit(t *testing.T) {
	d := NewMemoryDirectory(Profile{ID: memTestUserID, DefaultDistanceUnit: "miles"})
	ctx := context.Background()

	require.NoError(t, d.SetDistanceUnit(ctx, memTestUserID, "kilometers"))
	p, err := d.Lookup(ctx, memTestUserID)
	require.NoError(t, err)
	assert.Equal(t, "kilometers", p.DefaultDistanceUnit)

	assert.ErrorIs(t, d.SetDistanceUnit(ctx, "missing", "miles"), ErrNotFound)
}
