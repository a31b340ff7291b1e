package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/logger"
)

func TestParseScenario(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		sc, err := ParseScenario([]byte(`
route:
  origin: "55.75,37.61"
  destination: "55.76,37.62"
`))
		require.NoError(t, err)
		assert.Equal(t, navigation.DefaultLocale, sc.Locale)
		assert.Equal(t, 200*time.Millisecond, sc.Interval)
		assert.Equal(t, "https://router.project-osrm.org", sc.Route.OSRMURL)
		assert.InDelta(t, 55.75, sc.Route.Origin.Lat, 1e-9)
	})

	t.Run("route required", func(t *testing.T) {
		_, err := ParseScenario([]byte("deal_id: x\n"))
		assert.Error(t, err)
	})

	t.Run("bad coordinate", func(t *testing.T) {
		_, err := ParseScenario([]byte(`
route:
  origin: "north"
  destination: "55.76,37.62"
`))
		assert.Error(t, err)
	})
}

func TestScenario_BuildRoute(t *testing.T) {
	sc, err := LoadScenario("testdata/tverskaya.yaml")
	require.NoError(t, err)

	route, err := sc.BuildRoute(context.Background(), logger.NewNop())
	require.NoError(t, err)

	assert.Len(t, route.Steps, 2)
	assert.Len(t, route.Points, 4)
	assert.InDelta(t, 960, route.Distance.Meters, 1e-9)
	assert.Equal(t, "turn-left", route.Steps[1].Maneuver)

	fixes := sc.Fixes(route, time.Now())
	require.NotEmpty(t, fixes)
	assert.Equal(t, route.Points[len(route.Points)-1], fixes[len(fixes)-1].Coords)
}

func TestScenario_TrailFixes(t *testing.T) {
	sc, err := ParseScenario([]byte(`
interval: 1s
speed_kmh: 30
route:
  steps:
    - instruction: go
      distance_m: 100
      start: "55.7500,37.6100"
      end: "55.7509,37.6100"
trail:
  - "55.7500,37.6100"
  - "55.7505,37.6100"
  - "55.7509,37.6100"
`))
	require.NoError(t, err)

	route, err := sc.BuildRoute(context.Background(), logger.NewNop())
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fixes := sc.Fixes(route, start)
	require.Len(t, fixes, 3)
	assert.Equal(t, start.Add(2*time.Second), fixes[2].Timestamp)
	// heading due north
	assert.InDelta(t, 0, fixes[1].HeadingDeg, 0.5)
}

func TestRun_Arrives(t *testing.T) {
	sc, err := LoadScenario("testdata/tverskaya.yaml")
	require.NoError(t, err)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sum, err := Run(ctx, sc, &out, logger.NewNop(), false)
	require.NoError(t, err)

	assert.True(t, sum.Snapshot.Arrived)
	assert.Equal(t, 1, sum.Snapshot.LastAnnouncedStepIndex)
	assert.GreaterOrEqual(t, sum.Spoken, 2)
	assert.Positive(t, sum.Samples)
	assert.Contains(t, out.String(), "SPEAK")
	assert.Contains(t, out.String(), "route drawn")
}

func TestRun_CancelAfter(t *testing.T) {
	sc, err := LoadScenario("testdata/tverskaya.yaml")
	require.NoError(t, err)
	sc.Interval = 50 * time.Millisecond
	sc.CancelAfter = 20 * time.Millisecond

	var out bytes.Buffer
	sum, err := Run(context.Background(), sc, &out, logger.NewNop(), false)
	require.NoError(t, err)

	assert.False(t, sum.Snapshot.Arrived)
	assert.Contains(t, out.String(), string(navigation.EventCancelled))
}
