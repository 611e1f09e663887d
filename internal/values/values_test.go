package values

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treed/hairmqtt/internal/session"
	"github.com/treed/hairmqtt/internal/telemetry"
)

func known(names ...string) map[string]telemetry.VarHeader {
	vars := make(map[string]telemetry.VarHeader, len(names))
	for _, n := range names {
		vars[n] = telemetry.VarHeader{Name: n}
	}
	return vars
}

func TestFlatten_Sparse(t *testing.T) {
	snap := telemetry.Snapshot{
		"AirTemp":   21.5,
		"Lap":       float64(4),
		"Unknown":   "ignored",
		"WindDir":   nil,
		"CarIdxRPM": []any{1200.0, 3400.0},
	}

	got := Flatten(snap, known("AirTemp", "Lap", "WindDir", "TrackTemp", "CarIdxRPM"))

	assert.Equal(t, map[string]any{
		"AirTemp":   21.5,
		"Lap":       float64(4),
		"CarIdxRPM": []any{1200.0, 3400.0},
	}, got)
	assert.NotContains(t, got, "WindDir", "nil values are omitted, not null")
	assert.NotContains(t, got, "TrackTemp")
	assert.NotContains(t, got, "Unknown")
}

func TestFlatten_EmptyInputs(t *testing.T) {
	assert.Empty(t, Flatten(nil, known("AirTemp")))
	assert.Empty(t, Flatten(telemetry.Snapshot{"AirTemp": 1.0}, nil))
}

func TestFlattenFunc_ReportsUnencodable(t *testing.T) {
	snap := telemetry.Snapshot{
		"AirTemp": math.NaN(),
		"WindVel": []any{1.0, math.Inf(1)},
		"Lap":     float64(2),
	}

	var dropped []string
	got := FlattenFunc(snap, known("AirTemp", "WindVel", "Lap"), func(field string, err error) {
		assert.Error(t, err)
		dropped = append(dropped, field)
	})

	assert.Equal(t, map[string]any{"Lap": float64(2)}, got)
	assert.ElementsMatch(t, []string{"AirTemp", "WindVel"}, dropped)
}

func TestSessionSnapshot(t *testing.T) {
	s, err := session.Parse("WeekendInfo:\n  TrackName: spa\nDriverInfo:\n  DriverCarIdx: 2\n")
	require.NoError(t, err)

	snap, err := SessionSnapshot(s)
	require.NoError(t, err)

	weekend, ok := snap["weekend_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "spa", weekend["track_name"])

	driver, ok := snap["driver_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), driver["driver_car_idx"])

	assert.Contains(t, snap, "session_info")
	assert.Contains(t, snap, "split_time_info")
}

func TestSessionSnapshot_Nil(t *testing.T) {
	_, err := SessionSnapshot(nil)
	assert.ErrorIs(t, err, ErrNoSession)
}
