package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var northAve = Coordinate{Lat: 33.7712846105461, Lon: -84.39142581349368}

// fixNorthOf returns a fix the given number of meters due north of c.
func fixNorthOf(c Coordinate, meters, accuracy float64) *Fix {
	dLat := meters / EarthRadiusMeters * 180 / 3.141592653589793
	return &Fix{Lat: c.Lat + dLat, Lon: c.Lon, AccuracyMeters: accuracy}
}

func TestDistanceMeters(t *testing.T) {
	assert.InDelta(t, 0, DistanceMeters(northAve, northAve), 1e-9)

	f := fixNorthOf(northAve, 140, 0)
	assert.InDelta(t, 140, DistanceMeters(f.Coordinate(), northAve), 1e-6)

	// North Ave to West Village is roughly 1.5 km across campus.
	willage := Coordinate{Lat: 33.77982273684821, Lon: -84.40470500216735}
	d := DistanceMeters(northAve, willage)
	assert.Greater(t, d, 1400.0)
	assert.Less(t, d, 1700.0)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		fix        *Fix
		venue      *Coordinate
		admissible bool
		reason     Reason
	}{
		{"near and precise", fixNorthOf(northAve, 140, 50), &northAve, true, ""},
		{"near but coarse", fixNorthOf(northAve, 140, 150), &northAve, false, ReasonLowAccuracy},
		{"far but precise", fixNorthOf(northAve, 200, 10), &northAve, false, ReasonTooFar},
		{"exactly on the boundary", fixNorthOf(northAve, 149.999, 100), &northAve, true, ""},
		{"negative accuracy", fixNorthOf(northAve, 10, -1), &northAve, false, ReasonLowAccuracy},
		{"accuracy not reported", fixNorthOf(northAve, 10, 0), &northAve, false, ReasonLowAccuracy},
		{"no fix", nil, &northAve, false, ReasonLocationUnavailable},
		{"venue without coordinate", fixNorthOf(northAve, 5000, 900), nil, true, ""},
		{"venue without coordinate and no fix", nil, nil, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.fix, tt.venue, 150, 100)
			assert.Equal(t, tt.admissible, res.Admissible)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestEvaluateReportsDistance(t *testing.T) {
	res := Evaluate(fixNorthOf(northAve, 200, 10), &northAve, 150, 100)
	require.NotNil(t, res.Distance)
	assert.InDelta(t, 200, *res.Distance, 1e-6)

	res = Evaluate(nil, nil, 150, 100)
	assert.Nil(t, res.Distance)
}
