package geofence

import "math"

// EarthRadiusMeters is the mean radius used for the spherical-earth approximation.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fix is a reporter position with its horizontal accuracy in meters.
// A zero or negative accuracy means none was reported, and such a fix is
// never precise enough.
type Fix struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	AccuracyMeters float64 `json:"accuracy_meters"`
}

// Coordinate returns the position part of the fix.
func (f Fix) Coordinate() Coordinate {
	return Coordinate{Lat: f.Lat, Lon: f.Lon}
}

// Reason explains why a fix was not admissible.
type Reason string

const (
	ReasonLocationUnavailable Reason = "location_unavailable"
	ReasonTooFar              Reason = "too_far"
	ReasonLowAccuracy         Reason = "low_accuracy"
)

// Result is the outcome of Evaluate. Distance is nil when no distance
// could be computed (venue without coordinate or no fix).
type Result struct {
	Admissible bool
	Distance   *float64
	Reason     Reason
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Evaluate decides whether a reporter fix is close and precise enough to
// report for a venue. A venue without a coordinate is always admissible.
func Evaluate(fix *Fix, venue *Coordinate, radiusMeters, maxAccuracyMeters float64) Result {
	if venue == nil {
		return Result{Admissible: true}
	}
	if fix == nil {
		return Result{Reason: ReasonLocationUnavailable}
	}

	dist := DistanceMeters(fix.Coordinate(), *venue)
	res := Result{Distance: &dist}
	switch {
	case dist > radiusMeters:
		res.Reason = ReasonTooFar
	case fix.AccuracyMeters <= 0 || fix.AccuracyMeters > maxAccuracyMeters:
		res.Reason = ReasonLowAccuracy
	default:
		res.Admissible = true
	}
	return res
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
