// Package submission models reporting attempts and the server-side
// validator that stamps each one with an authoritative verdict.
package submission

import (
	"errors"
	"fmt"
	"time"

	"forked/internal/auth"
	"forked/internal/geofence"
)

var ErrNotFound = errors.New("submission not found")

// Kind is the reported action.
type Kind string

const (
	KindWaitTime Kind = "waitTime"
	KindSeating  Kind = "seating"
	KindRating   Kind = "rating"
)

// Reason codes stamped on rejected submissions.
type Reason string

const (
	ReasonMissingHallOrType Reason = "missing_hall_or_type"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonServerError       Reason = "server_error"
)

// Location is the position the client asserted when submitting.
// AccuracyMeters is nil when the client reported none.
type Location struct {
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
}

// Fix converts l for geofence evaluation. A missing accuracy yields a fix
// that is never precise enough.
func (l Location) Fix() geofence.Fix {
	fix := geofence.Fix{Lat: l.Lat, Lon: l.Lon}
	if l.AccuracyMeters != nil {
		fix.AccuracyMeters = *l.AccuracyMeters
	}
	return fix
}

// LocationFromFix returns nil for a nil fix.
func LocationFromFix(f *geofence.Fix) *Location {
	if f == nil {
		return nil
	}
	loc := &Location{Lat: f.Lat, Lon: f.Lon}
	if f.AccuracyMeters > 0 {
		acc := f.AccuracyMeters
		loc.AccuracyMeters = &acc
	}
	return loc
}

// Record is one reporting attempt. Only the verdict fields change after creation.
type Record struct {
	ID                   string    `json:"id"`
	HallID               string    `json:"hall_id"`
	Kind                 Kind      `json:"type"`
	UID                  string    `json:"uid,omitempty"`
	ClientIdentifierHash string    `json:"client_identifier_hash,omitempty"`
	Value                string    `json:"value"`
	Location             *Location `json:"location,omitempty"`
	CreatedAt            time.Time `json:"created_at"`

	ServerValidated        *bool      `json:"server_validated,omitempty"`
	ServerValidationReason *Reason    `json:"server_validation_reason,omitempty"`
	ServerValidatedAt      *time.Time `json:"server_validated_at,omitempty"`
	LocationVerified       bool       `json:"location_verified"`
}

// Identity returns the rate-limiting identity of the reporter.
func (r Record) Identity() auth.Identity {
	return auth.IdentityFrom(r.UID, r.ClientIdentifierHash)
}

// Verdict is what the validator stamps on a record.
type Verdict struct {
	Validated        bool
	Reason           Reason
	LocationVerified bool
	At               time.Time
}

// MarkerID derives the rate-limit marker for a submission. ok is false when
// the reporter carries no identity, in which case no rate limiting applies.
func MarkerID(id auth.Identity, hallID string, kind Kind) (string, bool) {
	key, ok := id.Key()
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s_%s_%s", key, hallID, kind), true
}
