package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"forked/internal/hall"
)

// Outcome of a report.
type Outcome string

const (
	// OutcomeCommitted means the hall view changed.
	OutcomeCommitted Outcome = "committed"
	// OutcomeQueued means a wait-time vote was counted below quorum.
	OutcomeQueued Outcome = "queued"
	// OutcomeRejected means nothing was applied.
	OutcomeRejected Outcome = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	// Input rejections.
	ReasonNotSignedIn  Reason = "not_signed_in"
	ReasonUnverified   Reason = "email_unverified"
	ReasonMissingHall  Reason = "missing_hall"
	ReasonUnknownItem  Reason = "unknown_item"
	ReasonHallClosed   Reason = "hall_closed"
	ReasonInvalidValue Reason = "invalid_value"

	// Policy rejections.
	ReasonLocationNotDetermined Reason = "location_not_determined"
	ReasonLocationDenied        Reason = "location_denied"
	ReasonLocationRestricted    Reason = "location_restricted"
	ReasonLocationUnavailable   Reason = "location_unavailable"
	ReasonTooFar                Reason = "too_far"
	ReasonLowAccuracy           Reason = "low_accuracy"
	ReasonCooldown              Reason = "cooldown"
)

// Result is what the reporter is told. Message is empty for a plain commit.
type Result struct {
	Outcome   Outcome        `json:"outcome"`
	Reason    Reason         `json:"reason,omitempty"`
	Message   string         `json:"message,omitempty"`
	Label     string         `json:"label,omitempty"`
	Remaining int            `json:"votes_remaining,omitempty"`
	Distance  *float64       `json:"distance_meters,omitempty"`
	RetryIn   time.Duration  `json:"-"`
	Item      *hall.MenuItem `json:"item,omitempty"`
}

// Policy reports whether r is a geofence or cooldown rejection rather than
// an input problem.
func (r Result) Policy() bool {
	switch r.Reason {
	case ReasonLocationNotDetermined, ReasonLocationDenied, ReasonLocationRestricted,
		ReasonLocationUnavailable, ReasonTooFar, ReasonLowAccuracy, ReasonCooldown:
		return true
	}
	return false
}

func reject(reason Reason, msg string) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason, Message: msg}
}

func rejectCooldown(remaining time.Duration) Result {
	secs := int(math.Ceil(remaining.Seconds()))
	r := reject(ReasonCooldown, fmt.Sprintf("You reported recently. Try again in %d %s.", secs, plural(secs, "second", "seconds")))
	r.RetryIn = remaining
	return r
}

func rejectTooFar(name string, distance float64) Result {
	r := reject(ReasonTooFar, fmt.Sprintf("You need to be at %s to report. You are about %d m away.", name, int(math.Round(distance))))
	r.Distance = &distance
	return r
}

func rejectLowAccuracy(accuracy float64) Result {
	if accuracy <= 0 {
		return reject(ReasonLowAccuracy, "Your location has no accuracy estimate. Wait for a GPS fix and try again.")
	}
	return reject(ReasonLowAccuracy, fmt.Sprintf(
		"Your location is too imprecise (±%d m). Move somewhere with a clearer signal and try again.", int(math.Round(accuracy))))
}

func rejectSeating() Result {
	labels := make([]string, len(hall.SeatingLabels))
	for i, l := range hall.SeatingLabels {
		labels[i] = string(l)
	}
	return reject(ReasonInvalidValue, "Seating must be one of "+strings.Join(labels, ", ")+".")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
