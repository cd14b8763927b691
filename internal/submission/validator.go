package submission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"forked/internal/geofence"
	"forked/internal/metrics"
)

// Policy holds the thresholds applied by the validator.
type Policy struct {
	RateLimit         time.Duration
	GeofenceMeters    float64
	MaxAccuracyMeters float64
}

// DefaultPolicy mirrors the thresholds used by reporting clients.
func DefaultPolicy() Policy {
	return Policy{
		RateLimit:         300 * time.Second,
		GeofenceMeters:    150,
		MaxAccuracyMeters: 100,
	}
}

// Tx is the view of the shared store available inside one validation
// transaction. Implementations must serialize concurrent transactions that
// touch the same marker.
type Tx interface {
	MarkerLast(ctx context.Context, markerID string) (time.Time, bool, error)
	SetMarker(ctx context.Context, markerID string, at time.Time) error
	// HallCoordinate returns nil when the hall is unknown or has no coordinate.
	HallCoordinate(ctx context.Context, hallID string) (*geofence.Coordinate, error)
	SetVerdict(ctx context.Context, recordID string, v Verdict) error
}

// Store runs validation transactions. fn's writes are applied atomically
// when it returns nil and discarded otherwise.
type Store interface {
	RunInTx(ctx context.Context, fn func(Tx) error) error
	SetVerdict(ctx context.Context, recordID string, v Verdict) error
}

// Validator stamps submission records with the authoritative verdict.
type Validator struct {
	store   Store
	policy  Policy
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewValidator(store Store, policy Policy, m *metrics.Metrics, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{store: store, policy: policy, metrics: m, log: logger, now: time.Now}
}

// WithClock replaces the time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Handle validates rec once. Rejections are returned as verdicts; the error
// is non-nil only when the store failed, in which case the record has been
// marked server_error on a best-effort basis.
//
// Handling the same record again runs the marker transaction again: the
// replay observes the marker written by the first run and is stamped
// rate_limited, so the window is consumed once.
func (v *Validator) Handle(ctx context.Context, rec Record) (Verdict, error) {
	ctx, span := otel.Tracer("forked/submission").Start(ctx, "submission.validate")
	defer span.End()
	span.SetAttributes(
		attribute.String("submission.id", rec.ID),
		attribute.String("hall.id", rec.HallID),
		attribute.String("submission.kind", string(rec.Kind)),
	)

	now := v.now()

	if rec.HallID == "" || rec.Kind == "" {
		verdict := Verdict{Validated: false, Reason: ReasonMissingHallOrType, At: now}
		if err := v.store.SetVerdict(ctx, rec.ID, verdict); err != nil {
			span.RecordError(err)
			return verdict, fmt.Errorf("stamp %s: %w", rec.ID, err)
		}
		v.observe(rec, verdict)
		return verdict, nil
	}

	markerID, limited := MarkerID(rec.Identity(), rec.HallID, rec.Kind)

	var verdict Verdict
	err := v.store.RunInTx(ctx, func(tx Tx) error {
		if limited {
			last, ok, err := tx.MarkerLast(ctx, markerID)
			if err != nil {
				return err
			}
			if ok && now.Sub(last) < v.policy.RateLimit {
				verdict = Verdict{Validated: false, Reason: ReasonRateLimited, At: now}
				return tx.SetVerdict(ctx, rec.ID, verdict)
			}
			if err := tx.SetMarker(ctx, markerID, now); err != nil {
				return err
			}
		}

		locationVerified := false
		if rec.Location != nil {
			coord, err := tx.HallCoordinate(ctx, rec.HallID)
			if err != nil {
				return err
			}
			if coord != nil {
				fix := rec.Location.Fix()
				locationVerified = geofence.Evaluate(&fix, coord, v.policy.GeofenceMeters, v.policy.MaxAccuracyMeters).Admissible
			}
		}

		verdict = Verdict{Validated: true, LocationVerified: locationVerified, At: now}
		return tx.SetVerdict(ctx, rec.ID, verdict)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation transaction failed")
		verdict = Verdict{Validated: false, Reason: ReasonServerError, At: now}
		if serr := v.store.SetVerdict(ctx, rec.ID, verdict); serr != nil {
			v.log.Error("stamp server_error failed", "submission_id", rec.ID, "error", serr)
		}
		v.log.Error("validate submission", "submission_id", rec.ID, "hall_id", rec.HallID, "error", err)
		v.observe(rec, verdict)
		return verdict, fmt.Errorf("validate %s: %w", rec.ID, err)
	}

	v.observe(rec, verdict)
	return verdict, nil
}

func (v *Validator) observe(rec Record, verdict Verdict) {
	v.metrics.Verdict(verdict.Validated, string(verdict.Reason), verdict.LocationVerified)
	v.log.Info("submission validated",
		"submission_id", rec.ID,
		"hall_id", rec.HallID,
		"kind", rec.Kind,
		"identity", rec.Identity().Kind().String(),
		"validated", verdict.Validated,
		"reason", verdict.Reason,
		"location_verified", verdict.LocationVerified,
	)
}
