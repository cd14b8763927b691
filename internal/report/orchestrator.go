// Package report gates and applies crowd reports (wait times, seating and
// menu ratings) against the local hall view, then forwards them to the
// shared store.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"forked/internal/auth"
	"forked/internal/cooldown"
	"forked/internal/geofence"
	"forked/internal/hall"
	"forked/internal/hours"
	"forked/internal/metrics"
	"forked/internal/submission"
	"forked/internal/vote"
)

const (
	MinWaitMinutes = 1
	MaxWaitMinutes = 60
	MinRating      = 1
	MaxRating      = 5
)

// persistTimeout bounds each background write to the shared store.
const persistTimeout = 10 * time.Second

// Policy holds the reporting thresholds.
type Policy struct {
	Cooldown          time.Duration
	GeofenceMeters    float64
	MaxAccuracyMeters float64
	Quorum            int
	LocationWait      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Cooldown:          cooldown.DefaultWindow,
		GeofenceMeters:    150,
		MaxAccuracyMeters: 100,
		Quorum:            vote.DefaultQuorum,
		LocationWait:      600 * time.Millisecond,
	}
}

// Reporter is the signed-in user behind a report.
type Reporter struct {
	UID           string
	ClientHash    string
	EmailVerified bool
}

// ReporterFromClaims builds a reporter from verified token claims.
func ReporterFromClaims(c auth.Claims) Reporter {
	return Reporter{UID: c.Subject, ClientHash: c.ClientHash, EmailVerified: c.EmailVerified}
}

func (r Reporter) identity() auth.Identity {
	return auth.IdentityFrom(r.UID, r.ClientHash)
}

// SharedStore is the authoritative store that accepted reports are
// forwarded to.
type SharedStore interface {
	CommitWaitTime(ctx context.Context, hallID, label string, votes int, at time.Time) error
	CommitSeating(ctx context.Context, hallID string, seating hall.Seating, at time.Time) error
	RateItem(ctx context.Context, hallID, itemID string, rating int) error
	RecordSubmission(ctx context.Context, rec submission.Record) error
}

// Deps are the collaborators of an Orchestrator. Hours, Shared, Metrics and
// Logger are optional.
type Deps struct {
	Halls     *hall.Cache
	Hours     *hours.Schedule
	Cooldowns cooldown.Store
	Shared    SharedStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Orchestrator runs one report at a time against the local hall view. The
// location wait happens before a report takes its turn.
type Orchestrator struct {
	mu sync.Mutex

	halls   *hall.Cache
	hours   *hours.Schedule
	gate    *cooldown.Gate
	votes   *vote.Aggregator
	shared  SharedStore
	policy  Policy
	metrics *metrics.Metrics
	log     *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	pending sync.WaitGroup
}

func New(d Deps, p Policy) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		halls:   d.Halls,
		hours:   d.Hours,
		gate:    cooldown.NewGate(d.Cooldowns, p.Cooldown),
		votes:   vote.NewAggregator(d.Halls, p.Quorum),
		shared:  d.Shared,
		policy:  p,
		metrics: d.Metrics,
		log:     logger,
		tracer:  otel.Tracer("forked/report"),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Close waits for background writes to the shared store.
func (o *Orchestrator) Close() {
	o.pending.Wait()
}

// SubmitWaitTime reports how many minutes the reporter waited. The vote
// counts toward the hall's quorum for that minute value; the published wait
// time changes only once the quorum is reached.
//
// The reporter's cooldown is recorded every time a vote is counted, but it
// is not checked again while the reporter already has a vote waiting in the
// same bucket.
func (o *Orchestrator) SubmitWaitTime(ctx context.Context, r Reporter, hallID string, minutes int, loc LocationProvider) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "report.wait_time", trace.WithAttributes(
		attribute.String("hall.id", hallID), attribute.Int("minutes", minutes)))
	defer span.End()

	const action = submission.KindWaitTime
	if res, ok := o.checkReporter(r); !ok {
		return o.rejected(action, res), nil
	}
	if minutes < MinWaitMinutes || minutes > MaxWaitMinutes {
		return o.rejected(action, reject(ReasonInvalidValue,
			fmt.Sprintf("Wait time must be between %d and %d minutes.", MinWaitMinutes, MaxWaitMinutes))), nil
	}
	venue, res, ok := o.openHall(hallID)
	if !ok {
		return o.rejected(action, res), nil
	}
	fix, res, ok := o.locate(ctx, venue, loc)
	if !ok {
		return o.rejected(action, res), nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	voter, _ := r.identity().Key()
	key := cooldown.Key{Identity: voter, HallID: hallID, Action: string(action)}

	if !o.votes.HasPendingVote(hallID, voter, minutes) {
		d, err := o.gate.Check(key, now)
		if err != nil {
			return Result{}, err
		}
		if !d.Allowed {
			return o.rejected(action, rejectCooldown(d.Remaining)), nil
		}
	}
	if err := o.gate.Record(key, now); err != nil {
		return Result{}, err
	}

	vr, err := o.votes.SubmitVote(hallID, voter, minutes, now)
	if err != nil {
		return Result{}, fmt.Errorf("commit wait time for %s: %w", hallID, err)
	}

	o.recordSubmission(r, hallID, action, strconv.Itoa(minutes), fix, now)

	if !vr.Committed {
		o.metrics.VoteQueued(hallID)
		o.log.Info("wait_vote_queued", "hall_id", hallID, "minutes", minutes, "votes_remaining", vr.Remaining)
		return Result{Outcome: OutcomeQueued, Message: vr.Message, Remaining: vr.Remaining}, nil
	}

	o.metrics.WaitCommitted(hallID)
	o.log.Info("wait_time_committed", "hall_id", hallID, "label", vr.Label, "votes", o.votes.Quorum())
	label, votes := vr.Label, o.votes.Quorum()
	o.persist("commit wait time", hallID, func(ctx context.Context) error {
		return o.shared.CommitWaitTime(ctx, hallID, label, votes, now)
	})
	return Result{Outcome: OutcomeCommitted, Label: vr.Label}, nil
}

// SubmitSeating reports how full the hall is. Accepted reports overwrite
// the seating label immediately; the cooldown is recorded after the commit.
func (o *Orchestrator) SubmitSeating(ctx context.Context, r Reporter, hallID, label string, loc LocationProvider) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "report.seating", trace.WithAttributes(
		attribute.String("hall.id", hallID), attribute.String("seating", label)))
	defer span.End()

	const action = submission.KindSeating
	if res, ok := o.checkReporter(r); !ok {
		return o.rejected(action, res), nil
	}
	seating, err := hall.ParseSeating(label)
	if err != nil {
		return o.rejected(action, rejectSeating()), nil
	}
	venue, res, ok := o.openHall(hallID)
	if !ok {
		return o.rejected(action, res), nil
	}
	fix, res, ok := o.locate(ctx, venue, loc)
	if !ok {
		return o.rejected(action, res), nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	id, _ := r.identity().Key()
	key := cooldown.Key{Identity: id, HallID: hallID, Action: string(action)}
	d, err := o.gate.Check(key, now)
	if err != nil {
		return Result{}, err
	}
	if !d.Allowed {
		return o.rejected(action, rejectCooldown(d.Remaining)), nil
	}

	if err := o.halls.CommitSeating(hallID, seating, now); err != nil {
		if errors.Is(err, hall.ErrNotFound) {
			return o.rejected(action, reject(ReasonMissingHall, "Dining hall not found.")), nil
		}
		return Result{}, err
	}
	if err := o.gate.Record(key, now); err != nil {
		return Result{}, err
	}

	o.metrics.SeatingCommitted(hallID)
	o.log.Info("seating_committed", "hall_id", hallID, "seating", seating)
	o.recordSubmission(r, hallID, action, string(seating), fix, now)
	o.persist("commit seating", hallID, func(ctx context.Context) error {
		return o.shared.CommitSeating(ctx, hallID, seating, now)
	})
	return Result{Outcome: OutcomeCommitted, Label: string(seating)}, nil
}

// SubmitRating folds a 1-5 star rating into a menu item's average. Ratings
// are not geofenced and are accepted while the hall is closed.
func (o *Orchestrator) SubmitRating(ctx context.Context, r Reporter, hallID, itemID string, rating int) (Result, error) {
	_, span := o.tracer.Start(ctx, "report.rating", trace.WithAttributes(
		attribute.String("hall.id", hallID), attribute.String("item.id", itemID)))
	defer span.End()

	const action = submission.KindRating
	if res, ok := o.checkReporter(r); !ok {
		return o.rejected(action, res), nil
	}
	if rating < MinRating || rating > MaxRating {
		return o.rejected(action, reject(ReasonInvalidValue,
			fmt.Sprintf("Rating must be between %d and %d stars.", MinRating, MaxRating))), nil
	}
	if hallID == "" {
		return o.rejected(action, reject(ReasonMissingHall, "Dining hall not found.")), nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	id, _ := r.identity().Key()
	key := cooldown.Key{Identity: id, HallID: hallID, Action: string(action)}
	d, err := o.gate.Check(key, now)
	if err != nil {
		return Result{}, err
	}
	if !d.Allowed {
		return o.rejected(action, rejectCooldown(d.Remaining)), nil
	}

	item, err := o.halls.ApplyRating(hallID, itemID, rating)
	switch {
	case errors.Is(err, hall.ErrNotFound):
		return o.rejected(action, reject(ReasonMissingHall, "Dining hall not found.")), nil
	case errors.Is(err, hall.ErrItemNotFound):
		return o.rejected(action, reject(ReasonUnknownItem, "Menu item not found.")), nil
	case err != nil:
		return Result{}, err
	}
	if err := o.gate.Record(key, now); err != nil {
		return Result{}, err
	}

	o.metrics.Rated(hallID)
	o.recordSubmission(r, hallID, action, fmt.Sprintf("%s=%d", itemID, rating), nil, now)
	o.persist("rate item", hallID, func(ctx context.Context) error {
		return o.shared.RateItem(ctx, hallID, itemID, rating)
	})
	return Result{Outcome: OutcomeCommitted, Item: &item}, nil
}

func (o *Orchestrator) checkReporter(r Reporter) (Result, bool) {
	if r.UID == "" {
		return reject(ReasonNotSignedIn, "Sign in to submit reports."), false
	}
	if !r.EmailVerified {
		return reject(ReasonUnverified, "Verify your email address to submit reports."), false
	}
	return Result{}, true
}

// openHall resolves hallID and rejects halls that are closed by status or
// by their posted hours.
func (o *Orchestrator) openHall(hallID string) (hall.Venue, Result, bool) {
	if hallID == "" {
		return hall.Venue{}, reject(ReasonMissingHall, "Dining hall not found."), false
	}
	v, ok := o.halls.Get(hallID)
	if !ok {
		return hall.Venue{}, reject(ReasonMissingHall, "Dining hall not found."), false
	}
	closed := v.Status == hall.StatusClosed
	if o.hours != nil {
		if open, known := o.hours.IsOpen(hallID, o.now()); known && !open {
			closed = true
		}
	}
	if closed {
		return hall.Venue{}, reject(ReasonHallClosed, fmt.Sprintf("%s is closed right now.", v.Name)), false
	}
	return v, Result{}, true
}

// locate waits for a fix and applies the geofence. Halls without a
// coordinate are not geofenced; the fix, if any, is still returned so it can
// be attached to the submission record.
func (o *Orchestrator) locate(ctx context.Context, v hall.Venue, loc LocationProvider) (*geofence.Fix, Result, bool) {
	perm := AuthorizationNotDetermined
	if loc != nil {
		perm = loc.Authorization()
	}
	venue := v.Coordinate()

	if venue != nil {
		switch perm {
		case AuthorizationNotDetermined:
			return nil, reject(ReasonLocationNotDetermined, "Allow location access to report from this hall."), false
		case AuthorizationDenied:
			return nil, reject(ReasonLocationDenied, "Location access is off. Turn it on in Settings to report."), false
		case AuthorizationRestricted:
			return nil, reject(ReasonLocationRestricted, "Location access is restricted on this device."), false
		}
	}

	var fix *geofence.Fix
	if perm == AuthorizationAuthorized {
		fix = awaitFix(ctx, loc, o.policy.LocationWait)
	}

	res := geofence.Evaluate(fix, venue, o.policy.GeofenceMeters, o.policy.MaxAccuracyMeters)
	if res.Admissible {
		return fix, Result{}, true
	}
	switch res.Reason {
	case geofence.ReasonTooFar:
		return nil, rejectTooFar(v.Name, *res.Distance), false
	case geofence.ReasonLowAccuracy:
		return nil, rejectLowAccuracy(fix.AccuracyMeters), false
	default:
		return nil, reject(ReasonLocationUnavailable, "We couldn't get your location. Try again in a moment."), false
	}
}

func (o *Orchestrator) rejected(action submission.Kind, r Result) Result {
	o.metrics.Rejected(string(action), string(r.Reason))
	return r
}

func (o *Orchestrator) recordSubmission(r Reporter, hallID string, kind submission.Kind, value string, fix *geofence.Fix, at time.Time) {
	rec := submission.Record{
		HallID:               hallID,
		Kind:                 kind,
		UID:                  r.UID,
		ClientIdentifierHash: r.ClientHash,
		Value:                value,
		Location:             submission.LocationFromFix(fix),
		CreatedAt:            at,
	}
	o.persist("record submission", hallID, func(ctx context.Context) error {
		return o.shared.RecordSubmission(ctx, rec)
	})
}

// persist runs write in the background. Failures are logged and never undo
// the local commit.
func (o *Orchestrator) persist(what, hallID string, write func(ctx context.Context) error) {
	if o.shared == nil {
		return
	}
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			o.log.Warn("shared store write failed", "op", what, "hall_id", hallID, "error", err)
		}
	}()
}
