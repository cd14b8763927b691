package report

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forked/internal/cooldown"
	"forked/internal/geofence"
	"forked/internal/hall"
	"forked/internal/hours"
	"forked/internal/metrics"
	"forked/internal/submission"
)

var (
	northLat = 33.7712846105461
	northLon = -84.39142581349368
	verified = Reporter{UID: "u1", EmailVerified: true}
)

const metersPerDegreeLat = geofence.EarthRadiusMeters * math.Pi / 180

// at returns an authorized provider with a fix meters north of North Ave.
func at(meters, accuracy float64) StaticLocation {
	return StaticLocation{
		Auth: AuthorizationAuthorized,
		Fix:  &geofence.Fix{Lat: northLat + meters/metersPerDegreeLat, Lon: northLon, AccuracyMeters: accuracy},
	}
}

type fakeShared struct {
	mu          sync.Mutex
	err         error
	waitCommits []string
	votes       []int
	seating     []hall.Seating
	ratings     []int
	records     []submission.Record
}

func (f *fakeShared) CommitWaitTime(_ context.Context, hallID, label string, votes int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitCommits = append(f.waitCommits, hallID+":"+label)
	f.votes = append(f.votes, votes)
	return f.err
}

func (f *fakeShared) CommitSeating(_ context.Context, _ string, s hall.Seating, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seating = append(f.seating, s)
	return f.err
}

func (f *fakeShared) RateItem(_ context.Context, _, _ string, rating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings = append(f.ratings, rating)
	return f.err
}

func (f *fakeShared) RecordSubmission(_ context.Context, rec submission.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

type harness struct {
	o       *Orchestrator
	halls   *hall.Cache
	shared  *fakeShared
	metrics *metrics.Metrics
	now     time.Time
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func newHarness(t *testing.T, halls ...hall.Venue) *harness {
	t.Helper()
	if len(halls) == 0 {
		halls = []hall.Venue{{
			ID:        "north-ave",
			Name:      "North Ave",
			Lat:       &northLat,
			Lon:       &northLon,
			WaitTime:  "5-10 min",
			Status:    hall.StatusOpen,
			MenuItems: []hall.MenuItem{{ID: "pizza", Name: "Pizza", Rating: 4, ReviewCount: 3}},
		}}
	}
	h := &harness{
		halls:   hall.NewCache(halls),
		shared:  &fakeShared{},
		metrics: metrics.New(prometheus.NewRegistry()),
		now:     time.Date(2025, 10, 15, 16, 0, 0, 0, time.UTC),
	}
	p := DefaultPolicy()
	p.LocationWait = 20 * time.Millisecond
	h.o = New(Deps{
		Halls:     h.halls,
		Cooldowns: cooldown.NewMemoryStore(),
		Shared:    h.shared,
		Metrics:   h.metrics,
	}, p).WithClock(func() time.Time { return h.now })
	t.Cleanup(h.o.Close)
	return h
}

func (h *harness) hall(t *testing.T, id string) hall.Venue {
	t.Helper()
	v, ok := h.halls.Get(id)
	require.True(t, ok)
	return v
}

func TestWaitTimeReachesQuorum(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	before := h.hall(t, "north-ave")

	for i := 1; i <= 4; i++ {
		res, err := h.o.SubmitWaitTime(ctx, verified, "north-ave", 8, at(30, 20))
		require.NoError(t, err)
		assert.Equal(t, OutcomeQueued, res.Outcome, "call %d", i)
		assert.NotEmpty(t, res.Message)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Equal(t, "5-10 min", h.hall(t, "north-ave").WaitTime, "no change below quorum")
		h.advance(200 * time.Millisecond)
	}

	res, err := h.o.SubmitWaitTime(ctx, verified, "north-ave", 8, at(30, 20))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Empty(t, res.Message)
	assert.Equal(t, "7-9 min", res.Label)

	after := h.hall(t, "north-ave")
	assert.Equal(t, "7-9 min", after.WaitTime)
	assert.Equal(t, before.VerifiedCount+5, after.VerifiedCount)
	require.NotNil(t, after.LastUpdatedAt)
	assert.Equal(t, h.now, *after.LastUpdatedAt)

	h.advance(10 * time.Second)
	res, err = h.o.SubmitWaitTime(ctx, verified, "north-ave", 8, at(30, 20))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonCooldown, res.Reason)
	assert.True(t, res.Policy())
	assert.Equal(t, 290*time.Second, res.RetryIn)
	assert.Contains(t, res.Message, "290 seconds")

	h.o.Close()
	assert.Equal(t, []string{"north-ave:7-9 min"}, h.shared.waitCommits)
	assert.Equal(t, []int{5}, h.shared.votes)
	require.Len(t, h.shared.records, 5)
	for _, rec := range h.shared.records {
		assert.Equal(t, submission.KindWaitTime, rec.Kind)
		assert.Equal(t, "8", rec.Value)
		assert.Equal(t, "u1", rec.UID)
		require.NotNil(t, rec.Location)
		require.NotNil(t, rec.Location.AccuracyMeters)
		assert.Equal(t, 20.0, *rec.Location.AccuracyMeters)
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.VotesQueued.WithLabelValues("north-ave")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WaitCommits.WithLabelValues("north-ave")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Rejections.WithLabelValues("waitTime", "cooldown")))
}

func TestWaitTimeOtherBucketChecksCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.o.SubmitWaitTime(ctx, verified, "north-ave", 8, at(30, 20))
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, res.Outcome)

	h.advance(time.Minute)
	res, err = h.o.SubmitWaitTime(ctx, verified, "north-ave", 12, at(30, 20))
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, res.Reason)

	// Another reporter can still add to the bucket.
	res, err = h.o.SubmitWaitTime(ctx, Reporter{UID: "u2", EmailVerified: true}, "north-ave", 12, at(30, 20))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)

	h.advance(4 * time.Minute)
	res, err = h.o.SubmitWaitTime(ctx, verified, "north-ave", 12, at(30, 20))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, 3, res.Remaining)
}

func TestInputRejections(t *testing.T) {
	closed := hall.Venue{ID: "brittain", Name: "Brittain", Status: hall.StatusClosed}
	open := hall.Venue{ID: "north-ave", Name: "North Ave", Status: hall.StatusOpen}

	tests := []struct {
		name    string
		r       Reporter
		hallID  string
		minutes int
		reason  Reason
	}{
		{"signed out", Reporter{}, "north-ave", 5, ReasonNotSignedIn},
		{"unverified", Reporter{UID: "u1"}, "north-ave", 5, ReasonUnverified},
		{"zero minutes", verified, "north-ave", 0, ReasonInvalidValue},
		{"too many minutes", verified, "north-ave", 61, ReasonInvalidValue},
		{"no hall", verified, "", 5, ReasonMissingHall},
		{"unknown hall", verified, "nowhere", 5, ReasonMissingHall},
		{"closed hall", verified, "brittain", 5, ReasonHallClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, open, closed)
			res, err := h.o.SubmitWaitTime(context.Background(), tt.r, tt.hallID, tt.minutes, nil)
			require.NoError(t, err)
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			assert.NotEmpty(t, res.Message)
			assert.False(t, res.Policy())

			h.o.Close()
			assert.Empty(t, h.shared.records)
		})
	}
}

func TestGeofenceRejections(t *testing.T) {
	tests := []struct {
		name   string
		loc    LocationProvider
		reason Reason
	}{
		{"no provider", nil, ReasonLocationNotDetermined},
		{"not determined", StaticLocation{}, ReasonLocationNotDetermined},
		{"denied", StaticLocation{Auth: AuthorizationDenied}, ReasonLocationDenied},
		{"restricted", StaticLocation{Auth: AuthorizationRestricted}, ReasonLocationRestricted},
		{"no fix", StaticLocation{Auth: AuthorizationAuthorized}, ReasonLocationUnavailable},
		{"too far", at(200, 10), ReasonTooFar},
		{"coarse fix", at(140, 150), ReasonLowAccuracy},
		{"accuracy not reported", at(30, 0), ReasonLowAccuracy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			res, err := h.o.SubmitSeating(context.Background(), verified, "north-ave", "Few", tt.loc)
			require.NoError(t, err)
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
			assert.True(t, res.Policy())
			assert.Empty(t, h.hall(t, "north-ave").Seating)
		})
	}
}

func TestTooFarReportsDistance(t *testing.T) {
	h := newHarness(t)
	res, err := h.o.SubmitWaitTime(context.Background(), verified, "north-ave", 8, at(200, 10))
	require.NoError(t, err)
	require.NotNil(t, res.Distance)
	assert.InDelta(t, 200, *res.Distance, 0.5)
	assert.Contains(t, res.Message, "200 m")
}

func TestRejectedAttemptKeepsCooldownFree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.o.SubmitSeating(ctx, verified, "north-ave", "Packed", at(500, 10))
	require.NoError(t, err)
	require.Equal(t, ReasonTooFar, res.Reason)

	res, err = h.o.SubmitSeating(ctx, verified, "north-ave", "Packed", at(10, 10))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
}

func TestHallWithoutCoordinateIsNotGeofenced(t *testing.T) {
	h := newHarness(t, hall.Venue{ID: "willage", Name: "West Village", Status: hall.StatusOpen})
	res, err := h.o.SubmitWaitTime(context.Background(), verified, "willage", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)

	h.o.Close()
	require.Len(t, h.shared.records, 1)
	assert.Nil(t, h.shared.records[0].Location)
}

func TestSeating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.o.SubmitSeating(ctx, verified, "north-ave", "nope", at(10, 10))
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidValue, res.Reason)

	res, err = h.o.SubmitSeating(ctx, verified, "north-ave", "few", at(10, 10))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Empty(t, res.Message)
	v := h.hall(t, "north-ave")
	assert.Equal(t, hall.SeatingFew, v.Seating)
	assert.Equal(t, 1, v.SeatingVerifiedCount)

	h.advance(299 * time.Second)
	res, err = h.o.SubmitSeating(ctx, verified, "north-ave", "Packed", at(10, 10))
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, res.Reason)
	assert.Equal(t, time.Second, res.RetryIn)
	assert.Contains(t, res.Message, "1 second.")

	h.advance(time.Second)
	res, err = h.o.SubmitSeating(ctx, verified, "north-ave", "Packed", at(10, 10))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, hall.SeatingPacked, h.hall(t, "north-ave").Seating)

	h.o.Close()
	assert.Equal(t, []hall.Seating{hall.SeatingFew, hall.SeatingPacked}, h.shared.seating)
	require.Len(t, h.shared.records, 2)
	assert.Equal(t, submission.KindSeating, h.shared.records[1].Kind)
	assert.Equal(t, "Packed", h.shared.records[1].Value)
}

func TestRating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, bad := range []int{0, 6} {
		res, err := h.o.SubmitRating(ctx, verified, "north-ave", "pizza", bad)
		require.NoError(t, err)
		assert.Equal(t, ReasonInvalidValue, res.Reason)
	}

	res, err := h.o.SubmitRating(ctx, verified, "north-ave", "salad", 5)
	require.NoError(t, err)
	assert.Equal(t, ReasonUnknownItem, res.Reason)

	res, err = h.o.SubmitRating(ctx, verified, "north-ave", "pizza", 2)
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, res.Outcome)
	require.NotNil(t, res.Item)
	assert.InDelta(t, 3.5, res.Item.Rating, 1e-9)
	assert.Equal(t, 4, res.Item.ReviewCount)

	res, err = h.o.SubmitRating(ctx, verified, "north-ave", "pizza", 5)
	require.NoError(t, err)
	assert.Equal(t, ReasonCooldown, res.Reason)

	h.o.Close()
	assert.Equal(t, []int{2}, h.shared.ratings)
	require.Len(t, h.shared.records, 1)
	assert.Equal(t, "pizza=2", h.shared.records[0].Value)
}

func TestSharedFailureKeepsLocalCommit(t *testing.T) {
	h := newHarness(t)
	h.shared.err = errors.New("store unavailable")

	res, err := h.o.SubmitSeating(context.Background(), verified, "north-ave", "Plenty", at(10, 10))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)

	h.o.Close()
	assert.Equal(t, hall.SeatingPlenty, h.hall(t, "north-ave").Seating)
}

func TestPostedHoursCloseHall(t *testing.T) {
	h := newHarness(t)
	h.o.hours = hours.Campus()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Wednesday 5am, before breakfast.
	h.now = time.Date(2025, 10, 15, 5, 0, 0, 0, ny)
	res, err := h.o.SubmitWaitTime(context.Background(), verified, "north-ave", 5, at(10, 10))
	require.NoError(t, err)
	assert.Equal(t, ReasonHallClosed, res.Reason)

	h.now = time.Date(2025, 10, 15, 12, 0, 0, 0, ny)
	res, err = h.o.SubmitWaitTime(context.Background(), verified, "north-ave", 5, at(10, 10))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
}

type slowProvider struct {
	last *geofence.Fix
}

func (slowProvider) Authorization() Authorization { return AuthorizationAuthorized }

func (slowProvider) RequestFix() <-chan geofence.Fix { return make(chan geofence.Fix) }

func (p slowProvider) LastFix() *geofence.Fix { return p.last }

func TestAwaitFixFallsBackToLastFix(t *testing.T) {
	last := at(20, 15).Fix
	start := time.Now()
	got := awaitFix(context.Background(), slowProvider{last: last}, 30*time.Millisecond)
	assert.Equal(t, last, got)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	fresh := at(5, 5)
	got = awaitFix(context.Background(), fresh, time.Hour)
	require.NotNil(t, got)
	assert.Equal(t, *fresh.Fix, *got)
}

func TestParseAuthorization(t *testing.T) {
	assert.Equal(t, AuthorizationAuthorized, ParseAuthorization("authorizedWhenInUse"))
	assert.Equal(t, AuthorizationDenied, ParseAuthorization("denied"))
	assert.Equal(t, AuthorizationRestricted, ParseAuthorization("restricted"))
	assert.Equal(t, AuthorizationNotDetermined, ParseAuthorization(""))
}
