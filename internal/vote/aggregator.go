// Package vote accumulates wait-time reports and publishes an estimate only
// once enough reports agree.
package vote

import (
	"fmt"
	"time"
)

// DefaultQuorum is the number of matching votes needed before a wait time is published.
const DefaultQuorum = 5

// Board receives committed wait-time estimates.
type Board interface {
	CommitWaitTime(hallID, label string, votes int, at time.Time) error
}

// Result describes what happened to a single vote.
type Result struct {
	Committed bool
	Message   string
	Label     string
	// Remaining is the number of further matching votes needed; zero once committed.
	Remaining int
}

type bucket struct {
	count  int
	voters map[string]struct{}
}

// Aggregator keeps pending vote counts per hall and minute value.
// It is not safe for concurrent use; callers serialize access.
type Aggregator struct {
	quorum int
	board  Board
	bins   map[string]map[int]*bucket
}

// NewAggregator creates an aggregator committing to board. A non-positive
// quorum falls back to DefaultQuorum.
func NewAggregator(board Board, quorum int) *Aggregator {
	if quorum <= 0 {
		quorum = DefaultQuorum
	}
	return &Aggregator{
		quorum: quorum,
		board:  board,
		bins:   make(map[string]map[int]*bucket),
	}
}

// Quorum returns the configured threshold.
func (a *Aggregator) Quorum() int { return a.quorum }

// SubmitVote adds one vote for minutes at hallID. When the bucket reaches the
// quorum the label is committed to the board and the bucket starts over.
func (a *Aggregator) SubmitVote(hallID, voter string, minutes int, now time.Time) (Result, error) {
	bins, ok := a.bins[hallID]
	if !ok {
		bins = make(map[int]*bucket)
		a.bins[hallID] = bins
	}
	b, ok := bins[minutes]
	if !ok {
		b = &bucket{voters: make(map[string]struct{})}
		bins[minutes] = b
	}
	b.count++
	b.voters[voter] = struct{}{}

	if b.count < a.quorum {
		remaining := a.quorum - b.count
		return Result{
			Remaining: remaining,
			Message: fmt.Sprintf("Thanks! Your report was counted. Waiting for %d more matching %s before the wait time updates.",
				remaining, plural(remaining, "report", "reports")),
		}, nil
	}

	label := Label(minutes)
	if err := a.board.CommitWaitTime(hallID, label, a.quorum, now); err != nil {
		b.count--
		if b.count == 0 {
			delete(bins, minutes)
		}
		return Result{}, err
	}
	delete(bins, minutes)
	return Result{Committed: true, Label: label}, nil
}

// pending returns the vote count currently held for hallID and minutes.
func (a *Aggregator) pending(hallID string, minutes int) int {
	if b, ok := a.bins[hallID][minutes]; ok {
		return b.count
	}
	return 0
}

// HasPendingVote reports whether voter already has a vote waiting in the
// bucket for hallID and minutes.
func (a *Aggregator) HasPendingVote(hallID, voter string, minutes int) bool {
	b, ok := a.bins[hallID][minutes]
	if !ok {
		return false
	}
	_, ok = b.voters[voter]
	return ok
}

// Label renders a reported wait in minutes as the published text bucket.
func Label(minutes int) string {
	if minutes < 2 {
		return "1-2 min"
	}
	return fmt.Sprintf("%d-%d min", max(1, minutes-1), minutes+1)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
