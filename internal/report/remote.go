package report

import (
	"context"
	"fmt"
	"time"

	"forked/internal/hall"
	"forked/internal/queue"
	"forked/internal/submission"
)

// HallWriter is the authoritative hall store.
type HallWriter interface {
	Get(ctx context.Context, id string) (hall.Venue, error)
	CommitWaitTime(ctx context.Context, hallID, label string, votes int, at time.Time) error
	CommitSeating(ctx context.Context, hallID string, seating hall.Seating, at time.Time) error
	RateItem(ctx context.Context, hallID, itemID string, rating int) error
}

// SubmissionWriter appends submission records.
type SubmissionWriter interface {
	Insert(ctx context.Context, rec submission.Record) (submission.Record, error)
}

// HallPublisher announces hall changes to other instances.
type HallPublisher interface {
	Publish(ctx context.Context, v hall.Venue) error
}

// Remote forwards accepted reports to Postgres, announces the resulting hall
// on the realtime feed and enqueues new submissions for validation.
type Remote struct {
	halls HallWriter
	subs  SubmissionWriter
	queue queue.Queue
	feed  HallPublisher
}

// NewRemote creates a shared store. feed may be nil.
func NewRemote(halls HallWriter, subs SubmissionWriter, q queue.Queue, feed HallPublisher) *Remote {
	return &Remote{halls: halls, subs: subs, queue: q, feed: feed}
}

func (r *Remote) CommitWaitTime(ctx context.Context, hallID, label string, votes int, at time.Time) error {
	if err := r.halls.CommitWaitTime(ctx, hallID, label, votes, at); err != nil {
		return err
	}
	return r.announce(ctx, hallID)
}

func (r *Remote) CommitSeating(ctx context.Context, hallID string, seating hall.Seating, at time.Time) error {
	if err := r.halls.CommitSeating(ctx, hallID, seating, at); err != nil {
		return err
	}
	return r.announce(ctx, hallID)
}

func (r *Remote) RateItem(ctx context.Context, hallID, itemID string, rating int) error {
	if err := r.halls.RateItem(ctx, hallID, itemID, rating); err != nil {
		return err
	}
	return r.announce(ctx, hallID)
}

// RecordSubmission stores rec and triggers its validation.
func (r *Remote) RecordSubmission(ctx context.Context, rec submission.Record) error {
	stored, err := r.subs.Insert(ctx, rec)
	if err != nil {
		return err
	}
	if err := r.queue.Publish(ctx, queue.SubmissionCreated(stored.ID)); err != nil {
		return fmt.Errorf("enqueue submission %s: %w", stored.ID, err)
	}
	return nil
}

// announce publishes the stored hall, which is the authoritative copy other
// instances replace their view with.
func (r *Remote) announce(ctx context.Context, hallID string) error {
	if r.feed == nil {
		return nil
	}
	v, err := r.halls.Get(ctx, hallID)
	if err != nil {
		return fmt.Errorf("reload hall %s: %w", hallID, err)
	}
	return r.feed.Publish(ctx, v)
}
