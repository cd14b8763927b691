package hall

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel carries hall documents after every committed change.
const DefaultChannel = "halls:changes"

// Feed is the realtime subscription over hall changes, backed by Redis pub/sub.
type Feed struct {
	client  *redis.Client
	channel string
}

// NewFeed creates a feed on channel.
func NewFeed(client *redis.Client, channel string) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Feed{client: client, channel: channel}
}

// Publish announces the current state of v.
func (f *Feed) Publish(ctx context.Context, v Venue) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, b).Err()
}

// Subscribe delivers every published hall to apply until ctx is done.
// The subscription is established before Subscribe returns.
func (f *Feed) Subscribe(ctx context.Context, apply func(Venue)) error {
	sub := f.client.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var v Venue
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					slog.Warn("dropping malformed hall change", "error", err)
					continue
				}
				apply(v)
			}
		}
	}()
	return nil
}
