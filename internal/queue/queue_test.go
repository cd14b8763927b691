package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(4)

	require.NoError(t, q.Publish(ctx, SubmissionCreated("s-1")))
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := receive(t, msgs)
	assert.Equal(t, TypeSubmissionCreated, msg.Type)
	assert.Equal(t, "s-1", string(msg.Body))

	cancel()
	_, ok := <-msgs
	assert.False(t, ok)
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), SubmissionCreated("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, SubmissionCreated("b")), context.DeadlineExceeded)
}

func TestRedisQueueFIFO(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewRedisQueue(client, "")

	require.NoError(t, q.Publish(ctx, SubmissionCreated("s-1")))
	require.NoError(t, q.Publish(ctx, SubmissionCreated("s-2")))

	n, err := client.LLen(ctx, DefaultKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s-1", string(receive(t, msgs).Body))
	second := receive(t, msgs)
	assert.Equal(t, TypeSubmissionCreated, second.Type)
	assert.Equal(t, "s-2", string(second.Body))
}

func TestDeserialize(t *testing.T) {
	assert.Equal(t, Message{Type: "t", Body: []byte("a|b")}, deserialize("t|a|b"))
	assert.Equal(t, Message{Body: []byte("plain")}, deserialize("plain"))
}
