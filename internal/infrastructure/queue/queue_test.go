package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func queueImplementations(t *testing.T) map[string]Queue {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rq, err := NewRedisStreamQueue(client, "test-consumer", zap.NewNop())
	require.NoError(t, err)

	return map[string]Queue{
		"memory":       NewMemoryQueue(),
		"redis-stream": rq,
	}
}

func TestQueueContract(t *testing.T) {
	for name, q := range queueImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("enqueue dequeue ack", func(t *testing.T) {
				msg := &Message{OrganizationID: "o1", Payload: []byte(`{"action":"data.read"}`)}
				require.NoError(t, q.Enqueue(ctx, msg))
				assert.NotEmpty(t, msg.ID)

				depth, err := q.Depth(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), depth)

				got, err := q.Dequeue(ctx)
				require.NoError(t, err)
				assert.Equal(t, "o1", got.OrganizationID)
				assert.Equal(t, msg.Payload, got.Payload)
				assert.Equal(t, 0, got.Attempt)

				require.NoError(t, q.Ack(ctx, got))

				depth, err = q.Depth(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(0), depth)
			})

			t.Run("nack increments attempt and redelivers", func(t *testing.T) {
				msg := &Message{OrganizationID: "o1", Payload: []byte(`{}`)}
				require.NoError(t, q.Enqueue(ctx, msg))

				got, err := q.Dequeue(ctx)
				require.NoError(t, err)
				require.NoError(t, q.Nack(ctx, got, 0))

				redelivered, err := q.Dequeue(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, redelivered.Attempt)
				require.NoError(t, q.Ack(ctx, redelivered))
			})

			t.Run("dequeue honors context cancellation", func(t *testing.T) {
				cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				defer cancel()
				_, err := q.Dequeue(cancelCtx)
				require.Error(t, err)
			})
		})
	}
}
