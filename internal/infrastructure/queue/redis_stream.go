package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

const (
	defaultStream   = "trailguard:events"
	defaultGroup    = "trailguard-workers"
	claimMinIdle    = time.Minute
	dequeueBlockFor = 5 * time.Second
)

// RedisStreamQueue is the durable queue on a Redis stream with a consumer
// group. Messages left pending by a crashed worker are reclaimed with
// XAUTOCLAIM once their idle time passes claimMinIdle.
type RedisStreamQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *zap.Logger
}

// NewRedisStreamQueue creates the consumer group (idempotently) and returns
// the queue.
func NewRedisStreamQueue(client *redis.Client, consumer string, logger *zap.Logger) (*RedisStreamQueue, error) {
	q := &RedisStreamQueue{
		client:   client,
		stream:   defaultStream,
		group:    defaultGroup,
		consumer: consumer,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, errors.NewQueueError("failed to create consumer group").WithCause(err)
	}
	return q, nil
}

func isBusyGroup(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Enqueue appends the message to the stream. Failures surface as retryable
// QUEUE_ERROR so the producer path can bound its own retries.
func (q *RedisStreamQueue) Enqueue(ctx context.Context, msg *Message) error {
	values := map[string]interface{}{
		"organization_id": msg.OrganizationID,
		"payload":         string(msg.Payload),
		"attempt":         strconv.Itoa(msg.Attempt),
		"enqueued_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: values,
	}).Result()
	if err != nil {
		return errors.NewQueueError("failed to enqueue event").WithCause(err)
	}
	msg.ID = id
	return nil
}

// Dequeue blocks for the next message, preferring messages abandoned by
// dead consumers over new ones.
func (q *RedisStreamQueue) Dequeue(ctx context.Context) (*Message, error) {
	for {
		if msg, ok := q.claimAbandoned(ctx); ok {
			return msg, nil
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    dequeueBlockFor,
		}).Result()
		if err == redis.Nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewQueueError("failed to read from stream").WithCause(err)
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				return decodeStreamMessage(m), nil
			}
		}
	}
}

func (q *RedisStreamQueue) claimAbandoned(ctx context.Context) (*Message, bool) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  claimMinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil || len(msgs) == 0 {
		return nil, false
	}
	return decodeStreamMessage(msgs[0]), true
}

func decodeStreamMessage(m redis.XMessage) *Message {
	msg := &Message{ID: m.ID}
	if v, ok := m.Values["organization_id"].(string); ok {
		msg.OrganizationID = v
	}
	if v, ok := m.Values["payload"].(string); ok {
		msg.Payload = []byte(v)
	}
	if v, ok := m.Values["attempt"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			msg.Attempt = n
		}
	}
	if v, ok := m.Values["enqueued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			msg.EnqueuedAt = t
		}
	}
	return msg
}

// Ack acknowledges and trims the message.
func (q *RedisStreamQueue) Ack(ctx context.Context, msg *Message) error {
	if err := q.client.XAck(ctx, q.stream, q.group, msg.ID).Err(); err != nil {
		return errors.NewQueueError("failed to ack message").WithCause(err)
	}
	q.client.XDel(ctx, q.stream, msg.ID)
	return nil
}

// Nack re-enqueues the message with an incremented attempt count after the
// delay, then acknowledges the original delivery. The sleep is bounded by
// the context so shutdown is not held hostage by a backoff timer.
func (q *RedisStreamQueue) Nack(ctx context.Context, msg *Message, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			// Leave the message pending; XAUTOCLAIM will pick it up.
			return ctx.Err()
		case <-timer.C:
		}
	}

	retry := &Message{
		OrganizationID: msg.OrganizationID,
		Payload:        msg.Payload,
		Attempt:        msg.Attempt + 1,
	}
	if err := q.Enqueue(ctx, retry); err != nil {
		return err
	}
	return q.Ack(ctx, msg)
}

// Depth returns the stream length (queued plus pending).
func (q *RedisStreamQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, errors.NewQueueError("failed to read queue depth").WithCause(err)
	}
	return n, nil
}

func (q *RedisStreamQueue) Close() error {
	return nil
}

// String identifies the queue in logs.
func (q *RedisStreamQueue) String() string {
	return fmt.Sprintf("redis-stream(%s/%s)", q.stream, q.group)
}
