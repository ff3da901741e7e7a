package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// MemoryQueue is an in-process Queue with the same at-least-once contract as
// the Redis stream implementation. Used in tests and single-node dev mode.
type MemoryQueue struct {
	mu      sync.Mutex
	nextID  int64
	items   []*Message
	pending map[string]*Message
	wakeup  chan struct{}
	closed  bool
}

// NewMemoryQueue builds an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[string]*Message),
		wakeup:  make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.NewQueueError("queue is closed")
	}
	q.nextID++
	m := &Message{
		ID:             strconv.FormatInt(q.nextID, 10),
		OrganizationID: msg.OrganizationID,
		Payload:        msg.Payload,
		Attempt:        msg.Attempt,
		EnqueuedAt:     time.Now().UTC(),
	}
	msg.ID = m.ID
	q.items = append(q.items, m)
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items = q.items[1:]
			q.pending[m.ID] = m
			q.mu.Unlock()
			return m, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wakeup:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, msg.ID)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, msg *Message, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	q.mu.Lock()
	delete(q.pending, msg.ID)
	q.mu.Unlock()

	retry := &Message{
		OrganizationID: msg.OrganizationID,
		Payload:        msg.Payload,
		Attempt:        msg.Attempt + 1,
	}
	return q.Enqueue(ctx, retry)
}

func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items) + len(q.pending)), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
