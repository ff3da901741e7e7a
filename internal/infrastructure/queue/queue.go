package queue

import (
	"context"
	"time"
)

// Message is one in-flight queue entry. The payload is the sealed audit
// event encoded as JSON; OrganizationID rides alongside for per-tenant
// fairness accounting.
type Message struct {
	ID             string
	OrganizationID string
	Payload        []byte
	Attempt        int
	EnqueuedAt     time.Time
}

// Queue is the durable at-least-once delivery capability between producers
// and ingestion workers. Dequeue blocks until a message is available or the
// context is done. A message must be Acked on success; Nack reschedules it
// with the given delay and an incremented attempt counter.
type Queue interface {
	Enqueue(ctx context.Context, msg *Message) error
	Dequeue(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
	Nack(ctx context.Context, msg *Message, delay time.Duration) error
	Depth(ctx context.Context) (int64, error)
	Close() error
}
