package kv

import (
	"context"
	"fmt"
	"time"
)

// KV is the shared key-value capability backing metrics, alert cooldowns,
// and queue bookkeeping. Implementations must be safe for concurrent use
// across instances.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// ErrKeyNotFound is returned by Get for missing keys.
type ErrKeyNotFound struct {
	Key string
}

func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key not found: %s", e.Key)
}

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool {
	_, ok := err.(ErrKeyNotFound)
	return ok
}
