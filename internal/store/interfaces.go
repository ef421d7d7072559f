package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an idempotency key is unknown or expired
var ErrNotFound = errors.New("not found")

// IdempotencyRecord remembers where an idempotent append landed.
type IdempotencyRecord struct {
	Partition string `json:"partition"`
	CreatedAt string `json:"createdAt"`
}

// IdempotencyStore interface for idempotency key operations
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Set(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
