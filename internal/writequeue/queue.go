package writequeue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/froz-husain/kmstore/internal/metrics"
	"go.uber.org/zap"
)

// Queue serializes operations per key in arrival order. Operations on
// different keys never wait for each other. The queue only coordinates
// goroutines of one process.
type Queue struct {
	mu      sync.Mutex
	tails   map[string]*ticket
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// ticket is closed once its holder is done with the key, which lets the
// next caller in line proceed.
type ticket struct {
	done chan struct{}
}

// NewQueue creates an empty queue. m may be nil.
func NewQueue(m *metrics.Metrics, logger *zap.Logger) *Queue {
	return &Queue{
		tails:   make(map[string]*ticket),
		metrics: m,
		logger:  logger,
	}
}

// Do runs fn once every operation enqueued before it on the same key has
// finished. fn's error is returned as is and does not affect later callers.
//
// If ctx ends while waiting, Do returns without running fn; callers queued
// behind it still run in order.
func (q *Queue) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	t := &ticket{done: make(chan struct{})}

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = t
	pending := len(q.tails)
	q.mu.Unlock()
	q.metrics.SetPendingKeys(pending)

	if prev != nil {
		start := time.Now()
		select {
		case <-prev.done:
			q.metrics.RecordQueueWait(time.Since(start))
		case <-ctx.Done():
			// Hand our place over only once the predecessor is done.
			go func() {
				<-prev.done
				q.release(key, t)
			}()
			q.logger.Warn("Gave up waiting for write slot",
				zap.String("key", key),
				zap.Duration("waited", time.Since(start)),
				zap.Error(ctx.Err()))
			return fmt.Errorf("waiting for write slot on %s: %w", key, ctx.Err())
		}
	}

	defer q.release(key, t)
	return fn(ctx)
}

func (q *Queue) release(key string, t *ticket) {
	q.mu.Lock()
	if q.tails[key] == t {
		delete(q.tails, key)
	}
	pending := len(q.tails)
	q.mu.Unlock()
	q.metrics.SetPendingKeys(pending)

	close(t.done)
}

// Pending returns the number of keys with scheduled or running operations.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
