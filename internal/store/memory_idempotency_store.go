package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryIdempotencyStore implements IdempotencyStore using an in-memory map
type MemoryIdempotencyStore struct {
	data    map[string]*cacheItem
	mu      sync.RWMutex
	maxSize int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

type cacheItem struct {
	record    IdempotencyRecord
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory store and starts its
// expiry sweeper. Close stops the sweeper.
func NewMemoryIdempotencyStore(maxSize int, logger *zap.Logger) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		data:    make(map[string]*cacheItem),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
		logger:  logger,
	}

	go s.cleanup(time.Minute)

	return s
}

// Get retrieves a recorded append
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.data[key]
	if !exists || s.now().After(item.expiresAt) {
		return nil, ErrNotFound
	}

	record := item.record
	return &record, nil
}

// Set records an append with TTL
func (s *MemoryIdempotencyStore) Set(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.data[key]; !exists && s.maxSize > 0 && len(s.data) >= s.maxSize {
		s.evictLocked(now)
	}

	s.data[key] = &cacheItem{
		record:    *record,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// evictLocked drops expired entries, or the entry closest to expiry when
// none has expired yet.
func (s *MemoryIdempotencyStore) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	removed := 0
	for k, v := range s.data {
		if now.After(v.expiresAt) {
			delete(s.data, k)
			removed++
			continue
		}
		if oldestKey == "" || v.expiresAt.Before(oldest) {
			oldestKey, oldest = k, v.expiresAt
		}
	}
	if removed == 0 && oldestKey != "" {
		delete(s.data, oldestKey)
		s.logger.Debug("Evicted idempotency key before expiry", zap.String("key", oldestKey))
	}
}

// Delete removes an idempotency key
func (s *MemoryIdempotencyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Ping always succeeds
func (s *MemoryIdempotencyStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the expiry sweeper
func (s *MemoryIdempotencyStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// Size returns the number of stored keys, expired ones included
func (s *MemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// cleanup periodically removes expired entries
func (s *MemoryIdempotencyStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryIdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, item := range s.data {
		if now.After(item.expiresAt) {
			delete(s.data, key)
		}
	}
}
