package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix   = "kmstore:idempotency:"
	redisDialTimeout = 5 * time.Second
)

// RedisOptions locates the idempotency database.
type RedisOptions struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (o RedisOptions) addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// RedisIdempotencyStore keeps idempotency keys in Redis so that they survive
// restarts and are shared by every replica reading the same backend.
type RedisIdempotencyStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisIdempotencyStore connects and pings Redis.
func NewRedisIdempotencyStore(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.addr(),
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: redisDialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.addr(), err)
	}

	logger.Info("Idempotency keys stored in Redis",
		zap.String("addr", opts.addr()),
		zap.Int("db", opts.DB))
	return &RedisIdempotencyStore{client: client, logger: logger}, nil
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("redis get: %w", err)
	}

	rec := &IdempotencyRecord{}
	if err := json.Unmarshal(raw, rec); err != nil {
		s.logger.Warn("Discarding malformed idempotency entry", zap.String("key", key), zap.Error(err))
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *RedisIdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}
