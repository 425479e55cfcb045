// Package idempotency holds the transfer journal implementations.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boddenberg/pj-gateway-go/internal/domain"
)

// RedisStore implements port.IdempotencyStore on Redis. Reservation is a
// single SETNX so concurrent gateway replicas agree on one winner.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient parses redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewRedisStore creates a journal on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "gateway:transfer:",
	}
}

// Reserve stores entry under its key unless one already exists.
func (s *RedisStore) Reserve(ctx context.Context, entry domain.JournalEntry, ttl time.Duration) (*domain.JournalEntry, bool, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, false, fmt.Errorf("encode journal entry: %w", err)
	}

	set, err := s.client.SetNX(ctx, s.prefix+entry.Key, payload, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserve %s: %w", entry.Key, err)
	}
	if set {
		return &entry, true, nil
	}

	existing, err := s.Get(ctx, entry.Key)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// expired between SETNX and GET; let the caller try again
		return nil, false, fmt.Errorf("reserve %s: entry vanished", entry.Key)
	}
	return existing, false, nil
}

// Complete overwrites the entry with its final state.
func (s *RedisStore) Complete(ctx context.Context, entry domain.JournalEntry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+entry.Key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", entry.Key, err)
	}
	return nil
}

// Release deletes a reservation.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Get returns the entry stored under key, or nil if there is none.
func (s *RedisStore) Get(ctx context.Context, key string) (*domain.JournalEntry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var entry domain.JournalEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode journal entry %s: %w", key, err)
	}
	return &entry, nil
}
