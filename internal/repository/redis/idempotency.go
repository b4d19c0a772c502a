package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemNS = ns + ":idem"

// KeyIdemOrder scopes an Idempotency-Key header to order submission for one
// customer, so two customers reusing the same key never collide.
func KeyIdemOrder(customerID, idemKey string) string {
	return fmt.Sprintf("%s:orders:%s:%s", idemNS, customerID, idemKey)
}

// IdempotencyStore remembers the response of a completed request under its
// idempotency key and holds a short lock while the first attempt is in
// flight. Values are either "LOCK" or the stored payload prefixed with
// "RES:", distinguishable with a plain GET.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// AcquireLock claims the key for the first in-flight attempt. It reports
// false when another attempt already holds the lock or a result is stored.
func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, "LOCK", lockTTL).Result()
}

// SaveResult replaces the lock with the serialized response, retained for
// the store TTL.
func (s *IdempotencyStore) SaveResult(ctx context.Context, key, jsonPayload string) error {
	return s.rdb.Set(ctx, key, "RES:"+jsonPayload, s.ttl).Err()
}

// GetResult returns the stored response, if any. A held lock reads as
// absent.
func (s *IdempotencyStore) GetResult(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if strings.HasPrefix(v, "RES:") {
		return strings.TrimPrefix(v, "RES:"), true, nil
	}
	return "", false, nil
}

func (s *IdempotencyStore) IsLocked(ctx context.Context, key string) (bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "LOCK", nil
}

// Release drops the key so a failed attempt does not block retries for the
// lock TTL.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
