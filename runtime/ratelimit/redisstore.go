package ratelimit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a DurableStore backed by Redis. It is the authoritative
// store on cold start and is resettable by deleting the keyspace under
// KeyPrefix. Callers build the *redis.Client and pass it in; RedisStore
// does not own the connection's lifecycle.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the default "ratelimit:" key prefix.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// NewRedisStore constructs a RedisStore. client is required.
func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, keyPrefix: "ratelimit:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type redisEntry struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

func (s *RedisStore) redisKey(key string) string { return s.keyPrefix + key }

// Load implements DurableStore.
func (s *RedisStore) Load(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var re redisEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return Entry{}, false, err
	}
	return Entry{Count: re.Count, ResetAt: re.ResetAt}, true, nil
}

// Upsert implements DurableStore. The row's TTL tracks ResetAt so an
// expired row is eligible for lazy Redis-side eviction even if Sweep has
// not run yet.
func (s *RedisStore) Upsert(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(redisEntry{Count: entry.Count, ResetAt: entry.ResetAt})
	if err != nil {
		return err
	}
	ttl := time.Until(entry.ResetAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.Set(ctx, s.redisKey(key), raw, ttl).Err()
}

// Sweep is a no-op beyond what Redis key TTLs already guarantee: every row
// written by Upsert carries a TTL matching its ResetAt, so expired rows are
// evicted by Redis itself. Sweep exists to satisfy the DurableStore
// contract and as a hook for stores without native TTL support.
func (s *RedisStore) Sweep(context.Context, time.Time) error { return nil }
