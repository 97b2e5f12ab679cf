package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers the id created for each Idempotency-Key so replayed
// create requests return the original id instead of inserting a second row.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(k string) string {
	return "idem:" + k
}

// Claim records id under key if the key has not been seen. It returns the id
// stored for the key and whether this call stored it.
func (r *RedisDeduper) Claim(ctx context.Context, key, id string) (string, bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), id, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return id, true, nil
	}
	existing, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// Release deletes a previously claimed key so the request may be retried.
func (r *RedisDeduper) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
