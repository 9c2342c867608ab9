// Package cache provides the Redis-backed dedup key set and run lock, plus
// an in-process lock for single-instance deployments.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

// Unlock releases a lock obtained from TryLock.
type Unlock func(ctx context.Context) error

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is the Redis implementation of the dedup key set and run lock
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings Redis
func NewRedisStore(ctx context.Context, cfg models.Redis) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDedupCache, "Failed to connect to Redis").
			WithContext("addr", cfg.Addr).
			AsRecoverable()
	}

	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "snowpulse"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(kind, name string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, kind, name)
}

// Claim sets key if absent with the given TTL. It returns false when the
// key already exists, meaning the alert was already emitted in the window.
func (r *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key("dedup", key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDedupCache, "Failed to claim dedup key").WithContext("key", key)
	}
	return ok, nil
}

// Release drops a claim so a later run can retry the alert
func (r *RedisStore) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key("dedup", key)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDedupCache, "Failed to release dedup key").WithContext("key", key)
	}
	return nil
}

// TryLock acquires a named lock that expires after ttl. ok is false when
// another owner holds it.
func (r *RedisStore) TryLock(ctx context.Context, name string, ttl time.Duration) (Unlock, bool, error) {
	key := r.key("lock", name)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeDedupCache, "Failed to acquire run lock").WithContext("lock", name)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeDedupCache, "Failed to release run lock").WithContext("lock", name)
		}
		return nil
	}
	return unlock, true, nil
}

// Ping checks the connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
