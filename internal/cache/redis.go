package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as JSON strings under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	expiry time.Duration
}

// DefaultRedisPrefix namespaces cache keys when no prefix is configured.
// DeleteAll only touches keys under the prefix, so it is never empty.
const DefaultRedisPrefix = "schoolintel:"

// NewRedisStore wraps client. Keys are written with the given server-side
// expiry; zero means no expiry. Freshness is still decided by ResultCache.
// An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string, expiry time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, expiry: expiry}
}

func (r *RedisStore) key(key string) string { return r.prefix + key }

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping redis: %v", ErrUnavailable, err)
	}
	return nil
}

// Load fetches and decodes the entry for key.
func (r *RedisStore) Load(ctx context.Context, key string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, key, err)
	}
	return &e, nil
}

// Save writes the entry with a single SET.
func (r *RedisStore) Save(ctx context.Context, key string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, key, err)
	}
	if err := r.client.Set(ctx, r.key(key), data, r.expiry).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: del %s: %v", ErrUnavailable, key, err)
	}
	return n > 0, nil
}

// DeleteAll removes every key under the prefix.
func (r *RedisStore) DeleteAll(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: del: %v", ErrUnavailable, err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
