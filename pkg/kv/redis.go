package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix  = "larder:kv:"
	redisTimeout = 200 * time.Millisecond
	scanCount    = 200
)

// Redis is a Store shared between processes through a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis parses redisURL and creates a client. The connection is not
// verified here; unreachable servers surface as per-call errors.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if opts.DialTimeout == 0 || opts.DialTimeout > redisTimeout {
		opts.DialTimeout = redisTimeout
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

func (r *Redis) key(k string) string { return redisPrefix + k }

func (r *Redis) GetString(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (r *Redis) SetString(ctx context.Context, key, value string) error {
	return r.SetStringTTL(ctx, key, value, 0)
}

// SetStringTTL stores value under key and lets Redis expire it after ttl.
// A ttl of zero keeps the value until it is deleted.
func (r *Redis) SetStringTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// scan walks every key under the store prefix.
func (r *Redis) scan(ctx context.Context, fn func(keys []string) (bool, error)) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, redisPrefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			more, err := fn(keys)
			if err != nil || !more {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (r *Redis) Range(ctx context.Context, fn func(key, value string) bool) error {
	return r.scan(ctx, func(keys []string) (bool, error) {
		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return false, fmt.Errorf("redis mget: %w", err)
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if !fn(strings.TrimPrefix(keys[i], redisPrefix), s) {
				return false, nil
			}
		}
		return true, nil
	})
}

func (r *Redis) Len(ctx context.Context) (int64, error) {
	var n int64
	err := r.scan(ctx, func(keys []string) (bool, error) {
		n += int64(len(keys))
		return true, nil
	})
	return n, err
}

func (r *Redis) Clear(ctx context.Context) error {
	return r.scan(ctx, func(keys []string) (bool, error) {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return false, fmt.Errorf("redis del: %w", err)
		}
		return true, nil
	})
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
