// Package usage counts successful keyed lookups per access key.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "usage:key:"

// Meter records and reports per-key usage.
type Meter interface {
	Record(ctx context.Context, key string) error
	// Counts returns the usage for each key; keys never recorded are absent.
	Counts(ctx context.Context, keys []string) (map[string]int64, error)
	Enabled() bool
	Close() error
}

// NopMeter is used when no Redis is configured.
type NopMeter struct{}

func (NopMeter) Record(context.Context, string) error { return nil }
func (NopMeter) Counts(context.Context, []string) (map[string]int64, error) {
	return map[string]int64{}, nil
}
func (NopMeter) Enabled() bool { return false }
func (NopMeter) Close() error  { return nil }

type RedisMeter struct {
	client *redis.Client
}

// NewRedisMeter connects to the Redis instance at url (redis://...).
func NewRedisMeter(ctx context.Context, url string) (*RedisMeter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisMeter{client: client}, nil
}

func (m *RedisMeter) Record(ctx context.Context, key string) error {
	return m.client.Incr(ctx, keyPrefix+key).Err()
}

func (m *RedisMeter) Counts(ctx context.Context, keys []string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	pipe := m.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, keyPrefix+k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	for i, cmd := range cmds {
		n, err := cmd.Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[keys[i]] = n
	}
	return out, nil
}

func (m *RedisMeter) Enabled() bool { return true }

func (m *RedisMeter) Close() error {
	return m.client.Close()
}
