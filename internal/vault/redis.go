// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "unchained:token:"

// RedisVault stores JSON records under prefixed keys with a TTL.
type RedisVault struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis connects to Redis and verifies reachability.
func NewRedis(ctx context.Context, addr, password string, db int) (*RedisVault, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis vault: ping %s: %w", addr, err)
	}
	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *RedisVault {
	return &RedisVault{client: client, now: time.Now}
}

func (r *RedisVault) Load(ctx context.Context, key string) (*TokenRecord, error) {
	data, err := r.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis vault: load: %w", err)
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, nil
}

func (r *RedisVault) Save(ctx context.Context, key string, rec *TokenRecord) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis vault: encode: %w", err)
	}
	if err := r.client.Set(ctx, redisPrefix+key, data, ttlFor(rec, r.now())).Err(); err != nil {
		return fmt.Errorf("redis vault: save: %w", err)
	}
	return nil
}

func (r *RedisVault) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis vault: clear: %w", err)
	}
	return nil
}

func (r *RedisVault) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, redisPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), redisPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis vault: keys: %w", err)
	}
	return keys, nil
}

func (r *RedisVault) Close() error { return r.client.Close() }
