// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"nestwatch/gateway/analysis"
)

// Store is a shared backing store for cached analyses. Implementations must
// tolerate concurrent access from multiple gateway processes.
type Store interface {
	Get(ctx context.Context, key string) (analysis.Result, bool, error)
	Set(ctx context.Context, key string, value analysis.Result, ttl time.Duration) error
}

// keyPrefix namespaces gateway entries in a shared Redis instance.
const keyPrefix = "llm:analysis:"

// RedisStore backs the cache with Redis so multiple gateway replicas share
// completed analyses. Entries are JSON with a server-side TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using a URL of the form
// redis://host:port/db and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. Used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get fetches and decodes an entry.
func (s *RedisStore) Get(ctx context.Context, key string) (analysis.Result, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return analysis.Result{}, false, nil
	}
	if err != nil {
		return analysis.Result{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var res analysis.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return analysis.Result{}, false, fmt.Errorf("failed to decode cached analysis: %w", err)
	}
	return res, true, nil
}

// Set encodes and stores an entry with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value analysis.Result, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
