// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides the content-addressed response cache for completed
// analyses. Concurrent requests for the same uncached key are collapsed into
// a single upstream computation via singleflight; waiters receive the
// leader's result. TTL expiry is the primary eviction policy with a bounded
// entry count as a safety valve.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nestwatch/gateway/analysis"
)

// entry is one cached analysis with expiration.
type entry struct {
	value      analysis.Result
	expiresAt  time.Time
	lastAccess time.Time
}

func (e *entry) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ComputeFunc produces a fresh analysis for a key on cache miss.
type ComputeFunc func(ctx context.Context) (analysis.Result, error)

// Cache is the in-process response cache. An optional Store shares entries
// across processes; the in-process map remains the singleflight authority
// either way.
type Cache struct {
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	store      Store
	flight     singleflight.Group
	stats      Stats
	now        func() time.Time
	mu         sync.RWMutex
}

const (
	defaultTTL        = 300 * time.Second
	defaultMaxEntries = 1024
)

// Option configures a Cache.
type Option func(*Cache)

// WithStore attaches a shared backing store consulted on local miss.
func WithStore(store Store) Option {
	return func(c *Cache) { c.store = store }
}

// WithMaxEntries bounds the in-process entry count.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// New creates a response cache with the given TTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Cache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached analysis for key, or runs compute to build
// it. If a computation for the same key is already in flight the caller
// blocks until it completes and shares its result. Results are only stored
// when compute succeeds; errors are never cached.
//
// The returned bool is true when the result was served from cache (local or
// shared store) rather than computed in this call.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (analysis.Result, bool, error) {
	if res, ok := c.lookup(key); ok {
		return res, true, nil
	}

	type flightResult struct {
		value  analysis.Result
		cached bool
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// Another goroutine may have populated the key while this one
		// waited on the flight lock.
		if res, ok := c.lookup(key); ok {
			return flightResult{value: res, cached: true}, nil
		}

		if c.store != nil {
			if res, ok := c.storeLookup(ctx, key); ok {
				c.put(key, res)
				return flightResult{value: res, cached: true}, nil
			}
		}

		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		c.put(key, res)
		if c.store != nil {
			// Shared store write is best-effort
			_ = c.store.Set(ctx, key, res, c.ttl)
		}
		return flightResult{value: res, cached: false}, nil
	})
	if err != nil {
		return analysis.Result{}, false, err
	}

	fr := v.(flightResult)
	return fr.value, fr.cached, nil
}

// Get returns the cached analysis for key if present and unexpired.
func (c *Cache) Get(key string) (analysis.Result, bool) {
	return c.lookup(key)
}

// lookup checks the local map, counting hits and misses.
func (c *Cache) lookup(key string) (analysis.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.isExpired(c.now()) {
		c.stats.Misses++
		return analysis.Result{}, false
	}

	e.lastAccess = c.now()
	c.stats.Hits++
	return e.value, true
}

// storeLookup consults the shared store. Store errors are treated as a miss
// so a degraded store never fails a request.
func (c *Cache) storeLookup(ctx context.Context, key string) (analysis.Result, bool) {
	res, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return analysis.Result{}, false
	}
	return res, true
}

// put inserts a value, evicting the least recently used entry when full.
func (c *Cache) put(key string, value analysis.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &entry{
		value:      value,
		expiresAt:  now.Add(c.ttl),
		lastAccess: now,
	}
}

// evictOldest removes the least recently used entry. Caller must hold the
// lock.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

// Cleanup removes expired entries and returns the count evicted. Intended to
// run periodically from the service loop.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for key, e := range c.entries {
		if e.isExpired(now) {
			delete(c.entries, key)
			evicted++
		}
	}
	c.stats.Evictions += int64(evicted)
	return evicted
}

// GetStats returns a copy of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (c *Cache) HitRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total) * 100
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
