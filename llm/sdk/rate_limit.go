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

// Package sdk contains shared client-side plumbing for LLM calls.
package sdk

import (
	"sync"
	"time"
)

// RateLimiter implements token bucket admission control for LLM API calls.
// Admission never blocks: a call is either admitted immediately or rejected.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
// rate: requests per second
// burst: maximum burst size (bucket capacity)
func NewRateLimiter(rate, burst float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// Admit attempts to take one token without blocking.
// Returns true if the call was admitted.
func (r *RateLimiter) Admit() bool {
	return r.AdmitN(1)
}

// AdmitN attempts to take cost tokens without blocking. The refill and
// decrement happen under one lock so concurrent admits never overdraw the
// bucket.
func (r *RateLimiter) AdmitN(cost float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= cost {
		r.tokens -= cost
		return true
	}
	return false
}

// refill adds tokens based on elapsed time, capped at capacity.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// RetryAfter returns how long until at least one token is available.
func (r *RateLimiter) RetryAfter() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()

	if r.tokens >= 1 {
		return 0
	}
	if r.refillRate <= 0 {
		return time.Duration(1<<63 - 1)
	}
	deficit := 1 - r.tokens
	return time.Duration(deficit / r.refillRate * float64(time.Second))
}

// SetRate dynamically updates the refill rate.
func (r *RateLimiter) SetRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillRate = rate
}

// SetBurst dynamically updates the burst capacity.
func (r *RateLimiter) SetBurst(burst float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxTokens = burst
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}
