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

// Package breaker implements per-provider circuit breaking. Each provider has
// an independent circuit so one failing vendor never blocks the others.
package breaker

import (
	"sync"
	"time"

	"nestwatch/gateway/llm"
)

// Circuit states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Config tunes breaker behavior. Zero values take defaults.
type Config struct {
	// MaxFailures is the consecutive failure count that opens a circuit.
	MaxFailures int

	// Cooldown is how long an open circuit waits before permitting a
	// half-open trial call.
	Cooldown time.Duration

	// TripKinds are failure kinds that open the circuit on the first
	// occurrence regardless of MaxFailures. Defaults to auth failures,
	// which never heal by retrying the same credentials.
	TripKinds []llm.ErrorKind
}

const (
	defaultMaxFailures = 5
	defaultCooldown    = 30 * time.Minute
)

// circuit is the state for one provider.
type circuit struct {
	state         string
	failures      int
	openedAt      time.Time
	lastFailure   time.Time
	trialInFlight bool
}

// Breaker tracks circuit state per provider. All transitions happen under the
// breaker lock.
type Breaker struct {
	circuits    map[string]*circuit
	maxFailures int
	cooldown    time.Duration
	tripKinds   map[llm.ErrorKind]bool
	now         func() time.Time
	mu          sync.Mutex
}

// New creates a breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.TripKinds == nil {
		cfg.TripKinds = []llm.ErrorKind{llm.KindAuthFailed}
	}

	trips := make(map[llm.ErrorKind]bool, len(cfg.TripKinds))
	for _, k := range cfg.TripKinds {
		trips[k] = true
	}

	return &Breaker{
		circuits:    make(map[string]*circuit),
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		tripKinds:   trips,
		now:         time.Now,
	}
}

// Allow reports whether a call to the provider may proceed. An open circuit
// whose cooldown has elapsed transitions to half-open and admits exactly one
// trial call; further calls are rejected until the trial resolves.
func (b *Breaker) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(provider)

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return false
		}
		c.state = StateHalfOpen
		c.trialInFlight = true
		return true
	case StateHalfOpen:
		if c.trialInFlight {
			return false
		}
		c.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit after a successful call.
func (b *Breaker) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(provider)
	c.state = StateClosed
	c.failures = 0
	c.trialInFlight = false
}

// RecordFailure feeds a classified failure into the provider's circuit.
// A failed half-open trial reopens the circuit and restarts the cooldown.
func (b *Breaker) RecordFailure(provider string, kind llm.ErrorKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(provider)
	c.failures++
	c.lastFailure = b.now()

	if c.state == StateHalfOpen || c.failures >= b.maxFailures || b.tripKinds[kind] {
		c.state = StateOpen
		c.openedAt = b.now()
		c.trialInFlight = false
	}
}

// State returns the provider's current circuit state.
func (b *Breaker) State(provider string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuit(provider).state
}

// Snapshot is a point-in-time view of one circuit for introspection.
type Snapshot struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	CooldownSeconds     int       `json:"cooldown_seconds"`
}

// States returns a snapshot of every tracked circuit.
func (b *Breaker) States() map[string]Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]Snapshot, len(b.circuits))
	for name, c := range b.circuits {
		out[name] = Snapshot{
			State:               c.state,
			ConsecutiveFailures: c.failures,
			OpenedAt:            c.openedAt,
			LastFailure:         c.lastFailure,
			CooldownSeconds:     int(b.cooldown.Seconds()),
		}
	}
	return out
}

// Reset forces the provider's circuit back to closed. Used by the admin
// endpoint after a vendor incident is resolved.
func (b *Breaker) Reset(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(provider)
	c.state = StateClosed
	c.failures = 0
	c.trialInFlight = false
}

// circuit returns the circuit for a provider, creating it closed if needed.
// Caller must hold the lock.
func (b *Breaker) circuit(provider string) *circuit {
	c, ok := b.circuits[provider]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[provider] = c
	}
	return c
}
