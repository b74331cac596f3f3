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

// Package budget enforces token and cost budgets over hourly and daily
// wall-clock windows. Charges are all-or-nothing: a charge that would exceed
// any window's budget is rejected in full with no partial effect. Crossing
// 90% or 100% of a budget emits an alert through the configured notifier.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limits are the configured budgets. Zero means unlimited.
type Limits struct {
	HourlyTokens   int
	DailyTokens    int
	DailyCostCents int
}

// Alert thresholds in percent.
var alertThresholds = []int{100, 90}

// alertCooldown suppresses repeats of the same alert type.
const alertCooldown = time.Hour

// Alert describes a budget threshold crossing.
type Alert struct {
	Window    string  `json:"window"` // "hourly" or "daily"
	Metric    string  `json:"metric"` // "tokens" or "cost"
	Threshold int     `json:"threshold"`
	PctUsed   float64 `json:"pct_used"`
	Used      int     `json:"used"`
	Limit     int     `json:"limit"`
}

// Notifier delivers budget alerts to an external collaborator.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Decision is the outcome of a charge attempt.
type Decision struct {
	Allowed   bool
	HourlyPct float64
	DailyPct  float64
	CostPct   float64
}

// Summary is a point-in-time view of window usage for the usage endpoint.
type Summary struct {
	HourlyTokens   int     `json:"hourly_tokens"`
	HourlyLimit    int     `json:"hourly_limit"`
	HourlyPct      float64 `json:"hourly_pct"`
	DailyTokens    int     `json:"daily_tokens"`
	DailyLimit     int     `json:"daily_limit"`
	DailyPct       float64 `json:"daily_pct"`
	DailyCostCents int     `json:"daily_cost_cents"`
	CostLimitCents int     `json:"cost_limit_cents"`
	CostPct        float64 `json:"cost_pct"`
	WindowHour     string  `json:"window_hour"`
	WindowDay      string  `json:"window_day"`
}

// window accumulates usage between wall-clock boundaries.
type window struct {
	start     time.Time
	tokens    int
	costCents int
}

// Meter is the process-wide budget accountant. All mutation goes through
// Charge; counters never go negative and never absorb a charge that was not
// validated against the remaining budget.
type Meter struct {
	limits   Limits
	notifier Notifier
	hour     window
	day      window
	alerted  map[string]time.Time
	now      func() time.Time
	mu       sync.Mutex
}

// NewMeter creates a budget meter. notifier may be nil to disable alerts.
func NewMeter(limits Limits, notifier Notifier) *Meter {
	return &Meter{
		limits:   limits,
		notifier: notifier,
		alerted:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether a charge of estimatedTokens would fit the remaining
// token budgets. Used as a pre-flight gate before spending a provider call.
func (m *Meter) Allow(estimatedTokens int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roll()

	if m.limits.HourlyTokens > 0 && m.hour.tokens+estimatedTokens > m.limits.HourlyTokens {
		return false
	}
	if m.limits.DailyTokens > 0 && m.day.tokens+estimatedTokens > m.limits.DailyTokens {
		return false
	}
	return true
}

// Charge applies a usage charge atomically. If the full charge does not fit
// every configured budget the charge is rejected and no counter changes.
func (m *Meter) Charge(ctx context.Context, tokens, costCents int) Decision {
	m.mu.Lock()
	m.roll()

	if tokens < 0 {
		tokens = 0
	}
	if costCents < 0 {
		costCents = 0
	}

	allowed := true
	if m.limits.HourlyTokens > 0 && m.hour.tokens+tokens > m.limits.HourlyTokens {
		allowed = false
	}
	if m.limits.DailyTokens > 0 && m.day.tokens+tokens > m.limits.DailyTokens {
		allowed = false
	}
	if m.limits.DailyCostCents > 0 && m.day.costCents+costCents > m.limits.DailyCostCents {
		allowed = false
	}

	if allowed {
		m.hour.tokens += tokens
		m.day.tokens += tokens
		m.hour.costCents += costCents
		m.day.costCents += costCents
	}

	decision := Decision{
		Allowed:   allowed,
		HourlyPct: pct(m.hour.tokens, m.limits.HourlyTokens),
		DailyPct:  pct(m.day.tokens, m.limits.DailyTokens),
		CostPct:   pct(m.day.costCents, m.limits.DailyCostCents),
	}

	alerts := m.pendingAlerts()
	m.mu.Unlock()

	// Notify outside the lock; alert delivery must not block charging.
	for _, alert := range alerts {
		if m.notifier != nil {
			_ = m.notifier.Notify(ctx, alert)
		}
	}

	return decision
}

// Exceeded reports whether any configured budget is already used up.
func (m *Meter) Exceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roll()

	if m.limits.HourlyTokens > 0 && m.hour.tokens >= m.limits.HourlyTokens {
		return true
	}
	if m.limits.DailyTokens > 0 && m.day.tokens >= m.limits.DailyTokens {
		return true
	}
	if m.limits.DailyCostCents > 0 && m.day.costCents >= m.limits.DailyCostCents {
		return true
	}
	return false
}

// Summary returns current usage for the introspection endpoint.
func (m *Meter) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roll()

	return Summary{
		HourlyTokens:   m.hour.tokens,
		HourlyLimit:    m.limits.HourlyTokens,
		HourlyPct:      pct(m.hour.tokens, m.limits.HourlyTokens),
		DailyTokens:    m.day.tokens,
		DailyLimit:     m.limits.DailyTokens,
		DailyPct:       pct(m.day.tokens, m.limits.DailyTokens),
		DailyCostCents: m.day.costCents,
		CostLimitCents: m.limits.DailyCostCents,
		CostPct:        pct(m.day.costCents, m.limits.DailyCostCents),
		WindowHour:     m.hour.start.Format("2006010215"),
		WindowDay:      m.day.start.Format("20060102"),
	}
}

// roll resets any window whose wall-clock boundary has passed. Caller must
// hold the lock.
func (m *Meter) roll() {
	now := m.now().UTC()

	hourStart := now.Truncate(time.Hour)
	if !m.hour.start.Equal(hourStart) {
		m.hour = window{start: hourStart}
		m.clearAlerts("hourly")
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !m.day.start.Equal(dayStart) {
		m.day = window{start: dayStart}
		m.clearAlerts("daily")
	}
}

// pendingAlerts collects threshold crossings that are due, marking them to
// enforce the per-type cooldown. Caller must hold the lock.
func (m *Meter) pendingAlerts() []Alert {
	var alerts []Alert
	now := m.now()

	check := func(windowName, metric string, used, limit int) {
		if limit <= 0 {
			return
		}
		used100 := pct(used, limit)
		for _, threshold := range alertThresholds {
			if used100 < float64(threshold) {
				continue
			}
			key := fmt.Sprintf("%s_%s_%d", windowName, metric, threshold)
			if last, ok := m.alerted[key]; ok && now.Sub(last) < alertCooldown {
				break
			}
			m.alerted[key] = now
			alerts = append(alerts, Alert{
				Window:    windowName,
				Metric:    metric,
				Threshold: threshold,
				PctUsed:   used100,
				Used:      used,
				Limit:     limit,
			})
			break
		}
	}

	check("hourly", "tokens", m.hour.tokens, m.limits.HourlyTokens)
	check("daily", "tokens", m.day.tokens, m.limits.DailyTokens)
	check("daily", "cost", m.day.costCents, m.limits.DailyCostCents)

	return alerts
}

// clearAlerts drops alert markers for a window so a fresh window can alert
// again. Caller must hold the lock.
func (m *Meter) clearAlerts(windowName string) {
	for key := range m.alerted {
		if len(key) > len(windowName) && key[:len(windowName)] == windowName {
			delete(m.alerted, key)
		}
	}
}

func pct(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}
