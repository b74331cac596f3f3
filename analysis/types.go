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

// Package analysis defines the shared types exchanged between the event
// dashboard and the LLM gateway: normalized event snippets, analysis requests,
// and the structured analysis report returned to callers. The report schema is
// identical whether the result was produced by a live model call, served from
// cache, or generated by the rule-based fallback summarizer.
package analysis

import (
	"fmt"
	"time"
)

// Priority levels for monitoring events.
const (
	PriorityP1 = "P1"
	PriorityP2 = "P2"
	PriorityP3 = "P3"
)

// Event status values as normalized by the event proxy.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
)

// Profile selects the response shape for an analysis request.
const (
	// ProfileJSON returns only the structured report.
	ProfileJSON = "json"

	// ProfileChat additionally returns a short human-readable summary.
	ProfileChat = "chat"
)

// Result sources. A fallback result must never be labeled as live.
const (
	SourceLive     = "live"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

// EventSnippet is a normalized monitoring event supplied by the event proxy.
// Snippets are immutable once created.
type EventSnippet struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // "jira", "datadog", "jams"
	Priority  string    `json:"priority"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// RequestContext is one caller invocation of the gateway.
type RequestContext struct {
	Events      []EventSnippet `json:"events"`
	Profile     string         `json:"profile"` // "json" or "chat"
	RequestType string         `json:"request_type,omitempty"`
}

// PriorityCounts is the event mix by priority level.
type PriorityCounts struct {
	P1 int
	P2 int
	P3 int
}

// CountPriorities tallies events by priority. Unknown priorities are
// counted as P3.
func CountPriorities(events []EventSnippet) PriorityCounts {
	var counts PriorityCounts
	for _, ev := range events {
		switch ev.Priority {
		case PriorityP1:
			counts.P1++
		case PriorityP2:
			counts.P2++
		default:
			counts.P3++
		}
	}
	return counts
}

// Cluster groups related low-priority events under a shared theme so they can
// be handled as a batch instead of listed individually.
type Cluster struct {
	Theme           string   `json:"theme"`
	Count           int      `json:"count"`
	Representatives []string `json:"representatives"`
	SuggestedOwner  string   `json:"suggested_owner,omitempty"`
}

// TopEvent is a ranked entry in the report with the reason it ranked.
type TopEvent struct {
	ID       string `json:"id"`
	Priority string `json:"priority"`
	Source   string `json:"source"`
	WhyTop   string `json:"why_top"`
}

// Action is a suggested remediation step. All actions are advisory; the
// gateway never executes them.
type Action struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason"`
	DryRun bool   `json:"dry_run"`
}

// Report is the structured analysis payload. The schema is produced
// identically for live, cached, and fallback results.
type Report struct {
	Window          string         `json:"window"`
	Totals          int            `json:"totals"`
	ByPriority      map[string]int `json:"by_priority"`
	BySource        map[string]int `json:"by_source"`
	Clusters        []Cluster      `json:"clusters"`
	TopEvents       []TopEvent     `json:"top_events"`
	Recommendations []string       `json:"recommendations"`
	Actions         []Action       `json:"actions"`
	NextDataToFetch []string       `json:"next_data_to_fetch"`
}

// MaxTopEvents caps the top_events list in every report.
const MaxTopEvents = 10

// Result is the gateway's answer to an analysis request. Immutable once
// produced.
type Result struct {
	Report      Report `json:"report"`
	ChatSummary string `json:"chat_summary,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Source      string `json:"source"`
}

// Validate checks the structural invariants of a report produced by a model.
// Reports that fail validation are treated as an invalid provider response.
func (r *Report) Validate() error {
	if r.Totals < 0 {
		return fmt.Errorf("report totals is negative: %d", r.Totals)
	}
	if r.ByPriority == nil {
		return fmt.Errorf("report missing by_priority")
	}
	if len(r.TopEvents) > MaxTopEvents {
		return fmt.Errorf("report top_events exceeds %d entries: %d", MaxTopEvents, len(r.TopEvents))
	}
	for i, te := range r.TopEvents {
		if te.ID == "" {
			return fmt.Errorf("report top_events[%d] missing id", i)
		}
	}
	return nil
}
