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

// Package fallback generates analysis reports without calling any LLM. It is
// the terminal degradation path: whenever live calls are skipped, blocked, or
// exhausted the gateway serves a deterministic rule-based report with the
// same schema as a live result.
package fallback

import (
	"fmt"
	"sort"
	"strings"

	"nestwatch/gateway/analysis"
)

// Base scores per priority level.
const (
	scoreP1 = 100
	scoreP2 = 50
	scoreP3 = 10
)

// Status boosts: active events outrank resolved ones.
const (
	boostActive   = 30
	boostResolved = 5
)

// keywordBoost is added per matched impact keyword.
const keywordBoost = 15

// defaultKeywords are summary terms that signal customer or platform impact.
var defaultKeywords = []string{
	"payment", "checkout", "auth", "login", "api-gw", "db", "kafka", "timeout", "5xx",
}

// defaultSourceWeights scale the base score per event source.
var defaultSourceWeights = map[string]float64{
	"jira":    1.0,
	"datadog": 0.9,
	"jams":    0.7,
}

// clusterOwners suggests an owning team per cluster theme source.
var clusterOwners = map[string]string{
	"jira":    "service-owners",
	"datadog": "observability",
	"jams":    "batch-ops",
}

// Summarizer produces rule-based analysis results. Stateless and safe for
// concurrent use.
type Summarizer struct {
	keywords      []string
	sourceWeights map[string]float64
	windowLabel   string
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithSourceWeights overrides the per-source ranking weights.
func WithSourceWeights(weights map[string]float64) Option {
	return func(s *Summarizer) { s.sourceWeights = weights }
}

// WithKeywords overrides the impact keyword list.
func WithKeywords(keywords []string) Option {
	return func(s *Summarizer) { s.keywords = keywords }
}

// WithWindowLabel sets the window label stamped on reports.
func WithWindowLabel(label string) Option {
	return func(s *Summarizer) { s.windowLabel = label }
}

// New creates a summarizer with default weights and keywords.
func New(opts ...Option) *Summarizer {
	s := &Summarizer{
		keywords:      defaultKeywords,
		sourceWeights: defaultSourceWeights,
		windowLabel:   "recent",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scored pairs an event with its ranking weight.
type scored struct {
	event    analysis.EventSnippet
	score    float64
	keywords []string
}

// Summarize builds a complete analysis result from the event batch alone.
// Output is deterministic: identical inputs always produce identical
// reports. The only error case is malformed input; there is no further
// degradation path below this one.
func (s *Summarizer) Summarize(req analysis.RequestContext) (analysis.Result, error) {
	for i, ev := range req.Events {
		if ev.ID == "" {
			return analysis.Result{}, fmt.Errorf("event %d has no id", i)
		}
	}

	counts := analysis.CountPriorities(req.Events)
	bySource := make(map[string]int)
	statusOpen := 0
	for _, ev := range req.Events {
		bySource[ev.Source]++
		if ev.Status != analysis.StatusResolved {
			statusOpen++
		}
	}

	ranked := s.rank(req.Events)

	report := analysis.Report{
		Window: s.windowLabel,
		Totals: len(req.Events),
		ByPriority: map[string]int{
			analysis.PriorityP1: counts.P1,
			analysis.PriorityP2: counts.P2,
			analysis.PriorityP3: counts.P3,
		},
		BySource:        bySource,
		Clusters:        s.clusterP3(req.Events),
		TopEvents:       s.topEvents(ranked),
		Recommendations: s.recommendations(counts, bySource, statusOpen),
		Actions:         s.actions(counts, len(req.Events)),
		NextDataToFetch: []string{
			"recent deploy history for affected services",
			"error rate trends for top event sources",
		},
	}

	result := analysis.Result{
		Report: report,
		Source: analysis.SourceFallback,
	}
	if req.Profile == analysis.ProfileChat {
		result.ChatSummary = s.chatSummary(report)
	}
	return result, nil
}

// rank scores and orders events: weighted score first, then priority, then
// active-before-resolved, then newer timestamps, then ID for a stable order.
func (s *Summarizer) rank(events []analysis.EventSnippet) []scored {
	ranked := make([]scored, 0, len(events))
	for _, ev := range events {
		matched := s.matchedKeywords(ev.Summary)
		ranked = append(ranked, scored{
			event:    ev,
			score:    s.score(ev, matched),
			keywords: matched,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if pa, pb := priorityRank(a.event.Priority), priorityRank(b.event.Priority); pa != pb {
			return pa < pb
		}
		if sa, sb := statusRank(a.event.Status), statusRank(b.event.Status); sa != sb {
			return sa < sb
		}
		if !a.event.Timestamp.Equal(b.event.Timestamp) {
			return a.event.Timestamp.After(b.event.Timestamp)
		}
		return a.event.ID < b.event.ID
	})
	return ranked
}

// score computes the ranking weight for one event.
func (s *Summarizer) score(ev analysis.EventSnippet, matched []string) float64 {
	var base float64
	switch ev.Priority {
	case analysis.PriorityP1:
		base = scoreP1
	case analysis.PriorityP2:
		base = scoreP2
	default:
		base = scoreP3
	}

	weight, ok := s.sourceWeights[ev.Source]
	if !ok {
		weight = 1.0
	}
	score := base * weight

	switch ev.Status {
	case analysis.StatusResolved:
		score += boostResolved
	default:
		score += boostActive
	}

	score += float64(len(matched) * keywordBoost)
	return score
}

// matchedKeywords returns the impact keywords present in a summary.
func (s *Summarizer) matchedKeywords(summary string) []string {
	lower := strings.ToLower(summary)
	var matched []string
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// topEvents converts the ranked list into report entries, capped at the
// schema limit.
func (s *Summarizer) topEvents(ranked []scored) []analysis.TopEvent {
	limit := len(ranked)
	if limit > analysis.MaxTopEvents {
		limit = analysis.MaxTopEvents
	}

	top := make([]analysis.TopEvent, 0, limit)
	for _, r := range ranked[:limit] {
		top = append(top, analysis.TopEvent{
			ID:       r.event.ID,
			Priority: r.event.Priority,
			Source:   r.event.Source,
			WhyTop:   whyTop(r),
		})
	}
	return top
}

// whyTop explains an event's ranking in one line.
func whyTop(r scored) string {
	parts := []string{fmt.Sprintf("%s %s from %s", r.event.Priority, r.event.Status, r.event.Source)}
	if len(r.keywords) > 0 {
		parts = append(parts, "impact keywords: "+strings.Join(r.keywords, ", "))
	}
	return strings.Join(parts, "; ")
}

// clusterP3 groups P3 events by theme so they can be batch-triaged instead
// of listed individually. The theme is the first matched impact keyword, or
// the event source when nothing matches.
func (s *Summarizer) clusterP3(events []analysis.EventSnippet) []analysis.Cluster {
	groups := make(map[string][]analysis.EventSnippet)
	for _, ev := range events {
		if ev.Priority == analysis.PriorityP1 || ev.Priority == analysis.PriorityP2 {
			continue
		}
		theme := ev.Source
		if matched := s.matchedKeywords(ev.Summary); len(matched) > 0 {
			theme = matched[0]
		}
		groups[theme] = append(groups[theme], ev)
	}

	themes := make([]string, 0, len(groups))
	for theme := range groups {
		themes = append(themes, theme)
	}
	sort.Strings(themes)

	clusters := make([]analysis.Cluster, 0, len(themes))
	for _, theme := range themes {
		evs := groups[theme]
		sort.Slice(evs, func(i, j int) bool { return evs[i].ID < evs[j].ID })

		reps := make([]string, 0, 3)
		for _, ev := range evs {
			if len(reps) == 3 {
				break
			}
			reps = append(reps, ev.ID)
		}

		clusters = append(clusters, analysis.Cluster{
			Theme:           theme,
			Count:           len(evs),
			Representatives: reps,
			SuggestedOwner:  suggestedOwner(theme, evs),
		})
	}
	return clusters
}

// suggestedOwner picks an owning team for a cluster. Source-themed clusters
// map straight to the source's team; keyword-themed clusters use the
// majority source of their members.
func suggestedOwner(theme string, events []analysis.EventSnippet) string {
	if owner, ok := clusterOwners[theme]; ok {
		return owner
	}

	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Source]++
	}
	majority := ""
	for src, n := range counts {
		if majority == "" || n > counts[majority] || (n == counts[majority] && src < majority) {
			majority = src
		}
	}
	if owner, ok := clusterOwners[majority]; ok {
		return owner
	}
	return "triage"
}

// recommendations derives at most five advisory strings from the batch
// shape.
func (s *Summarizer) recommendations(counts analysis.PriorityCounts, bySource map[string]int, open int) []string {
	var recs []string
	if counts.P1 > 0 {
		recs = append(recs, fmt.Sprintf("Page the on-call for %d P1 event(s) and start an incident channel", counts.P1))
	}
	if counts.P2 > 3 {
		recs = append(recs, fmt.Sprintf("Triage %d P2 events before they escalate", counts.P2))
	}
	if bySource["datadog"] > 20 {
		recs = append(recs, "Review datadog monitor thresholds; alert volume suggests noise")
	}
	if bySource["jams"] > 5 {
		recs = append(recs, "Inspect the batch scheduler; multiple job failures reported")
	}
	if bySource["jira"] > 3 {
		recs = append(recs, "Groom the open jira backlog for stale incident tickets")
	}
	if open > 10 {
		recs = append(recs, fmt.Sprintf("Burn down the %d unresolved events before the next on-call handoff", open))
	}
	if len(recs) > 5 {
		recs = recs[:5]
	}
	return recs
}

// actions lists dry-run remediation steps. The gateway never executes
// actions; they are suggestions for the operator.
func (s *Summarizer) actions(counts analysis.PriorityCounts, total int) []analysis.Action {
	var actions []analysis.Action
	if counts.P1 > 0 || counts.P2 > 0 {
		actions = append(actions, analysis.Action{
			Type:   "notify_slack",
			Target: "#sre-escalations",
			Reason: fmt.Sprintf("%d P1 and %d P2 events need attention", counts.P1, counts.P2),
			DryRun: true,
		})
	}
	if total > 20 {
		actions = append(actions, analysis.Action{
			Type:   "review_thresholds",
			Target: "datadog",
			Reason: fmt.Sprintf("%d events in window suggests alert noise", total),
			DryRun: true,
		})
	}
	return actions
}

// chatSummary renders a human-readable digest of at most 8 lines.
func (s *Summarizer) chatSummary(report analysis.Report) string {
	lines := []string{
		fmt.Sprintf("%d events: %d P1, %d P2, %d P3.",
			report.Totals,
			report.ByPriority[analysis.PriorityP1],
			report.ByPriority[analysis.PriorityP2],
			report.ByPriority[analysis.PriorityP3]),
	}
	if len(report.TopEvents) > 0 {
		top := report.TopEvents[0]
		lines = append(lines, fmt.Sprintf("Most important: %s (%s from %s).", top.ID, top.Priority, top.Source))
	}
	if len(report.Clusters) > 0 {
		lines = append(lines, fmt.Sprintf("%d low-priority cluster(s) grouped for batch triage.", len(report.Clusters)))
	}
	for i, rec := range report.Recommendations {
		if i == 4 {
			break
		}
		lines = append(lines, "- "+rec)
	}
	if len(lines) > 8 {
		lines = lines[:8]
	}
	return strings.Join(lines, "\n")
}

// priorityRank orders P1 before P2 before P3.
func priorityRank(p string) int {
	switch p {
	case analysis.PriorityP1:
		return 0
	case analysis.PriorityP2:
		return 1
	default:
		return 2
	}
}

// statusRank orders open before in-progress before resolved.
func statusRank(s string) int {
	switch s {
	case analysis.StatusOpen:
		return 0
	case analysis.StatusInProgress:
		return 1
	default:
		return 2
	}
}
