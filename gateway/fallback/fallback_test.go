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

package fallback

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"nestwatch/gateway/analysis"
)

func event(id, source, priority, status, summary string, ts time.Time) analysis.EventSnippet {
	return analysis.EventSnippet{
		ID:        id,
		Source:    source,
		Priority:  priority,
		Status:    status,
		Summary:   summary,
		Timestamp: ts,
	}
}

func TestSummarizeBasicReport(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	req := analysis.RequestContext{
		Events: []analysis.EventSnippet{
			event("DD-1", "datadog", analysis.PriorityP1, analysis.StatusOpen, "payment service 5xx spike", base),
			event("JIRA-2", "jira", analysis.PriorityP2, analysis.StatusInProgress, "checkout latency regression", base.Add(-time.Hour)),
			event("JAMS-3", "jams", analysis.PriorityP3, analysis.StatusOpen, "nightly export job failed", base.Add(-2*time.Hour)),
		},
		Profile: analysis.ProfileJSON,
	}

	result, err := New().Summarize(req)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if result.Source != analysis.SourceFallback {
		t.Errorf("Expected source %q, got %q", analysis.SourceFallback, result.Source)
	}
	if result.Provider != "" {
		t.Errorf("Fallback result should have no provider, got %q", result.Provider)
	}
	if result.Report.Totals != 3 {
		t.Errorf("Expected 3 total events, got %d", result.Report.Totals)
	}
	if got := result.Report.ByPriority[analysis.PriorityP1]; got != 1 {
		t.Errorf("Expected 1 P1, got %d", got)
	}
	if got := result.Report.BySource["datadog"]; got != 1 {
		t.Errorf("Expected 1 datadog event, got %d", got)
	}
	if err := result.Report.Validate(); err != nil {
		t.Errorf("Fallback report failed validation: %v", err)
	}
	if len(result.Report.TopEvents) != 3 {
		t.Fatalf("Expected 3 top events, got %d", len(result.Report.TopEvents))
	}
	if result.Report.TopEvents[0].ID != "DD-1" {
		t.Errorf("Expected P1 event ranked first, got %s", result.Report.TopEvents[0].ID)
	}
}

func TestSummarizeDeterministic(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	req := analysis.RequestContext{
		Events: []analysis.EventSnippet{
			event("A-1", "datadog", analysis.PriorityP2, analysis.StatusOpen, "db connection timeouts", base),
			event("B-2", "jira", analysis.PriorityP3, analysis.StatusOpen, "minor ui glitch", base),
			event("C-3", "jams", analysis.PriorityP3, analysis.StatusResolved, "retry succeeded", base),
		},
	}

	s := New()
	first, err := s.Summarize(req)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	second, err := s.Summarize(req)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("Identical inputs produced different reports")
	}
}

func TestRankingOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		events    []analysis.EventSnippet
		wantFirst string
	}{
		{
			name: "priority dominates source weight",
			events: []analysis.EventSnippet{
				event("jams-p1", "jams", analysis.PriorityP1, analysis.StatusOpen, "batch stuck", base),
				event("jira-p2", "jira", analysis.PriorityP2, analysis.StatusOpen, "slow page", base),
			},
			wantFirst: "jams-p1",
		},
		{
			name: "keyword boost breaks priority tie",
			events: []analysis.EventSnippet{
				event("plain", "jira", analysis.PriorityP2, analysis.StatusOpen, "something odd", base),
				event("impact", "jira", analysis.PriorityP2, analysis.StatusOpen, "auth timeout on login", base),
			},
			wantFirst: "impact",
		},
		{
			name: "open outranks resolved at equal priority",
			events: []analysis.EventSnippet{
				event("done", "jira", analysis.PriorityP2, analysis.StatusResolved, "fixed issue", base),
				event("live", "jira", analysis.PriorityP2, analysis.StatusOpen, "active issue", base),
			},
			wantFirst: "live",
		},
		{
			name: "newer wins a full tie",
			events: []analysis.EventSnippet{
				event("old", "jira", analysis.PriorityP3, analysis.StatusOpen, "stale note", base.Add(-time.Hour)),
				event("new", "jira", analysis.PriorityP3, analysis.StatusOpen, "fresh note", base),
			},
			wantFirst: "new",
		},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.Summarize(analysis.RequestContext{Events: tt.events})
			if err != nil {
				t.Fatalf("Summarize failed: %v", err)
			}
			if got := result.Report.TopEvents[0].ID; got != tt.wantFirst {
				t.Errorf("Expected %s first, got %s", tt.wantFirst, got)
			}
		})
	}
}

func TestTopEventsCapped(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var events []analysis.EventSnippet
	for i := 0; i < 25; i++ {
		events = append(events, event(
			string(rune('A'+i))+"-ev", "datadog",
			analysis.PriorityP3, analysis.StatusOpen, "noise", base))
	}

	result, err := New().Summarize(analysis.RequestContext{Events: events})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if len(result.Report.TopEvents) != analysis.MaxTopEvents {
		t.Errorf("Expected top events capped at %d, got %d", analysis.MaxTopEvents, len(result.Report.TopEvents))
	}
}

func TestP3Clustering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	req := analysis.RequestContext{
		Events: []analysis.EventSnippet{
			event("P1-1", "datadog", analysis.PriorityP1, analysis.StatusOpen, "db down", base),
			event("K-1", "datadog", analysis.PriorityP3, analysis.StatusOpen, "kafka lag warning", base),
			event("K-2", "jams", analysis.PriorityP3, analysis.StatusOpen, "kafka consumer restart", base),
			event("K-3", "datadog", analysis.PriorityP3, analysis.StatusOpen, "kafka partition skew", base),
			event("K-4", "datadog", analysis.PriorityP3, analysis.StatusOpen, "kafka rebalance", base),
			event("J-1", "jams", analysis.PriorityP3, analysis.StatusOpen, "housekeeping job slow", base),
		},
	}

	result, err := New().Summarize(req)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	var kafka, jams *analysis.Cluster
	for i := range result.Report.Clusters {
		c := &result.Report.Clusters[i]
		switch c.Theme {
		case "kafka":
			kafka = c
		case "jams":
			jams = c
		}
	}

	if kafka == nil {
		t.Fatal("Expected a kafka-themed cluster")
	}
	if kafka.Count != 4 {
		t.Errorf("Expected 4 kafka events, got %d", kafka.Count)
	}
	if len(kafka.Representatives) != 3 {
		t.Errorf("Expected 3 representatives, got %d", len(kafka.Representatives))
	}
	if kafka.SuggestedOwner != "observability" {
		t.Errorf("Expected observability owner for datadog-majority cluster, got %s", kafka.SuggestedOwner)
	}

	if jams == nil {
		t.Fatal("Expected a jams source cluster")
	}
	if jams.SuggestedOwner != "batch-ops" {
		t.Errorf("Expected batch-ops owner, got %s", jams.SuggestedOwner)
	}

	// P1 events never land in clusters.
	for _, c := range result.Report.Clusters {
		for _, id := range c.Representatives {
			if id == "P1-1" {
				t.Error("P1 event leaked into a P3 cluster")
			}
		}
	}
}

func TestRecommendations(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var events []analysis.EventSnippet
	events = append(events, event("P1-1", "jira", analysis.PriorityP1, analysis.StatusOpen, "outage", base))
	for i := 0; i < 25; i++ {
		events = append(events, event(
			fmt.Sprintf("dd-%d", i), "datadog", analysis.PriorityP3, analysis.StatusOpen, "monitor fired", base))
	}

	result, err := New().Summarize(analysis.RequestContext{Events: events})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	joined := strings.Join(result.Report.Recommendations, "\n")
	if !strings.Contains(joined, "Page the on-call") {
		t.Error("Expected on-call recommendation for P1 events")
	}
	if !strings.Contains(joined, "datadog monitor thresholds") {
		t.Error("Expected threshold recommendation for high datadog volume")
	}
	if len(result.Report.Recommendations) > 5 {
		t.Errorf("Expected at most 5 recommendations, got %d", len(result.Report.Recommendations))
	}
}

func TestActionsAreDryRun(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var events []analysis.EventSnippet
	events = append(events, event("P1-1", "jira", analysis.PriorityP1, analysis.StatusOpen, "outage", base))
	for i := 0; i < 25; i++ {
		events = append(events, event(
			fmt.Sprintf("dd-%d", i), "datadog", analysis.PriorityP3, analysis.StatusOpen, "monitor fired", base))
	}

	result, err := New().Summarize(analysis.RequestContext{Events: events})
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if len(result.Report.Actions) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(result.Report.Actions))
	}
	for _, a := range result.Report.Actions {
		if !a.DryRun {
			t.Errorf("Action %s must be dry-run", a.Type)
		}
	}
}

func TestChatProfileSummary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	req := analysis.RequestContext{
		Events: []analysis.EventSnippet{
			event("P1-1", "datadog", analysis.PriorityP1, analysis.StatusOpen, "payment outage", base),
			event("P3-1", "jams", analysis.PriorityP3, analysis.StatusOpen, "job slow", base),
		},
		Profile: analysis.ProfileChat,
	}

	result, err := New().Summarize(req)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}

	if result.ChatSummary == "" {
		t.Fatal("Expected a chat summary for the chat profile")
	}
	if got := len(strings.Split(result.ChatSummary, "\n")); got > 8 {
		t.Errorf("Chat summary must be at most 8 lines, got %d", got)
	}
	if !strings.Contains(result.ChatSummary, "1 P1") {
		t.Errorf("Chat summary missing priority counts: %q", result.ChatSummary)
	}
}

func TestJSONProfileHasNoChatSummary(t *testing.T) {
	req := analysis.RequestContext{
		Events:  []analysis.EventSnippet{event("A", "jira", analysis.PriorityP3, analysis.StatusOpen, "note", time.Now())},
		Profile: analysis.ProfileJSON,
	}
	result, err := New().Summarize(req)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if result.ChatSummary != "" {
		t.Errorf("JSON profile should not carry a chat summary, got %q", result.ChatSummary)
	}
}

func TestEmptyBatch(t *testing.T) {
	result, err := New().Summarize(analysis.RequestContext{})
	if err != nil {
		t.Fatalf("Summarize failed on empty batch: %v", err)
	}
	if result.Report.Totals != 0 {
		t.Errorf("Expected 0 totals, got %d", result.Report.Totals)
	}
	if err := result.Report.Validate(); err != nil {
		t.Errorf("Empty report failed validation: %v", err)
	}
}

func TestMalformedEventRejected(t *testing.T) {
	req := analysis.RequestContext{
		Events: []analysis.EventSnippet{{Source: "jira", Priority: analysis.PriorityP1}},
	}
	if _, err := New().Summarize(req); err == nil {
		t.Error("Expected an error for an event without an id")
	}
}
