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

package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// maxContextExamples caps the number of example event lines in a prompt.
	maxContextExamples = 12

	// maxSummaryLen truncates event summaries in prompts and cache keys.
	maxSummaryLen = 100
)

// CompactContext builds a compact textual context from an event batch for
// inclusion in a model prompt. The format keeps token usage low: aggregate
// counts first, then up to maxContextExamples single-line examples.
func CompactContext(events []EventSnippet) string {
	counts := CountPriorities(events)
	bySource := make(map[string]int)
	for _, ev := range events {
		bySource[ev.Source]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Totals=%d;P1=%d;P2=%d;P3=%d;Sources:", len(events), counts.P1, counts.P2, counts.P3)

	sources := make([]string, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for i, src := range sources {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s=%d", src, bySource[src])
	}

	b.WriteString(";Examples:")
	limit := len(events)
	if limit > maxContextExamples {
		limit = maxContextExamples
	}
	for _, ev := range events[:limit] {
		fmt.Fprintf(&b, "\nid=%s src=%s pri=%s status=%s sum=%s",
			ev.ID, ev.Source, ev.Priority, ev.Status, truncate(ev.Summary, maxSummaryLen))
	}
	return b.String()
}

// CacheKey derives a deterministic cache key from a request context. Events
// are canonicalized before hashing (sorted by ID, volatile fields dropped) so
// equivalent requests always collide regardless of event ordering. The profile
// and request type are part of the key so json and chat responses never
// share an entry.
func CacheKey(req RequestContext) string {
	sorted := make([]EventSnippet, len(req.Events))
	copy(sorted, req.Events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	fmt.Fprintf(h, "profile=%s;type=%s;", req.Profile, req.RequestType)
	for _, ev := range sorted {
		fmt.Fprintf(h, "%s|%s|%s|%s|%s;",
			ev.ID, ev.Source, ev.Priority, ev.Status, truncate(ev.Summary, maxSummaryLen))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// BuildPrompt assembles the full prompt for a model call: the report schema
// instructions followed by the compacted event context.
func BuildPrompt(req RequestContext) string {
	var b strings.Builder
	b.WriteString("You are an SRE incident analyst. Analyze the monitoring events below and respond with a single JSON object matching this schema exactly:\n")
	b.WriteString(`{"window":string,"totals":int,"by_priority":{"P1":int,"P2":int,"P3":int},"by_source":{source:int},"clusters":[{"theme":string,"count":int,"representatives":[string],"suggested_owner":string}],"top_events":[{"id":string,"priority":string,"source":string,"why_top":string}],"recommendations":[string],"actions":[{"type":string,"target":string,"reason":string,"dry_run":true}],"next_data_to_fetch":[string]}`)
	b.WriteString("\ntop_events must contain at most 10 entries. All actions must be dry_run.\n")
	if req.Profile == ProfileChat {
		b.WriteString("After the JSON object, append a human-readable summary of at most 8 lines.\n")
	}
	b.WriteString("\nEvents:\n")
	b.WriteString(CompactContext(req.Events))
	return b.String()
}

// ParseResponse extracts the structured report from raw model output. Models
// occasionally wrap the JSON in prose or code fences, so the parser takes the
// outermost brace-delimited object. Any trailing text is returned as the chat
// summary. A parse or validation failure means the provider response is
// unusable.
func ParseResponse(content string) (Report, string, error) {
	start := strings.Index(content, "{")
	if start < 0 {
		return Report{}, "", fmt.Errorf("no JSON object in model output")
	}

	dec := json.NewDecoder(strings.NewReader(content[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return Report{}, "", fmt.Errorf("failed to parse model output: %w", err)
	}
	end := start + int(dec.InputOffset())

	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, "", fmt.Errorf("failed to parse model output: %w", err)
	}
	if err := report.Validate(); err != nil {
		return Report{}, "", err
	}

	trailing := strings.TrimSpace(content[end:])
	trailing = clampLines(trailing, 8)
	return report, trailing, nil
}

// clampLines limits s to at most n lines.
func clampLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
