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

// Package policy decides whether an event batch warrants a live LLM call at
// all. Evaluation is a pure function of the priority mix: overwhelmingly
// low-priority batches are routed straight to the deterministic summarizer.
package policy

import "nestwatch/gateway/analysis"

// Rules are the configured skip thresholds.
type Rules struct {
	// MaxP2WithoutLLM is the largest P2 count that still skips the LLM when
	// no P1 events are present. Zero skips only fully quiet batches; a
	// negative value disables skipping entirely.
	MaxP2WithoutLLM int
}

// DefaultMaxP2 is the default P2 tolerance.
const DefaultMaxP2 = 2

// DefaultRules returns the standard skip thresholds.
func DefaultRules() Rules {
	return Rules{MaxP2WithoutLLM: DefaultMaxP2}
}

// Engine evaluates the skip rule. Stateless and safe for concurrent use.
type Engine struct {
	rules Rules
}

// New creates a policy engine. Rules are taken verbatim; callers wanting the
// standard thresholds start from DefaultRules.
func New(rules Rules) *Engine {
	return &Engine{rules: rules}
}

// ShouldSkipLLM reports whether the batch is low-priority enough to skip
// live analysis: zero P1 events and at most the configured number of P2
// events. Deterministic and side-effect free.
func (e *Engine) ShouldSkipLLM(counts analysis.PriorityCounts) bool {
	return counts.P1 == 0 && counts.P2 <= e.rules.MaxP2WithoutLLM
}
