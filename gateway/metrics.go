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

package gateway

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_gateway_requests_total",
			Help: "Total analysis requests answered, labeled by result source",
		},
		[]string{"source"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nestwatch_gateway_request_duration_milliseconds",
			Help:    "Analysis request duration in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 15000, 60000},
		},
		[]string{"source"},
	)
	promProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_gateway_provider_errors_total",
			Help: "Provider call failures by provider and error kind",
		},
		[]string{"provider", "kind"},
	)
	promGateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_gateway_gate_rejections_total",
			Help: "Calls blocked before or after the provider chain, by gate",
		},
		[]string{"gate"},
	)
	promFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_gateway_fallback_total",
			Help: "Rule-based fallback responses served, by reason",
		},
		[]string{"reason"},
	)
	promPolicySkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nestwatch_gateway_policy_skips_total",
			Help: "Requests answered without an LLM because the batch was below threshold",
		},
	)
	promTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_gateway_tokens_used_total",
			Help: "LLM tokens consumed, by provider",
		},
		[]string{"provider"},
	)
	promCostCents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestwatch_gateway_cost_cents_total",
			Help: "LLM spend in cents, by provider",
		},
		[]string{"provider"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promProviderErrors)
	prometheus.MustRegister(promGateRejections)
	prometheus.MustRegister(promFallbacks)
	prometheus.MustRegister(promPolicySkips)
	prometheus.MustRegister(promTokensUsed)
	prometheus.MustRegister(promCostCents)
}
