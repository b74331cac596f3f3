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

package llm

import "fmt"

// LLM provider pricing as of mid 2025.
// Prices stored in cents per 1K tokens to avoid floating point issues.
// All prices are USD.

// ModelPricing contains pricing for a specific model.
type ModelPricing struct {
	PromptCostPer1K     int // cents per 1K prompt tokens
	CompletionCostPer1K int // cents per 1K completion tokens
}

// modelPricing maps provider-model combinations to pricing.
var modelPricing = map[string]ModelPricing{
	// Anthropic direct API
	"anthropic-claude-3-5-sonnet-20241022": {300, 1500}, // $0.003/$0.015 per 1K tokens
	"anthropic-claude-3-5-haiku-20241022":  {100, 500},  // $0.001/$0.005 per 1K tokens
	"anthropic-claude-3-haiku-20240307":    {25, 125},   // $0.00025/$0.00125 per 1K tokens

	// AWS Bedrock hosted models
	"bedrock-anthropic.claude-3-5-sonnet-20240620-v1:0": {300, 1500},
	"bedrock-anthropic.claude-3-haiku-20240307-v1:0":    {25, 125},
	"bedrock-amazon.titan-text-express-v1":              {20, 60}, // $0.0002/$0.0006 per 1K tokens

	// OpenAI
	"openai-gpt-4-turbo":    {1000, 3000}, // $0.01/$0.03 per 1K tokens
	"openai-gpt-4o":         {250, 1000},  // $0.0025/$0.01 per 1K tokens
	"openai-gpt-3.5-turbo":  {50, 150},    // $0.0005/$0.0015 per 1K tokens

	// Self-hosted NIM endpoint has no per-token cost
	"nemo_local-default": {0, 0},

	// Default fallback pricing (conservative estimate)
	"default": {1000, 3000}, // $0.01/$0.03 per 1K tokens
}

// CalculateCost calculates the cost in cents for an LLM request.
// Returns cost in cents (integer) to avoid floating point precision issues.
func CalculateCost(provider, model string, promptTokens, completionTokens int) int {
	key := provider + "-" + model

	pricing, ok := modelPricing[key]
	if !ok {
		if provider == "nemo_local" {
			return 0
		}
		pricing = modelPricing["default"]
	}

	promptCost := (promptTokens * pricing.PromptCostPer1K) / 1000
	completionCost := (completionTokens * pricing.CompletionCostPer1K) / 1000

	return promptCost + completionCost
}

// GetModelPricing returns the pricing for a specific provider-model
// combination.
func GetModelPricing(provider, model string) (ModelPricing, bool) {
	pricing, ok := modelPricing[provider+"-"+model]
	return pricing, ok
}

// FormatCostToDollars converts cents to a dollar string (e.g., 135 -> "$1.35").
func FormatCostToDollars(cents int) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100.0)
}
