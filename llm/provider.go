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

// Package llm defines the provider capability interface shared by all vendor
// adapters, the provider error taxonomy, and token pricing tables. Concrete
// adapters live in the subpackages (anthropic, openai, bedrock, local).
package llm

import (
	"context"
	"time"
)

// Provider is the capability interface implemented by every vendor adapter.
// Adapters are selected through an explicit ordered configuration list, never
// discovered at runtime.
type Provider interface {
	Name() string
	Query(ctx context.Context, prompt string, options QueryOptions) (*Response, error)
	IsHealthy() bool
	GetCapabilities() []string
	EstimateCost(tokens int) float64
}

// QueryOptions contains per-call generation parameters.
type QueryOptions struct {
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// Response is a completed generation from a provider.
type Response struct {
	Content          string            `json:"content"`
	Model            string            `json:"model"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
	TokensUsed       int               `json:"tokens_used"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ResponseTime     time.Duration     `json:"response_time"`
}

// Status describes a provider's position in the chain for introspection
// endpoints.
type Status struct {
	Name         string   `json:"name"`
	Healthy      bool     `json:"healthy"`
	Capabilities []string `json:"capabilities"`
}
