// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package local provides an LLM provider implementation for a self-hosted
// NIM inference endpoint. The endpoint speaks the OpenAI chat completions
// protocol, requires no credentials, and incurs no per-token cost.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"nestwatch/gateway/llm"
)

const (
	// DefaultEndpoint is the in-cluster NIM endpoint
	DefaultEndpoint = "http://nemo:8000"

	// DefaultTimeout is the default HTTP timeout. Local inference on small
	// hardware can be slow, so this is generous.
	DefaultTimeout = 180 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 2048

	// DefaultModel is the model name passed to the endpoint
	DefaultModel = "default"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements the LLM provider interface for a local NIM endpoint
type Provider struct {
	endpoint string
	model    string
	client   HTTPClient
	healthy  bool
	mu       sync.RWMutex
}

// Config contains configuration for the local provider
type Config struct {
	Endpoint string        // Optional: endpoint URL (default: http://nemo:8000)
	Model    string        // Optional: model name (default: "default")
	Timeout  time.Duration // Optional: HTTP timeout (default: 180s)
}

// NewProvider creates a new local provider instance
func NewProvider(cfg Config) *Provider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
		healthy:  true,
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "nemo_local"
}

// GetCapabilities returns the provider's capabilities
func (p *Provider) GetCapabilities() []string {
	return []string{"analysis", "writing", "offline", "no_cost"}
}

// IsHealthy returns whether the provider is healthy
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// EstimateCost always returns zero; the endpoint is self-hosted
func (p *Provider) EstimateCost(tokens int) float64 {
	return 0
}

// Query sends a prompt to the local chat completions endpoint and returns
// the completion. Failures are returned as typed provider errors.
func (p *Provider) Query(ctx context.Context, prompt string, opts llm.QueryOptions) (*llm.Response, error) {
	start := time.Now()

	model := opts.Model
	if model == "" {
		model = p.model
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := []chatMessage{}
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	apiReq := chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if opts.Temperature >= 0 {
		temperature := opts.Temperature
		apiReq.Temperature = &temperature
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, llm.Classify(p.Name(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		p.setHealthy(resp.StatusCode < 500)
		perr := llm.NewProviderError(p.Name(), llm.KindFromStatus(resp.StatusCode), string(body))
		perr.StatusCode = resp.StatusCode
		return nil, perr
	}

	p.setHealthy(true)

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		perr := llm.NewProviderError(p.Name(), llm.KindInvalidResponse, "failed to decode response")
		perr.Cause = err
		return nil, perr
	}

	if len(apiResp.Choices) == 0 {
		return nil, llm.NewProviderError(p.Name(), llm.KindInvalidResponse, "response contained no choices")
	}

	return &llm.Response{
		Content:          apiResp.Choices[0].Message.Content,
		Model:            apiResp.Model,
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		TokensUsed:       apiResp.Usage.TotalTokens,
		Metadata:         map[string]string{},
		ResponseTime:     time.Since(start),
	}, nil
}

// Internal API types

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
