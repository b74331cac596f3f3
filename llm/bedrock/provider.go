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

// Package bedrock provides an LLM provider implementation for AWS Bedrock
// using AWS SDK v2. Authentication uses AWS Signature V4 via IAM roles, so
// no API key is handled by the gateway.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"nestwatch/gateway/llm"
)

const (
	// DefaultRegion is used when no region is configured
	DefaultRegion = "us-east-1"

	// DefaultModel is the model used when none is configured
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// invokeClient is the subset of the Bedrock runtime client the provider
// uses (enables testing)
type invokeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements the LLM provider interface for AWS Bedrock
type Provider struct {
	client  invokeClient
	region  string
	model   string
	healthy bool
	mu      sync.RWMutex
}

// NewProvider creates a Bedrock provider backed by the AWS SDK. Returns an
// error if AWS config loading fails; callers should treat that as the
// provider being unavailable rather than fall back to a stub.
func NewProvider(region, model string) (*Provider, error) {
	if region == "" {
		region = DefaultRegion
	}
	if model == "" {
		model = DefaultModel
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	return &Provider{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		region:  region,
		model:   model,
		healthy: true,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "bedrock"
}

// GetCapabilities returns the provider's capabilities
func (p *Provider) GetCapabilities() []string {
	return []string{"reasoning", "analysis", "writing", "hipaa_compliant"}
}

// IsHealthy returns whether the provider is healthy
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy && p.region != ""
}

// setHealthy updates the provider health status
func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

// EstimateCost estimates the cost in dollars for a given number of tokens
func (p *Provider) EstimateCost(tokens int) float64 {
	promptTokens := tokens * 3 / 4
	cents := llm.CalculateCost("bedrock", p.model, promptTokens, tokens-promptTokens)
	return float64(cents) / 100.0
}

// Query invokes the configured Bedrock model and returns the completion.
// Failures are returned as typed provider errors.
func (p *Provider) Query(ctx context.Context, prompt string, opts llm.QueryOptions) (*llm.Response, error) {
	start := time.Now()

	model := opts.Model
	if model == "" {
		model = p.model
	}

	requestBody, err := buildRequestBody(prompt, opts, model)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), llm.KindInvalidResponse, err.Error())
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.setHealthy(false)
		return nil, classifyInvokeError(p.Name(), err)
	}

	p.setHealthy(true)

	response, err := parseResponseBody(output.Body, model)
	if err != nil {
		perr := llm.NewProviderError(p.Name(), llm.KindInvalidResponse, err.Error())
		perr.Cause = err
		return nil, perr
	}

	response.Model = model
	response.ResponseTime = time.Since(start)
	response.Metadata["region"] = p.region

	return response, nil
}

// classifyInvokeError maps AWS SDK errors to typed provider errors. The SDK
// surfaces service errors by exception name in the message, so substring
// matching is the practical route.
func classifyInvokeError(provider string, err error) *llm.ProviderError {
	msg := err.Error()
	kind := llm.KindUnknown
	switch {
	case strings.Contains(msg, "ThrottlingException"),
		strings.Contains(msg, "ServiceQuotaExceededException"),
		strings.Contains(msg, "TooManyRequestsException"):
		kind = llm.KindRateLimited
	case strings.Contains(msg, "AccessDeniedException"),
		strings.Contains(msg, "UnrecognizedClientException"),
		strings.Contains(msg, "ExpiredTokenException"):
		kind = llm.KindAuthFailed
	case strings.Contains(msg, "ModelTimeoutException"):
		kind = llm.KindTimeout
	default:
		return llm.Classify(provider, err)
	}

	perr := llm.NewProviderError(provider, kind, msg)
	perr.Cause = err
	return perr
}

// inferenceProfilePrefixes are the known AWS Bedrock inference profile prefixes.
var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

// supportedFamilies are the model families the gateway can build requests for.
var supportedFamilies = []string{"anthropic", "amazon"}

// detectModelFamily detects the model family from a Bedrock model ID.
// Model IDs follow the pattern provider.model-name-version, for example
// anthropic.claude-3-5-sonnet-20240620-v1:0 or amazon.titan-text-express-v1.
// Inference profile IDs carry a regional prefix such as
// us.anthropic.claude-3-5-sonnet-20240620-v1:0.
func detectModelFamily(modelID string) string {
	if len(modelID) == 0 {
		return ""
	}

	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}

	firstSegment := segments[0]
	for _, prefix := range inferenceProfilePrefixes {
		if firstSegment == prefix {
			// Inference profile ID, the second segment is the family
			return validateFamily(segments[1])
		}
	}

	return validateFamily(firstSegment)
}

// validateFamily returns the family if supported, empty string otherwise
func validateFamily(family string) string {
	for _, supported := range supportedFamilies {
		if family == supported {
			return family
		}
	}
	return ""
}

// buildRequestBody builds the request body based on model family
func buildRequestBody(prompt string, opts llm.QueryOptions, model string) (map[string]interface{}, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	switch detectModelFamily(model) {
	case "anthropic":
		body := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       opts.Temperature,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		}
		if opts.SystemPrompt != "" {
			body["system"] = opts.SystemPrompt
		}
		return body, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   opts.Temperature,
				"topP":          0.9,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family for %s", model)
	}
}

// parseResponseBody parses the response body based on model family
func parseResponseBody(body []byte, model string) (*llm.Response, error) {
	switch detectModelFamily(model) {
	case "anthropic":
		return parseAnthropicResponse(body)
	case "amazon":
		return parseAmazonTitanResponse(body)
	default:
		return nil, fmt.Errorf("unsupported model family for %s", model)
	}
}

// parseAnthropicResponse parses a Claude-family response
func parseAnthropicResponse(body []byte) (*llm.Response, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	if len(resp.Content) > 0 {
		content = resp.Content[0].Text
	}

	return &llm.Response{
		Content:          content,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TokensUsed:       resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Metadata:         map[string]string{},
	}, nil
}

// parseAmazonTitanResponse parses an Amazon Titan response
func parseAmazonTitanResponse(body []byte) (*llm.Response, error) {
	var resp struct {
		Results []struct {
			OutputText string `json:"outputText"`
			TokenCount int    `json:"tokenCount"`
		} `json:"results"`
		InputTextTokenCount int `json:"inputTextTokenCount"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	outputTokens := 0
	if len(resp.Results) > 0 {
		content = resp.Results[0].OutputText
		outputTokens = resp.Results[0].TokenCount
	}

	return &llm.Response{
		Content:          content,
		PromptTokens:     resp.InputTextTokenCount,
		CompletionTokens: outputTokens,
		TokensUsed:       resp.InputTextTokenCount + outputTokens,
		Metadata:         map[string]string{},
	}, nil
}
