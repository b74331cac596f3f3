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

package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"nestwatch/gateway/llm"
)

// fakeInvoker stubs the Bedrock runtime client
type fakeInvoker struct {
	mu       sync.Mutex
	gotInput *bedrockruntime.InvokeModelInput
	body     []byte
	err      error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.mu.Lock()
	f.gotInput = params
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func newTestProvider(invoker *fakeInvoker, model string) *Provider {
	return &Provider{
		client:  invoker,
		region:  "us-east-1",
		model:   model,
		healthy: true,
	}
}

func TestDetectModelFamily(t *testing.T) {
	tests := []struct {
		modelID string
		want    string
	}{
		{"anthropic.claude-3-5-sonnet-20240620-v1:0", "anthropic"},
		{"amazon.titan-text-express-v1", "amazon"},
		{"us.anthropic.claude-3-5-sonnet-20240620-v1:0", "anthropic"},
		{"eu.amazon.titan-text-express-v1", "amazon"},
		{"meta.llama3-70b-instruct-v1:0", ""},
		{"no-dots-here", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.modelID, func(t *testing.T) {
			if got := detectModelFamily(tt.modelID); got != tt.want {
				t.Errorf("detectModelFamily(%q) = %q, want %q", tt.modelID, got, tt.want)
			}
		})
	}
}

func TestQueryAnthropicFamily(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]string{{"text": "bedrock analysis"}},
		"usage":   map[string]int{"input_tokens": 90, "output_tokens": 30},
	})
	invoker := &fakeInvoker{body: body}
	p := newTestProvider(invoker, "anthropic.claude-3-5-sonnet-20240620-v1:0")

	resp, err := p.Query(context.Background(), "analyze", llm.QueryOptions{MaxTokens: 256})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if resp.Content != "bedrock analysis" {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if resp.TokensUsed != 120 {
		t.Errorf("Expected 120 tokens, got %d", resp.TokensUsed)
	}
	if resp.Metadata["region"] != "us-east-1" {
		t.Errorf("Expected region metadata, got %v", resp.Metadata)
	}

	var sent map[string]interface{}
	if err := json.Unmarshal(invoker.gotInput.Body, &sent); err != nil {
		t.Fatalf("Failed to decode sent body: %v", err)
	}
	if sent["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("Missing anthropic_version in request body: %v", sent)
	}
	if sent["max_tokens"] != float64(256) {
		t.Errorf("Expected max_tokens 256, got %v", sent["max_tokens"])
	}
}

func TestQueryTitanFamily(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"results":             []map[string]interface{}{{"outputText": "titan says", "tokenCount": 25}},
		"inputTextTokenCount": 75,
	})
	invoker := &fakeInvoker{body: body}
	p := newTestProvider(invoker, "amazon.titan-text-express-v1")

	resp, err := p.Query(context.Background(), "analyze", llm.QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if resp.Content != "titan says" {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if resp.PromptTokens != 75 || resp.CompletionTokens != 25 {
		t.Errorf("Unexpected token counts: %+v", resp)
	}

	var sent map[string]interface{}
	if err := json.Unmarshal(invoker.gotInput.Body, &sent); err != nil {
		t.Fatalf("Failed to decode sent body: %v", err)
	}
	if sent["inputText"] != "analyze" {
		t.Errorf("Expected inputText in request body: %v", sent)
	}
}

func TestQueryUnsupportedFamily(t *testing.T) {
	p := newTestProvider(&fakeInvoker{}, "mistral.mistral-large-2402-v1:0")

	_, err := p.Query(context.Background(), "analyze", llm.QueryOptions{})
	if llm.KindOf(err) != llm.KindInvalidResponse {
		t.Errorf("Expected invalid_response kind, got %v", err)
	}
}

func TestClassifyInvokeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind llm.ErrorKind
	}{
		{"throttled", errors.New("operation error Bedrock Runtime: InvokeModel, ThrottlingException: rate exceeded"), llm.KindRateLimited},
		{"quota", errors.New("ServiceQuotaExceededException: limit reached"), llm.KindRateLimited},
		{"access denied", errors.New("AccessDeniedException: not authorized to invoke model"), llm.KindAuthFailed},
		{"expired token", errors.New("ExpiredTokenException: security token expired"), llm.KindAuthFailed},
		{"model timeout", errors.New("ModelTimeoutException: generation took too long"), llm.KindTimeout},
		{"anything else", errors.New("connection reset by peer"), llm.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := classifyInvokeError("bedrock", tt.err)
			if perr.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, perr.Kind)
			}
			if perr.Provider != "bedrock" {
				t.Errorf("Expected provider bedrock, got %s", perr.Provider)
			}
		})
	}
}

func TestQueryErrorMarksUnhealthy(t *testing.T) {
	invoker := &fakeInvoker{err: errors.New("ThrottlingException: rate exceeded")}
	p := newTestProvider(invoker, "anthropic.claude-3-5-sonnet-20240620-v1:0")

	_, err := p.Query(context.Background(), "analyze", llm.QueryOptions{})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if p.IsHealthy() {
		t.Error("Provider should be unhealthy after an invoke failure")
	}
	if llm.KindOf(err) != llm.KindRateLimited {
		t.Errorf("Expected rate_limited kind, got %v", err)
	}
}

func TestEstimateCost(t *testing.T) {
	p := newTestProvider(&fakeInvoker{}, DefaultModel)
	if cost := p.EstimateCost(100000); cost <= 0 {
		t.Errorf("Expected a positive cost estimate, got %v", cost)
	}
}

func TestHealthCheckDuringQueries(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]string{{"text": "ok"}},
		"usage":   map[string]int{"input_tokens": 10, "output_tokens": 5},
	})
	p := newTestProvider(&fakeInvoker{body: body}, "anthropic.claude-3-5-sonnet-20240620-v1:0")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := p.Query(context.Background(), "analyze", llm.QueryOptions{MaxTokens: 16}); err != nil {
					t.Errorf("Query failed: %v", err)
					return
				}
				p.IsHealthy()
			}
		}()
	}
	wg.Wait()

	if !p.IsHealthy() {
		t.Error("Provider should be healthy after successful queries")
	}
}
