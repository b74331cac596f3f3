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

package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"nestwatch/gateway/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewProvider(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return p
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	if _, err := NewProvider(Config{}); err == nil {
		t.Error("Expected an error without an API key")
	}
}

func TestNewProviderDefaults(t *testing.T) {
	p, err := NewProvider(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if p.baseURL != DefaultBaseURL {
		t.Errorf("Expected default base URL, got %s", p.baseURL)
	}
	if p.model != DefaultModel {
		t.Errorf("Expected default model, got %s", p.model)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Expected provider name anthropic, got %s", p.Name())
	}
}

func TestQuerySuccess(t *testing.T) {
	var gotReq anthropicRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("Missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") != DefaultAPIVersion {
			t.Error("Missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":       "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"},
			},
			"usage": map[string]int{"input_tokens": 120, "output_tokens": 40},
		})
	})

	resp, err := p.Query(context.Background(), "analyze these events", llm.QueryOptions{
		MaxTokens:    512,
		SystemPrompt: "you are an analyst",
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if resp.Content != "part one part two" {
		t.Errorf("Unexpected content: %q", resp.Content)
	}
	if resp.PromptTokens != 120 || resp.CompletionTokens != 40 || resp.TokensUsed != 160 {
		t.Errorf("Unexpected token counts: %+v", resp)
	}
	if gotReq.MaxTokens != 512 {
		t.Errorf("Expected max_tokens 512, got %d", gotReq.MaxTokens)
	}
	if gotReq.System != "you are an analyst" {
		t.Errorf("Expected system prompt to pass through, got %q", gotReq.System)
	}
	if !p.IsHealthy() {
		t.Error("Provider should be healthy after a successful call")
	}
}

func TestQueryErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errType    string
		wantKind   llm.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, "rate_limit_error", llm.KindRateLimited},
		{"overloaded maps to rate limited", http.StatusServiceUnavailable, "overloaded_error", llm.KindRateLimited},
		{"auth failed", http.StatusUnauthorized, "authentication_error", llm.KindAuthFailed},
		{"server error", http.StatusInternalServerError, "api_error", llm.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"type": "error",
					"error": map[string]string{
						"type":    tt.errType,
						"message": "upstream rejected the call",
					},
				})
			})

			_, err := p.Query(context.Background(), "prompt", llm.QueryOptions{})
			if err == nil {
				t.Fatal("Expected an error")
			}

			var perr *llm.ProviderError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected a ProviderError, got %T", err)
			}
			if perr.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, perr.Kind)
			}
			if perr.Provider != "anthropic" {
				t.Errorf("Expected provider anthropic, got %s", perr.Provider)
			}
			if perr.StatusCode != tt.statusCode {
				t.Errorf("Expected status %d, got %d", tt.statusCode, perr.StatusCode)
			}
		})
	}
}

func TestQueryMalformedBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	})

	_, err := p.Query(context.Background(), "prompt", llm.QueryOptions{})
	if llm.KindOf(err) != llm.KindInvalidResponse {
		t.Errorf("Expected invalid_response kind, got %v", err)
	}
}

func TestServerErrorMarksUnhealthy(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, _ = p.Query(context.Background(), "prompt", llm.QueryOptions{})
	if p.IsHealthy() {
		t.Error("Provider should be unhealthy after a 500")
	}
}

func TestEstimateCost(t *testing.T) {
	p, err := NewProvider(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if cost := p.EstimateCost(100000); cost <= 0 {
		t.Errorf("Expected a positive cost estimate, got %v", cost)
	}
}
