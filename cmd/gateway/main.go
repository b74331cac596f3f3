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

// Package main is the entry point for the NestWatch LLM Gateway service.
//
// The gateway sits between the event dashboard and the LLM vendors:
// - Answers analysis requests over a prioritized provider chain
// - Caches responses and deduplicates concurrent identical requests
// - Enforces request rate limits and token/cost budgets
// - Isolates failing providers behind per-provider circuit breakers
// - Degrades to a deterministic rule-based summarizer when no provider
//   is usable, so callers always receive a well-formed report
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8090)
//	GATEWAY_CONFIG - path to YAML config file (optional)
//	ANTHROPIC_API_KEY - Anthropic API key (optional)
//	OPENAI_API_KEY - OpenAI API key (optional)
//	AWS_REGION - AWS Bedrock region (optional)
//	LOCAL_LLM_ENDPOINT - self-hosted NIM endpoint URL (optional)
//	REDIS_URL - shared response cache (optional)
//	DATABASE_URL - PostgreSQL usage log (optional)
//	ALERT_WEBHOOK_URL - budget alert webhook (optional)
package main

import (
	"nestwatch/gateway/gateway"
)

func main() {
	gateway.Run()
}
