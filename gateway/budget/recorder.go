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

package budget

import (
	"database/sql"
	"log"
)

// Recorder persists per-request usage events to Postgres for offline cost
// reporting. Recording is best-effort: failures are logged and never fail
// the request that produced the event.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a usage recorder with a database connection.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// UsageEvent is one LLM request to be recorded.
type UsageEvent struct {
	RequestID        string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostCents        int
	Source           string // "live", "cache", or "fallback"
	LatencyMs        int64
}

// RecordRequest inserts a usage event.
func (r *Recorder) RecordRequest(event UsageEvent) error {
	_, err := r.db.Exec(`
		INSERT INTO llm_usage_events (
			request_id, provider, model, prompt_tokens, completion_tokens,
			total_tokens, cost_cents, source, latency_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.RequestID, nullString(event.Provider), nullString(event.Model),
		event.PromptTokens, event.CompletionTokens, event.TotalTokens,
		event.CostCents, event.Source, event.LatencyMs)

	if err != nil {
		log.Printf("[USAGE] Failed to record LLM request: %v", err)
	}

	return err
}

// nullString converts an empty string to NULL for database insertion.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
