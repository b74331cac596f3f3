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
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	mock.ExpectExec("INSERT INTO llm_usage_events").
		WithArgs("req-123", "bedrock", "anthropic.claude-3-haiku-20240307-v1:0",
			320, 540, 860, 7, "live", int64(1250)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewRecorder(db)
	err = r.RecordRequest(UsageEvent{
		RequestID:        "req-123",
		Provider:         "bedrock",
		Model:            "anthropic.claude-3-haiku-20240307-v1:0",
		PromptTokens:     320,
		CompletionTokens: 540,
		TotalTokens:      860,
		CostCents:        7,
		Source:           "live",
		LatencyMs:        1250,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_NullableFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	// Fallback results have no provider or model
	mock.ExpectExec("INSERT INTO llm_usage_events").
		WithArgs("req-456", nil, nil, 0, 0, 0, 0, "fallback", int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewRecorder(db)
	err = r.RecordRequest(UsageEvent{
		RequestID: "req-456",
		Source:    "fallback",
		LatencyMs: 3,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_InsertErrorIsReturned(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	mock.ExpectExec("INSERT INTO llm_usage_events").
		WillReturnError(assert.AnError)

	r := NewRecorder(db)
	err = r.RecordRequest(UsageEvent{RequestID: "req-789", Source: "live"})
	assert.Error(t, err)
}
