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

package breaker

import (
	"testing"
	"time"

	"nestwatch/gateway/llm"
)

func newTestBreaker(maxFailures int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := New(Config{MaxFailures: maxFailures, Cooldown: cooldown})
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure("bedrock", llm.KindRateLimited)
		if !b.Allow("bedrock") {
			t.Fatalf("circuit opened after %d failures, threshold is 5", i+1)
		}
	}

	b.RecordFailure("bedrock", llm.KindRateLimited)
	if b.State("bedrock") != StateOpen {
		t.Errorf("expected open after 5 failures, got %s", b.State("bedrock"))
	}
	if b.Allow("bedrock") {
		t.Error("expected Allow to reject while open")
	}
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b, now := newTestBreaker(5, 30*time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure("bedrock", llm.KindRateLimited)
	}
	if b.Allow("bedrock") {
		t.Fatal("expected rejection before cooldown")
	}

	// Advance past cooldown: exactly one trial call is permitted
	*now = now.Add(31 * time.Minute)
	if !b.Allow("bedrock") {
		t.Fatal("expected trial call after cooldown")
	}
	if b.State("bedrock") != StateHalfOpen {
		t.Errorf("expected half_open during trial, got %s", b.State("bedrock"))
	}
	if b.Allow("bedrock") {
		t.Error("expected second call rejected while trial in flight")
	}
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(5, 30*time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure("anthropic", llm.KindTimeout)
	}
	*now = now.Add(31 * time.Minute)
	if !b.Allow("anthropic") {
		t.Fatal("expected trial call")
	}

	b.RecordSuccess("anthropic")
	if b.State("anthropic") != StateClosed {
		t.Errorf("expected closed after trial success, got %s", b.State("anthropic"))
	}
	if !b.Allow("anthropic") {
		t.Error("expected calls to pass after circuit closed")
	}
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b, now := newTestBreaker(5, 30*time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure("openai", llm.KindUnknown)
	}
	*now = now.Add(31 * time.Minute)
	if !b.Allow("openai") {
		t.Fatal("expected trial call")
	}

	b.RecordFailure("openai", llm.KindUnknown)
	if b.State("openai") != StateOpen {
		t.Errorf("expected reopen after trial failure, got %s", b.State("openai"))
	}

	// Cooldown restarts from the trial failure
	*now = now.Add(1 * time.Minute)
	if b.Allow("openai") {
		t.Error("expected rejection, cooldown restarted on trial failure")
	}
	*now = now.Add(30 * time.Minute)
	if !b.Allow("openai") {
		t.Error("expected new trial after restarted cooldown")
	}
}

func TestBreaker_AuthFailureTripsImmediately(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Minute)

	b.RecordFailure("openai", llm.KindAuthFailed)
	if b.State("openai") != StateOpen {
		t.Errorf("expected open after single auth failure, got %s", b.State("openai"))
	}
}

func TestBreaker_ProvidersIndependent(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure("bedrock", llm.KindRateLimited)
	}

	if b.Allow("bedrock") {
		t.Error("expected bedrock circuit open")
	}
	if !b.Allow("anthropic") {
		t.Error("expected anthropic circuit unaffected")
	}
	if !b.Allow("openai") {
		t.Error("expected openai circuit unaffected")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure("bedrock", llm.KindTimeout)
	}
	b.RecordSuccess("bedrock")

	// Failure streak restarts; four more failures must not open the circuit
	for i := 0; i < 4; i++ {
		b.RecordFailure("bedrock", llm.KindTimeout)
	}
	if b.State("bedrock") != StateClosed {
		t.Errorf("expected closed after streak reset, got %s", b.State("bedrock"))
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure("bedrock", llm.KindRateLimited)
	}
	b.Reset("bedrock")

	if b.State("bedrock") != StateClosed {
		t.Errorf("expected closed after reset, got %s", b.State("bedrock"))
	}
	if !b.Allow("bedrock") {
		t.Error("expected calls to pass after reset")
	}
}

func TestBreaker_States(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Minute)

	b.RecordFailure("bedrock", llm.KindRateLimited)
	b.Allow("anthropic")

	states := b.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 tracked circuits, got %d", len(states))
	}
	if states["bedrock"].ConsecutiveFailures != 1 {
		t.Errorf("expected 1 failure recorded for bedrock, got %d", states["bedrock"].ConsecutiveFailures)
	}
	if states["anthropic"].State != StateClosed {
		t.Errorf("expected anthropic closed, got %s", states["anthropic"].State)
	}
}
