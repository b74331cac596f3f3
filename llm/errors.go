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

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies provider failures. The gateway uses the kind to decide
// how to feed a failure into the provider's circuit breaker and whether to
// advance the fallback chain.
type ErrorKind string

const (
	// KindRateLimited indicates throttling or quota exhaustion at the vendor.
	KindRateLimited ErrorKind = "rate_limited"

	// KindAuthFailed indicates invalid or missing credentials.
	KindAuthFailed ErrorKind = "auth_failed"

	// KindTimeout indicates the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindInvalidResponse indicates the vendor returned output the gateway
	// could not use (malformed body, schema violation).
	KindInvalidResponse ErrorKind = "invalid_response"

	// KindUnknown is everything else.
	KindUnknown ErrorKind = "unknown"
)

// ProviderError represents a failure from an LLM provider.
type ProviderError struct {
	// Provider is the name of the provider that returned the error.
	Provider string `json:"provider"`

	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates whether a different provider may succeed.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d, kind %s): %s", e.Provider, e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s error (kind %s): %s", e.Provider, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError with retryability derived from
// the kind.
func NewProviderError(provider string, kind ErrorKind, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Kind:      kind,
		Message:   message,
		Retryable: isRetryableKind(kind),
	}
}

// isRetryableKind determines whether the same provider is worth retrying
// for a failure kind.
func isRetryableKind(kind ErrorKind) bool {
	switch kind {
	case KindRateLimited, KindTimeout, KindUnknown:
		return true
	default:
		return false
	}
}

// quotaPatterns are lowercase substrings that vendors use to signal
// throttling or exhausted quota.
var quotaPatterns = []string{
	"insufficient_quota",
	"quota exceeded",
	"billing details",
	"rate limit",
	"too many requests",
	"429",
	"throttl",
}

// authPatterns are lowercase substrings that signal credential problems.
var authPatterns = []string{
	"unauthorized",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"access denied",
	"401",
	"403",
}

// Classify wraps an arbitrary provider failure into a ProviderError with the
// best-effort kind. Errors that are already ProviderErrors pass through
// unchanged.
func Classify(provider string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	kind := KindUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = KindTimeout
			break
		}
		msg := strings.ToLower(err.Error())
		if matchesAny(msg, quotaPatterns) {
			kind = KindRateLimited
		} else if matchesAny(msg, authPatterns) {
			kind = KindAuthFailed
		}
	}

	return &ProviderError{
		Provider:  provider,
		Kind:      kind,
		Message:   err.Error(),
		Retryable: isRetryableKind(kind),
		Cause:     err,
	}
}

// KindOf returns the classification of err, or KindUnknown for non-provider
// errors.
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// KindFromStatus maps an HTTP status code to an error kind.
func KindFromStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == 429:
		return KindRateLimited
	case statusCode == 401 || statusCode == 403:
		return KindAuthFailed
	case statusCode == 408 || statusCode == 504:
		return KindTimeout
	default:
		return KindUnknown
	}
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
