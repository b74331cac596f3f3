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

// Package gateway orchestrates LLM analysis for the event dashboard. Every
// call runs through the same pipeline: policy check, cache, rate limit,
// budget, then the provider chain, with the rule-based fallback summarizer
// as the terminal degradation path. Callers always receive a well-formed
// analysis result; the only fatal error is a failure inside the fallback
// itself.
package gateway

import (
	"context"
	"errors"
	"time"

	"nestwatch/gateway/analysis"
	"nestwatch/gateway/gateway/breaker"
	"nestwatch/gateway/gateway/budget"
	"nestwatch/gateway/gateway/cache"
	"nestwatch/gateway/gateway/fallback"
	"nestwatch/gateway/gateway/policy"
	"nestwatch/gateway/llm"
	"nestwatch/gateway/llm/sdk"
	"nestwatch/gateway/shared/logger"
)

// Gate errors. These flow out of the compute path so results produced under
// them are never cached; the gateway maps each one onto the fallback
// summarizer before answering the caller.
var (
	// ErrRateLimited means the gateway-wide request limiter rejected the call.
	ErrRateLimited = errors.New("gateway rate limit exceeded")

	// ErrBudgetExceeded means a token or cost budget blocked the call.
	ErrBudgetExceeded = errors.New("llm budget exceeded")

	// ErrChainExhausted means every provider in the chain failed or was
	// short-circuited by its breaker.
	ErrChainExhausted = errors.New("all llm providers failed")
)

// Gateway is the LLM gateway service. All dependencies are explicit; there
// is no package-level state.
type Gateway struct {
	providers []llm.Provider
	limiter   *sdk.RateLimiter
	cache     *cache.Cache
	breakers  *breaker.Breaker
	meter     *budget.Meter
	policy    *policy.Engine
	fallback  *fallback.Summarizer
	recorder  *budget.Recorder
	log       *logger.Logger

	maxTokens    int
	queryTimeout time.Duration
}

// Options configures a Gateway.
type Options struct {
	Providers []llm.Provider
	Limiter   *sdk.RateLimiter
	Cache     *cache.Cache
	Breakers  *breaker.Breaker
	Meter     *budget.Meter
	Policy    *policy.Engine
	Fallback  *fallback.Summarizer
	Recorder  *budget.Recorder // optional, nil disables usage persistence
	Logger    *logger.Logger

	MaxTokens    int
	QueryTimeout time.Duration
}

// New assembles a Gateway from its parts.
func New(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = logger.New("gateway")
	}
	if opts.Fallback == nil {
		opts.Fallback = fallback.New()
	}
	if opts.Policy == nil {
		opts.Policy = policy.New(policy.DefaultRules())
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(5 * time.Minute)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 60 * time.Second
	}
	return &Gateway{
		providers:    opts.Providers,
		limiter:      opts.Limiter,
		cache:        opts.Cache,
		breakers:     opts.Breakers,
		meter:        opts.Meter,
		policy:       opts.Policy,
		fallback:     opts.Fallback,
		recorder:     opts.Recorder,
		log:          opts.Logger,
		maxTokens:    opts.MaxTokens,
		queryTimeout: opts.QueryTimeout,
	}
}

// Analyze answers one analysis request. The returned result is always
// well-formed: live when a provider succeeded, cache when an equivalent
// request already ran, fallback otherwise. The error return is non-nil only
// when the fallback summarizer itself cannot produce a report.
func (g *Gateway) Analyze(ctx context.Context, requestID string, req analysis.RequestContext) (analysis.Result, error) {
	start := time.Now()

	counts := analysis.CountPriorities(req.Events)
	if g.policy.ShouldSkipLLM(counts) {
		g.log.Info(requestID, "Batch below analysis threshold, serving rule-based summary", map[string]interface{}{
			"events": len(req.Events),
			"p1":     counts.P1,
			"p2":     counts.P2,
		})
		promPolicySkips.Inc()
		return g.serveFallback(ctx, requestID, req, "policy_skip", start)
	}

	key := analysis.CacheKey(req)
	result, cached, err := g.cache.GetOrCompute(ctx, key, func(ctx context.Context) (analysis.Result, error) {
		return g.callChain(ctx, requestID, req)
	})
	if err != nil {
		reason := "chain_exhausted"
		switch {
		case errors.Is(err, ErrRateLimited):
			reason = "rate_limited"
		case errors.Is(err, ErrBudgetExceeded):
			reason = "budget_exceeded"
		}
		g.log.Warn(requestID, "Live analysis unavailable, serving rule-based summary", map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
		return g.serveFallback(ctx, requestID, req, reason, start)
	}

	if cached {
		result.Source = analysis.SourceCache
		promRequestsTotal.WithLabelValues(analysis.SourceCache).Inc()
	} else {
		promRequestsTotal.WithLabelValues(analysis.SourceLive).Inc()
	}
	promRequestDuration.WithLabelValues(result.Source).Observe(float64(time.Since(start).Milliseconds()))

	return result, nil
}

// callChain walks the provider chain once. It returns a live result or one
// of the gate errors; it never returns a fallback result, so nothing it
// produces under failure can be cached.
func (g *Gateway) callChain(ctx context.Context, requestID string, req analysis.RequestContext) (analysis.Result, error) {
	if g.limiter != nil && !g.limiter.Admit() {
		promGateRejections.WithLabelValues("rate_limit").Inc()
		return analysis.Result{}, ErrRateLimited
	}

	if g.meter != nil && !g.meter.Allow(g.maxTokens) {
		promGateRejections.WithLabelValues("budget").Inc()
		return analysis.Result{}, ErrBudgetExceeded
	}

	prompt := analysis.BuildPrompt(req)

	for _, p := range g.providers {
		name := p.Name()

		if g.breakers != nil && !g.breakers.Allow(name) {
			g.log.Debug(requestID, "Provider circuit open, skipping", map[string]interface{}{
				"provider": name,
			})
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, g.queryTimeout)
		resp, err := p.Query(callCtx, prompt, llm.QueryOptions{
			MaxTokens:   g.maxTokens,
			Temperature: 0,
		})
		cancel()

		if err != nil {
			perr := llm.Classify(name, err)
			if g.breakers != nil {
				g.breakers.RecordFailure(name, perr.Kind)
			}
			promProviderErrors.WithLabelValues(name, string(perr.Kind)).Inc()
			g.log.Warn(requestID, "Provider call failed", map[string]interface{}{
				"provider": name,
				"kind":     string(perr.Kind),
				"error":    perr.Message,
			})
			continue
		}

		report, chatSummary, err := analysis.ParseResponse(resp.Content)
		if err != nil {
			if g.breakers != nil {
				g.breakers.RecordFailure(name, llm.KindInvalidResponse)
			}
			promProviderErrors.WithLabelValues(name, string(llm.KindInvalidResponse)).Inc()
			g.log.Warn(requestID, "Provider returned unusable output", map[string]interface{}{
				"provider": name,
				"error":    err.Error(),
			})
			continue
		}

		if g.breakers != nil {
			g.breakers.RecordSuccess(name)
		}

		costCents := llm.CalculateCost(name, resp.Model, resp.PromptTokens, resp.CompletionTokens)
		if g.meter != nil {
			decision := g.meter.Charge(ctx, resp.TokensUsed, costCents)
			if !decision.Allowed {
				// The call already ran but the budget refused the charge. The
				// result is discarded rather than served unaccounted.
				g.log.Warn(requestID, "Budget rejected charge for completed call", map[string]interface{}{
					"provider": name,
					"tokens":   resp.TokensUsed,
					"cents":    costCents,
				})
				promGateRejections.WithLabelValues("budget").Inc()
				return analysis.Result{}, ErrBudgetExceeded
			}
		}

		promTokensUsed.WithLabelValues(name).Add(float64(resp.TokensUsed))
		promCostCents.WithLabelValues(name).Add(float64(costCents))
		g.recordUsage(requestID, name, resp, costCents, analysis.SourceLive)

		result := analysis.Result{
			Report:   report,
			Provider: name,
			Source:   analysis.SourceLive,
		}
		if req.Profile == analysis.ProfileChat {
			result.ChatSummary = chatSummary
		}

		g.log.InfoWithDuration(requestID, "Live analysis completed", float64(resp.ResponseTime.Milliseconds()), map[string]interface{}{
			"provider": name,
			"tokens":   resp.TokensUsed,
		})
		return result, nil
	}

	promGateRejections.WithLabelValues("chain_exhausted").Inc()
	return analysis.Result{}, ErrChainExhausted
}

// serveFallback produces the rule-based result. An error here is fatal and
// propagates to the caller.
func (g *Gateway) serveFallback(ctx context.Context, requestID string, req analysis.RequestContext, reason string, start time.Time) (analysis.Result, error) {
	result, err := g.fallback.Summarize(req)
	if err != nil {
		g.log.Error(requestID, "Fallback summarizer failed", map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
		return analysis.Result{}, err
	}

	promRequestsTotal.WithLabelValues(analysis.SourceFallback).Inc()
	promFallbacks.WithLabelValues(reason).Inc()
	promRequestDuration.WithLabelValues(analysis.SourceFallback).Observe(float64(time.Since(start).Milliseconds()))

	g.recordUsage(requestID, "", nil, 0, analysis.SourceFallback)
	return result, nil
}

// recordUsage persists one usage row when a recorder is configured. Runs in
// the background so a slow database never delays the response.
func (g *Gateway) recordUsage(requestID, provider string, resp *llm.Response, costCents int, source string) {
	if g.recorder == nil {
		return
	}

	event := budget.UsageEvent{
		RequestID: requestID,
		Provider:  provider,
		Source:    source,
		CostCents: costCents,
	}
	if resp != nil {
		event.Model = resp.Model
		event.PromptTokens = resp.PromptTokens
		event.CompletionTokens = resp.CompletionTokens
		event.TotalTokens = resp.TokensUsed
		event.LatencyMs = resp.ResponseTime.Milliseconds()
	}

	go func() {
		_ = g.recorder.RecordRequest(event)
	}()
}

// ProviderStatuses reports name, health, and capabilities for each
// configured provider in chain order.
func (g *Gateway) ProviderStatuses() []llm.Status {
	statuses := make([]llm.Status, 0, len(g.providers))
	for _, p := range g.providers {
		statuses = append(statuses, llm.Status{
			Name:         p.Name(),
			Healthy:      p.IsHealthy(),
			Capabilities: p.GetCapabilities(),
		})
	}
	return statuses
}

// BreakerStates exposes per-provider circuit snapshots.
func (g *Gateway) BreakerStates() map[string]breaker.Snapshot {
	if g.breakers == nil {
		return map[string]breaker.Snapshot{}
	}
	return g.breakers.States()
}

// ResetBreaker closes a provider's circuit.
func (g *Gateway) ResetBreaker(provider string) {
	if g.breakers != nil {
		g.breakers.Reset(provider)
	}
}

// UsageSummary reports current budget consumption.
func (g *Gateway) UsageSummary() budget.Summary {
	if g.meter == nil {
		return budget.Summary{}
	}
	return g.meter.Summary()
}

// CacheStats reports cache hit counters.
func (g *Gateway) CacheStats() cache.Stats {
	return g.cache.GetStats()
}
