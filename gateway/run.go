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

package gateway

import (
	"database/sql"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"nestwatch/gateway/config"
	"nestwatch/gateway/gateway/breaker"
	"nestwatch/gateway/gateway/budget"
	"nestwatch/gateway/gateway/cache"
	"nestwatch/gateway/gateway/fallback"
	"nestwatch/gateway/gateway/policy"
	"nestwatch/gateway/llm"
	"nestwatch/gateway/llm/anthropic"
	"nestwatch/gateway/llm/bedrock"
	"nestwatch/gateway/llm/local"
	"nestwatch/gateway/llm/openai"
	"nestwatch/gateway/llm/sdk"
	"nestwatch/gateway/shared/logger"
)

// Run is the exported entry point for the gateway service. It loads
// configuration, assembles the service, registers routes, and blocks
// serving HTTP.
func Run() {
	cfg, err := config.Load(os.Getenv("GATEWAY_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	gw := buildGateway(cfg)

	router := mux.NewRouter()
	gw.RegisterRoutes(router)
	router.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	log.Printf("NestWatch LLM gateway starting on port %s (chain: %v)", cfg.Port, cfg.ProviderChain)
	if err := http.ListenAndServe(":"+cfg.Port, corsMiddleware.Handler(router)); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildGateway wires a Gateway from configuration. Optional dependencies
// (Redis, Postgres) degrade to in-memory or disabled with a logged warning.
func buildGateway(cfg *config.Config) *Gateway {
	gwLogger := logger.New("gateway")

	cacheOpts := []cache.Option{cache.WithMaxEntries(cfg.Cache.MaxEntries)}
	if cfg.Cache.RedisURL != "" {
		store, err := cache.NewRedisStore(cfg.Cache.RedisURL)
		if err != nil {
			log.Printf("Warning: Redis unavailable, running with in-memory cache only: %v", err)
		} else {
			cacheOpts = append(cacheOpts, cache.WithStore(store))
			log.Println("Response cache backed by Redis")
		}
	}

	var recorder *budget.Recorder
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: usage persistence disabled: %v", err)
		} else {
			recorder = budget.NewRecorder(db)
			log.Println("Usage persistence enabled")
		}
	}

	return New(Options{
		Providers: buildProviders(cfg),
		Limiter:   sdk.NewRateLimiter(cfg.RateLimit.RequestsPerSec, float64(cfg.RateLimit.Burst)),
		Cache:     cache.New(cfg.CacheTTL(), cacheOpts...),
		Breakers: breaker.New(breaker.Config{
			MaxFailures: cfg.Breaker.MaxFailures,
			Cooldown:    cfg.BreakerCooldown(),
		}),
		Meter: budget.NewMeter(budget.Limits{
			HourlyTokens:   int(cfg.Budget.HourlyTokens),
			DailyTokens:    int(cfg.Budget.DailyTokens),
			DailyCostCents: int(cfg.DailyCostCents()),
		}, budget.NewWebhookNotifier(cfg.Budget.AlertWebhook)),
		Policy:       policy.New(policy.Rules{MaxP2WithoutLLM: cfg.MaxP2WithoutLLM()}),
		Fallback:     fallback.New(),
		Recorder:     recorder,
		Logger:       gwLogger,
		MaxTokens:    cfg.MaxTokens,
		QueryTimeout: cfg.QueryTimeout(),
	})
}

// buildProviders constructs the provider chain in configured priority
// order. Providers that cannot initialize are skipped with a warning; the
// chain may legitimately be empty, in which case every request degrades to
// the fallback summarizer.
func buildProviders(cfg *config.Config) []llm.Provider {
	var providers []llm.Provider

	for _, name := range cfg.ProviderChain {
		pc := cfg.Provider(name)
		switch name {
		case "bedrock":
			p, err := bedrock.NewProvider(pc.Region, pc.Model)
			if err != nil {
				log.Printf("Warning: bedrock provider unavailable: %v", err)
				continue
			}
			providers = append(providers, p)
		case "anthropic":
			p, err := anthropic.NewProvider(anthropic.Config{APIKey: pc.APIKey, Model: pc.Model})
			if err != nil {
				log.Printf("Warning: anthropic provider unavailable: %v", err)
				continue
			}
			providers = append(providers, p)
		case "openai":
			p, err := openai.NewProvider(openai.Config{APIKey: pc.APIKey, Model: pc.Model})
			if err != nil {
				log.Printf("Warning: openai provider unavailable: %v", err)
				continue
			}
			providers = append(providers, p)
		case "nemo_local":
			providers = append(providers, local.NewProvider(local.Config{
				Endpoint: pc.Endpoint,
				Model:    pc.Model,
			}))
		}
	}

	if len(providers) == 0 {
		log.Println("Warning: no LLM providers configured, all requests will use the rule-based fallback")
	}
	return providers
}
