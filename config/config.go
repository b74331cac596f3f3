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

// Package config loads gateway configuration from a YAML file with
// environment variable overrides. A missing config file is not an error;
// every setting has a usable default so the gateway starts with nothing but
// provider credentials in the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when neither the config file nor the environment
// sets a field.
const (
	DefaultPort            = "8090"
	DefaultCacheTTLSec     = 300
	DefaultCacheMaxEntries = 1024
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = 30 * time.Minute
	DefaultRequestsPerSec  = 0.5
	DefaultBurst           = 2
	DefaultHourlyTokens    = 40000
	DefaultDailyTokens     = 200000
	DefaultDailyCostCents  = 5000
	DefaultMaxTokens       = 1024
	DefaultQueryTimeout    = 60 * time.Second
	DefaultMaxP2WithoutLLM = 2
)

// DefaultProviderChain is the provider priority order when none is
// configured.
var DefaultProviderChain = []string{"bedrock", "anthropic", "nemo_local", "openai"}

// ProviderConfig holds credentials and model selection for one provider.
type ProviderConfig struct {
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Region   string `yaml:"region,omitempty"`
}

// Config is the full gateway configuration.
type Config struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`

	Cache struct {
		TTLSec     int    `yaml:"ttl_sec"`
		MaxEntries int    `yaml:"max_entries"`
		RedisURL   string `yaml:"redis_url,omitempty"`
	} `yaml:"cache"`

	Breaker struct {
		MaxFailures     int `yaml:"max_failures"`
		CooldownMinutes int `yaml:"cooldown_minutes"`
	} `yaml:"breaker"`

	RateLimit struct {
		RequestsPerSec float64 `yaml:"requests_per_sec"`
		Burst          int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Budget struct {
		HourlyTokens int64 `yaml:"hourly_tokens"`
		DailyTokens  int64 `yaml:"daily_tokens"`
		// DailyCostCents is a pointer so an explicit 0 (cost budget
		// disabled) is distinguishable from unset.
		DailyCostCents *int64 `yaml:"daily_cost_cents"`
		AlertWebhook   string `yaml:"alert_webhook,omitempty"`
	} `yaml:"budget"`

	Policy struct {
		// MaxP2WithoutLLM is a pointer for the same reason: 0 is a valid
		// threshold (skip only fully quiet batches).
		MaxP2WithoutLLM *int `yaml:"max_p2_without_llm"`
	} `yaml:"policy"`

	ProviderChain []string                  `yaml:"provider_chain,omitempty"`
	Providers     map[string]ProviderConfig `yaml:"providers,omitempty"`

	MaxTokens       int    `yaml:"max_tokens"`
	QueryTimeoutSec int    `yaml:"query_timeout_sec"`
	DatabaseURL     string `yaml:"database_url,omitempty"`
}

// Load reads the config file at path, expands environment references in it,
// applies environment overrides, and fills defaults. An empty path or a
// missing file yields a pure defaults-plus-environment config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else {
			expanded := expandEnvVars(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of file values. Environment
// always wins so deployments can tune a shared config file per instance.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("LLM_CACHE_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.TTLSec = n
		}
	}
	if v := os.Getenv("LLM_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("LLM_CB_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Breaker.MaxFailures = n
		}
	}
	if v := os.Getenv("LLM_CB_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Breaker.CooldownMinutes = n
		}
	}
	if v := os.Getenv("LLM_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateLimit.RequestsPerSec = f
		}
	}
	if v := os.Getenv("LLM_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("LLM_HOURLY_BUDGET_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Budget.HourlyTokens = n
		}
	}
	if v := os.Getenv("LLM_DAILY_BUDGET_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Budget.DailyTokens = n
		}
	}
	if v := os.Getenv("LLM_DAILY_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cents := int64(f * 100)
			c.Budget.DailyCostCents = &cents
		}
	}
	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		c.Budget.AlertWebhook = v
	}
	if v := os.Getenv("LLM_MAX_P2_WITHOUT_LLM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Policy.MaxP2WithoutLLM = &n
		}
	}
	if v := os.Getenv("PROVIDER_PRIORITY"); v != "" {
		var chain []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				chain = append(chain, name)
			}
		}
		if len(chain) > 0 {
			c.ProviderChain = chain
		}
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTokens = n
		}
	}
	if v := os.Getenv("LLM_QUERY_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.QueryTimeoutSec = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}

	c.applyProviderEnv("anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL")
	c.applyProviderEnv("openai", "OPENAI_API_KEY", "OPENAI_MODEL")

	bedrock := c.Providers["bedrock"]
	if v := os.Getenv("AWS_REGION"); v != "" {
		bedrock.Region = v
	}
	if v := os.Getenv("BEDROCK_MODEL"); v != "" {
		bedrock.Model = v
	}
	c.setProvider("bedrock", bedrock)

	local := c.Providers["nemo_local"]
	if v := os.Getenv("LOCAL_LLM_ENDPOINT"); v != "" {
		local.Endpoint = v
	}
	if v := os.Getenv("LOCAL_LLM_MODEL"); v != "" {
		local.Model = v
	}
	c.setProvider("nemo_local", local)
}

func (c *Config) applyProviderEnv(name, keyVar, modelVar string) {
	p := c.Providers[name]
	if v := os.Getenv(keyVar); v != "" {
		p.APIKey = v
	}
	if v := os.Getenv(modelVar); v != "" {
		p.Model = v
	}
	c.setProvider(name, p)
}

func (c *Config) setProvider(name string, p ProviderConfig) {
	if p == (ProviderConfig{}) {
		return
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	c.Providers[name] = p
}

// applyDefaults fills any field still at its zero value.
func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.Cache.TTLSec == 0 {
		c.Cache.TTLSec = DefaultCacheTTLSec
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if c.Breaker.CooldownMinutes == 0 {
		c.Breaker.CooldownMinutes = int(DefaultBreakerCooldown.Minutes())
	}
	if c.RateLimit.RequestsPerSec == 0 {
		c.RateLimit.RequestsPerSec = DefaultRequestsPerSec
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultBurst
	}
	if c.Budget.HourlyTokens == 0 {
		c.Budget.HourlyTokens = DefaultHourlyTokens
	}
	if c.Budget.DailyTokens == 0 {
		c.Budget.DailyTokens = DefaultDailyTokens
	}
	if c.Budget.DailyCostCents == nil {
		cents := int64(DefaultDailyCostCents)
		c.Budget.DailyCostCents = &cents
	}
	if c.Policy.MaxP2WithoutLLM == nil {
		n := DefaultMaxP2WithoutLLM
		c.Policy.MaxP2WithoutLLM = &n
	}
	if len(c.ProviderChain) == 0 {
		c.ProviderChain = append([]string(nil), DefaultProviderChain...)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.QueryTimeoutSec == 0 {
		c.QueryTimeoutSec = int(DefaultQueryTimeout.Seconds())
	}
}

func (c *Config) validate() error {
	if c.RateLimit.RequestsPerSec < 0 {
		return fmt.Errorf("rate_limit.requests_per_sec must not be negative: %v", c.RateLimit.RequestsPerSec)
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst must not be negative: %d", c.RateLimit.Burst)
	}
	if c.Cache.TTLSec < 0 {
		return fmt.Errorf("cache.ttl_sec must not be negative: %d", c.Cache.TTLSec)
	}
	if c.Budget.DailyCostCents != nil && *c.Budget.DailyCostCents < 0 {
		return fmt.Errorf("budget.daily_cost_cents must not be negative: %d", *c.Budget.DailyCostCents)
	}
	for _, name := range c.ProviderChain {
		switch name {
		case "bedrock", "anthropic", "nemo_local", "openai":
		default:
			return fmt.Errorf("unknown provider in chain: %s", name)
		}
	}
	return nil
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// DailyCostCents returns the resolved daily cost budget in cents. Zero
// disables the cost limit.
func (c *Config) DailyCostCents() int64 {
	if c.Budget.DailyCostCents == nil {
		return DefaultDailyCostCents
	}
	return *c.Budget.DailyCostCents
}

// MaxP2WithoutLLM returns the resolved skip-policy threshold. Zero means
// only fully quiet batches skip live analysis.
func (c *Config) MaxP2WithoutLLM() int {
	if c.Policy.MaxP2WithoutLLM == nil {
		return DefaultMaxP2WithoutLLM
	}
	return *c.Policy.MaxP2WithoutLLM
}

// BreakerCooldown returns the breaker cooldown as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownMinutes) * time.Minute
}

// QueryTimeout returns the per-provider query timeout as a duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSec) * time.Second
}

// Provider returns the config block for a provider, which may be empty.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references in the string
// Supports both ${VAR_NAME} and $VAR_NAME syntax
// Returns empty string for undefined variables
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		// Handle default values: ${VAR_NAME:-default}
		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		if defaultVal != "" {
			return defaultVal
		}

		return ""
	})
}
