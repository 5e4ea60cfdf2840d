// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"axonflow/taskrouter/router"
)

// File represents the root structure of a task router configuration file
type File struct {
	Version    string                    `yaml:"version"`
	ListenPort string                    `yaml:"listen_port,omitempty"`
	Auth       AuthConfig                `yaml:"auth,omitempty"`
	RedisURL   string                    `yaml:"redis_url,omitempty"`
	Database   string                    `yaml:"database_url,omitempty"`
	Routing    RoutingConfig             `yaml:"routing,omitempty"`
	Breaker    BreakerConfig             `yaml:"breaker,omitempty"`
	Health     HealthConfig              `yaml:"health,omitempty"`
	Budget     BudgetConfig              `yaml:"budget,omitempty"`
	Platforms  map[string]PlatformConfig `yaml:"platforms,omitempty"`
}

// AuthConfig configures the API gateway's authentication and per-client
// rate limiting
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret,omitempty"`
	ClientRatePerMin int    `yaml:"client_rate_per_minute,omitempty"`
}

// RoutingConfig configures the decision engine and coordinator
type RoutingConfig struct {
	Weights          router.ScoreWeights `yaml:"weights,omitempty"`
	MaxHandoffs      int                 `yaml:"max_handoffs,omitempty"`
	AttemptTimeoutMs int                 `yaml:"attempt_timeout_ms,omitempty"`
	HistoryCap       int                 `yaml:"history_cap,omitempty"`
	Batching         BatchingConfig      `yaml:"batching,omitempty"`
}

// BatchingConfig configures request coalescing
type BatchingConfig struct {
	Enabled  bool `yaml:"enabled,omitempty"`
	WindowMs int  `yaml:"window_ms,omitempty"`
	MaxBatch int  `yaml:"max_batch,omitempty"`
}

// BreakerConfig configures per-platform circuit breakers
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold,omitempty"`
	CooldownMs       int `yaml:"cooldown_ms,omitempty"`
	MaxCooldownMs    int `yaml:"max_cooldown_ms,omitempty"`
}

// HealthConfig configures the health monitor
type HealthConfig struct {
	IntervalMs        int `yaml:"interval_ms,omitempty"`
	ProbeTimeoutMs    int `yaml:"probe_timeout_ms,omitempty"`
	DegradedLatencyMs int `yaml:"degraded_latency_ms,omitempty"`
}

// BudgetConfig configures spend limits in USD
type BudgetConfig struct {
	Daily      float64 `yaml:"daily,omitempty"`
	Weekly     float64 `yaml:"weekly,omitempty"`
	Monthly    float64 `yaml:"monthly,omitempty"`
	PerRequest float64 `yaml:"per_request,omitempty"`
}

// PlatformConfig represents one execution platform in the config file
type PlatformConfig struct {
	DisplayName  string                  `yaml:"display_name,omitempty"`
	Enabled      bool                    `yaml:"enabled"`
	Endpoint     string                  `yaml:"endpoint,omitempty"`
	Weight       float64                 `yaml:"weight,omitempty"`
	Capabilities []string                `yaml:"capabilities,omitempty"`
	RateLimit    *router.RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// Load reads and parses a configuration file, expanding environment
// variable references before unmarshaling.
func Load(filePath string) (*File, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	expanded := expandEnvVars(string(data))

	var file File
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks the structure of a config file
func (f *File) Validate() error {
	if f.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}

	for name, platform := range f.Platforms {
		if platform.Weight < 0 {
			return fmt.Errorf("platform '%s' weight must not be negative", name)
		}
		// Capability tags are free-form, matching what the registry and
		// the registration endpoint accept. Only empty tags are rejected.
		for _, capability := range platform.Capabilities {
			if strings.TrimSpace(capability) == "" {
				return fmt.Errorf("platform '%s' has an empty capability", name)
			}
		}
		if platform.RateLimit != nil && platform.RateLimit.Capacity <= 0 {
			return fmt.Errorf("platform '%s' rate limit capacity must be positive", name)
		}
	}

	w := f.Routing.Weights
	if w.Quality < 0 || w.Availability < 0 || w.Speed < 0 || w.Cost < 0 {
		return fmt.Errorf("routing weights must not be negative")
	}
	return nil
}

// ServiceConfig converts the file into the router's wiring configuration.
func (f *File) ServiceConfig() router.ServiceConfig {
	return router.ServiceConfig{
		Breaker: router.CircuitBreakerConfig{
			FailureThreshold: f.Breaker.FailureThreshold,
			Cooldown:         time.Duration(f.Breaker.CooldownMs) * time.Millisecond,
			MaxCooldown:      time.Duration(f.Breaker.MaxCooldownMs) * time.Millisecond,
		},
		Health: router.HealthMonitorConfig{
			Interval:        time.Duration(f.Health.IntervalMs) * time.Millisecond,
			ProbeTimeout:    time.Duration(f.Health.ProbeTimeoutMs) * time.Millisecond,
			DegradedLatency: time.Duration(f.Health.DegradedLatencyMs) * time.Millisecond,
		},
		Coordinator: router.CoordinatorConfig{
			MaxHandoffs:    f.Routing.MaxHandoffs,
			AttemptTimeout: time.Duration(f.Routing.AttemptTimeoutMs) * time.Millisecond,
		},
		Weights:    f.Routing.Weights,
		HistoryCap: f.Routing.HistoryCap,
		Budget: router.BudgetTrackerConfig{
			Limits: router.BudgetLimits{
				Daily:      f.Budget.Daily,
				Weekly:     f.Budget.Weekly,
				Monthly:    f.Budget.Monthly,
				PerRequest: f.Budget.PerRequest,
			},
		},
		EnableBatching: f.Routing.Batching.Enabled,
		Batching: router.BatcherConfig{
			Window:   time.Duration(f.Routing.Batching.WindowMs) * time.Millisecond,
			MaxBatch: f.Routing.Batching.MaxBatch,
		},
	}
}

// PlatformDescriptors converts the configured platforms into registry
// descriptors, sorted by id for deterministic registration order.
func (f *File) PlatformDescriptors() []router.PlatformDescriptor {
	descriptors := make([]router.PlatformDescriptor, 0, len(f.Platforms))
	for id, platform := range f.Platforms {
		weight := platform.Weight
		if weight == 0 {
			weight = 1.0 // Default weight
		}

		caps := make([]router.Capability, 0, len(platform.Capabilities))
		for _, c := range platform.Capabilities {
			caps = append(caps, router.Capability(c))
		}
		if len(caps) == 0 {
			caps = []router.Capability{router.CapabilityGeneral}
		}

		descriptors = append(descriptors, router.PlatformDescriptor{
			ID:           id,
			DisplayName:  platform.DisplayName,
			Capabilities: caps,
			Weight:       weight,
			Enabled:      platform.Enabled,
			Endpoint:     platform.Endpoint,
			RateLimit:    platform.RateLimit,
		})
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].ID < descriptors[j].ID
	})
	return descriptors
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

// Example generates an example configuration file
func Example() string {
	return `# AxonFlow Task Router Configuration
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default} syntax

version: "1.0"
listen_port: "${PORT:-8080}"

auth:
  jwt_secret: ${JWT_SECRET}
  client_rate_per_minute: 120

# Optional distributed per-client rate limiting
redis_url: ${REDIS_URL:-}

# Optional attempt/result persistence
database_url: ${DATABASE_URL:-}

routing:
  weights:
    quality: 0.4
    availability: 0.3
    speed: 0.2
    cost: 0.1
  max_handoffs: 2
  attempt_timeout_ms: 60000
  batching:
    enabled: false
    window_ms: 120
    max_batch: 8

breaker:
  failure_threshold: 5
  cooldown_ms: 30000
  max_cooldown_ms: 300000

health:
  interval_ms: 30000
  probe_timeout_ms: 5000
  degraded_latency_ms: 5000

budget:
  daily: 100.0
  weekly: 500.0
  monthly: 1500.0
  per_request: 5.0

platforms:
  claude-primary:
    display_name: "Claude (primary)"
    enabled: true
    endpoint: ${CLAUDE_ENDPOINT:-http://localhost:9001}
    weight: 1.0
    capabilities: [code_generation, reasoning, long_context, general]
    rate_limit:
      capacity: 60
      refill_per_second: 1
      burst: 10

  gpt-backup:
    display_name: "GPT (backup)"
    enabled: true
    endpoint: ${GPT_ENDPOINT:-http://localhost:9002}
    weight: 0.8
    capabilities: [code_generation, reasoning, general]

  local:
    display_name: "Local model"
    enabled: false
    endpoint: ${LOCAL_ENDPOINT:-http://localhost:11434}
    weight: 0.3
    capabilities: [general]
`
}
