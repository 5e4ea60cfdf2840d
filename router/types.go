// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package router routes tasks to interchangeable AI execution platforms.
// It tracks per-platform health, enforces circuit breaking, rate limits and
// cost budgets, and fails over to alternate platforms when the primary
// choice is unavailable or overloaded.
package router

import (
	"context"
	"encoding/json"
	"time"
)

// Capability represents a specific feature a platform supports.
type Capability string

// Standard capabilities that platforms may declare.
const (
	// CapabilityCodeGeneration indicates optimized code generation.
	CapabilityCodeGeneration Capability = "code_generation"

	// CapabilityReasoning indicates multi-step analysis and planning.
	CapabilityReasoning Capability = "reasoning"

	// CapabilityLongContext indicates support for very large inputs.
	CapabilityLongContext Capability = "long_context"

	// CapabilityVision indicates support for image input.
	CapabilityVision Capability = "vision"

	// CapabilityGeneral indicates general-purpose text tasks.
	CapabilityGeneral Capability = "general"
)

// RateLimitConfig configures a platform's token bucket.
type RateLimitConfig struct {
	// Capacity is the bucket size in tokens.
	Capacity float64 `json:"capacity" yaml:"capacity"`

	// RefillPerSecond is the token refill rate.
	RefillPerSecond float64 `json:"refill_per_second" yaml:"refill_per_second"`

	// Burst is an extra allowance added on top of Capacity.
	Burst float64 `json:"burst,omitempty" yaml:"burst,omitempty"`

	// QueueSize bounds how many callers may wait for a token.
	// 0 uses the default (100); negative disables queueing entirely.
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// PlatformDescriptor describes a registered execution platform.
// Descriptors are immutable once registered; re-registering a platform
// replaces the descriptor wholesale.
type PlatformDescriptor struct {
	// ID is the unique identifier for this platform (e.g. "claude-primary").
	ID string `json:"id" yaml:"id"`

	// DisplayName is a human-readable name.
	DisplayName string `json:"display_name" yaml:"display_name"`

	// Capabilities lists the features this platform supports, in
	// declaration order.
	Capabilities []Capability `json:"capabilities" yaml:"capabilities"`

	// Weight is the relative selection weight (>= 0). Used to break
	// scoring ties between otherwise equivalent platforms.
	Weight float64 `json:"weight" yaml:"weight"`

	// Enabled indicates whether the platform is available for routing.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Endpoint is an opaque reference handed to the probe and executor
	// collaborators. The router never interprets it.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// RateLimit overrides the default token bucket for this platform.
	RateLimit *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// HasCapabilities reports whether the descriptor's capability set is a
// superset of the requested tags.
func (d PlatformDescriptor) HasCapabilities(caps []Capability) bool {
	for _, want := range caps {
		found := false
		for _, have := range d.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HealthStatus represents the health state of a platform.
type HealthStatus string

const (
	// HealthStatusHealthy indicates the platform is operational.
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusDegraded indicates the platform responds slowly.
	HealthStatusDegraded HealthStatus = "degraded"

	// HealthStatusUnhealthy indicates the platform is not operational.
	HealthStatusUnhealthy HealthStatus = "unhealthy"

	// HealthStatusUnknown indicates the platform has not been probed yet.
	HealthStatusUnknown HealthStatus = "unknown"
)

// HealthRecord is the result of the most recent probe of a platform.
// Records are superseded wholesale on every probe, never mutated in place.
type HealthRecord struct {
	PlatformID  string        `json:"platform_id"`
	Status      HealthStatus  `json:"status"`
	LastChecked time.Time     `json:"last_checked"`
	Latency     time.Duration `json:"latency"`
	LastError   string        `json:"last_error,omitempty"`
}

// ProbeResult is the structured payload returned by a health probe
// collaborator. How the probe reaches the platform (HTTP, CLI, IPC) is the
// collaborator's responsibility.
type ProbeResult struct {
	// OK indicates the platform answered with a successful status.
	OK bool `json:"ok"`

	// Latency is the probe round-trip time, if the collaborator measured
	// it. When zero the monitor uses its own wall-clock measurement.
	Latency time.Duration `json:"latency,omitempty"`

	// Message carries optional detail about the probe outcome.
	Message string `json:"message,omitempty"`
}

// Priority indicates how urgent a task is.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Task is a unit of work submitted for routing. It is immutable after
// submission; the coordinator tracks handoffs in its own bookkeeping.
type Task struct {
	// ID uniquely identifies the task. Assigned on submission if empty.
	ID string `json:"id"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Content is the task payload handed to the executor collaborator.
	Content string `json:"content"`

	// Domain is an optional domain tag (e.g. "backend", "infra").
	Domain string `json:"domain,omitempty"`

	// Priority defaults to medium when empty.
	Priority Priority `json:"priority,omitempty"`

	// Capabilities declares required platform capabilities. When empty the
	// decision engine infers requirements from the content.
	Capabilities []Capability `json:"capabilities,omitempty"`

	// MaxCost rejects routing up front if the top candidate's estimated
	// cost exceeds this ceiling. 0 means no ceiling.
	MaxCost float64 `json:"max_cost,omitempty"`

	// PlatformPreferences lists platform IDs to try first, in order.
	PlatformPreferences []string `json:"platform_preferences,omitempty"`

	// Timeout bounds each execution attempt. 0 uses the coordinator
	// default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxTokens hints the expected response size for cost estimation.
	MaxTokens int `json:"max_tokens,omitempty"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
}

// AttemptOutcome classifies a single execution attempt.
type AttemptOutcome string

const (
	// OutcomeSuccess indicates the attempt produced a result.
	OutcomeSuccess AttemptOutcome = "success"

	// OutcomeFailure indicates the executor returned an error.
	OutcomeFailure AttemptOutcome = "failure"

	// OutcomeTimeout indicates the attempt exceeded its deadline.
	OutcomeTimeout AttemptOutcome = "timeout"

	// OutcomeSkipped indicates the platform was bypassed without an
	// upstream call (open circuit or exhausted rate budget).
	OutcomeSkipped AttemptOutcome = "skipped"
)

// ExecutionAttempt records one platform attempt for a task.
type ExecutionAttempt struct {
	TaskID     string         `json:"task_id"`
	PlatformID string         `json:"platform_id"`
	Index      int            `json:"index"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Outcome    AttemptOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
}

// RoutingDecision is the ordered routing plan for a single task
// submission. Produced once and never mutated.
type RoutingDecision struct {
	// PlatformID is the chosen primary platform.
	PlatformID string `json:"platform_id"`

	// Fallbacks is the ordered list of alternates; never contains the
	// primary.
	Fallbacks []string `json:"fallbacks"`

	// Reason explains the choice for humans.
	Reason string `json:"reason"`

	// Confidence is the engine's confidence in the primary pick (0-1).
	Confidence float64 `json:"confidence"`

	// Complexity is the computed task complexity score (0.1-1.0).
	Complexity float64 `json:"complexity"`

	// EstimatedCost is the estimated cost of the primary attempt in USD.
	EstimatedCost float64 `json:"estimated_cost"`
}

// ExecutionResult is the payload returned by an executor collaborator for
// a successful attempt.
type ExecutionResult struct {
	// Content is the platform's response payload.
	Content string `json:"content"`

	// TokensUsed is the total token usage, when known.
	TokensUsed int `json:"tokens_used,omitempty"`

	// Cost is the actual attempt cost in USD, when known. When zero the
	// coordinator falls back to the pricing table estimate.
	Cost float64 `json:"cost,omitempty"`

	// Quality is the platform's self-reported quality score (0-1).
	// When zero a neutral default is recorded.
	Quality float64 `json:"quality,omitempty"`

	// Metadata carries collaborator-specific response data.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskResult is returned to the caller after a successful submission.
type TaskResult struct {
	TaskID     string  `json:"task_id"`
	Content    string  `json:"content"`
	PlatformID string  `json:"platform_id"`
	Cost       float64 `json:"cost"`
	Quality    float64 `json:"quality"`

	// Synthetic is true when the result came from a configured fallback
	// strategy rather than a platform.
	Synthetic bool `json:"synthetic,omitempty"`

	// FallbacksUsed lists every platform tried or skipped before this
	// result, in order.
	FallbacksUsed []string `json:"fallbacks_used,omitempty"`

	// Handoffs is how many times the task moved between platforms.
	Handoffs int `json:"handoffs"`

	// Attempts is the full per-platform attempt log.
	Attempts []ExecutionAttempt `json:"attempts,omitempty"`
}

// PerformanceSample records one completed attempt for feedback scoring.
type PerformanceSample struct {
	PlatformID string        `json:"platform_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Latency    time.Duration `json:"latency"`
	Success    bool          `json:"success"`
	Quality    float64       `json:"quality"`
	Tokens     int           `json:"tokens"`
	Cost       float64       `json:"cost"`
}

// CostEvent records spend attributed to one attempt.
type CostEvent struct {
	PlatformID string        `json:"platform_id"`
	TaskID     string        `json:"task_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Tokens     int           `json:"tokens"`
	Cost       float64       `json:"cost"`
	Latency    time.Duration `json:"latency"`
	Quality    float64       `json:"quality"`
	Success    bool          `json:"success"`
}

// PerformanceMetrics are the aggregates recomputed lazily from a
// platform's rolling history.
type PerformanceMetrics struct {
	PlatformID     string        `json:"platform_id"`
	SampleCount    int           `json:"sample_count"`
	AvgLatency     time.Duration `json:"avg_latency"`
	SuccessRate    float64       `json:"success_rate"`
	AvgQuality     float64       `json:"avg_quality"`
	TotalCost      float64       `json:"total_cost"`
	CostPerQuality float64       `json:"cost_per_quality"`
}

// BudgetPeriod identifies a spend tracking window.
type BudgetPeriod string

const (
	PeriodDaily      BudgetPeriod = "daily"
	PeriodWeekly     BudgetPeriod = "weekly"
	PeriodMonthly    BudgetPeriod = "monthly"
	PeriodPerRequest BudgetPeriod = "per_request"
)

// AlertSeverity classifies a budget alert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// BudgetAlert is raised when spend crosses a configured threshold.
// The same (period, severity) pair is not re-raised within a one-hour
// cooldown.
type BudgetAlert struct {
	Period    BudgetPeriod  `json:"period"`
	Threshold float64       `json:"threshold"`
	Current   float64       `json:"current"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// Recommendation suggests a cost optimization derived from comparing
// platforms' cost-per-quality-point.
type Recommendation struct {
	Type         string  `json:"type"`
	FromPlatform string  `json:"from_platform,omitempty"`
	ToPlatform   string  `json:"to_platform,omitempty"`
	Ratio        float64 `json:"ratio,omitempty"`
	Message      string  `json:"message"`
}

// StrategyType identifies a fallback strategy applied when every platform
// in a decision has failed.
type StrategyType string

const (
	// StrategyNone surfaces the exhaustion error to the caller.
	StrategyNone StrategyType = "none"

	// StrategySynthetic returns a pre-defined literal payload.
	StrategySynthetic StrategyType = "synthetic"

	// StrategyRecovery invokes an explicit recovery collaborator.
	StrategyRecovery StrategyType = "recovery"
)

// FallbackStrategy configures degraded behavior after fallback exhaustion.
type FallbackStrategy struct {
	// Type selects the strategy. Empty means StrategyNone.
	Type StrategyType `json:"type"`

	// Synthetic is the literal payload returned by StrategySynthetic.
	Synthetic json.RawMessage `json:"synthetic,omitempty"`

	// Recover handles StrategyRecovery. Required for that type.
	Recover func(ctx context.Context, task Task) (*ExecutionResult, error) `json:"-"`
}
