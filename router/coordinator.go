// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// Executor is the externally supplied execution collaborator. It runs one
// task attempt against one platform and returns the structured result.
type Executor interface {
	Execute(ctx context.Context, platform PlatformDescriptor, task Task) (*ExecutionResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, platform PlatformDescriptor, task Task) (*ExecutionResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, platform PlatformDescriptor, task Task) (*ExecutionResult, error) {
	return f(ctx, platform, task)
}

// AttemptSink receives completed attempts and task results for
// persistence. Sink errors are logged and never fail the task.
type AttemptSink interface {
	RecordAttempt(ctx context.Context, attempt ExecutionAttempt) error
	RecordTask(ctx context.Context, result TaskResult) error
}

// CoordinatorConfig configures execution behavior.
type CoordinatorConfig struct {
	// MaxHandoffs bounds how many times a task may move to another
	// platform after its first executed attempt. Default 2, so a task
	// touches at most three platforms.
	MaxHandoffs int

	// AttemptTimeout bounds each execution attempt when the task declares
	// no timeout of its own. Default 60s.
	AttemptTimeout time.Duration

	// Strategy applies when every candidate platform has failed. The zero
	// value surfaces the exhaustion error.
	Strategy FallbackStrategy
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.MaxHandoffs <= 0 {
		c.MaxHandoffs = 2
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 60 * time.Second
	}
	return c
}

// Coordinator drives a task through its routing decision: it walks the
// ordered candidate list, gates each visit on the platform's circuit
// breaker and token bucket, executes bounded attempts, and applies the
// configured fallback strategy once every candidate has been used up.
// Every outcome feeds the performance and budget trackers.
type Coordinator struct {
	registry    *Registry
	engine      *DecisionEngine
	executor    Executor
	performance *PerformanceTracker
	budget      *BudgetTracker
	pricing     *PricingTable
	config      CoordinatorConfig
	sink        AttemptSink
	logger      *log.Logger
}

// CoordinatorOption configures the coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorConfig overrides the default execution configuration.
func WithCoordinatorConfig(config CoordinatorConfig) CoordinatorOption {
	return func(c *Coordinator) {
		c.config = config.withDefaults()
	}
}

// WithAttemptSink attaches a persistence sink for attempts and results.
func WithAttemptSink(sink AttemptSink) CoordinatorOption {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

// WithCoordinatorLogger sets a custom logger.
func WithCoordinatorLogger(logger *log.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a coordinator over the given collaborators.
func NewCoordinator(registry *Registry, engine *DecisionEngine, executor Executor,
	performance *PerformanceTracker, budget *BudgetTracker, pricing *PricingTable,
	opts ...CoordinatorOption) *Coordinator {

	c := &Coordinator{
		registry:    registry,
		engine:      engine,
		executor:    executor,
		performance: performance,
		budget:      budget,
		pricing:     pricing,
		config:      CoordinatorConfig{}.withDefaults(),
		logger:      log.New(os.Stdout, "[COORDINATOR] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run routes and executes one task. Each candidate platform is visited at
// most once; platforms with an open circuit or an exhausted rate budget
// are skipped without counting against the breaker or the handoff budget.
func (c *Coordinator) Run(ctx context.Context, task Task) (*TaskResult, error) {
	decision, err := c.engine.Decide(task)
	if err != nil {
		if IsCode(err, ErrCodeNoHealthyPlatform) && c.hasStrategy() {
			return c.skipAll(ctx, task)
		}
		tasksTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	c.logger.Printf("Task %s routed to %s: %s", task.ID, decision.PlatformID, decision.Reason)

	candidates := append([]string{decision.PlatformID}, decision.Fallbacks...)

	var attempts []ExecutionAttempt
	var visited []string
	executed := 0

	for _, platformID := range candidates {
		if executed > c.config.MaxHandoffs {
			break
		}

		state, err := c.registry.state(platformID)
		if err != nil {
			continue // deregistered mid-flight
		}

		if !state.breaker.Allow() {
			attempts = append(attempts, c.skip(task, platformID, len(attempts), "circuit open"))
			visited = append(visited, platformID)
			continue
		}

		attempt, result := c.attempt(ctx, state, task, len(attempts))
		attempts = append(attempts, attempt)
		visited = append(visited, platformID)

		if attempt.Outcome == OutcomeSkipped {
			continue
		}
		executed++

		if attempt.Outcome == OutcomeSuccess {
			taskResult := c.success(ctx, task, platformID, result, attempt, attempts, visited, executed)
			return taskResult, nil
		}

		if ctx.Err() != nil {
			tasksTotal.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		}
	}

	return c.exhausted(ctx, task, attempts, visited)
}

func (c *Coordinator) hasStrategy() bool {
	return c.config.Strategy.Type != StrategyNone && c.config.Strategy.Type != ""
}

// skipAll applies the fallback strategy when routing found no usable
// platform at all. Every registered platform is recorded as skipped so
// the result still names what was bypassed.
func (c *Coordinator) skipAll(ctx context.Context, task Task) (*TaskResult, error) {
	var attempts []ExecutionAttempt
	var visited []string
	for _, id := range c.registry.ListIDs() {
		attempts = append(attempts, c.skip(task, id, len(attempts), "no healthy platform"))
		visited = append(visited, id)
	}
	return c.exhausted(ctx, task, attempts, visited)
}

// attempt runs one bounded execution against a platform, gating on its
// token bucket first. A full rate queue skips the platform; bucket waits
// count against the attempt deadline.
func (c *Coordinator) attempt(ctx context.Context, state *platformState, task Task, index int) (ExecutionAttempt, *ExecutionResult) {
	platformID := state.descriptor.ID

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = c.config.AttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()

	if err := state.bucket.Acquire(attemptCtx); err != nil {
		if IsCode(err, ErrCodeCapacityExceeded) {
			// Overload is not a platform failure; move on without touching
			// the breaker.
			return c.skip(task, platformID, index, "rate limit queue full"), nil
		}
		state.breaker.RecordFailure()
		return c.finish(task, platformID, index, started, OutcomeTimeout, err), nil
	}

	state.addInflight(1)
	result, err := c.executor.Execute(attemptCtx, state.descriptor, task)
	state.addInflight(-1)

	switch {
	case err == nil && result != nil:
		state.breaker.RecordSuccess()
		return c.finish(task, platformID, index, started, OutcomeSuccess, nil), result
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		state.breaker.RecordFailure()
		return c.finish(task, platformID, index, started, OutcomeTimeout, err), nil
	default:
		if err == nil {
			err = &RouterError{Code: ErrCodeValidation, PlatformID: platformID, Message: "executor returned no result"}
		}
		state.breaker.RecordFailure()
		return c.finish(task, platformID, index, started, OutcomeFailure, err), nil
	}
}

func (c *Coordinator) skip(task Task, platformID string, index int, reason string) ExecutionAttempt {
	c.logger.Printf("Task %s skipping %s: %s", task.ID, platformID, reason)
	now := time.Now()
	attempt := ExecutionAttempt{
		TaskID:     task.ID,
		PlatformID: platformID,
		Index:      index,
		StartedAt:  now,
		EndedAt:    now,
		Outcome:    OutcomeSkipped,
		Error:      reason,
	}
	attemptsTotal.WithLabelValues(platformID, string(OutcomeSkipped)).Inc()
	c.persistAttempt(attempt)
	return attempt
}

// finish closes out an executed attempt and records the feedback sample.
func (c *Coordinator) finish(task Task, platformID string, index int, started time.Time, outcome AttemptOutcome, err error) ExecutionAttempt {
	ended := time.Now()
	attempt := ExecutionAttempt{
		TaskID:     task.ID,
		PlatformID: platformID,
		Index:      index,
		StartedAt:  started,
		EndedAt:    ended,
		Outcome:    outcome,
	}
	if err != nil {
		attempt.Error = err.Error()
		c.logger.Printf("Task %s attempt on %s %s: %v", task.ID, platformID, outcome, err)
	}

	attemptsTotal.WithLabelValues(platformID, string(outcome)).Inc()
	attemptDuration.WithLabelValues(platformID).Observe(float64(ended.Sub(started).Milliseconds()))

	if outcome != OutcomeSuccess {
		c.performance.Record(PerformanceSample{
			PlatformID: platformID,
			Timestamp:  ended,
			Latency:    ended.Sub(started),
			Success:    false,
		})
	}
	c.persistAttempt(attempt)
	return attempt
}

// success records feedback and spend for the winning attempt and builds
// the caller-facing result.
func (c *Coordinator) success(ctx context.Context, task Task, platformID string,
	result *ExecutionResult, attempt ExecutionAttempt,
	attempts []ExecutionAttempt, visited []string, executed int) *TaskResult {

	latency := attempt.EndedAt.Sub(attempt.StartedAt)

	quality := result.Quality
	if quality <= 0 {
		quality = 0.7 // neutral default when the platform reports none
	}
	cost := result.Cost
	if cost <= 0 {
		cost = c.pricing.EstimateCost(platformID, task)
	}

	c.performance.Record(PerformanceSample{
		PlatformID: platformID,
		Timestamp:  attempt.EndedAt,
		Latency:    latency,
		Success:    true,
		Quality:    quality,
		Tokens:     result.TokensUsed,
		Cost:       cost,
	})
	c.budget.Record(CostEvent{
		PlatformID: platformID,
		TaskID:     task.ID,
		Timestamp:  attempt.EndedAt,
		Tokens:     result.TokensUsed,
		Cost:       cost,
		Latency:    latency,
		Quality:    quality,
		Success:    true,
	})
	tasksTotal.WithLabelValues("completed").Inc()

	taskResult := &TaskResult{
		TaskID:        task.ID,
		Content:       result.Content,
		PlatformID:    platformID,
		Cost:          cost,
		Quality:       quality,
		FallbacksUsed: visited[:len(visited)-1],
		Handoffs:      executed - 1,
		Attempts:      attempts,
	}
	c.persistTask(ctx, taskResult)
	return taskResult
}

// exhausted applies the configured fallback strategy after every
// candidate has failed or been skipped.
func (c *Coordinator) exhausted(ctx context.Context, task Task, attempts []ExecutionAttempt, visited []string) (*TaskResult, error) {
	handoffs := 0
	for _, a := range attempts {
		if a.Outcome != OutcomeSkipped {
			handoffs++
		}
	}
	if handoffs > 0 {
		handoffs--
	}

	switch c.config.Strategy.Type {
	case StrategyNone, "":
		tasksTotal.WithLabelValues("exhausted").Inc()
		return nil, newExhaustedError(task.ID, attempts)

	case StrategySynthetic:
		c.logger.Printf("Task %s exhausted all platforms, returning synthetic result", task.ID)
		tasksTotal.WithLabelValues("synthetic").Inc()
		taskResult := &TaskResult{
			TaskID:        task.ID,
			Content:       string(c.config.Strategy.Synthetic),
			Synthetic:     true,
			FallbacksUsed: visited,
			Handoffs:      handoffs,
			Attempts:      attempts,
		}
		c.persistTask(ctx, taskResult)
		return taskResult, nil

	case StrategyRecovery:
		if c.config.Strategy.Recover == nil {
			tasksTotal.WithLabelValues("exhausted").Inc()
			return nil, &RouterError{
				Code:    ErrCodeInvalidStrategy,
				Message: "recovery strategy configured without a recover function",
			}
		}
		result, err := c.config.Strategy.Recover(ctx, task)
		if err != nil {
			tasksTotal.WithLabelValues("exhausted").Inc()
			exhausted := newExhaustedError(task.ID, attempts)
			exhausted.Cause = err
			return nil, exhausted
		}
		c.logger.Printf("Task %s recovered by fallback strategy", task.ID)
		tasksTotal.WithLabelValues("recovered").Inc()
		taskResult := &TaskResult{
			TaskID:        task.ID,
			Content:       result.Content,
			Cost:          result.Cost,
			Quality:       result.Quality,
			Synthetic:     true,
			FallbacksUsed: visited,
			Handoffs:      handoffs,
			Attempts:      attempts,
		}
		c.persistTask(ctx, taskResult)
		return taskResult, nil

	default:
		tasksTotal.WithLabelValues("exhausted").Inc()
		return nil, &RouterError{
			Code:    ErrCodeInvalidStrategy,
			Message: fmt.Sprintf("unknown fallback strategy %q", c.config.Strategy.Type),
		}
	}
}

func (c *Coordinator) persistAttempt(attempt ExecutionAttempt) {
	if c.sink == nil {
		return
	}
	if err := c.sink.RecordAttempt(context.Background(), attempt); err != nil {
		c.logger.Printf("Failed to persist attempt for task %s: %v", attempt.TaskID, err)
	}
}

func (c *Coordinator) persistTask(ctx context.Context, result *TaskResult) {
	if c.sink == nil {
		return
	}
	if err := c.sink.RecordTask(ctx, *result); err != nil {
		c.logger.Printf("Failed to persist result for task %s: %v", result.TaskID, err)
	}
}
