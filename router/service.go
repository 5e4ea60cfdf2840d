// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServiceConfig wires together the router's moving parts. All fields are
// optional; zero values fall back to component defaults.
type ServiceConfig struct {
	Breaker     CircuitBreakerConfig
	Health      HealthMonitorConfig
	Coordinator CoordinatorConfig
	Weights     ScoreWeights
	Budget      BudgetTrackerConfig

	// HistoryCap bounds the per-platform performance history.
	HistoryCap int

	// EnableBatching coalesces compatible small requests per platform.
	EnableBatching bool
	Batching       BatcherConfig
}

// Service is the long-lived entry point of the task router. It owns the
// registry, health monitor, decision engine, coordinator and trackers,
// and exposes the operations the API surface builds on. Multiple Service
// instances are independent; nothing is shared through globals.
type Service struct {
	registry    *Registry
	monitor     *HealthMonitor
	engine      *DecisionEngine
	coordinator *Coordinator
	performance *PerformanceTracker
	budget      *BudgetTracker
	pricing     *PricingTable
	logger      *log.Logger

	mu       sync.Mutex
	batchers map[string]*Batcher
	closed   bool
	cancel   context.CancelFunc
}

// ServiceOption configures the service during creation.
type ServiceOption func(*serviceBuild)

type serviceBuild struct {
	sink   AttemptSink
	logger *log.Logger
	engine []EngineOption
}

// WithServiceSink attaches a persistence sink for attempts and results.
func WithServiceSink(sink AttemptSink) ServiceOption {
	return func(b *serviceBuild) {
		b.sink = sink
	}
}

// WithServiceLogger sets a custom logger.
func WithServiceLogger(logger *log.Logger) ServiceOption {
	return func(b *serviceBuild) {
		b.logger = logger
	}
}

// WithEngineOptions forwards options to the decision engine, e.g. a
// seeded random source.
func WithEngineOptions(opts ...EngineOption) ServiceOption {
	return func(b *serviceBuild) {
		b.engine = append(b.engine, opts...)
	}
}

// NewService assembles a router service around the given probe and
// executor collaborators and starts the health monitor.
func NewService(ctx context.Context, config ServiceConfig, probe Probe, executor Executor, opts ...ServiceOption) *Service {
	build := &serviceBuild{
		logger: log.New(os.Stdout, "[ROUTER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(build)
	}

	registry := NewRegistry(WithBreakerConfig(config.Breaker))
	performance := NewPerformanceTracker(config.HistoryCap)
	pricing := NewPricingTable()
	budget := NewBudgetTracker(config.Budget)
	monitor := NewHealthMonitor(registry, probe, config.Health)

	engineOpts := build.engine
	if config.Weights != (ScoreWeights{}) {
		engineOpts = append(engineOpts, WithScoreWeights(config.Weights))
	}
	engine := NewDecisionEngine(registry, performance, pricing, engineOpts...)

	s := &Service{
		registry:    registry,
		monitor:     monitor,
		engine:      engine,
		performance: performance,
		budget:      budget,
		pricing:     pricing,
		logger:      build.logger,
		batchers:    make(map[string]*Batcher),
	}

	if config.EnableBatching {
		executor = s.batchingExecutor(executor, config.Batching)
	}

	coordOpts := []CoordinatorOption{WithCoordinatorConfig(config.Coordinator)}
	if build.sink != nil {
		coordOpts = append(coordOpts, WithAttemptSink(build.sink))
	}
	s.coordinator = NewCoordinator(registry, engine, executor, performance, budget, pricing, coordOpts...)

	monitorCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	monitor.Start(monitorCtx)

	return s
}

// Submit validates a task, assigns an id if missing, and runs it through
// routing and execution. Submitting after Close fails.
func (s *Service) Submit(ctx context.Context, task Task) (*TaskResult, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, &RouterError{
			Code:    ErrCodeValidation,
			Message: "service is closed",
		}
	}
	if err := validateTask(task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	return s.coordinator.Run(ctx, task)
}

// Registry exposes platform management.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Monitor exposes the health monitor for administrative refreshes.
func (s *Service) Monitor() *HealthMonitor {
	return s.monitor
}

// Performance exposes the feedback tracker.
func (s *Service) Performance() *PerformanceTracker {
	return s.performance
}

// Budget exposes the spend tracker.
func (s *Service) Budget() *BudgetTracker {
	return s.budget
}

// Pricing exposes the pricing table for runtime overrides.
func (s *Service) Pricing() *PricingTable {
	return s.pricing
}

// Decide runs the decision engine without executing, for dry-run
// endpoints.
func (s *Service) Decide(task Task) (*RoutingDecision, error) {
	return s.engine.Decide(task)
}

// Recommendations derives cost optimization suggestions from the
// accumulated performance history.
func (s *Service) Recommendations() []Recommendation {
	return Recommendations(s.performance)
}

// Close stops the health monitor. Submitting after Close fails.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	s.monitor.Stop()
	s.logger.Println("Router service stopped")
}

// batchingExecutor wraps an executor with one batcher per platform so
// that concurrent submissions against the same platform coalesce.
func (s *Service) batchingExecutor(executor Executor, config BatcherConfig) Executor {
	return ExecutorFunc(func(ctx context.Context, platform PlatformDescriptor, task Task) (*ExecutionResult, error) {
		s.mu.Lock()
		batcher, ok := s.batchers[platform.ID]
		if !ok {
			batcher = NewBatcher(platform.ID, func(bctx context.Context, batched Task) (*ExecutionResult, error) {
				return executor.Execute(bctx, platform, batched)
			}, config)
			s.batchers[platform.ID] = batcher
		}
		s.mu.Unlock()
		return batcher.Submit(ctx, task)
	})
}

func validateTask(task Task) error {
	if task.Content == "" && task.Title == "" {
		return &RouterError{
			Code:    ErrCodeValidation,
			Message: "task requires a title or content",
		}
	}
	if task.MaxCost < 0 {
		return &RouterError{
			Code:    ErrCodeValidation,
			Message: "max cost must be non-negative",
		}
	}
	return nil
}
