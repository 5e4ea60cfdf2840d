// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Probe is the externally supplied health-check collaborator. How the
// probe reaches the platform (HTTP, CLI, IPC) is the collaborator's
// responsibility; the monitor only classifies the structured result.
type Probe interface {
	Probe(ctx context.Context, platform PlatformDescriptor) (*ProbeResult, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, platform PlatformDescriptor) (*ProbeResult, error)

// Probe implements Probe.
func (f ProbeFunc) Probe(ctx context.Context, platform PlatformDescriptor) (*ProbeResult, error) {
	return f(ctx, platform)
}

// HealthMonitorConfig configures probing behavior.
type HealthMonitorConfig struct {
	// Interval between probe rounds. Default 30s.
	Interval time.Duration

	// ProbeTimeout bounds each individual probe. Default 5s.
	ProbeTimeout time.Duration

	// DegradedLatency is the response time above which a successful probe
	// still classifies the platform as degraded. Default 5s.
	DegradedLatency time.Duration
}

func (c HealthMonitorConfig) withDefaults() HealthMonitorConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.DegradedLatency <= 0 {
		c.DegradedLatency = 5 * time.Second
	}
	return c
}

// HealthMonitor periodically probes every registered platform and
// publishes a fresh HealthRecord for each. Probing runs on its own timer
// and never blocks task execution; probe failures are logged, recorded in
// the health state, and never propagated to callers.
type HealthMonitor struct {
	registry *Registry
	probe    Probe
	config   HealthMonitorConfig
	logger   *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHealthMonitor creates a monitor over the given registry.
func NewHealthMonitor(registry *Registry, probe Probe, config HealthMonitorConfig) *HealthMonitor {
	return &HealthMonitor{
		registry: registry,
		probe:    probe,
		config:   config.withDefaults(),
		logger:   log.New(os.Stdout, "[HEALTH] ", log.LstdFlags),
	}
}

// Start launches the periodic probe loop. Calling Start twice restarts
// the loop.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Printf("Starting periodic health checks (every %v)", m.config.Interval)

	go func() {
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				m.logger.Println("Stopping periodic health checks")
				return
			case <-ticker.C:
				m.RefreshAll(loopCtx)
			}
		}
	}()
}

// Stop cancels the periodic probe loop.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// RefreshAll probes every registered platform immediately, bypassing the
// interval. Probes run concurrently across platforms. Used by tests and
// administrative endpoints.
func (m *HealthMonitor) RefreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range m.registry.ListIDs() {
		state, err := m.registry.state(id)
		if err != nil {
			continue // deregistered between listing and lookup
		}
		wg.Add(1)
		go func(state *platformState) {
			defer wg.Done()
			m.probeOne(ctx, state)
		}(state)
	}
	wg.Wait()
}

// probeOne runs a single bounded probe and publishes a new HealthRecord
// superseding the old one.
func (m *HealthMonitor) probeOne(ctx context.Context, state *platformState) {
	descriptor := state.descriptor

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	result, err := m.probe.Probe(probeCtx, descriptor)
	elapsed := time.Since(start)

	record := &HealthRecord{
		PlatformID:  descriptor.ID,
		LastChecked: time.Now(),
		Latency:     elapsed,
	}
	if result != nil && result.Latency > 0 {
		record.Latency = result.Latency
	}

	switch {
	case err != nil:
		record.Status = HealthStatusUnhealthy
		record.LastError = err.Error()
		m.logger.Printf("Probe failed for %s: %v", descriptor.ID, err)
	case result == nil || !result.OK:
		record.Status = HealthStatusUnhealthy
		if result != nil {
			record.LastError = result.Message
		}
		m.logger.Printf("Probe reported %s unhealthy", descriptor.ID)
	case record.Latency > m.config.DegradedLatency:
		record.Status = HealthStatusDegraded
	default:
		record.Status = HealthStatusHealthy
	}

	state.setHealth(record)
	healthStatus.WithLabelValues(descriptor.ID).Set(healthGaugeValue(record.Status))
}

func healthGaugeValue(status HealthStatus) float64 {
	switch status {
	case HealthStatusHealthy:
		return 1
	case HealthStatusDegraded:
		return 0.5
	default:
		return 0
	}
}
