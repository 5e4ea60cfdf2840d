// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitorClassifiesProbeResults(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testPlatform("ok", 1.0)))
	require.NoError(t, registry.Register(testPlatform("slow", 1.0)))
	require.NoError(t, registry.Register(testPlatform("down", 1.0)))
	require.NoError(t, registry.Register(testPlatform("erroring", 1.0)))

	probe := ProbeFunc(func(ctx context.Context, platform PlatformDescriptor) (*ProbeResult, error) {
		switch platform.ID {
		case "ok":
			return &ProbeResult{OK: true, Latency: 50 * time.Millisecond}, nil
		case "slow":
			return &ProbeResult{OK: true, Latency: 10 * time.Second}, nil
		case "down":
			return &ProbeResult{OK: false, Message: "http 503"}, nil
		default:
			return nil, errors.New("connection refused")
		}
	})

	monitor := NewHealthMonitor(registry, probe, HealthMonitorConfig{DegradedLatency: 5 * time.Second})
	monitor.RefreshAll(context.Background())

	tests := []struct {
		id       string
		expected HealthStatus
	}{
		{"ok", HealthStatusHealthy},
		{"slow", HealthStatusDegraded},
		{"down", HealthStatusUnhealthy},
		{"erroring", HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		health, err := registry.Health(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, health.Status, tt.id)
		assert.False(t, health.LastChecked.IsZero())
	}

	down, err := registry.Health("down")
	require.NoError(t, err)
	assert.Equal(t, "http 503", down.LastError)
}

func TestHealthMonitorSupersedesRecords(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testPlatform("flappy", 1.0)))

	ok := true
	probe := ProbeFunc(func(ctx context.Context, platform PlatformDescriptor) (*ProbeResult, error) {
		return &ProbeResult{OK: ok}, nil
	})
	monitor := NewHealthMonitor(registry, probe, HealthMonitorConfig{})

	monitor.RefreshAll(context.Background())
	health, err := registry.Health("flappy")
	require.NoError(t, err)
	assert.Equal(t, HealthStatusHealthy, health.Status)

	ok = false
	monitor.RefreshAll(context.Background())
	health, err = registry.Health("flappy")
	require.NoError(t, err)
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
}

func TestHealthMonitorProbeTimeout(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testPlatform("hanging", 1.0)))

	probe := ProbeFunc(func(ctx context.Context, platform PlatformDescriptor) (*ProbeResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	monitor := NewHealthMonitor(registry, probe, HealthMonitorConfig{ProbeTimeout: 20 * time.Millisecond})

	start := time.Now()
	monitor.RefreshAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	health, err := registry.Health("hanging")
	require.NoError(t, err)
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
}

func TestHealthMonitorPeriodicLoop(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testPlatform("p1", 1.0)))

	probed := make(chan struct{}, 10)
	probe := ProbeFunc(func(ctx context.Context, platform PlatformDescriptor) (*ProbeResult, error) {
		select {
		case probed <- struct{}{}:
		default:
		}
		return &ProbeResult{OK: true}, nil
	})

	monitor := NewHealthMonitor(registry, probe, HealthMonitorConfig{Interval: 20 * time.Millisecond})
	monitor.Start(context.Background())
	defer monitor.Stop()

	select {
	case <-probed:
	case <-time.After(time.Second):
		t.Fatal("expected the loop to probe within a second")
	}
}
