// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplexityScore(t *testing.T) {
	tests := []struct {
		name     string
		task     Task
		expected float64
	}{
		{
			name:     "neutral content",
			task:     Task{Content: "summarize this meeting transcript"},
			expected: 0.5,
		},
		{
			name:     "complex keywords raise the score",
			task:     Task{Content: "redesign the distributed architecture for scalability"},
			expected: 0.95, // 0.5 + 3*0.15
		},
		{
			name:     "simple keywords lower the score",
			task:     Task{Content: "quick fix for a typo"},
			expected: 0.1, // clamped from 0.05
		},
		{
			name:     "mixed keywords offset",
			task:     Task{Title: "fix", Content: "security issue"},
			expected: 0.5,
		},
		{
			name:     "score is clamped to 1.0",
			task:     Task{Content: "architecture algorithm optimization refactor distributed concurrency security"},
			expected: 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ComplexityScore(tt.task), 0.001)
		})
	}
}

func TestInferCapabilities(t *testing.T) {
	caps := InferCapabilities(Task{Content: "implement a function to parse the api response"})
	assert.Contains(t, caps, CapabilityCodeGeneration)

	caps = InferCapabilities(Task{Content: "analyze why the migration plan stalls"})
	assert.Contains(t, caps, CapabilityReasoning)

	// Declared capabilities win over inference.
	caps = InferCapabilities(Task{
		Content:      "implement a function",
		Capabilities: []Capability{CapabilityVision},
	})
	assert.Equal(t, []Capability{CapabilityVision}, caps)

	assert.Empty(t, InferCapabilities(Task{Content: "hello there"}))
}

func newTestEngine(t *testing.T, seed int64, platforms ...PlatformDescriptor) (*DecisionEngine, *Registry, *PerformanceTracker) {
	t.Helper()
	registry := NewRegistry()
	for _, p := range platforms {
		require.NoError(t, registry.Register(p))
		markHealthy(t, registry, p.ID)
	}
	tracker := NewPerformanceTracker(100)
	engine := NewDecisionEngine(registry, tracker, NewPricingTable(),
		WithRandSource(rand.NewSource(seed)))
	return engine, registry, tracker
}

func TestDecideNoEligiblePlatform(t *testing.T) {
	engine, _, _ := newTestEngine(t, 1)

	_, err := engine.Decide(Task{Content: "anything"})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNoHealthyPlatform))
}

func TestDecidePrefersHigherQuality(t *testing.T) {
	engine, _, tracker := newTestEngine(t, 1,
		testPlatform("fast-cheap", 1.0),
		testPlatform("high-quality", 1.0),
	)

	for i := 0; i < 20; i++ {
		tracker.Record(PerformanceSample{
			PlatformID: "high-quality", Success: true, Quality: 0.95,
			Latency: 500 * time.Millisecond,
		})
		tracker.Record(PerformanceSample{
			PlatformID: "fast-cheap", Success: true, Quality: 0.4,
			Latency: 500 * time.Millisecond,
		})
	}

	decision, err := engine.Decide(Task{Content: "design a distributed migration architecture"})
	require.NoError(t, err)
	assert.Equal(t, "high-quality", decision.PlatformID)
	assert.Equal(t, []string{"fast-cheap"}, decision.Fallbacks)
	assert.Greater(t, decision.Confidence, 0.5)
}

func TestDecideDeterministicWithFixedSeed(t *testing.T) {
	// Identical platforms and state: only the seeded source breaks the tie,
	// so two engines with the same seed must agree on every call.
	task := Task{Content: "summarize the weekly report"}

	var first []string
	for run := 0; run < 2; run++ {
		engine, _, _ := newTestEngine(t, 42,
			testPlatform("alpha", 1.0),
			testPlatform("beta", 1.0),
		)
		var picks []string
		for i := 0; i < 10; i++ {
			decision, err := engine.Decide(task)
			require.NoError(t, err)
			picks = append(picks, decision.PlatformID)
		}
		if run == 0 {
			first = picks
		} else {
			assert.Equal(t, first, picks)
		}
	}
}

func TestDecideTieBreakByWeight(t *testing.T) {
	engine, _, _ := newTestEngine(t, 1,
		testPlatform("light", 1.0),
		testPlatform("heavy", 5.0),
	)

	decision, err := engine.Decide(Task{Content: "summarize the weekly report"})
	require.NoError(t, err)
	assert.Equal(t, "heavy", decision.PlatformID)
}

func TestDecideHonorsPreference(t *testing.T) {
	engine, _, tracker := newTestEngine(t, 1,
		testPlatform("best", 1.0),
		testPlatform("preferred", 1.0),
	)
	for i := 0; i < 10; i++ {
		tracker.Record(PerformanceSample{PlatformID: "best", Success: true, Quality: 0.99, Latency: time.Second})
	}

	decision, err := engine.Decide(Task{
		Content:             "summarize this",
		PlatformPreferences: []string{"preferred"},
	})
	require.NoError(t, err)
	assert.Equal(t, "preferred", decision.PlatformID)
	assert.Contains(t, decision.Fallbacks, "best")
	assert.Contains(t, decision.Reason, "preference")
}

func TestDecideIgnoresUnknownPreference(t *testing.T) {
	engine, _, _ := newTestEngine(t, 1, testPlatform("only", 1.0))

	decision, err := engine.Decide(Task{
		Content:             "summarize this",
		PlatformPreferences: []string{"gone"},
	})
	require.NoError(t, err)
	assert.Equal(t, "only", decision.PlatformID)
}

func TestDecideCostCeiling(t *testing.T) {
	engine, _, _ := newTestEngine(t, 1, testPlatform("gpt-4", 1.0))

	_, err := engine.Decide(Task{
		Content:   "write a long design document about the architecture",
		MaxTokens: 8000,
		MaxCost:   0.01,
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeCostCeilingExceeded))
}

func TestDecideFallbacksExcludePrimary(t *testing.T) {
	engine, _, _ := newTestEngine(t, 1,
		testPlatform("a", 3.0),
		testPlatform("b", 2.0),
		testPlatform("c", 1.0),
	)

	decision, err := engine.Decide(Task{Content: "summarize"})
	require.NoError(t, err)
	assert.NotContains(t, decision.Fallbacks, decision.PlatformID)
	assert.Len(t, decision.Fallbacks, 2)
}

func TestDecideDegradedScoresBelowHealthy(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testPlatform("healthy", 1.0)))
	require.NoError(t, registry.Register(testPlatform("degraded", 1.0)))
	markStatus(t, registry, "healthy", HealthStatusHealthy)
	markStatus(t, registry, "degraded", HealthStatusDegraded)

	engine := NewDecisionEngine(registry, NewPerformanceTracker(100), NewPricingTable(),
		WithRandSource(rand.NewSource(1)))

	decision, err := engine.Decide(Task{Content: "summarize"})
	require.NoError(t, err)
	assert.Equal(t, "healthy", decision.PlatformID)
	assert.Equal(t, []string{"degraded"}, decision.Fallbacks)
}
