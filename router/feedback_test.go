// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceTrackerAggregates(t *testing.T) {
	tracker := NewPerformanceTracker(100)

	tracker.Record(PerformanceSample{PlatformID: "a", Latency: 100 * time.Millisecond, Success: true, Quality: 0.8, Cost: 0.10})
	tracker.Record(PerformanceSample{PlatformID: "a", Latency: 300 * time.Millisecond, Success: false, Quality: 0.6, Cost: 0.20})

	m := tracker.Metrics("a")
	assert.Equal(t, 2, m.SampleCount)
	assert.Equal(t, 200*time.Millisecond, m.AvgLatency)
	assert.Equal(t, 0.5, m.SuccessRate)
	assert.InDelta(t, 0.7, m.AvgQuality, 0.001)
	assert.InDelta(t, 0.30, m.TotalCost, 0.001)
	assert.InDelta(t, 0.15/0.7, m.CostPerQuality, 0.001)
}

func TestPerformanceTrackerEmptyPlatform(t *testing.T) {
	tracker := NewPerformanceTracker(100)

	m := tracker.Metrics("never-seen")
	assert.Equal(t, 0, m.SampleCount)
	assert.Equal(t, 0.0, m.SuccessRate)
}

func TestPerformanceTrackerEvictsOldest(t *testing.T) {
	tracker := NewPerformanceTracker(3)

	for i := 0; i < 5; i++ {
		tracker.Record(PerformanceSample{PlatformID: "a", Quality: float64(i)})
	}

	samples := tracker.Samples("a")
	assert.Len(t, samples, 3)
	assert.Equal(t, 2.0, samples[0].Quality, "oldest samples evicted first")
	assert.Equal(t, 4.0, samples[2].Quality)
}

func TestPerformanceTrackerCachesUntilDirty(t *testing.T) {
	tracker := NewPerformanceTracker(100)
	tracker.Record(PerformanceSample{PlatformID: "a", Success: true, Quality: 1.0})

	first := tracker.Metrics("a")
	second := tracker.Metrics("a")
	assert.Equal(t, first, second)

	tracker.Record(PerformanceSample{PlatformID: "a", Success: false, Quality: 0.0})
	third := tracker.Metrics("a")
	assert.Equal(t, 2, third.SampleCount)
	assert.Equal(t, 0.5, third.SuccessRate)
}

func TestPerformanceTrackerSnapshotIsolation(t *testing.T) {
	tracker := NewPerformanceTracker(100)
	tracker.Record(PerformanceSample{PlatformID: "a", Quality: 0.5})

	samples := tracker.Samples("a")
	samples[0].Quality = 999

	assert.Equal(t, 0.5, tracker.Samples("a")[0].Quality)
}

func TestPerformanceTrackerConcurrentRecording(t *testing.T) {
	tracker := NewPerformanceTracker(10000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.Record(PerformanceSample{PlatformID: "a", Success: true, Quality: 0.5, Cost: 0.01})
				tracker.Metrics("a")
			}
		}()
	}
	wg.Wait()

	m := tracker.Metrics("a")
	assert.Equal(t, 1000, m.SampleCount)
	assert.InDelta(t, 10.0, m.TotalCost, 0.01)
}
