// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"sync"
	"time"
)

const defaultHistoryCap = 10000

// PerformanceTracker keeps a bounded rolling history of execution
// samples per platform and derives aggregate metrics from it. Histories
// are append-only with oldest-eviction; readers always get snapshots.
// Aggregates are recomputed lazily on read, not on every write.
type PerformanceTracker struct {
	cap int

	mu        sync.RWMutex
	histories map[string]*sampleHistory
}

type sampleHistory struct {
	mu      sync.RWMutex
	samples []PerformanceSample
	dirty   bool
	cached  PerformanceMetrics
}

// NewPerformanceTracker creates a tracker with the given per-platform
// history cap (default 10000 when <= 0).
func NewPerformanceTracker(historyCap int) *PerformanceTracker {
	if historyCap <= 0 {
		historyCap = defaultHistoryCap
	}
	return &PerformanceTracker{
		cap:       historyCap,
		histories: make(map[string]*sampleHistory),
	}
}

// Record appends one sample, evicting the oldest entry past the cap.
func (t *PerformanceTracker) Record(sample PerformanceSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	h := t.history(sample.PlatformID)
	h.mu.Lock()
	h.samples = append(h.samples, sample)
	if len(h.samples) > t.cap {
		h.samples = h.samples[len(h.samples)-t.cap:]
	}
	h.dirty = true
	h.mu.Unlock()
}

// Metrics returns the aggregates for a platform, recomputing them only
// when new samples arrived since the last read.
func (t *PerformanceTracker) Metrics(platformID string) PerformanceMetrics {
	h := t.history(platformID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return h.cached
	}

	metrics := PerformanceMetrics{PlatformID: platformID, SampleCount: len(h.samples)}
	if len(h.samples) == 0 {
		h.cached = metrics
		h.dirty = false
		return metrics
	}

	var totalLatency time.Duration
	var successes int
	var totalQuality, totalCost float64
	for _, s := range h.samples {
		totalLatency += s.Latency
		if s.Success {
			successes++
		}
		totalQuality += s.Quality
		totalCost += s.Cost
	}

	n := float64(len(h.samples))
	metrics.AvgLatency = totalLatency / time.Duration(len(h.samples))
	metrics.SuccessRate = float64(successes) / n
	metrics.AvgQuality = totalQuality / n
	metrics.TotalCost = totalCost
	if metrics.AvgQuality > 0 {
		metrics.CostPerQuality = totalCost / n / metrics.AvgQuality
	}

	h.cached = metrics
	h.dirty = false
	return metrics
}

// Samples returns a snapshot of a platform's rolling history.
func (t *PerformanceTracker) Samples(platformID string) []PerformanceSample {
	h := t.history(platformID)

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]PerformanceSample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Platforms returns the ids with at least one recorded sample.
func (t *PerformanceTracker) Platforms() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.histories))
	for id := range t.histories {
		ids = append(ids, id)
	}
	return ids
}

func (t *PerformanceTracker) history(platformID string) *sampleHistory {
	t.mu.RLock()
	h, exists := t.histories[platformID]
	t.mu.RUnlock()
	if exists {
		return h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, exists = t.histories[platformID]; exists {
		return h
	}
	h = &sampleHistory{}
	t.histories[platformID] = h
	return h
}
