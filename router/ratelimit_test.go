// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketStartsFull(t *testing.T) {
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 5, RefillPerSecond: 1})

	for i := 0; i < 5; i++ {
		assert.True(t, b.TryAcquire(), "token %d should be available", i)
	}
	assert.False(t, b.TryAcquire(), "bucket should be empty after capacity draws")
}

func TestTokenBucketBurstAllowance(t *testing.T) {
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 2, RefillPerSecond: 1, Burst: 3})

	for i := 0; i < 5; i++ {
		assert.True(t, b.TryAcquire())
	}
	assert.False(t, b.TryAcquire())
}

func TestTokenBucketRefills(t *testing.T) {
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 1, RefillPerSecond: 50})

	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, b.TryAcquire(), "token should refill at 50/s")
}

func TestTokenBucketRefillClampedToCapacity(t *testing.T) {
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 3, RefillPerSecond: 1000})

	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, b.Available(), 3.0)
}

func TestTokenBucketAcquireWaits(t *testing.T) {
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 1, RefillPerSecond: 20})
	require.True(t, b.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := b.Acquire(ctx)
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), 10*time.Millisecond)
}

func TestTokenBucketQueueFull(t *testing.T) {
	// No refill and no queue slots: a second caller fails immediately.
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 1, RefillPerSecond: 0, QueueSize: -1})
	require.True(t, b.TryAcquire())

	err := b.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeCapacityExceeded))
}

func TestTokenBucketDrainedNoRefillFailsFast(t *testing.T) {
	// With refill disabled, waiting can never yield a token. Acquire must
	// fail immediately even though the default queue has room.
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 1, RefillPerSecond: 0})
	require.True(t, b.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := b.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeCapacityExceeded))
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"a drained bucket must not burn the caller's deadline")
}

func TestTokenBucketAcquireHonorsContext(t *testing.T) {
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 1, RefillPerSecond: 0.01})
	require.True(t, b.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := b.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketConservation(t *testing.T) {
	// N concurrent callers against capacity C: exactly C succeed when
	// nothing refills.
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 10, RefillPerSecond: 0})

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, acquired)
}

func TestTokenBucketSetRate(t *testing.T) {
	b := NewTokenBucket("test", &RateLimitConfig{Capacity: 1, RefillPerSecond: 0})
	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire())

	b.SetRate(100)
	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.TryAcquire())
}
