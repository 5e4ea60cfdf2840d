// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultQueueSize = 100

// TokenBucket enforces a per-platform call budget. Tokens refill lazily on
// each acquire attempt as elapsed time times the refill rate, clamped to
// capacity plus burst. Safe for concurrent use.
type TokenBucket struct {
	platformID string
	capacity   float64
	refillRate float64 // tokens per second
	queueSize  int

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	waiters    int
}

// NewTokenBucket creates a full bucket from a platform's rate limit
// configuration. A nil config yields a generous default bucket.
func NewTokenBucket(platformID string, config *RateLimitConfig) *TokenBucket {
	if config == nil {
		config = &RateLimitConfig{Capacity: 60, RefillPerSecond: 1}
	}
	capacity := config.Capacity + config.Burst
	queueSize := config.QueueSize
	if queueSize == 0 {
		queueSize = defaultQueueSize
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &TokenBucket{
		platformID: platformID,
		capacity:   capacity,
		refillRate: config.RefillPerSecond,
		queueSize:  queueSize,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// TryAcquire takes a token without waiting. Returns false when the bucket
// is empty.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Acquire takes a token, queueing the caller until one refills. It fails
// immediately with ErrCodeCapacityExceeded when the wait queue is full or
// the bucket is drained with no refill configured, and with the context
// error when ctx is cancelled first.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if b.TryAcquire() {
		return nil
	}

	b.mu.Lock()
	if b.refillRate <= 0 {
		// Waiting cannot produce a token.
		b.mu.Unlock()
		return b.drainedError()
	}
	if b.waiters >= b.queueSize {
		b.mu.Unlock()
		return &RouterError{
			Code:       ErrCodeCapacityExceeded,
			PlatformID: b.platformID,
			Message:    fmt.Sprintf("rate limit queue full (%d waiting)", b.queueSize),
		}
	}
	b.waiters++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.waiters--
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.nextTokenDelay()):
		}
		if b.TryAcquire() {
			return nil
		}
		if b.refillStopped() {
			// Rate was zeroed while waiting.
			return b.drainedError()
		}
	}
}

func (b *TokenBucket) drainedError() *RouterError {
	return &RouterError{
		Code:       ErrCodeCapacityExceeded,
		PlatformID: b.platformID,
		Message:    "rate budget exhausted and refill disabled",
	}
}

func (b *TokenBucket) refillStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refillRate <= 0
}

// nextTokenDelay estimates how long until a token becomes available,
// floored to keep the wait loop responsive under contention.
func (b *TokenBucket) nextTokenDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 || b.refillRate <= 0 {
		return time.Millisecond
	}
	missing := 1 - b.tokens
	delay := time.Duration(missing / b.refillRate * float64(time.Second))
	if delay < 10*time.Millisecond {
		delay = 10 * time.Millisecond
	}
	return delay
}

// refill must be called with b.mu held.
func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.lastRefill = now
}

// Available returns the current token count after a lazy refill.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Waiters returns how many callers are queued for a token.
func (b *TokenBucket) Waiters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiters
}

// SetRate dynamically updates the refill rate.
func (b *TokenBucket) SetRate(rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	b.refillRate = rate
}
