// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultBatchWindow  = 120 * time.Millisecond
	defaultMaxBatch     = 8
	defaultFlushTimeout = 60 * time.Second

	// batchDelimiter separates coalesced prompts in the combined request
	// and the per-prompt answers in the combined response.
	batchDelimiter = "\n=====BATCH-BOUNDARY=====\n"
)

// BatchExecutor runs one combined request against a platform. The
// batcher calls it at most once per flush.
type BatchExecutor func(ctx context.Context, task Task) (*ExecutionResult, error)

// BatcherConfig configures coalescing behavior.
type BatcherConfig struct {
	// Window is how long the first queued request waits for companions
	// before the batch flushes. Default 120ms.
	Window time.Duration

	// MaxBatch flushes the batch immediately once this many requests have
	// coalesced. Default 8.
	MaxBatch int

	// FlushTimeout bounds the combined upstream call so a hung platform
	// cannot pin the flush goroutine forever. Default 60s.
	FlushTimeout time.Duration
}

func (c BatcherConfig) withDefaults() BatcherConfig {
	if c.Window <= 0 {
		c.Window = defaultBatchWindow
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = defaultMaxBatch
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaultFlushTimeout
	}
	return c
}

type batchOutcome struct {
	result *ExecutionResult
	err    error
}

type batchEntry struct {
	task Task
	done chan batchOutcome
}

// Batcher coalesces small requests bound for the same platform into one
// combined upstream call. Prompts are joined with a delimiter; the
// combined answer is split on the same delimiter and handed back to each
// caller in submission order. A failed batch call fans the same error
// out to every coalesced caller. Safe for concurrent use.
type Batcher struct {
	platformID string
	config     BatcherConfig
	execute    BatchExecutor

	mu      sync.Mutex
	pending []*batchEntry
	timer   *time.Timer
}

// NewBatcher creates a batcher for one platform around the given
// executor.
func NewBatcher(platformID string, execute BatchExecutor, config BatcherConfig) *Batcher {
	return &Batcher{
		platformID: platformID,
		config:     config.withDefaults(),
		execute:    execute,
	}
}

// Submit queues a task for the next batch and blocks until the batch
// completes or ctx is cancelled. The first request in an empty batch
// starts the coalescing window; a full batch flushes immediately.
func (b *Batcher) Submit(ctx context.Context, task Task) (*ExecutionResult, error) {
	entry := &batchEntry{task: task, done: make(chan batchOutcome, 1)}

	b.mu.Lock()
	b.pending = append(b.pending, entry)
	switch {
	case len(b.pending) >= b.config.MaxBatch:
		batch := b.take()
		b.mu.Unlock()
		go b.flush(batch)
	case len(b.pending) == 1:
		b.timer = time.AfterFunc(b.config.Window, b.flushPending)
		b.mu.Unlock()
	default:
		b.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-entry.done:
		return outcome.result, outcome.err
	}
}

// Pending returns how many requests are currently queued.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// take must be called with b.mu held.
func (b *Batcher) take() []*batchEntry {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

func (b *Batcher) flushPending() {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flush(batch)
	}
}

// flush issues one combined call and de-multiplexes the response. One
// batch costs one upstream request regardless of how many callers
// coalesced into it.
func (b *Batcher) flush(batch []*batchEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.FlushTimeout)
	defer cancel()

	if len(batch) == 1 {
		result, err := b.execute(ctx, batch[0].task)
		batch[0].done <- batchOutcome{result: result, err: err}
		return
	}

	prompts := make([]string, len(batch))
	for i, entry := range batch {
		prompts[i] = entry.task.Content
	}

	// The combined request inherits the first caller's routing metadata
	// so the upstream sees the same domain, priority and token hint it
	// would for an uncoalesced call.
	first := batch[0].task
	combined := Task{
		ID:        first.ID,
		Title:     fmt.Sprintf("batch of %d", len(batch)),
		Content:   strings.Join(prompts, batchDelimiter),
		Domain:    first.Domain,
		Priority:  first.Priority,
		MaxTokens: first.MaxTokens,
	}

	result, err := b.execute(ctx, combined)
	if err != nil {
		b.fanOutError(batch, err)
		return
	}

	answers := strings.Split(result.Content, batchDelimiter)
	if len(answers) != len(batch) {
		b.fanOutError(batch, &RouterError{
			Code:       ErrCodeValidation,
			PlatformID: b.platformID,
			Message: fmt.Sprintf("batch response has %d segments, expected %d",
				len(answers), len(batch)),
		})
		return
	}

	// Usage and cost split evenly across the coalesced callers.
	perTokens := result.TokensUsed / len(batch)
	perCost := result.Cost / float64(len(batch))
	for i, entry := range batch {
		entry.done <- batchOutcome{result: &ExecutionResult{
			Content:    answers[i],
			TokensUsed: perTokens,
			Cost:       perCost,
			Quality:    result.Quality,
		}}
	}
}

func (b *Batcher) fanOutError(batch []*batchEntry, err error) {
	for _, entry := range batch {
		entry.done <- batchOutcome{err: err}
	}
}
