// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoBatchExecutor answers each delimited prompt with a prefixed echo
// and counts upstream calls.
func echoBatchExecutor(calls *int32) BatchExecutor {
	return func(ctx context.Context, task Task) (*ExecutionResult, error) {
		atomic.AddInt32(calls, 1)
		prompts := strings.Split(task.Content, batchDelimiter)
		answers := make([]string, len(prompts))
		for i, p := range prompts {
			answers[i] = "echo:" + p
		}
		return &ExecutionResult{
			Content:    strings.Join(answers, batchDelimiter),
			TokensUsed: 80,
			Cost:       0.8,
			Quality:    0.9,
		}, nil
	}
}

func TestBatcherCoalescesConcurrentSubmissions(t *testing.T) {
	var calls int32
	b := NewBatcher("test", echoBatchExecutor(&calls), BatcherConfig{Window: 150 * time.Millisecond, MaxBatch: 8})

	var wg sync.WaitGroup
	results := make([]*ExecutionResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := b.Submit(context.Background(), Task{Content: string(rune('a' + i))})
			require.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "one upstream call for the whole batch")
	for i, result := range results {
		assert.Equal(t, "echo:"+string(rune('a'+i)), result.Content,
			"each caller gets its own answer back")
		assert.Equal(t, 20, result.TokensUsed, "usage splits evenly")
		assert.InDelta(t, 0.2, result.Cost, 0.001)
	}
}

func TestBatcherFlushesAtMaxBatch(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	b := NewBatcher("test", func(ctx context.Context, task Task) (*ExecutionResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return echoBatchExecutor(new(int32))(ctx, task)
	}, BatcherConfig{Window: time.Hour, MaxBatch: 2})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Submit(context.Background(), Task{Content: string(rune('a' + i))})
			require.NoError(t, err)
		}(i)
	}

	// The hour-long window never elapses; only the size trigger can flush.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
}

func TestBatcherSingleEntryBypassesDelimiter(t *testing.T) {
	var calls int32
	var seen string
	b := NewBatcher("test", func(ctx context.Context, task Task) (*ExecutionResult, error) {
		atomic.AddInt32(&calls, 1)
		seen = task.Content
		return &ExecutionResult{Content: "answer"}, nil
	}, BatcherConfig{Window: 20 * time.Millisecond})

	result, err := b.Submit(context.Background(), Task{Content: "lonely prompt"})
	require.NoError(t, err)
	assert.Equal(t, "answer", result.Content)
	assert.Equal(t, "lonely prompt", seen, "single entry passes through unmodified")
}

func TestBatcherCombinedRequestCarriesMetadata(t *testing.T) {
	var mu sync.Mutex
	var seen Task
	b := NewBatcher("test", func(ctx context.Context, task Task) (*ExecutionResult, error) {
		mu.Lock()
		seen = task
		mu.Unlock()
		return echoBatchExecutor(new(int32))(ctx, task)
	}, BatcherConfig{Window: time.Hour, MaxBatch: 2})

	first := Task{ID: "t1", Content: "p1", Domain: "backend", Priority: PriorityHigh, MaxTokens: 512}
	second := Task{ID: "t2", Content: "p2"}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := b.Submit(context.Background(), first)
		require.NoError(t, err)
	}()
	// The second submission triggers the size flush; a short delay keeps
	// the submission order deterministic.
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := b.Submit(context.Background(), second)
		require.NoError(t, err)
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "t1", seen.ID)
	assert.Equal(t, "backend", seen.Domain)
	assert.Equal(t, PriorityHigh, seen.Priority)
	assert.Equal(t, 512, seen.MaxTokens)
}

func TestBatcherFlushTimeoutUnblocksCallers(t *testing.T) {
	b := NewBatcher("test", func(ctx context.Context, task Task) (*ExecutionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, BatcherConfig{Window: 10 * time.Millisecond, MaxBatch: 8, FlushTimeout: 30 * time.Millisecond})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Submit(context.Background(), Task{Content: "p"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, context.DeadlineExceeded,
			"a hung platform cannot pin coalesced callers past the flush timeout")
	}
}

func TestBatcherFansOutFailure(t *testing.T) {
	upstreamErr := errors.New("platform down")
	b := NewBatcher("test", func(ctx context.Context, task Task) (*ExecutionResult, error) {
		return nil, upstreamErr
	}, BatcherConfig{Window: 30 * time.Millisecond, MaxBatch: 8})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Submit(context.Background(), Task{Content: "p"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, upstreamErr, "every coalesced caller sees the same failure")
	}
}

func TestBatcherRejectsMalformedResponse(t *testing.T) {
	b := NewBatcher("test", func(ctx context.Context, task Task) (*ExecutionResult, error) {
		return &ExecutionResult{Content: "only one segment"}, nil
	}, BatcherConfig{Window: 30 * time.Millisecond, MaxBatch: 8})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Submit(context.Background(), Task{Content: "p"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, IsCode(err, ErrCodeValidation))
	}
}

func TestBatcherSubmitHonorsContext(t *testing.T) {
	b := NewBatcher("test", func(ctx context.Context, task Task) (*ExecutionResult, error) {
		time.Sleep(200 * time.Millisecond)
		return &ExecutionResult{Content: "late"}, nil
	}, BatcherConfig{Window: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := b.Submit(ctx, Task{Content: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
