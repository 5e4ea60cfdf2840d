// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// ClientLimiter enforces per-client request budgets across gateway
// replicas using a Redis sliding window. A nil limiter (no Redis
// configured) allows everything; Redis errors fail open so a Redis
// outage never takes task submission down with it.
type ClientLimiter struct {
	client         *redis.Client
	limitPerMinute int
}

// NewClientLimiter connects to Redis and verifies the connection.
func NewClientLimiter(redisURL string, limitPerMinute int) (*ClientLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ClientLimiter{client: client, limitPerMinute: limitPerMinute}, nil
}

// newClientLimiterWithClient wraps an existing Redis client. Used by
// tests with miniredis.
func newClientLimiterWithClient(client *redis.Client, limitPerMinute int) *ClientLimiter {
	return &ClientLimiter{client: client, limitPerMinute: limitPerMinute}
}

// Allow records one request for the client and reports whether it is
// within the per-minute budget.
func (l *ClientLimiter) Allow(ctx context.Context, clientID string) error {
	if l == nil || l.client == nil || l.limitPerMinute <= 0 {
		return nil
	}

	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s", clientID)

	// Pipeline keeps the window maintenance atomic enough for limiting.
	pipe := l.client.Pipeline()

	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// Fail open on Redis errors.
		log.Printf("[GATEWAY] Redis rate limit check failed for %s: %v (failing open)", clientID, err)
		return nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count >= int64(l.limitPerMinute) {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", count+1, l.limitPerMinute)
	}
	return nil
}

// Status returns the client's current window count and when it resets.
func (l *ClientLimiter) Status(ctx context.Context, clientID string) (int, time.Time, error) {
	if l == nil || l.client == nil {
		return 0, time.Time{}, fmt.Errorf("redis not configured")
	}

	key := fmt.Sprintf("ratelimit:%s", clientID)
	now := time.Now()

	minScore := now.Add(-time.Minute).Unix()
	count, err := l.client.ZCount(ctx, key, fmt.Sprintf("%d", minScore), "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get rate limit status: %w", err)
	}

	resetTime := now.Truncate(time.Minute).Add(time.Minute)
	return int(count), resetTime, nil
}

// Flush removes all rate limit data for a client (admin operation).
func (l *ClientLimiter) Flush(ctx context.Context, clientID string) error {
	if l == nil || l.client == nil {
		return fmt.Errorf("redis not configured")
	}

	key := fmt.Sprintf("ratelimit:%s", clientID)
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit data: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (l *ClientLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
