// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"errors"
	"fmt"
	"strings"
)

// Router error codes.
const (
	// ErrCodeUnknownPlatform indicates a registry miss.
	ErrCodeUnknownPlatform = "unknown_platform"

	// ErrCodeNoHealthyPlatform indicates routing found zero eligible
	// candidates.
	ErrCodeNoHealthyPlatform = "no_healthy_platform"

	// ErrCodeCapacityExceeded indicates the rate limiter queue is full or
	// no token was available without waiting.
	ErrCodeCapacityExceeded = "capacity_exceeded"

	// ErrCodeCircuitOpen indicates the breaker rejected the call without
	// attempting it.
	ErrCodeCircuitOpen = "circuit_open"

	// ErrCodeTimeout indicates an attempt exceeded its deadline.
	ErrCodeTimeout = "timeout"

	// ErrCodeExhaustedFallbacks indicates every candidate and configured
	// strategy failed.
	ErrCodeExhaustedFallbacks = "exhausted_fallbacks"

	// ErrCodeCostCeilingExceeded indicates the decision was rejected
	// before execution because the estimate crossed the task's ceiling.
	ErrCodeCostCeilingExceeded = "cost_ceiling_exceeded"

	// ErrCodeInvalidStrategy indicates an unknown fallback strategy
	// configuration.
	ErrCodeInvalidStrategy = "invalid_strategy"

	// ErrCodeValidation indicates a malformed task or configuration.
	ErrCodeValidation = "validation_error"

	// ErrCodeDuplicatePlatform indicates a platform id is already
	// registered.
	ErrCodeDuplicatePlatform = "duplicate_platform"
)

// RouterError is the typed error returned by router operations.
type RouterError struct {
	// Code is a machine-readable error code.
	Code string

	// PlatformID is the platform involved, when applicable.
	PlatformID string

	// Message is a human-readable description.
	Message string

	// Attempts carries the per-platform attempt log for
	// ErrCodeExhaustedFallbacks.
	Attempts []ExecutionAttempt

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.PlatformID != "" {
		return fmt.Sprintf("router error [%s] for %q: %s", e.Code, e.PlatformID, e.Message)
	}
	return fmt.Sprintf("router error [%s]: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RouterError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err is a RouterError with the given code.
func IsCode(err error, code string) bool {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// newExhaustedError builds the aggregate error raised when every platform
// and every configured strategy failed. The message names each attempted
// platform and its failure reason so the cause is diagnosable without
// re-running the task.
func newExhaustedError(taskID string, attempts []ExecutionAttempt) *RouterError {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		reason := a.Error
		if reason == "" {
			reason = string(a.Outcome)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", a.PlatformID, reason))
	}
	return &RouterError{
		Code:     ErrCodeExhaustedFallbacks,
		Message:  fmt.Sprintf("task %s exhausted all platforms (%s)", taskID, strings.Join(parts, "; ")),
		Attempts: attempts,
	}
}
