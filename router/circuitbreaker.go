// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"sync"
	"time"
)

// CircuitState represents the state of a platform's circuit breaker.
type CircuitState string

const (
	// CircuitClosed allows calls through.
	CircuitClosed CircuitState = "closed"

	// CircuitOpen rejects calls immediately until the cooldown passes.
	CircuitOpen CircuitState = "open"

	// CircuitHalfOpen permits exactly one trial call.
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig configures breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before allowing a
	// half-open trial. Default 30s.
	Cooldown time.Duration

	// MaxCooldown caps the doubled cooldown applied after repeated
	// half-open failures. Default 5m.
	MaxCooldown time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 5 * time.Minute
	}
	return c
}

// CircuitStateChange notifies observers of a breaker transition.
// Notifications are fire and forget; delivery never blocks the breaker.
type CircuitStateChange struct {
	PlatformID string
	From       CircuitState
	To         CircuitState
	Timestamp  time.Time
}

// CircuitBreaker isolates a platform that is failing repeatedly.
// One breaker exists per registered platform; its lifetime matches the
// process. Safe for concurrent use.
type CircuitBreaker struct {
	platformID string
	config     CircuitBreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failures      int
	cooldown      time.Duration
	deadline      time.Time
	lastChange    time.Time
	trialInFlight bool

	notify chan CircuitStateChange
	now    func() time.Time
}

// NewCircuitBreaker creates a closed breaker for a platform.
func NewCircuitBreaker(platformID string, config CircuitBreakerConfig) *CircuitBreaker {
	config = config.withDefaults()
	return &CircuitBreaker{
		platformID: platformID,
		config:     config,
		state:      CircuitClosed,
		cooldown:   config.Cooldown,
		lastChange: time.Now(),
		notify:     make(chan CircuitStateChange, 16),
		now:        time.Now,
	}
}

// Notifications returns a bounded channel of state changes. When no
// consumer keeps up, notifications are dropped rather than blocking the
// breaker.
func (cb *CircuitBreaker) Notifications() <-chan CircuitStateChange {
	return cb.notify
}

// Allow reports whether a call may proceed. An open circuit whose
// cooldown deadline has passed transitions to half-open and admits exactly
// one trial call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Before(cb.deadline) {
			return false
		}
		cb.transition(CircuitHalfOpen)
		cb.trialInFlight = true
		return true
	case CircuitHalfOpen:
		// Only one trial call at a time.
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-failure counter and closes the
// circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialInFlight = false
	cb.cooldown = cb.config.Cooldown
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

// RecordFailure counts a failure. Reaching the threshold opens the
// circuit; a failed half-open trial re-opens it with a doubled cooldown,
// capped at MaxCooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.trialInFlight = false
		cb.cooldown *= 2
		if cb.cooldown > cb.config.MaxCooldown {
			cb.cooldown = cb.config.MaxCooldown
		}
		cb.open()
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case CircuitOpen:
		// Failures while open (e.g. from calls admitted just before the
		// transition) only push the deadline.
		cb.deadline = cb.now().Add(cb.cooldown)
	}
}

// open must be called with cb.mu held.
func (cb *CircuitBreaker) open() {
	cb.deadline = cb.now().Add(cb.cooldown)
	cb.transition(CircuitOpen)
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.lastChange = cb.now()

	change := CircuitStateChange{
		PlatformID: cb.platformID,
		From:       from,
		To:         to,
		Timestamp:  cb.lastChange,
	}
	select {
	case cb.notify <- change:
	default:
		// Observer is behind; drop rather than block.
	}
	circuitTransitions.WithLabelValues(cb.platformID, string(to)).Inc()
}

// State returns the circuit state as last recorded. An open circuit past
// its cooldown deadline still reports open until the next Allow call
// performs the half-open transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive-failure counter.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Deadline returns the cooldown deadline while the circuit is open.
func (cb *CircuitBreaker) Deadline() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.deadline
}

// LastChanged returns when the breaker last changed state.
func (cb *CircuitBreaker) LastChanged() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastChange
}
