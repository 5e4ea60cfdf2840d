// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// degradedGrace is how recently a degraded platform must have been probed
// to stay eligible for routing.
const degradedGrace = 5 * time.Minute

// platformState bundles everything the router tracks for one platform.
// The descriptor is immutable; health is superseded wholesale on each
// probe. Breaker and bucket carry their own locks, so only the health
// pointer and the in-flight counter need this bundle's mutex.
type platformState struct {
	descriptor PlatformDescriptor
	breaker    *CircuitBreaker
	bucket     *TokenBucket

	mu       sync.RWMutex
	health   *HealthRecord
	inflight int
}

func (s *platformState) healthRecord() HealthRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.health
}

func (s *platformState) setHealth(record *HealthRecord) {
	s.mu.Lock()
	s.health = record
	s.mu.Unlock()
}

func (s *platformState) load() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight
}

func (s *platformState) addInflight(delta int) {
	s.mu.Lock()
	s.inflight += delta
	s.mu.Unlock()
}

// PlatformSnapshot is a read-only view of one platform's routing state.
type PlatformSnapshot struct {
	Descriptor PlatformDescriptor `json:"descriptor"`
	Health     HealthRecord       `json:"health"`
	Circuit    CircuitState       `json:"circuit"`
	Failures   int                `json:"failures"`
	Tokens     float64            `json:"tokens"`
	Inflight   int                `json:"inflight"`
}

// Registry holds the descriptors and live routing state of every
// registered platform. Registering a platform creates its circuit breaker
// (closed) and token bucket (full) atomically with the descriptor;
// deregistering removes all three together. Safe for concurrent use.
type Registry struct {
	breakerConfig CircuitBreakerConfig
	logger        *log.Logger

	mu        sync.RWMutex
	platforms map[string]*platformState
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithBreakerConfig sets the circuit breaker configuration applied to
// every platform registered afterwards.
func WithBreakerConfig(config CircuitBreakerConfig) RegistryOption {
	return func(r *Registry) {
		r.breakerConfig = config
	}
}

// WithRegistryLogger sets a custom logger.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty platform registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		platforms: make(map[string]*platformState),
		logger:    log.New(os.Stdout, "[REGISTRY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a platform. The initial health record is unknown until
// the first probe. Registering an existing id fails; use Replace for
// wholesale descriptor replacement.
func (r *Registry) Register(descriptor PlatformDescriptor) error {
	if err := validateDescriptor(descriptor); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.platforms[descriptor.ID]; exists {
		return &RouterError{
			Code:       ErrCodeDuplicatePlatform,
			PlatformID: descriptor.ID,
			Message:    fmt.Sprintf("platform %q already registered", descriptor.ID),
		}
	}

	r.platforms[descriptor.ID] = &platformState{
		descriptor: descriptor,
		breaker:    NewCircuitBreaker(descriptor.ID, r.breakerConfig),
		bucket:     NewTokenBucket(descriptor.ID, descriptor.RateLimit),
		health: &HealthRecord{
			PlatformID: descriptor.ID,
			Status:     HealthStatusUnknown,
		},
	}

	r.logger.Printf("Registered platform %s (weight %.1f, capabilities %v)",
		descriptor.ID, descriptor.Weight, descriptor.Capabilities)
	return nil
}

// Replace swaps a platform's descriptor wholesale. The breaker and token
// bucket keep their state: breaker lifetime equals process lifetime, and a
// descriptor update must not grant a failing platform a clean slate.
func (r *Registry) Replace(descriptor PlatformDescriptor) error {
	if err := validateDescriptor(descriptor); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.platforms[descriptor.ID]
	if !exists {
		return r.unknownPlatform(descriptor.ID)
	}

	state.descriptor = descriptor
	r.logger.Printf("Replaced descriptor for platform %s", descriptor.ID)
	return nil
}

// Deregister removes a platform together with its breaker, bucket and
// health record.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.platforms[id]; !exists {
		return r.unknownPlatform(id)
	}
	delete(r.platforms, id)
	r.logger.Printf("Deregistered platform %s", id)
	return nil
}

// Get returns a copy of a platform's descriptor.
func (r *Registry) Get(id string) (PlatformDescriptor, error) {
	state, err := r.state(id)
	if err != nil {
		return PlatformDescriptor{}, err
	}
	return state.descriptor, nil
}

// ListIDs returns all registered platform ids, sorted.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.platforms))
	for id := range r.platforms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListEnabled returns platforms that are enabled, currently healthy or
// recently-checked degraded, and whose capability set covers the
// requested tags. Results are sorted by id for deterministic routing.
func (r *Registry) ListEnabled(caps ...Capability) []PlatformDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []PlatformDescriptor
	for _, state := range r.platforms {
		if !state.descriptor.Enabled {
			continue
		}
		if !eligibleHealth(state.healthRecord()) {
			continue
		}
		if !state.descriptor.HasCapabilities(caps) {
			continue
		}
		eligible = append(eligible, state.descriptor)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].ID < eligible[j].ID
	})
	return eligible
}

func eligibleHealth(h HealthRecord) bool {
	switch h.Status {
	case HealthStatusHealthy:
		return true
	case HealthStatusDegraded:
		return time.Since(h.LastChecked) <= degradedGrace
	default:
		return false
	}
}

// Health returns the most recent health record for a platform.
func (r *Registry) Health(id string) (HealthRecord, error) {
	state, err := r.state(id)
	if err != nil {
		return HealthRecord{}, err
	}
	return state.healthRecord(), nil
}

// Breaker returns the circuit breaker owned by a platform.
func (r *Registry) Breaker(id string) (*CircuitBreaker, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}
	return state.breaker, nil
}

// Bucket returns the token bucket owned by a platform.
func (r *Registry) Bucket(id string) (*TokenBucket, error) {
	state, err := r.state(id)
	if err != nil {
		return nil, err
	}
	return state.bucket, nil
}

// Load returns the number of in-flight attempts against a platform.
func (r *Registry) Load(id string) int {
	state, err := r.state(id)
	if err != nil {
		return 0
	}
	return state.load()
}

// Snapshot returns a read-only view of every platform, sorted by id.
func (r *Registry) Snapshot() []PlatformSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]PlatformSnapshot, 0, len(r.platforms))
	for _, state := range r.platforms {
		snapshots = append(snapshots, PlatformSnapshot{
			Descriptor: state.descriptor,
			Health:     state.healthRecord(),
			Circuit:    state.breaker.State(),
			Failures:   state.breaker.Failures(),
			Tokens:     state.bucket.Available(),
			Inflight:   state.load(),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Descriptor.ID < snapshots[j].Descriptor.ID
	})
	return snapshots
}

// state looks up the live bundle for a platform.
func (r *Registry) state(id string) (*platformState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, exists := r.platforms[id]
	if !exists {
		return nil, r.unknownPlatform(id)
	}
	return state, nil
}

func (r *Registry) unknownPlatform(id string) *RouterError {
	return &RouterError{
		Code:       ErrCodeUnknownPlatform,
		PlatformID: id,
		Message:    fmt.Sprintf("platform %q not found", id),
	}
}

func validateDescriptor(descriptor PlatformDescriptor) error {
	if descriptor.ID == "" {
		return &RouterError{Code: ErrCodeValidation, Message: "platform id is required"}
	}
	if descriptor.Weight < 0 {
		return &RouterError{
			Code:       ErrCodeValidation,
			PlatformID: descriptor.ID,
			Message:    fmt.Sprintf("negative weight %.2f", descriptor.Weight),
		}
	}
	if descriptor.RateLimit != nil {
		if descriptor.RateLimit.Capacity <= 0 || descriptor.RateLimit.RefillPerSecond < 0 {
			return &RouterError{
				Code:       ErrCodeValidation,
				PlatformID: descriptor.ID,
				Message:    "rate limit requires positive capacity and non-negative refill rate",
			}
		}
	}
	return nil
}
