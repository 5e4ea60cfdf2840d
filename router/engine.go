// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// ScoreWeights configures the relative importance of each scoring factor.
type ScoreWeights struct {
	Quality      float64 `json:"quality" yaml:"quality"`
	Availability float64 `json:"availability" yaml:"availability"`
	Speed        float64 `json:"speed" yaml:"speed"`
	Cost         float64 `json:"cost" yaml:"cost"`
}

// DefaultScoreWeights returns the default scoring weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Quality: 0.4, Availability: 0.3, Speed: 0.2, Cost: 0.1}
}

// Keyword vocabularies for complexity scoring. Each match in the complex
// vocabulary raises the score by complexityDelta; each match in the
// simple vocabulary lowers it. The result is clamped to [0.1, 1.0].
var (
	complexVocabulary = []string{
		"architecture", "algorithm", "optimization", "refactor",
		"distributed", "concurrency", "security", "migration",
		"performance", "scalability", "design",
	}
	simpleVocabulary = []string{
		"fix", "quick", "bash", "typo", "rename",
		"format", "lint", "comment", "readme",
	}
)

const (
	complexityBase  = 0.5
	complexityDelta = 0.15
	complexityMin   = 0.1
	complexityMax   = 1.0
)

// DecisionEngine scores eligible platforms for a task and produces an
// ordered primary + fallback routing plan. Given identical registry,
// health, and performance snapshots, decisions are deterministic: the
// injected random source is consulted only to break exact ties, and a
// fixed seed reproduces the same pick.
type DecisionEngine struct {
	registry *Registry
	tracker  *PerformanceTracker
	pricing  *PricingTable
	weights  ScoreWeights
	random   *rand.Rand
}

// EngineOption configures the decision engine.
type EngineOption func(*DecisionEngine)

// WithScoreWeights overrides the default scoring weights.
func WithScoreWeights(weights ScoreWeights) EngineOption {
	return func(e *DecisionEngine) {
		e.weights = weights
	}
}

// WithRandSource injects the pseudo-random source used for final
// tie-breaking. Tests pass a fixed seed for reproducible routing.
func WithRandSource(source rand.Source) EngineOption {
	return func(e *DecisionEngine) {
		e.random = rand.New(source)
	}
}

// NewDecisionEngine creates an engine over the given registry, tracker
// and pricing table.
func NewDecisionEngine(registry *Registry, tracker *PerformanceTracker, pricing *PricingTable, opts ...EngineOption) *DecisionEngine {
	e := &DecisionEngine{
		registry: registry,
		tracker:  tracker,
		pricing:  pricing,
		weights:  DefaultScoreWeights(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.random == nil {
		e.random = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

// ComplexityScore computes a task complexity score in [0.1, 1.0] from
// keyword matches in the task's title and content.
func ComplexityScore(task Task) float64 {
	text := strings.ToLower(task.Title + " " + task.Content)

	score := complexityBase
	for _, keyword := range complexVocabulary {
		if strings.Contains(text, keyword) {
			score += complexityDelta
		}
	}
	for _, keyword := range simpleVocabulary {
		if strings.Contains(text, keyword) {
			score -= complexityDelta
		}
	}

	if score < complexityMin {
		return complexityMin
	}
	if score > complexityMax {
		return complexityMax
	}
	return score
}

// InferCapabilities derives capability requirements from task content
// when the caller declared none.
func InferCapabilities(task Task) []Capability {
	if len(task.Capabilities) > 0 {
		return task.Capabilities
	}

	text := strings.ToLower(task.Title + " " + task.Content)
	var caps []Capability

	codeTerms := []string{"code", "implement", "function", "bug", "compile", "test", "api", "refactor"}
	for _, term := range codeTerms {
		if strings.Contains(text, term) {
			caps = append(caps, CapabilityCodeGeneration)
			break
		}
	}

	reasoningTerms := []string{"analyze", "explain", "why", "architecture", "design", "plan", "compare"}
	for _, term := range reasoningTerms {
		if strings.Contains(text, term) {
			caps = append(caps, CapabilityReasoning)
			break
		}
	}

	return caps
}

// candidate is a scored platform under consideration.
type candidate struct {
	descriptor PlatformDescriptor
	score      float64
	healthy    bool
	load       int
}

// Decide produces a routing decision for a task. It returns
// ErrCodeNoHealthyPlatform when no eligible candidate exists and
// ErrCodeCostCeilingExceeded when the top candidate's estimate crosses
// the task's declared ceiling.
func (e *DecisionEngine) Decide(task Task) (*RoutingDecision, error) {
	complexity := ComplexityScore(task)
	caps := InferCapabilities(task)

	eligible := e.registry.ListEnabled(caps...)
	if len(eligible) == 0 {
		return nil, &RouterError{
			Code:    ErrCodeNoHealthyPlatform,
			Message: fmt.Sprintf("no eligible platform for capabilities %v", caps),
		}
	}

	candidates := make([]candidate, 0, len(eligible))
	for _, descriptor := range eligible {
		candidates = append(candidates, e.score(descriptor, task))
	}
	e.order(candidates)

	// A preferred platform among the candidates is tried first; the
	// scored order still drives the fallback list.
	primaryIdx := 0
	for _, preferred := range task.PlatformPreferences {
		for i, c := range candidates {
			if c.descriptor.ID == preferred {
				primaryIdx = i
				break
			}
		}
		if primaryIdx != 0 {
			break
		}
		if len(candidates) > 0 && candidates[0].descriptor.ID == preferred {
			break
		}
	}

	primary := candidates[primaryIdx]
	estimatedCost := e.pricing.EstimateCost(primary.descriptor.ID, task)

	if task.MaxCost > 0 && estimatedCost > task.MaxCost {
		return nil, &RouterError{
			Code:       ErrCodeCostCeilingExceeded,
			PlatformID: primary.descriptor.ID,
			Message: fmt.Sprintf("estimated cost $%.4f exceeds ceiling $%.4f",
				estimatedCost, task.MaxCost),
		}
	}

	fallbacks := make([]string, 0, len(candidates)-1)
	for i, c := range candidates {
		if i == primaryIdx {
			continue
		}
		fallbacks = append(fallbacks, c.descriptor.ID)
	}

	return &RoutingDecision{
		PlatformID:    primary.descriptor.ID,
		Fallbacks:     fallbacks,
		Reason:        e.reason(primary, len(candidates), complexity, primaryIdx != 0),
		Confidence:    confidence(candidates, primaryIdx),
		Complexity:    complexity,
		EstimatedCost: estimatedCost,
	}, nil
}

// score computes the weighted score for one platform:
// quality*avgQuality + availability*isHealthy + speed*(1/avgLatency) +
// cost*(1/costPerUnit).
func (e *DecisionEngine) score(descriptor PlatformDescriptor, task Task) candidate {
	metrics := e.tracker.Metrics(descriptor.ID)
	health, _ := e.registry.Health(descriptor.ID)

	quality := metrics.AvgQuality
	if metrics.SampleCount == 0 {
		quality = 0.5 // neutral prior for unobserved platforms
	}

	availability := 0.0
	healthy := false
	switch health.Status {
	case HealthStatusHealthy:
		availability = 1.0
		healthy = true
	case HealthStatusDegraded:
		availability = 0.5
	}

	latency := metrics.AvgLatency
	if latency <= 0 {
		latency = time.Second
	}
	speed := 1.0 / latency.Seconds()
	if speed > 1.0 {
		speed = 1.0
	}

	costPerUnit := e.pricing.EstimateCost(descriptor.ID, task)
	costScore := 1.0
	if costPerUnit > 0 {
		costScore = 1.0 / (1.0 + costPerUnit)
	}

	score := e.weights.Quality*quality +
		e.weights.Availability*availability +
		e.weights.Speed*speed +
		e.weights.Cost*costScore

	return candidate{
		descriptor: descriptor,
		score:      score,
		healthy:    healthy,
		load:       e.registry.Load(descriptor.ID),
	}
}

// order sorts candidates by score descending; ties break by declared
// platform weight, then lower current load, then the injected random
// source.
func (e *DecisionEngine) order(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].descriptor.Weight != candidates[j].descriptor.Weight {
			return candidates[i].descriptor.Weight > candidates[j].descriptor.Weight
		}
		if candidates[i].load != candidates[j].load {
			return candidates[i].load < candidates[j].load
		}
		return e.random.Intn(2) == 0
	})
}

func (e *DecisionEngine) reason(primary candidate, total int, complexity float64, preferred bool) string {
	if preferred {
		return fmt.Sprintf("caller preference %s (score %.3f, %d candidates, complexity %.2f)",
			primary.descriptor.ID, primary.score, total, complexity)
	}
	return fmt.Sprintf("highest score %.3f among %d candidates (complexity %.2f)",
		primary.score, total, complexity)
}

// confidence reflects how far the chosen platform leads the best
// alternative. A lone candidate scores full confidence.
func confidence(candidates []candidate, primaryIdx int) float64 {
	if len(candidates) == 1 {
		return 1.0
	}
	primary := candidates[primaryIdx].score

	best := -1.0
	for i, c := range candidates {
		if i == primaryIdx {
			continue
		}
		if c.score > best {
			best = c.score
		}
	}
	if primary+best <= 0 {
		return 0.5
	}
	return primary / (primary + best)
}
