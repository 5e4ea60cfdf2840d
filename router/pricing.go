// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"fmt"
	"sync"
)

// Platform pricing in cents per 1K tokens. Integer cents avoid floating
// point drift when summing spend. Prices are USD.

// PlatformPricing contains pricing for a platform.
type PlatformPricing struct {
	PromptCostPer1K     int // cents per 1K prompt tokens
	CompletionCostPer1K int // cents per 1K completion tokens
}

// defaultPricing maps platform ids to pricing. Entries can be overridden
// at runtime via SetPricing for self-hosted or renegotiated platforms.
var defaultPricing = map[string]PlatformPricing{
	"claude-opus":   {1500, 7500},
	"claude-sonnet": {300, 1500},
	"claude-haiku":  {25, 125},
	"gpt-4":         {3000, 6000},
	"gpt-4-turbo":   {1000, 3000},
	"gpt-3.5-turbo": {50, 150},
	"gemini-pro":    {125, 375},
	"local":         {0, 0},

	// Conservative estimate for platforms without a pricing entry.
	"default": {1000, 3000},
}

// PricingTable resolves per-platform costs. Safe for concurrent use.
type PricingTable struct {
	mu      sync.RWMutex
	pricing map[string]PlatformPricing
}

// NewPricingTable creates a table seeded with the built-in defaults.
func NewPricingTable() *PricingTable {
	pricing := make(map[string]PlatformPricing, len(defaultPricing))
	for k, v := range defaultPricing {
		pricing[k] = v
	}
	return &PricingTable{pricing: pricing}
}

// SetPricing overrides the pricing for a platform.
func (t *PricingTable) SetPricing(platformID string, pricing PlatformPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[platformID] = pricing
}

// Lookup returns the pricing for a platform, falling back to the default
// entry when none is configured.
func (t *PricingTable) Lookup(platformID string) PlatformPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if pricing, ok := t.pricing[platformID]; ok {
		return pricing
	}
	return t.pricing["default"]
}

// CostCents calculates the cost in cents for a token split.
func (t *PricingTable) CostCents(platformID string, promptTokens, completionTokens int) int {
	pricing := t.Lookup(platformID)
	promptCost := (promptTokens * pricing.PromptCostPer1K) / 1000
	completionCost := (completionTokens * pricing.CompletionCostPer1K) / 1000
	return promptCost + completionCost
}

// EstimateCost estimates the USD cost of running a task on a platform.
// Prompt tokens are approximated from content length (4 chars per token);
// the completion estimate uses the task's MaxTokens hint or a default.
func (t *PricingTable) EstimateCost(platformID string, task Task) float64 {
	promptTokens := len(task.Content)/4 + len(task.Title)/4
	completionTokens := task.MaxTokens
	if completionTokens == 0 {
		completionTokens = 1024
	}
	return float64(t.CostCents(platformID, promptTokens, completionTokens)) / 100.0
}

// FormatCostDollars converts cents to a dollar string (135 -> "$1.35").
func FormatCostDollars(cents int) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100.0)
}
