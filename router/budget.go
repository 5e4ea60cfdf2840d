// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// alertCooldown suppresses repeat alerts for the same (period, severity)
// pair.
const alertCooldown = time.Hour

// BudgetLimits configures spend ceilings in USD per tracking window.
// Zero disables the corresponding check.
type BudgetLimits struct {
	Daily      float64 `json:"daily" yaml:"daily"`
	Weekly     float64 `json:"weekly" yaml:"weekly"`
	Monthly    float64 `json:"monthly" yaml:"monthly"`
	PerRequest float64 `json:"per_request" yaml:"per_request"`
}

// BudgetTrackerConfig configures alerting behavior.
type BudgetTrackerConfig struct {
	Limits BudgetLimits

	// WarningThreshold is the limit fraction that raises a warning alert.
	// Default 0.5.
	WarningThreshold float64

	// CriticalThreshold is the limit fraction that raises a critical
	// alert. Default 0.8.
	CriticalThreshold float64

	// HistoryCap bounds the rolling cost event log. Default 10000.
	HistoryCap int
}

func (c BudgetTrackerConfig) withDefaults() BudgetTrackerConfig {
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = 0.5
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 0.8
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = defaultHistoryCap
	}
	return c
}

// BudgetTracker accumulates cost events, checks spend against configured
// limits over trailing 24h/7d/30d windows, and raises de-duplicated
// budget alerts. Safe for concurrent use.
type BudgetTracker struct {
	config BudgetTrackerConfig
	logger *log.Logger

	mu        sync.Mutex
	events    []CostEvent
	lastAlert map[string]time.Time // keyed by period|severity

	alerts chan BudgetAlert
	now    func() time.Time
}

// NewBudgetTracker creates a tracker with the given limits.
func NewBudgetTracker(config BudgetTrackerConfig) *BudgetTracker {
	return &BudgetTracker{
		config:    config.withDefaults(),
		logger:    log.New(os.Stdout, "[BUDGET] ", log.LstdFlags),
		lastAlert: make(map[string]time.Time),
		alerts:    make(chan BudgetAlert, 32),
		now:       time.Now,
	}
}

// Alerts returns a bounded channel of raised alerts. Alerts that find no
// room are logged and dropped; alerting never blocks cost recording.
func (t *BudgetTracker) Alerts() <-chan BudgetAlert {
	return t.alerts
}

// Record appends a cost event and runs every budget check against the
// new totals.
func (t *BudgetTracker) Record(event CostEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now()
	}

	t.mu.Lock()
	t.events = append(t.events, event)
	if len(t.events) > t.config.HistoryCap {
		t.events = t.events[len(t.events)-t.config.HistoryCap:]
	}
	t.mu.Unlock()

	costCentsTotal.WithLabelValues(event.PlatformID).Add(event.Cost * 100)

	t.checkWindow(PeriodDaily, 24*time.Hour, t.config.Limits.Daily)
	t.checkWindow(PeriodWeekly, 7*24*time.Hour, t.config.Limits.Weekly)
	t.checkWindow(PeriodMonthly, 30*24*time.Hour, t.config.Limits.Monthly)
	t.checkPerRequest(event)
}

// WindowSpend sums spend over the trailing window ending now.
func (t *BudgetTracker) WindowSpend(window time.Duration) float64 {
	cutoff := t.now().Add(-window)

	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, e := range t.events {
		if e.Timestamp.After(cutoff) {
			total += e.Cost
		}
	}
	return total
}

// Export returns a snapshot of the rolling cost event log for external
// reporting.
func (t *BudgetTracker) Export() []CostEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]CostEvent, len(t.events))
	copy(out, t.events)
	return out
}

func (t *BudgetTracker) checkWindow(period BudgetPeriod, window time.Duration, limit float64) {
	if limit <= 0 {
		return
	}
	spend := t.WindowSpend(window)
	t.evaluate(period, spend, limit)
}

func (t *BudgetTracker) checkPerRequest(event CostEvent) {
	limit := t.config.Limits.PerRequest
	if limit <= 0 {
		return
	}
	t.evaluate(PeriodPerRequest, event.Cost, limit)
}

func (t *BudgetTracker) evaluate(period BudgetPeriod, current, limit float64) {
	ratio := current / limit

	var severity AlertSeverity
	var threshold float64
	switch {
	case ratio >= t.config.CriticalThreshold:
		severity = SeverityCritical
		threshold = t.config.CriticalThreshold
	case ratio >= t.config.WarningThreshold:
		severity = SeverityWarning
		threshold = t.config.WarningThreshold
	default:
		return
	}

	t.raise(BudgetAlert{
		Period:    period,
		Threshold: threshold * limit,
		Current:   current,
		Severity:  severity,
		Message: fmt.Sprintf("%s spend $%.4f crossed %.0f%% of $%.4f limit",
			period, current, threshold*100, limit),
		Timestamp: t.now(),
	})
}

// raise emits an alert unless the same (period, severity) pair was raised
// within the last hour.
func (t *BudgetTracker) raise(alert BudgetAlert) {
	key := string(alert.Period) + "|" + string(alert.Severity)

	t.mu.Lock()
	if last, ok := t.lastAlert[key]; ok && alert.Timestamp.Sub(last) < alertCooldown {
		t.mu.Unlock()
		return
	}
	t.lastAlert[key] = alert.Timestamp
	t.mu.Unlock()

	budgetAlertsTotal.WithLabelValues(string(alert.Period), string(alert.Severity)).Inc()
	t.logger.Printf("Budget alert [%s/%s]: %s", alert.Period, alert.Severity, alert.Message)

	select {
	case t.alerts <- alert:
	default:
		t.logger.Printf("Alert channel full, dropping %s/%s alert", alert.Period, alert.Severity)
	}
}

// Recommendations compares platforms' cost-per-quality-point and flags
// pairs whose ratio exceeds a 2x gap, suggesting a switch from the
// expensive platform to the cheaper one.
func Recommendations(tracker *PerformanceTracker) []Recommendation {
	const gapThreshold = 2.0

	type entry struct {
		id  string
		cpq float64
	}
	var entries []entry
	for _, id := range tracker.Platforms() {
		m := tracker.Metrics(id)
		if m.SampleCount == 0 || m.CostPerQuality <= 0 {
			continue
		}
		entries = append(entries, entry{id: id, cpq: m.CostPerQuality})
	}
	if len(entries) < 2 {
		return nil
	}

	cheapest := entries[0]
	for _, e := range entries[1:] {
		if e.cpq < cheapest.cpq {
			cheapest = e
		}
	}

	var recs []Recommendation
	for _, e := range entries {
		if e.id == cheapest.id {
			continue
		}
		ratio := e.cpq / cheapest.cpq
		if ratio >= gapThreshold {
			recs = append(recs, Recommendation{
				Type:         "platform_switch",
				FromPlatform: e.id,
				ToPlatform:   cheapest.id,
				Ratio:        ratio,
				Message: fmt.Sprintf("%s costs %.1fx more per quality point than %s",
					e.id, ratio, cheapest.id),
			})
		}
	}
	return recs
}
