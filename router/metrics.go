// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package router

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the task router.
var (
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_taskrouter_tasks_total",
			Help: "Total number of tasks submitted, by final status",
		},
		[]string{"status"},
	)
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_taskrouter_attempts_total",
			Help: "Total number of platform execution attempts",
		},
		[]string{"platform", "outcome"},
	)
	attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "axonflow_taskrouter_attempt_duration_milliseconds",
			Help:    "Execution attempt duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"platform"},
	)
	circuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_taskrouter_circuit_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"platform", "to"},
	)
	healthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "axonflow_taskrouter_platform_health",
			Help: "Platform health (1 healthy, 0.5 degraded, 0 unhealthy/unknown)",
		},
		[]string{"platform"},
	)
	costCentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_taskrouter_cost_cents_total",
			Help: "Accumulated spend in cents, by platform",
		},
		[]string{"platform"},
	)
	budgetAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_taskrouter_budget_alerts_total",
			Help: "Budget alerts raised, by period and severity",
		},
		[]string{"period", "severity"},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(attemptDuration)
	prometheus.MustRegister(circuitTransitions)
	prometheus.MustRegister(healthStatus)
	prometheus.MustRegister(costCentsTotal)
	prometheus.MustRegister(budgetAlertsTotal)
}
