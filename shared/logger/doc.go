// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging with task correlation
for AxonFlow components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, router, etc.)
  - Instance ID and container name (for distributed tracing)
  - Task ID (for tracing one task across routing, attempts and handoffs)
  - Platform ID (the execution platform involved, when applicable)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("gateway")

Log messages with task and platform context:

	log.Info("task-123", "claude-primary", "Attempt started", map[string]interface{}{
	    "attempt": 1,
	})

Log errors with status codes:

	log.ErrorWithCode("task-123", "claude-primary", "Attempt failed", 502, err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("task-123", "claude-primary", "Task completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"gateway","instance_id":"i-abc123","container":"gateway-xyz",
	 "task_id":"task-123","platform_id":"claude-primary",
	 "message":"Attempt started","fields":{"attempt":1}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
