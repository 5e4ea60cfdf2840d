// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package storage persists task routing outcomes to PostgreSQL.

The Recorder implements the router's attempt sink: every execution
attempt and every completed task result is written to the task_attempts
and task_results tables. Writes are best-effort; the coordinator logs
failures and keeps routing, so a database outage degrades reporting but
never task execution.

Cost is stored in integer cents so aggregation queries stay exact.
*/
package storage
