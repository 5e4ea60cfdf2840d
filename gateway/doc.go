// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package gateway is the HTTP API surface of the task router.

It authenticates callers with JWT bearer tokens, enforces per-client
request budgets through a Redis sliding window, and translates the
router's typed errors into HTTP statuses. Platforms are reached through
HTTPCollaborator, which implements the router's probe and executor
contracts against plain HTTP JSON adapters.

Run is the full entry point: it loads the YAML configuration, wires
optional PostgreSQL persistence and Redis rate limiting, registers the
configured platforms and serves until interrupted.
*/
package gateway
