// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package config loads the task router's YAML configuration.

A single file declares the execution platforms, routing weights, circuit
breaker and health monitor tuning, spend budgets, and the gateway's
authentication settings. Environment variable references using
${VAR_NAME} or ${VAR_NAME:-default} syntax are expanded before parsing,
so secrets stay out of the file.

Example generates a complete annotated starting point.
*/
package config
