// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"axonflow/taskrouter/router"
)

// HTTPCollaborator implements the router's probe and executor
// collaborators over plain HTTP JSON. Each platform descriptor's
// Endpoint is the base URL of an execution adapter that speaks this
// contract:
//
//	GET  {endpoint}/health      -> 200 when operational
//	POST {endpoint}/v1/execute  -> executeResponse
type HTTPCollaborator struct {
	client *http.Client
}

// NewHTTPCollaborator creates a collaborator with the given per-call
// timeout cap. Individual calls are further bounded by their context.
func NewHTTPCollaborator(timeout time.Duration) *HTTPCollaborator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPCollaborator{
		client: &http.Client{Timeout: timeout},
	}
}

// Probe implements router.Probe.
func (c *HTTPCollaborator) Probe(ctx context.Context, platform router.PlatformDescriptor) (*router.ProbeResult, error) {
	if platform.Endpoint == "" {
		return nil, fmt.Errorf("platform %s has no endpoint", platform.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, platform.Endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return &router.ProbeResult{
		OK:      resp.StatusCode == http.StatusOK,
		Latency: time.Since(start),
		Message: resp.Status,
	}, nil
}

type executeRequest struct {
	TaskID    string `json:"task_id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Domain    string `json:"domain,omitempty"`
	Priority  string `json:"priority,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type executeResponse struct {
	Content    string         `json:"content"`
	TokensUsed int            `json:"tokens_used,omitempty"`
	Cost       float64        `json:"cost,omitempty"`
	Quality    float64        `json:"quality,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Execute implements router.Executor.
func (c *HTTPCollaborator) Execute(ctx context.Context, platform router.PlatformDescriptor, task router.Task) (*router.ExecutionResult, error) {
	if platform.Endpoint == "" {
		return nil, fmt.Errorf("platform %s has no endpoint", platform.ID)
	}

	payload, err := json.Marshal(executeRequest{
		TaskID:    task.ID,
		Title:     task.Title,
		Content:   task.Content,
		Domain:    task.Domain,
		Priority:  string(task.Priority),
		MaxTokens: task.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		platform.Endpoint+"/v1/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode platform response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := body.Error
		if message == "" {
			message = resp.Status
		}
		return nil, fmt.Errorf("platform returned %d: %s", resp.StatusCode, message)
	}

	return &router.ExecutionResult{
		Content:    body.Content,
		TokensUsed: body.TokensUsed,
		Cost:       body.Cost,
		Quality:    body.Quality,
		Metadata:   body.Metadata,
	}, nil
}
