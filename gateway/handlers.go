// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"axonflow/taskrouter/router"
	"axonflow/taskrouter/shared/logger"
)

// Gateway is the HTTP API surface in front of the router service.
type Gateway struct {
	service   *router.Service
	limiter   *ClientLimiter
	logger    *logger.Logger
	jwtSecret []byte
	startedAt time.Time
}

// NewGateway wires the API surface around an assembled router service.
// A nil limiter disables per-client rate limiting; an empty secret runs
// the gateway without authentication.
func NewGateway(service *router.Service, limiter *ClientLimiter, jwtSecret string) *Gateway {
	return &Gateway{
		service:   service,
		limiter:   limiter,
		logger:    logger.New("gateway"),
		jwtSecret: []byte(jwtSecret),
		startedAt: time.Now(),
	}
}

// Routes builds the gateway's HTTP router.
func (g *Gateway) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", g.handleHealth).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(g.authMiddleware)

	api.HandleFunc("/tasks", g.handleSubmitTask).Methods("POST")
	api.HandleFunc("/route/preview", g.handleRoutePreview).Methods("POST")

	api.HandleFunc("/platforms", g.handleRegisterPlatform).Methods("POST")
	api.HandleFunc("/platforms/status", g.handlePlatformStatus).Methods("GET")
	api.HandleFunc("/platforms/refresh", g.handleRefreshPlatforms).Methods("POST")
	api.HandleFunc("/platforms/{id}", g.handleReplacePlatform).Methods("PUT")
	api.HandleFunc("/platforms/{id}", g.handleDeregisterPlatform).Methods("DELETE")
	api.HandleFunc("/platforms/{id}/metrics", g.handlePlatformMetrics).Methods("GET")

	api.HandleFunc("/usage/export", g.handleUsageExport).Methods("GET")
	api.HandleFunc("/usage/recommendations", g.handleRecommendations).Methods("GET")

	return r
}

// taskRequest is the submission payload. Timeouts arrive in
// milliseconds so callers never deal with Go duration encoding.
type taskRequest struct {
	Title               string   `json:"title,omitempty"`
	Content             string   `json:"content"`
	Domain              string   `json:"domain,omitempty"`
	Priority            string   `json:"priority,omitempty"`
	Capabilities        []string `json:"capabilities,omitempty"`
	MaxCost             float64  `json:"max_cost,omitempty"`
	PlatformPreferences []string `json:"platform_preferences,omitempty"`
	TimeoutMs           int      `json:"timeout_ms,omitempty"`
	MaxTokens           int      `json:"max_tokens,omitempty"`
}

func (req taskRequest) toTask() router.Task {
	caps := make([]router.Capability, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps = append(caps, router.Capability(c))
	}
	return router.Task{
		Title:               req.Title,
		Content:             req.Content,
		Domain:              req.Domain,
		Priority:            router.Priority(req.Priority),
		Capabilities:        caps,
		MaxCost:             req.MaxCost,
		PlatformPreferences: req.PlatformPreferences,
		Timeout:             time.Duration(req.TimeoutMs) * time.Millisecond,
		MaxTokens:           req.MaxTokens,
	}
}

func (g *Gateway) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task := req.toTask()
	start := time.Now()
	result, err := g.service.Submit(r.Context(), task)
	if err != nil {
		status := statusForError(err)
		g.logger.ErrorWithCode(task.ID, "", "Task submission failed", status, err, nil)
		g.sendRouterError(w, status, err)
		return
	}

	g.logger.InfoWithDuration(result.TaskID, result.PlatformID, "Task completed", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"handoffs": result.Handoffs,
		"cost":     result.Cost,
	})
	g.sendJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleRoutePreview(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := g.service.Decide(req.toTask())
	if err != nil {
		g.sendRouterError(w, statusForError(err), err)
		return
	}
	g.sendJSON(w, http.StatusOK, decision)
}

func (g *Gateway) handleRegisterPlatform(w http.ResponseWriter, r *http.Request) {
	var descriptor router.PlatformDescriptor
	if err := json.NewDecoder(r.Body).Decode(&descriptor); err != nil {
		g.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := g.service.Registry().Register(descriptor); err != nil {
		g.sendRouterError(w, statusForError(err), err)
		return
	}

	g.logger.Info("", descriptor.ID, "Platform registered", nil)
	g.sendJSON(w, http.StatusCreated, map[string]string{"id": descriptor.ID, "status": "registered"})
}

func (g *Gateway) handleReplacePlatform(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var descriptor router.PlatformDescriptor
	if err := json.NewDecoder(r.Body).Decode(&descriptor); err != nil {
		g.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if descriptor.ID != "" && descriptor.ID != id {
		g.sendError(w, http.StatusBadRequest, "descriptor id does not match path")
		return
	}
	descriptor.ID = id

	if err := g.service.Registry().Replace(descriptor); err != nil {
		g.sendRouterError(w, statusForError(err), err)
		return
	}

	g.logger.Info("", id, "Platform replaced", nil)
	g.sendJSON(w, http.StatusOK, map[string]string{"id": id, "status": "replaced"})
}

func (g *Gateway) handleDeregisterPlatform(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := g.service.Registry().Deregister(id); err != nil {
		g.sendRouterError(w, statusForError(err), err)
		return
	}

	g.logger.Info("", id, "Platform deregistered", nil)
	g.sendJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deregistered"})
}

func (g *Gateway) handlePlatformStatus(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.service.Registry().Snapshot())
}

func (g *Gateway) handleRefreshPlatforms(w http.ResponseWriter, r *http.Request) {
	g.service.Monitor().RefreshAll(r.Context())
	g.sendJSON(w, http.StatusOK, g.service.Registry().Snapshot())
}

func (g *Gateway) handlePlatformMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := g.service.Registry().Get(id); err != nil {
		g.sendRouterError(w, statusForError(err), err)
		return
	}
	g.sendJSON(w, http.StatusOK, g.service.Performance().Metrics(id))
}

func (g *Gateway) handleUsageExport(w http.ResponseWriter, r *http.Request) {
	events := g.service.Budget().Export()
	g.sendJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (g *Gateway) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.service.Recommendations())
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(g.startedAt).String(),
		"platforms": len(g.service.Registry().ListIDs()),
	})
}

// statusForError maps router error codes to HTTP statuses.
func statusForError(err error) int {
	var re *router.RouterError
	if !errors.As(err, &re) {
		return http.StatusInternalServerError
	}
	switch re.Code {
	case router.ErrCodeValidation, router.ErrCodeInvalidStrategy:
		return http.StatusBadRequest
	case router.ErrCodeUnknownPlatform:
		return http.StatusNotFound
	case router.ErrCodeDuplicatePlatform:
		return http.StatusConflict
	case router.ErrCodeCostCeilingExceeded:
		return http.StatusPaymentRequired
	case router.ErrCodeCapacityExceeded:
		return http.StatusTooManyRequests
	case router.ErrCodeNoHealthyPlatform, router.ErrCodeExhaustedFallbacks, router.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	case router.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the JSON error envelope for all gateway errors.
type errorResponse struct {
	Error    string                    `json:"error"`
	Code     string                    `json:"code,omitempty"`
	Platform string                    `json:"platform,omitempty"`
	Attempts []router.ExecutionAttempt `json:"attempts,omitempty"`
}

func (g *Gateway) sendError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, errorResponse{Error: message})
}

func (g *Gateway) sendRouterError(w http.ResponseWriter, status int, err error) {
	var re *router.RouterError
	if !errors.As(err, &re) {
		g.sendError(w, status, err.Error())
		return
	}
	g.sendJSON(w, status, errorResponse{
		Error:    re.Message,
		Code:     re.Code,
		Platform: re.PlatformID,
		Attempts: re.Attempts,
	})
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Error("", "", "Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
