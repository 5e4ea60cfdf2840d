// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"axonflow/taskrouter/config"
	"axonflow/taskrouter/router"
	"axonflow/taskrouter/shared/logger"
	"axonflow/taskrouter/storage"
)

// Run loads configuration, assembles the router service and serves the
// HTTP API until SIGINT or SIGTERM.
func Run() error {
	log := logger.New("gateway")

	configPath := os.Getenv("TASKROUTER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	file, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opts []router.ServiceOption

	if file.Database != "" {
		recorder, err := storage.Open(file.Database)
		if err != nil {
			return fmt.Errorf("failed to open attempt store: %w", err)
		}
		defer func() { _ = recorder.Close() }()

		if err := recorder.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure attempt store schema: %w", err)
		}
		opts = append(opts, router.WithServiceSink(recorder))
		log.Info("", "", "Attempt persistence enabled", nil)
	}

	var limiter *ClientLimiter
	if file.RedisURL != "" {
		limiter, err = NewClientLimiter(file.RedisURL, file.Auth.ClientRatePerMin)
		if err != nil {
			return fmt.Errorf("failed to connect rate limiter: %w", err)
		}
		defer func() { _ = limiter.Close() }()
		log.Info("", "", "Per-client rate limiting enabled", map[string]interface{}{
			"limit_per_minute": file.Auth.ClientRatePerMin,
		})
	}

	collaborator := NewHTTPCollaborator(0)
	service := router.NewService(ctx, file.ServiceConfig(), collaborator, collaborator, opts...)
	defer service.Close()

	for _, descriptor := range file.PlatformDescriptors() {
		if err := service.Registry().Register(descriptor); err != nil {
			return fmt.Errorf("failed to register platform %s: %w", descriptor.ID, err)
		}
	}

	gw := NewGateway(service, limiter, file.Auth.JWTSecret)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := file.ListenPort
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      corsHandler.Handler(gw.Routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "Gateway listening", map[string]interface{}{
			"port":      port,
			"platforms": len(file.Platforms),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Drain budget alerts into the log so operators see threshold
	// crossings without polling.
	go func() {
		for alert := range service.Budget().Alerts() {
			log.Warn("", "", alert.Message, map[string]interface{}{
				"period":   string(alert.Period),
				"severity": string(alert.Severity),
				"current":  alert.Current,
			})
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Info("", "", "Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
