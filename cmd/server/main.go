// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

// Command server runs the Carelog audit trail service: the request auditor,
// the audit query API and the retention janitor, under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/carelog/carelog/internal/api"
	"github.com/carelog/carelog/internal/audit"
	"github.com/carelog/carelog/internal/config"
	"github.com/carelog/carelog/internal/database"
	"github.com/carelog/carelog/internal/logging"
	"github.com/carelog/carelog/internal/middleware"
	"github.com/carelog/carelog/internal/supervisor"
	"github.com/carelog/carelog/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Msg("Starting Carelog")

	db, err := database.Open(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := audit.NewDuckDBStore(ctx, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize audit store")
	}

	service := audit.NewService(store, audit.NewDuckDBDirectory(db), &audit.Config{
		Enabled:         cfg.Audit.Enabled,
		BufferSize:      cfg.Audit.BufferSize,
		StoreTimeout:    audit.DefaultConfig().StoreTimeout,
		DefaultPageSize: cfg.API.DefaultPageSize,
		MaxPageSize:     cfg.API.MaxPageSize,
		HistoryPageSize: audit.DefaultConfig().HistoryPageSize,
		ExportLimit:     cfg.API.ExportLimit,
	})
	defer func() { _ = service.Close() }()

	auditor := middleware.NewAuditor(service, &middleware.AuditOptions{
		SensitiveResources: cfg.Audit.SensitiveResources,
		SkipPaths:          cfg.Audit.SkipPaths,
		MaxBodyCapture:     int64(cfg.Audit.MaxBodyCapture),
	})

	router := api.NewRouter(cfg, service, auditor, db)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(services.NewHTTPServerService(server, supervisor.DefaultTreeConfig().ShutdownTimeout))
	tree.AddDataService(services.NewRetentionJanitor(service, cfg.Audit.RetentionDays, cfg.Audit.CleanupInterval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
		os.Exit(1)
	}

	logging.Info().Msg("Carelog stopped")
}
