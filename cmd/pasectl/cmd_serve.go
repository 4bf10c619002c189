// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/boiko/hackweek-applied-pase/pkg/logging"
	"github.com/boiko/hackweek-applied-pase/pkg/ux"
	"github.com/boiko/hackweek-applied-pase/services/pase"
	"github.com/boiko/hackweek-applied-pase/services/pase/telemetry"
)

var (
	servePort  int
	serveDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PaSe daemon in-process",
	Long: `Runs the daemon with the same wiring as the pased binary: HTTP API,
feed crawlers, drop watcher and report builder, until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"Port to listen on (overrides configuration)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false,
		"Enable debug mode")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := pase.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveDebug {
		cfg.Server.Debug = true
	}

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "pased",
	})
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}

	svc, err := pase.NewService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		svc.Close()
		return err
	}

	router := pase.NewRouter(svc, cfg.Server.Debug)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	ux.Success(fmt.Sprintf("PaSe daemon listening on :%d (data in %s)", cfg.Server.Port, cfg.DataDir))
	ux.Muted("Press Ctrl+C to stop")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	drain := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warn("service shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Warn("telemetry shutdown incomplete", slog.String("error", err.Error()))
	}
	return serveErr
}
