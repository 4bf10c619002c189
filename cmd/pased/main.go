// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Command pased starts the PaSe (Patch Search) daemon.
//
// PaSe keeps a local store of patches, a pool of unpacked openSUSE
// source packages and a fragment index over the pool, and answers
// where a patch came from and whether it still applies.
//
// Usage:
//
//	go run ./cmd/pased
//	go run ./cmd/pased -config ~/.pase/config.yaml -port 9090
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/health
//
//	# Store a patch
//	curl -X POST http://localhost:8080/v1/patches \
//	  -H "Content-Type: application/json" \
//	  -d '{"filename": "fix.patch", "content": "<base64>", "producer": "me", "origin": "file:///tmp/fix.patch"}'
//
//	# Match it against the index
//	curl -X POST http://localhost:8080/v1/match \
//	  -H "Content-Type: application/json" \
//	  -d '{"patch_id": 1}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boiko/hackweek-applied-pase/pkg/logging"
	"github.com/boiko/hackweek-applied-pase/services/pase"
	"github.com/boiko/hackweek-applied-pase/services/pase/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	port := flag.Int("port", 0, "Port to listen on (overrides configuration)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := pase.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pased: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *debug {
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
		JSON:    true,
	})
	defer logger.Close()
	log := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Error("telemetry init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc, err := pase.NewService(ctx, cfg, log)
	if err != nil {
		log.Error("service construction failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := svc.Start(ctx); err != nil {
		log.Error("service start failed", slog.String("error", err.Error()))
		svc.Close()
		os.Exit(1)
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

	printBanner(cfg.Server.Port, cfg.DataDir)
	log.Info("pased listening",
		slog.String("address", server.Addr),
		slog.String("data_dir", cfg.DataDir))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.String("error", err.Error()))
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
	log.Info("pased stopped")
}

func printBanner(port int, dataDir string) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                          PASE DAEMON                              ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Patch search for openSUSE source packages.                       ║
║  Data: %-59s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%-5d/health                          │  ║
║  │                                                             │  ║
║  │ # Sync a collection, then build the index                   │  ║
║  │ pasectl pool sync tumbleweed                                │  ║
║  │ pasectl index build                                         │  ║
║  │                                                             │  ║
║  │ # Where does this patch come from?                          │  ║
║  │ pasectl match fix.patch                                     │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Patches: /v1/patches, /v1/patches/:id, /:id/report           ║
║  ├── Feed:    /v1/crawl, /v1/feed/status, /v1/events/stream       ║
║  ├── Pool:    /v1/pool/sync, /v1/pool/status                      ║
║  ├── Index:   /v1/index/build, /v1/index/stats                    ║
║  └── Engine:  /v1/match, /v1/validate, /v1/reports                ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, dataDir, port)
}
