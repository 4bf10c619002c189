// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package pase

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all PaSe routes with the router group.
//
// Endpoints:
//
//	POST /v1/patches - Store a patch
//	GET  /v1/patches - Search patches (one filter)
//	GET  /v1/patches/:id - Fetch one patch with content
//	GET  /v1/patches/:id/report - Latest report for a patch
//	POST /v1/crawl - Run crawlers now
//	GET  /v1/feed/status - Crawl scheduler status
//	POST /v1/pool/sync - Sync one collection (async)
//	GET  /v1/pool/status - Pool and job status
//	POST /v1/index/build - Build the fragment index (async)
//	GET  /v1/index/stats - Index statistics
//	GET  /v1/jobs/:id - Async job status
//	POST /v1/match - Match a patch against the index
//	POST /v1/validate - Dry-run a patch against a pool package
//	GET  /v1/reports - List reports, newest first
//	GET  /v1/reports/:id - Fetch one report
//	GET  /v1/events/stream - Websocket feed/report events
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/patches", handlers.HandleAddPatch)
	rg.GET("/patches", handlers.HandleSearchPatches)
	rg.GET("/patches/:id", handlers.HandleGetPatch)
	rg.GET("/patches/:id/report", handlers.HandlePatchReport)

	rg.POST("/crawl", handlers.HandleCrawl)
	rg.GET("/feed/status", handlers.HandleFeedStatus)

	pool := rg.Group("/pool")
	{
		pool.POST("/sync", handlers.HandlePoolSync)
		pool.GET("/status", handlers.HandlePoolStatus)
	}

	idx := rg.Group("/index")
	{
		idx.POST("/build", handlers.HandleIndexBuild)
		idx.GET("/stats", handlers.HandleIndexStats)
	}

	rg.GET("/jobs/:id", handlers.HandleGetJob)

	rg.POST("/match", handlers.HandleMatch)
	rg.POST("/validate", handlers.HandleValidate)

	rg.GET("/reports", handlers.HandleListReports)
	rg.GET("/reports/:id", handlers.HandleGetReport)

	rg.GET("/events/stream", handlers.HandleEventStream)
}

// NewRouter builds the gin engine for the daemon: recovery, optional
// request logging, otel middleware on /v1, the health endpoint at the
// root.
func NewRouter(svc *Service, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}

	handlers := NewHandlers(svc)
	router.GET("/health", handlers.HandleHealth)

	v1 := router.Group("/v1")
	v1.Use(otelgin.Middleware(svc.cfg.Telemetry.ServiceName))
	RegisterRoutes(v1, handlers)

	return router
}
