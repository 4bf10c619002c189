// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package pase

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/boiko/hackweek-applied-pase/services/pase/feed"
	"github.com/boiko/hackweek-applied-pase/services/pase/index"
	"github.com/boiko/hackweek-applied-pase/services/pase/match"
	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
	"github.com/boiko/hackweek-applied-pase/services/pase/srcpool"
	"github.com/boiko/hackweek-applied-pase/services/pase/validate"
)

// ErrorResponse is the error body every endpoint returns on failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers contains the HTTP handlers for the PaSe API.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the X-Request-ID header, creating one
// when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	health := h.svc.Health(c.Request.Context())
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

// AddPatchRequest is the body of POST /v1/patches.
type AddPatchRequest struct {
	Filename string `json:"filename" binding:"required"`

	// Content is the base64-encoded patch text.
	Content  string `json:"content" binding:"required"`
	Producer string `json:"producer" binding:"required"`
	Origin   string `json:"origin" binding:"required"`

	// Timestamp is optional ISO 8601; empty means now.
	Timestamp string `json:"timestamp"`
}

// AddPatchResponse is the body returned by POST /v1/patches.
type AddPatchResponse struct {
	ID       int64  `json:"id"`
	Checksum string `json:"checksum"`
}

// HandleAddPatch handles POST /v1/patches.
//
// Response:
//
//	200 OK: AddPatchResponse
//	400 Bad Request: Validation error
//	500 Internal Server Error: Store error
func (h *Handlers) HandleAddPatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleAddPatch"))

	var req AddPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is not valid base64", Code: "INVALID_CONTENT"})
		return
	}

	patch := &patchstore.Patch{
		Filename: req.Filename,
		Content:  content,
		Producer: req.Producer,
		Origin:   req.Origin,
	}
	if req.Timestamp != "" {
		ts, err := patchstore.ParseTimestamp(req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_TIMESTAMP"})
			return
		}
		patch.Timestamp = ts
	}

	if err := h.svc.patches.Add(c.Request.Context(), patch); err != nil {
		status := http.StatusInternalServerError
		code := "STORE_FAILED"
		switch {
		case errors.Is(err, patchstore.ErrNoFilename),
			errors.Is(err, patchstore.ErrNotPatchFile),
			errors.Is(err, patchstore.ErrEmptyContent),
			errors.Is(err, patchstore.ErrEmptyProducer),
			errors.Is(err, patchstore.ErrNoOrigin):
			status = http.StatusBadRequest
			code = "INVALID_PATCH"
		}
		logger.Warn("add patch failed", slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("patch stored",
		slog.Int64("patch_id", patch.ID),
		slog.String("filename", patch.Filename))
	c.JSON(http.StatusOK, AddPatchResponse{ID: patch.ID, Checksum: patch.Checksum})
}

// PatchView is a Patch with the content base64-encoded for transport.
type PatchView struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Content   string    `json:"content,omitempty"`
	Checksum  string    `json:"checksum"`
	Producer  string    `json:"producer"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

func patchView(p *patchstore.Patch, withContent bool) PatchView {
	v := PatchView{
		ID:        p.ID,
		Filename:  p.Filename,
		Checksum:  p.Checksum,
		Producer:  p.Producer,
		Origin:    p.Origin,
		Timestamp: p.Timestamp,
	}
	if withContent {
		v.Content = base64.StdEncoding.EncodeToString(p.Content)
	}
	return v
}

// HandleSearchPatches handles GET /v1/patches. Exactly one of the
// filename, producer, origin or checksum query filters is required.
func (h *Handlers) HandleSearchPatches(c *gin.Context) {
	ctx := c.Request.Context()

	filters := map[string]string{
		"filename": c.Query("filename"),
		"producer": c.Query("producer"),
		"origin":   c.Query("origin"),
		"checksum": c.Query("checksum"),
	}

	var kind, value string
	for k, v := range filters {
		if v == "" {
			continue
		}
		if kind != "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrExactlyOneFilter.Error(), Code: "INVALID_REQUEST"})
			return
		}
		kind, value = k, v
	}
	if kind == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrExactlyOneFilter.Error(), Code: "INVALID_REQUEST"})
		return
	}

	var (
		patches []*patchstore.Patch
		err     error
	)
	switch kind {
	case "filename":
		patches, err = h.svc.patches.FindByFilename(ctx, value)
	case "producer":
		patches, err = h.svc.patches.FindByProducer(ctx, value)
	case "origin":
		patches, err = h.svc.patches.FindByOrigin(ctx, value)
	case "checksum":
		patches, err = h.svc.patches.FindByChecksum(ctx, value)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SEARCH_FAILED"})
		return
	}

	views := make([]PatchView, 0, len(patches))
	for _, p := range patches {
		views = append(views, patchView(p, false))
	}
	c.JSON(http.StatusOK, gin.H{"patches": views, "count": len(views)})
}

// HandleGetPatch handles GET /v1/patches/:id.
func (h *Handlers) HandleGetPatch(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid patch id", Code: "INVALID_REQUEST"})
		return
	}

	patch, err := h.svc.patches.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, patchstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, patchView(patch, true))
}

// CrawlRequest is the body of POST /v1/crawl.
type CrawlRequest struct {
	// Crawler names a single crawler to run; empty runs all due ones.
	Crawler string `json:"crawler"`
}

// HandleCrawl handles POST /v1/crawl.
//
// Response:
//
//	200 OK: per-crawler results
//	404 Not Found: named crawler is not registered
//	409 Conflict: the named crawler is already running
func (h *Handlers) HandleCrawl(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleCrawl"))

	var req CrawlRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
			return
		}
	}

	if req.Crawler != "" {
		added, err := h.svc.runner.RunNow(c.Request.Context(), req.Crawler)
		if err != nil {
			status := http.StatusInternalServerError
			code := "CRAWL_FAILED"
			if errors.Is(err, feed.ErrUnknownCrawler) {
				status = http.StatusNotFound
				code = "NOT_FOUND"
			} else if errors.Is(err, feed.ErrCrawlInProgress) {
				status = http.StatusConflict
				code = "CRAWL_IN_PROGRESS"
			}
			logger.Warn("crawl failed", slog.String("crawler", req.Crawler), slog.String("error", err.Error()))
			c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
			return
		}
		c.JSON(http.StatusOK, gin.H{"crawler": req.Crawler, "added": added})
		return
	}

	h.svc.runner.RunDue(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": h.svc.runner.Status()})
}

// HandleFeedStatus handles GET /v1/feed/status.
func (h *Handlers) HandleFeedStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"crawlers": h.svc.runner.Status()})
}

// SyncRequest is the body of POST /v1/pool/sync.
type SyncRequest struct {
	Collection string `json:"collection" binding:"required"`
}

// HandlePoolSync handles POST /v1/pool/sync. The sync runs in the
// background; the response carries a job ID for polling.
//
// Response:
//
//	202 Accepted: {job_id}
//	404 Not Found: unknown collection
//	409 Conflict: collection already syncing
func (h *Handlers) HandlePoolSync(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandlePoolSync"))

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	if _, err := h.svc.pool.Collection(req.Collection); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	if h.svc.pool.Syncing(req.Collection) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: srcpool.ErrSyncInProgress.Error(),
			Code:  "SYNC_IN_PROGRESS",
		})
		return
	}

	jobID := h.svc.startJob("pool_sync", req.Collection, func(ctx context.Context) error {
		result, err := h.svc.pool.Sync(ctx, req.Collection)
		if err != nil {
			return err
		}
		logger.Info("pool sync finished",
			slog.String("collection", result.Collection),
			slog.Int("packages", result.Packages),
			slog.Int("fetched", result.Fetched),
			slog.Int("errors", len(result.Errors)))
		return nil
	})

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// HandlePoolStatus handles GET /v1/pool/status.
func (h *Handlers) HandlePoolStatus(c *gin.Context) {
	cols := h.svc.pool.Collections()
	statuses := make([]gin.H, 0, len(cols))
	for _, col := range cols {
		statuses = append(statuses, gin.H{
			"name":     col.Name,
			"base_url": col.BaseURL,
			"syncing":  h.svc.pool.Syncing(col.Name),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"root":        h.svc.pool.Root(),
		"collections": statuses,
		"jobs":        h.svc.Jobs(),
	})
}

// BuildRequest is the body of POST /v1/index/build.
type BuildRequest struct {
	// Collection limits the build; empty builds every collection.
	Collection string `json:"collection"`

	// Force reindexes packages whose version is already indexed.
	Force bool `json:"force"`
}

// HandleIndexBuild handles POST /v1/index/build. Builds run in the
// background; the response carries a job ID.
func (h *Handlers) HandleIndexBuild(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleIndexBuild"))

	var req BuildRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
			return
		}
	}

	collections := make([]string, 0)
	if req.Collection != "" {
		if _, err := h.svc.pool.Collection(req.Collection); err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
			return
		}
		if h.svc.indexer.Building(req.Collection) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error: index.ErrBuildInProgress.Error(),
				Code:  "BUILD_IN_PROGRESS",
			})
			return
		}
		collections = append(collections, req.Collection)
	} else {
		for _, col := range h.svc.pool.Collections() {
			collections = append(collections, col.Name)
		}
	}

	jobID := h.svc.startJob("index_build", req.Collection, func(ctx context.Context) error {
		for _, col := range collections {
			result, err := h.svc.indexer.IndexCollection(ctx, col, req.Force)
			if err != nil {
				return err
			}
			logger.Info("index build finished",
				slog.String("collection", col),
				slog.Int("indexed", result.Indexed),
				slog.Int("fragments", result.Fragments),
				slog.Int("errors", len(result.Errors)))
		}
		return nil
	})

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// HandleIndexStats handles GET /v1/index/stats.
func (h *Handlers) HandleIndexStats(c *gin.Context) {
	stats, err := h.svc.indexer.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STATS_FAILED"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleGetJob handles GET /v1/jobs/:id.
func (h *Handlers) HandleGetJob(c *gin.Context) {
	job, err := h.svc.JobStatus(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// MatchRequest is the body of POST /v1/match. Exactly one of PatchID
// or Content must be set.
type MatchRequest struct {
	PatchID int64 `json:"patch_id"`

	// Content is base64-encoded patch text.
	Content string `json:"content"`
}

// HandleMatch handles POST /v1/match.
//
// Response:
//
//	200 OK: match.Result
//	400 Bad Request: not a unified diff, or bad request shape
//	404 Not Found: unknown patch ID
//	409 Conflict: the index is empty
func (h *Handlers) HandleMatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleMatch"))

	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if (req.PatchID == 0) == (req.Content == "") {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "exactly one of patch_id and content is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var (
		result *match.Result
		err    error
	)
	if req.PatchID != 0 {
		result, err = h.svc.matcher.MatchStored(c.Request.Context(), req.PatchID)
	} else {
		var content []byte
		content, err = base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is not valid base64", Code: "INVALID_CONTENT"})
			return
		}
		result, err = h.svc.matcher.MatchPatch(c.Request.Context(), content)
	}

	if err != nil {
		status := http.StatusInternalServerError
		code := "MATCH_FAILED"
		switch {
		case errors.Is(err, patchstore.ErrNotFound):
			status = http.StatusNotFound
			code = "NOT_FOUND"
		case errors.Is(err, match.ErrNotUnifiedDiff):
			status = http.StatusBadRequest
			code = "NOT_UNIFIED_DIFF"
		case errors.Is(err, index.ErrIndexEmpty):
			status = http.StatusConflict
			code = "INDEX_EMPTY"
		}
		logger.Warn("match failed", slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, result)
}

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	PatchID int64 `json:"patch_id"`

	// Content is base64-encoded patch text; alternative to PatchID.
	Content string `json:"content"`

	Collection string `json:"collection" binding:"required"`
	Package    string `json:"package" binding:"required"`
}

// HandleValidate handles POST /v1/validate: a dry run of the patch
// against one pool package.
func (h *Handlers) HandleValidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.svc.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleValidate"))

	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if (req.PatchID == 0) == (req.Content == "") {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "exactly one of patch_id and content is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var content []byte
	if req.PatchID != 0 {
		patch, err := h.svc.patches.Get(c.Request.Context(), req.PatchID)
		if err != nil {
			if errors.Is(err, patchstore.ErrNotFound) {
				c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
				return
			}
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
			return
		}
		content = patch.Content
	} else {
		var err error
		content, err = base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content is not valid base64", Code: "INVALID_CONTENT"})
			return
		}
	}

	root := h.svc.pool.PackageDir(req.Collection, req.Package)
	reportOut, err := h.svc.validator.Validate(c.Request.Context(), content, root)
	if err != nil {
		status := http.StatusInternalServerError
		code := "VALIDATE_FAILED"
		switch {
		case errors.Is(err, validate.ErrNotUnifiedDiff):
			status = http.StatusBadRequest
			code = "NOT_UNIFIED_DIFF"
		case errors.Is(err, validate.ErrEmptyPatch):
			status = http.StatusBadRequest
			code = "EMPTY_PATCH"
		case errors.Is(err, validate.ErrPatchTooLarge):
			status = http.StatusBadRequest
			code = "PATCH_TOO_LARGE"
		}
		logger.Warn("validate failed", slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	reportOut.Collection = req.Collection
	reportOut.Package = req.Package

	c.JSON(http.StatusOK, reportOut)
}

// HandleListReports handles GET /v1/reports?limit=&before=.
func (h *Handlers) HandleListReports(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: "INVALID_REQUEST"})
			return
		}
		limit = n
	}

	before := time.Time{}
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before timestamp", Code: "INVALID_REQUEST"})
			return
		}
		before = t
	}

	reports, err := h.svc.reports.List(c.Request.Context(), limit, before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

// HandleGetReport handles GET /v1/reports/:id.
func (h *Handlers) HandleGetReport(c *gin.Context) {
	r, err := h.svc.reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// HandlePatchReport handles GET /v1/patches/:id/report: the latest
// report built for the patch. A missing report on an existing patch
// schedules a build and answers 202.
func (h *Handlers) HandlePatchReport(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid patch id", Code: "INVALID_REQUEST"})
		return
	}

	r, err := h.svc.reports.LatestFor(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, r)
		return
	}

	if _, perr := h.svc.patches.Get(c.Request.Context(), id); perr != nil {
		if errors.Is(perr, patchstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: perr.Error(), Code: "NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: perr.Error(), Code: "STORE_FAILED"})
		return
	}

	h.svc.builder.Enqueue(id)
	c.JSON(http.StatusAccepted, gin.H{"status": "report scheduled", "patch_id": id})
}

// HandleEventStream handles GET /v1/events/stream: a websocket
// carrying feed and report events.
func (h *Handlers) HandleEventStream(c *gin.Context) {
	h.svc.hub.Handler()(c)
}
