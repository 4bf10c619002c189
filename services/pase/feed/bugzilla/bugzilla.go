// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package bugzilla crawls a Bugzilla instance for patch attachments
// through its REST API and lands them in the patch store.
package bugzilla

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"

	"github.com/boiko/hackweek-applied-pase/pkg/fetch"
	"github.com/boiko/hackweek-applied-pase/services/pase/feed"
	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
)

// CrawlerName identifies this crawler as a patch producer.
const CrawlerName = "Bugzilla patch crawler"

const (
	// DefaultInstanceURL is the openSUSE Bugzilla instance.
	DefaultInstanceURL = "https://bugzilla.opensuse.org"

	// DefaultTimeDelta is the width in days of the first crawl window.
	DefaultTimeDelta = 1

	apiKeyHeader     = "X-BUGZILLA-API-KEY"
	changeTimeFormat = "2006-01-02T15:04:05Z"

	// requestsPerSecond paces REST calls so a wide crawl window does
	// not hammer the instance.
	requestsPerSecond = 2

	// throttleDelay is how long to back off after an HTTP 429.
	throttleDelay = time.Second

	// minMlockKB is the smallest RLIMIT_MEMLOCK under which memguard
	// can still lock the pages holding the API key.
	minMlockKB = int64(64)
)

// Config holds the crawler configuration.
type Config struct {
	// InstanceURL is the root URL of the Bugzilla instance.
	InstanceURL string

	// APIKey authenticates REST requests. New moves it into an mlocked
	// enclave; it is materialized per request and never logged.
	APIKey string

	// TimeDelta is how many days back the first crawl reaches.
	TimeDelta int
}

// DefaultConfig returns the production defaults: the openSUSE
// instance, anonymous access, a one-day window.
func DefaultConfig() Config {
	return Config{
		InstanceURL: DefaultInstanceURL,
		TimeDelta:   DefaultTimeDelta,
	}
}

// Crawler fetches patch attachments from Bugzilla. It implements
// feed.Crawler.
type Crawler struct {
	instanceURL string
	apiKey      *memguard.Enclave
	store       *patchstore.Store
	emitter     *feed.Emitter
	client      *fetch.Client
	logger      *slog.Logger

	mu    sync.Mutex
	since time.Time
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithClient sets the HTTP client used for REST calls.
func WithClient(client *fetch.Client) Option {
	return func(c *Crawler) { c.client = client }
}

// WithEmitter sets the emitter announcing stored patches.
func WithEmitter(emitter *feed.Emitter) Option {
	return func(c *Crawler) { c.emitter = emitter }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a crawler storing into store. Zero config fields fall
// back to the defaults.
func New(cfg Config, store *patchstore.Store, opts ...Option) *Crawler {
	if cfg.InstanceURL == "" {
		cfg.InstanceURL = DefaultInstanceURL
	}
	if cfg.TimeDelta <= 0 {
		cfg.TimeDelta = DefaultTimeDelta
	}

	c := &Crawler{
		instanceURL: strings.TrimRight(cfg.InstanceURL, "/"),
		store:       store,
		logger:      slog.Default(),
		// The extra second keeps an attachment changed exactly on the
		// window edge inside the first crawl.
		since: time.Now().Add(-time.Duration(cfg.TimeDelta)*24*time.Hour - time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = fetch.New(
			fetch.WithRateLimit(requestsPerSecond, 1),
			fetch.WithLogger(c.logger),
		)
	}
	if cfg.APIKey != "" {
		c.apiKey = sealKey(cfg.APIKey, c.logger)
	}
	return c
}

// Name implements feed.Crawler.
func (c *Crawler) Name() string { return CrawlerName }

// Crawl searches for bugs with patch attachments modified inside the
// crawl window and stores every new or changed patch. Returns how
// many patches were added.
func (c *Crawler) Crawl(ctx context.Context) (int, error) {
	start := time.Now()
	since := c.sinceTime()

	c.logger.Info("start crawling", slog.String("instance", c.instanceURL))

	days := int(start.Sub(since).Hours()/24) + 1
	ids, err := c.searchBugs(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("search bugs: %w", err)
	}
	c.logger.Info("found bugs with patch attachments",
		slog.Int("bugs", len(ids)),
		slog.Int("days", days))

	total := 0
	for i := 0; i < len(ids); {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		attachments, err := c.bugAttachments(ctx, ids[i])
		if err != nil {
			if fetch.IsStatus(err, http.StatusTooManyRequests) {
				c.logger.Warn("got an HTTP 429 error, throttling requests")
				select {
				case <-ctx.Done():
					return total, ctx.Err()
				case <-time.After(throttleDelay):
				}
				continue
			}
			var statusErr *fetch.StatusError
			if errors.As(err, &statusErr) {
				// Private bugs answer with an error status; skip them
				// instead of aborting the whole crawl.
				c.logger.Warn("skipping bug",
					slog.Int64("bug", ids[i]),
					slog.Int("status", statusErr.Code))
				i++
				continue
			}
			return total, fmt.Errorf("bug %d attachments: %w", ids[i], err)
		}

		for _, att := range attachments {
			added, err := c.storeAttachment(ctx, ids[i], att, since)
			if err != nil {
				c.logger.Warn("skipping attachment",
					slog.Int64("bug", ids[i]),
					slog.Int64("attachment", att.ID),
					slog.String("error", err.Error()))
				continue
			}
			if added {
				total++
			}
		}
		i++
	}

	c.logger.Info("done crawling", slog.Int("added", total))
	c.setSince(start)
	return total, nil
}

// searchBugs returns the IDs of bugs carrying patch attachments that
// were modified within the last days days.
func (c *Crawler) searchBugs(ctx context.Context, days int) ([]int64, error) {
	params := url.Values{}
	params.Set("f1", "days_elapsed")
	params.Set("o1", "lessthaneq")
	params.Set("v1", strconv.Itoa(days))
	params.Set("f2", "attachments.ispatch")
	params.Set("o2", "equals")
	params.Set("v2", "1")
	params.Set("include_fields", "id")

	body, err := c.get(ctx, c.instanceURL+"/rest/bug?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var result struct {
		Bugs []struct {
			ID int64 `json:"id"`
		} `json:"bugs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode bug search: %w", err)
	}

	ids := make([]int64, 0, len(result.Bugs))
	for _, b := range result.Bugs {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// attachment mirrors the fields of the REST attachment resource the
// crawler needs. Data is base64 as delivered by the API.
type attachment struct {
	ID             int64  `json:"id"`
	FileName       string `json:"file_name"`
	IsPatch        int    `json:"is_patch"`
	LastChangeTime string `json:"last_change_time"`
	Data           string `json:"data"`
}

func (c *Crawler) bugAttachments(ctx context.Context, bugID int64) ([]attachment, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/rest/bug/%d/attachment", c.instanceURL, bugID))
	if err != nil {
		return nil, err
	}

	var result struct {
		Bugs map[string][]attachment `json:"bugs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return result.Bugs[strconv.FormatInt(bugID, 10)], nil
}

// storeAttachment stores one attachment when it is a patch changed
// after since. The first return reports whether a new patch row was
// added (updates of known patches do not count).
func (c *Crawler) storeAttachment(ctx context.Context, bugID int64, att attachment, since time.Time) (bool, error) {
	if att.IsPatch != 1 {
		return false, nil
	}

	lastChange, err := time.Parse(changeTimeFormat, att.LastChangeTime)
	if err != nil {
		return false, fmt.Errorf("parse last_change_time %q: %w", att.LastChangeTime, err)
	}
	if !lastChange.After(since) {
		return false, nil
	}

	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return false, fmt.Errorf("decode attachment data: %w", err)
	}
	if len(data) == 0 {
		return false, fmt.Errorf("attachment %d has no data", att.ID)
	}

	origin := fmt.Sprintf("%s/show_bug.cgi?id=%d", c.instanceURL, bugID)
	filename := att.FileName
	if !patchstore.IsPatchFilename(filename) {
		// Real patches arrive under names like "fix" or "backport.txt";
		// keep the original name in the origin fragment and normalize
		// the stored one.
		origin += "#" + filename
		filename += ".patch"
	}

	existed, err := c.store.Exists(ctx, filename, CrawlerName, origin)
	if err != nil {
		return false, err
	}

	p := &patchstore.Patch{
		Filename:  filename,
		Content:   data,
		Producer:  CrawlerName,
		Origin:    origin,
		Timestamp: lastChange,
	}
	if err := c.store.Add(ctx, p); err != nil {
		return false, err
	}

	if c.emitter != nil {
		c.emitter.Emit(feed.Event{
			Type:     feed.EventPatch,
			PatchID:  p.ID,
			Filename: filename,
			Producer: CrawlerName,
			Origin:   origin,
		})
	}
	return !existed, nil
}

// get performs a GET with the API key header when a key is
// configured. The key lives in an enclave between requests.
func (c *Crawler) get(ctx context.Context, url string) ([]byte, error) {
	if c.apiKey == nil {
		return c.client.Get(ctx, url)
	}

	key, err := c.apiKey.Open()
	if err != nil {
		return nil, fmt.Errorf("open API key enclave: %w", err)
	}
	defer key.Destroy()

	return c.client.GetWithHeaders(ctx, url, map[string]string{
		apiKeyHeader: key.String(),
	})
}

func (c *Crawler) sinceTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since
}

func (c *Crawler) setSince(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.since) {
		c.since = t
	}
}

var mlockOnce sync.Once

// sealKey moves the API key into an mlocked enclave so the long-lived
// copy cannot be swapped to disk.
func sealKey(key string, logger *slog.Logger) *memguard.Enclave {
	mlockOnce.Do(func() { probeMlockLimit(logger) })
	return memguard.NewEnclave([]byte(key))
}

// probeMlockLimit warns when RLIMIT_MEMLOCK is too small for memguard
// to lock its pages; memguard then degrades to unlocked memory.
func probeMlockLimit(logger *slog.Logger) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		logger.Warn("cannot read RLIMIT_MEMLOCK",
			slog.String("error", err.Error()))
		return
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return
	}
	limitKB := int64(rlimit.Cur / 1024)
	if limitKB < minMlockKB {
		logger.Warn("RLIMIT_MEMLOCK is low, API key pages may stay unlocked",
			slog.Int64("limit_kb", limitKB),
			slog.Int64("needed_kb", minMlockKB))
	}
}
