// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package feed watches the external streams that produce incoming
// patches: Bugzilla attachments, Factory repository churn, and a local
// drop directory. Crawlers land patches in the patch store; every
// stored patch or changed package is announced as an Event so the
// reporting pipeline can react.
package feed

import (
	"context"
	"sync"
	"time"
)

// Event types.
const (
	// EventPatch announces a patch that was just stored.
	EventPatch = "patch"

	// EventPackage announces a source package that appeared or changed
	// version in a watched repository.
	EventPackage = "package"
)

// Crawler is one scheduled source of incoming patches. Crawl returns
// how many patches the run added to the store.
type Crawler interface {
	Name() string
	Crawl(ctx context.Context) (added int, err error)
}

// Event is what a feed announces after it has durably landed
// something: a stored patch or an observed package change.
type Event struct {
	Type       string    `json:"type"`
	PatchID    int64     `json:"patch_id,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Producer   string    `json:"producer,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	Collection string    `json:"collection,omitempty"`
	Package    string    `json:"package,omitempty"`
	Version    string    `json:"version,omitempty"`
	At         time.Time `json:"at"`
}

// EventSink receives feed events. Sinks must not block; slow consumers
// should hand off to their own queue.
type EventSink func(Event)

// Emitter fans feed events out to subscribed sinks. Safe for
// concurrent use.
type Emitter struct {
	mu    sync.RWMutex
	sinks []EventSink
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers a sink for all future events.
func (e *Emitter) Subscribe(sink EventSink) {
	if sink == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// Emit delivers the event to every subscriber, filling At when the
// caller left it zero.
func (e *Emitter) Emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	e.mu.RLock()
	sinks := make([]EventSink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.RUnlock()

	for _, sink := range sinks {
		sink(event)
	}
}
