// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package report

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/boiko/hackweek-applied-pase/services/pase/feed"
)

// Stream message kinds.
const (
	KindFeed   = "feed"
	KindReport = "report"
)

// sendBuffer is the per-client message buffer; a client that cannot
// keep up is disconnected rather than blocking the broadcaster.
const sendBuffer = 16

// StreamMessage is the envelope sent to websocket clients.
type StreamMessage struct {
	Kind   string        `json:"kind"`
	Event  *feed.Event   `json:"event,omitempty"`
	Report *ReportNotice `json:"report,omitempty"`
}

// ReportNotice announces a stored report without its full payload;
// clients fetch the body through the reports API.
type ReportNotice struct {
	ID        string    `json:"id"`
	PatchID   int64     `json:"patch_id"`
	Filename  string    `json:"filename"`
	Summary   Summary   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

var upgrader = websocket.Upgrader{
	// The API serves local tooling; origin filtering stays with the
	// deployment proxy.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans feed events and report notices out to connected websocket
// clients. Safe for concurrent use.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan StreamMessage
}

// NewHub creates a hub with no clients.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// Handler upgrades the request to a websocket and streams events until
// the client disconnects. Inbound messages are discarded.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed",
				slog.String("error", err.Error()))
			return
		}

		client := &hubClient{
			conn: conn,
			send: make(chan StreamMessage, sendBuffer),
		}
		if !h.register(client) {
			conn.Close()
			return
		}
		h.logger.Debug("stream client connected")

		go h.writeLoop(client)
		h.readLoop(client)
	}
}

// BroadcastEvent sends a feed event to every client. Its signature
// matches feed.EventSink, so it subscribes directly to an Emitter.
func (h *Hub) BroadcastEvent(e feed.Event) {
	event := e
	h.broadcast(StreamMessage{Kind: KindFeed, Event: &event})
}

// BroadcastReport announces a stored report to every client.
func (h *Hub) BroadcastReport(r *Report) {
	h.broadcast(StreamMessage{Kind: KindReport, Report: &ReportNotice{
		ID:        r.ID,
		PatchID:   r.PatchID,
		Filename:  r.Filename,
		Summary:   r.Summary,
		CreatedAt: r.CreatedAt,
	}})
}

// ClientCount returns how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.unregister(client)
	}
}

func (h *Hub) register(client *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	recordStreamClients(1)
	return true
}

func (h *Hub) unregister(client *hubClient) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
		recordStreamClients(-1)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(msg StreamMessage) {
	h.mu.Lock()
	var slow []*hubClient
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.Unlock()

	for _, client := range slow {
		h.logger.Debug("dropping slow stream client")
		h.unregister(client)
	}
}

// writeLoop drains the client's send channel onto the wire; it ends
// when unregister closes the channel or a write fails.
func (h *Hub) writeLoop(client *hubClient) {
	defer client.conn.Close()
	for msg := range client.send {
		if err := client.conn.WriteJSON(msg); err != nil {
			h.logger.Debug("stream write failed",
				slog.String("error", err.Error()))
			return
		}
	}
}

// readLoop discards inbound messages and detects disconnects.
func (h *Hub) readLoop(client *hubClient) {
	for {
		if _, _, err := client.conn.NextReader(); err != nil {
			break
		}
	}
	h.unregister(client)
	h.logger.Debug("stream client disconnected")
}
