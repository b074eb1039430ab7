// Copyright (C) 2026 Rora Labs (oss@roralabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package testgen

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RoraAI/RoraEngine/services/testgen/coordinator"
)

const (
	// subscriberBuffer bounds the per-subscriber event queue. A subscriber
	// that falls this far behind loses events rather than stalling the
	// coordinator.
	subscriberBuffer = 32

	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// EventHub fans coordinator state events out to websocket subscribers.
//
// # Thread Safety
//
// Safe for concurrent use.
type EventHub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[chan coordinator.Event]struct{}
	closed bool
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger: logger,
		subs:   make(map[chan coordinator.Event]struct{}),
	}
}

// Broadcast delivers an event to every subscriber without blocking. Slow
// subscribers drop events; the coordinator never waits on a client.
func (h *EventHub) Broadcast(ev coordinator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			eventsDropped.Inc()
		}
	}
}

// Subscribe registers a new event channel. The returned cancel func must be
// called exactly once; it closes the channel.
func (h *EventHub) Subscribe() (<-chan coordinator.Event, func()) {
	ch := make(chan coordinator.Event, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	eventSubscribers.Inc()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
				eventSubscribers.Dec()
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close drops all subscribers and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
		eventSubscribers.Dec()
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The engine binds to loopback; the editor extension connects from a
	// non-browser context with no Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the connection and streams state events until the client
// disconnects or the hub closes.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events, cancel := h.Subscribe()
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
