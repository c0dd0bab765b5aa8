/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast fans one encoded audio stream out to any number of HTTP
// listeners. Every listener hears the same bytes; a slow listener loses its
// oldest queued chunks rather than slowing anyone else down.
package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
	"github.com/dusanmitrovic98/play-radio-tts/internal/telemetry"
)

const keepaliveInterval = 30 * time.Second

// Session is one attached listener. New sessions join at the live point;
// there is no catch-up of audio produced before attach.
type Session struct {
	ID string

	ch   chan []byte
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// Hub distributes encoded chunks to attached sessions.
type Hub struct {
	contentType  string
	queueLen     int
	writeTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	logger zerolog.Logger
	bus    *events.Bus
}

// NewHub creates a fan-out hub for a stream with the given content type.
// queueLen bounds each session's pending-chunk queue; writeTimeout bounds a
// single client write before the session is evicted as stalled.
func NewHub(contentType string, queueLen int, writeTimeout time.Duration, logger zerolog.Logger, bus *events.Bus) *Hub {
	return &Hub{
		contentType:  contentType,
		queueLen:     queueLen,
		writeTimeout: writeTimeout,
		sessions:     make(map[string]*Session),
		logger:       logger.With().Str("component", "broadcast").Logger(),
		bus:          bus,
	}
}

// Attach registers a new listener session joining at the live point.
func (h *Hub) Attach() *Session {
	s := &Session{
		ID:   uuid.NewString(),
		ch:   make(chan []byte, h.queueLen),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	count := len(h.sessions)
	h.mu.Unlock()

	telemetry.StreamListeners.Inc()
	h.logger.Info().Str("session", s.ID).Int("listeners", count).Msg("listener attached")
	h.publishStats(count, "connect")
	return s
}

// Detach removes a session and releases its resources. Detaching a session
// that is already gone is a no-op.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	dropped := s.dropped
	s.mu.Unlock()

	telemetry.StreamListeners.Dec()
	h.logger.Info().Str("session", id).Uint64("dropped_chunks", dropped).Int("listeners", count).Msg("listener detached")
	h.publishStats(count, "disconnect")
}

// Push delivers a chunk to every session. It never blocks on a listener:
// when a session's queue is full its oldest chunk is discarded to make room
// for the new one.
func (h *Hub) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	telemetry.StreamChunksTotal.Inc()
	telemetry.StreamBytesTotal.Add(float64(len(chunk)))

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.sessions {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		select {
		case s.ch <- chunk:
		default:
			select {
			case <-s.ch:
				s.dropped++
				telemetry.StreamDroppedChunksTotal.Inc()
			default:
			}
			select {
			case s.ch <- chunk:
			default:
			}
		}
		s.mu.Unlock()
	}
}

// ListenerCount returns the number of attached sessions.
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close detaches every session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.done)
		}
		s.mu.Unlock()
		telemetry.StreamListeners.Dec()
	}
}

// ServeHTTP attaches the client as a listener and streams chunks until the
// client goes away or stops accepting data.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", h.contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Del("Content-Length")

	rc := http.NewResponseController(w)

	s := h.Attach()
	defer h.Detach(s.ID)

	keepalive := time.NewTimer(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case chunk := <-s.ch:
			if h.writeTimeout > 0 {
				_ = rc.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			}
			if _, err := w.Write(chunk); err != nil {
				h.logger.Debug().Err(err).Str("session", s.ID).Msg("write failed, evicting listener")
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(keepaliveInterval)
		case <-keepalive.C:
			// No audio for a while; flush to keep the connection open
			// across quiet stretches.
			_ = rc.Flush()
			keepalive.Reset(keepaliveInterval)
		}
	}
}

func (h *Hub) publishStats(count int, event string) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(events.EventListenerStats, events.Payload{
		"listeners":    count,
		"event":        event,
		"content_type": h.contentType,
	})
}
