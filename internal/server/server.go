/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server exposes the station over HTTP: the live audio stream, the
// TTS and playback API, and the operational endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/auth"
	"github.com/dusanmitrovic98/play-radio-tts/internal/broadcast"
	"github.com/dusanmitrovic98/play-radio-tts/internal/config"
	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
	"github.com/dusanmitrovic98/play-radio-tts/internal/livestream"
	"github.com/dusanmitrovic98/play-radio-tts/internal/logbuffer"
	"github.com/dusanmitrovic98/play-radio-tts/internal/media"
	"github.com/dusanmitrovic98/play-radio-tts/internal/telemetry"
	"github.com/dusanmitrovic98/play-radio-tts/internal/tts"
	"github.com/dusanmitrovic98/play-radio-tts/internal/voices"
)

// Publisher is the event-publishing surface the handlers need. Both the
// in-process bus and the NATS bridge satisfy it.
type Publisher interface {
	Publish(eventType events.EventType, payload events.Payload)
}

// Deps bundles everything the HTTP layer talks to.
type Deps struct {
	Stream    *livestream.Manager
	Hub       *broadcast.Hub
	Media     *media.Service
	Voices    *voices.Store
	Synth     tts.Synthesizer
	Bus       *events.Bus
	Publisher Publisher
	LogBuffer *logbuffer.Buffer
}

// Server is the HTTP front of the station.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server

	deps Deps
}

// New constructs the server and wires the routes.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("playradio-api"))
	router.Use(telemetry.MetricsMiddleware)
	// The audio stream and the events socket are long-lived; everything
	// else gets a request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/stream" || r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
		router: router,
		deps:   deps,
	}
	srv.configureRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0: the stream endpoint manages its own
		// deadlines and must outlive any fixed timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

func (s *Server) configureRoutes() {
	r := s.router

	// Public surface.
	r.Get("/stream", s.deps.Hub.ServeHTTP)
	r.Get("/current", s.handleCurrent)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/songs", s.handleSongs)
	r.Get("/voices", s.handleVoices)
	r.Get("/voice", s.handleVoice)
	r.Post("/api/token", s.handleToken)

	// Mutating surface, guarded when a signing key is configured.
	r.Group(func(r chi.Router) {
		if s.cfg.JWTSigningKey != "" {
			r.Use(auth.Middleware([]byte(s.cfg.JWTSigningKey)))
		}
		r.Get("/play/{file}", s.handlePlay)
		r.Post("/play/{file}", s.handlePlay)
		r.Post("/say", s.handleSay)
		r.Get("/say", s.handleSay)
		r.Post("/voice", s.handleAddVoice)
		r.Get("/use/{name}", s.handleUseVoice)
		r.Post("/use/{name}", s.handleUseVoice)
		r.Get("/api/logs", s.handleLogs)
		r.Get("/ws/events", s.handleEvents)
	})
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
