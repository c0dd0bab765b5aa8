/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dusanmitrovic98/play-radio-tts/internal/auth"
	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
	"github.com/dusanmitrovic98/play-radio-tts/internal/livestream"
	"github.com/dusanmitrovic98/play-radio-tts/internal/logbuffer"
	"github.com/dusanmitrovic98/play-radio-tts/internal/media"
	"github.com/dusanmitrovic98/play-radio-tts/internal/playlist"
	"github.com/dusanmitrovic98/play-radio-tts/internal/voices"
)

const latestClipName = "tts-latest.mp3"

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Stream.Status())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Stream.Status()

	if err := s.deps.Media.CheckStorageAccess(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	if !status.Available {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  "stream unavailable",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"listeners": status.Listeners,
	})
}

func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.deps.Media.ListSongs(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list songs failed")
		respondError(w, http.StatusInternalServerError, "listing songs failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")

	path, err := s.deps.Media.Localize(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrInvalidName):
			respondError(w, http.StatusBadRequest, "invalid file name")
		case errors.Is(err, media.ErrNotFound):
			respondError(w, http.StatusNotFound, "no such song")
		default:
			s.logger.Error().Err(err).Str("file", name).Msg("resolve song failed")
			respondError(w, http.StatusInternalServerError, "resolving song failed")
		}
		return
	}

	s.inject(w, path)
}

type sayRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	var req sayRequest
	if r.Method == http.MethodPost && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		req.Text = r.URL.Query().Get("text")
		req.Voice = r.URL.Query().Get("voice")
	}

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	voice, err := s.resolveVoice(r, req.Voice)
	if err != nil {
		respondError(w, http.StatusNotFound, "no such voice")
		return
	}

	clip, err := s.deps.Synth.Synthesize(r.Context(), req.Text, voice.ShortName)
	if err != nil {
		s.logger.Error().Err(err).Str("voice", voice.ShortName).Msg("synthesis failed")
		respondError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	defer clip.Close()

	path, err := s.deps.Media.StoreClip(r.Context(), latestClipName, clip)
	if err != nil {
		s.logger.Error().Err(err).Msg("store clip failed")
		respondError(w, http.StatusInternalServerError, "storing clip failed")
		return
	}

	s.deps.Publisher.Publish(events.EventClipSynthesized, events.Payload{
		"voice":    voice.ShortName,
		"text_len": len(req.Text),
		"clip":     latestClipName,
	})

	s.inject(w, path)
}

// resolveVoice picks the requested voice alias, or the current selection
// when none was given.
func (s *Server) resolveVoice(r *http.Request, alias string) (voices.Voice, error) {
	if alias == "" {
		return s.deps.Voices.Current(r.Context())
	}
	return s.deps.Voices.Get(r.Context(), alias)
}

// inject hands a local clip path to the stream and reports the outcome.
func (s *Server) inject(w http.ResponseWriter, path string) {
	decision, err := s.deps.Stream.Inject(path)
	if err != nil {
		switch {
		case errors.Is(err, livestream.ErrStreamUnavailable):
			respondError(w, http.StatusServiceUnavailable, "stream unavailable")
		case errors.Is(err, playlist.ErrClipNotFound):
			respondError(w, http.StatusNotFound, "clip not found")
		default:
			s.logger.Error().Err(err).Str("clip", path).Msg("injection failed")
			respondError(w, http.StatusInternalServerError, "injection failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"decision": decision,
		"now":      s.deps.Stream.Status(),
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Voices.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list voices failed")
		respondError(w, http.StatusInternalServerError, "listing voices failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": list})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	voice, err := s.deps.Voices.Current(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("current voice lookup failed")
		respondError(w, http.StatusInternalServerError, "voice lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, voice)
}

type addVoiceRequest struct {
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Locale    string `json:"locale"`
	Gender    string `json:"gender"`
}

func (s *Server) handleAddVoice(w http.ResponseWriter, r *http.Request) {
	var req addVoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.ShortName = strings.TrimSpace(req.ShortName)
	if req.Name == "" || req.ShortName == "" {
		respondError(w, http.StatusBadRequest, "name and short_name are required")
		return
	}

	if _, err := s.deps.Voices.Import(r.Context(), []voices.Voice{{
		Name:      req.Name,
		ShortName: req.ShortName,
		Locale:    req.Locale,
		Gender:    req.Gender,
	}}); err != nil {
		s.logger.Error().Err(err).Str("voice", req.Name).Msg("adding voice failed")
		respondError(w, http.StatusInternalServerError, "adding voice failed")
		return
	}

	voice, err := s.deps.Voices.Get(r.Context(), req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "adding voice failed")
		return
	}
	respondJSON(w, http.StatusCreated, voice)
}

func (s *Server) handleUseVoice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	voice, err := s.deps.Voices.Use(r.Context(), name)
	if err != nil {
		if errors.Is(err, voices.ErrVoiceNotFound) {
			respondError(w, http.StatusNotFound, "no such voice")
			return
		}
		s.logger.Error().Err(err).Str("voice", name).Msg("voice selection failed")
		respondError(w, http.StatusInternalServerError, "voice selection failed")
		return
	}
	respondJSON(w, http.StatusOK, voice)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.LogBuffer == nil {
		respondError(w, http.StatusNotFound, "log buffer disabled")
		return
	}

	q := r.URL.Query()
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Search:     q.Get("search"),
		Descending: q.Get("order") == "desc",
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		params.Since = ts
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		params.Limit = n
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries": s.deps.LogBuffer.Query(params)})
}

type tokenRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminPasswordHash == "" || s.cfg.JWTSigningKey == "" {
		respondError(w, http.StatusNotFound, "token endpoint disabled")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := auth.CheckPassword(s.cfg.AdminPasswordHash, req.Password); err != nil {
		respondError(w, http.StatusUnauthorized, "bad credentials")
		return
	}

	const ttl = 12 * time.Hour
	token, err := auth.Issue([]byte(s.cfg.JWTSigningKey), "admin", ttl)
	if err != nil {
		s.logger.Error().Err(err).Msg("token issue failed")
		respondError(w, http.StatusInternalServerError, "token issue failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": time.Now().Add(ttl),
	})
}
