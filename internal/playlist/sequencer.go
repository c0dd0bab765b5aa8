/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist decides what audio source plays next: the looping
// background track, or a pending injected clip.
package playlist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrClipNotFound indicates an injection referenced a missing or unreadable file.
	ErrClipNotFound = errors.New("clip not found")
)

// StateKind tags the two playback states.
type StateKind string

const (
	StateLooping     StateKind = "looping"
	StatePlayingClip StateKind = "playing_clip"
)

// Decision is the outcome of an injection request.
type Decision string

const (
	DecisionAccepted   Decision = "accepted"
	DecisionSuperseded Decision = "superseded"
	DecisionRejected   Decision = "rejected"
)

// Source describes the next byte source the encoder should be fed.
type Source struct {
	Path string
	Name string
	Loop bool // re-open at EOF instead of finishing
}

// State is a copy-on-read snapshot of the authoritative playback state.
type State struct {
	Kind  StateKind `json:"state"`
	Track string    `json:"track"`
	Since time.Time `json:"since"`
}

// Probe checks that a clip path can be played. The default probe stats the
// file; tests substitute their own.
type Probe func(path string) error

func statProbe(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// Sequencer owns the playback state machine. It is written only by the
// livestream control loop; status readers get snapshots.
type Sequencer struct {
	background string
	probe      Probe
	logger     zerolog.Logger

	mu          sync.Mutex
	kind        StateKind
	clipPath    string
	clipStarted bool // the control loop has begun feeding the clip
	since       time.Time
	pendingPath string // queued behind a started clip; at most one
}

// New creates a sequencer in the initial Looping state.
func New(backgroundTrack string, logger zerolog.Logger) *Sequencer {
	return &Sequencer{
		background: backgroundTrack,
		probe:      statProbe,
		logger:     logger.With().Str("component", "playlist").Logger(),
		kind:       StateLooping,
		since:      time.Now(),
	}
}

// SetProbe replaces the clip probe. Intended for tests.
func (s *Sequencer) SetProbe(probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probe = probe
}

// RequestInjection records a clip as the next thing to play.
//
// While looping, the request is accepted and playback transitions at the
// next chunk boundary. A request arriving before the previous clip has
// started feeding replaces it outright; a request arriving while a clip is
// audible queues behind it, replacing any queued clip. The newest trigger
// always wins and an accepted request is never silently dropped.
func (s *Sequencer) RequestInjection(clipPath string) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.probe(clipPath); err != nil {
		s.logger.Warn().Err(err).Str("clip", clipPath).Msg("injection rejected")
		return DecisionRejected, fmt.Errorf("%w: %s", ErrClipNotFound, clipPath)
	}

	switch {
	case s.kind == StateLooping:
		s.kind = StatePlayingClip
		s.clipPath = clipPath
		s.clipStarted = false
		s.since = time.Now()
		s.logger.Info().Str("clip", clipPath).Msg("injection accepted")
		return DecisionAccepted, nil

	case !s.clipStarted:
		// The previous clip never reached the encoder; the newer trigger
		// takes its place and the old one is skipped entirely.
		s.logger.Info().
			Str("clip", clipPath).
			Str("superseded", s.clipPath).
			Msg("pending clip superseded before playback")
		s.clipPath = clipPath
		s.since = time.Now()
		return DecisionSuperseded, nil

	case s.pendingPath == "":
		s.pendingPath = clipPath
		s.logger.Info().Str("clip", clipPath).Msg("injection queued after current clip")
		return DecisionAccepted, nil

	default:
		s.logger.Info().
			Str("clip", clipPath).
			Str("superseded", s.pendingPath).
			Msg("queued clip superseded")
		s.pendingPath = clipPath
		return DecisionSuperseded, nil
	}
}

// CurrentSource returns the descriptor the control loop should feed next.
// Calling it marks an un-started clip as started; only the control loop
// may call it.
func (s *Sequencer) CurrentSource() Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == StatePlayingClip {
		if !s.clipStarted {
			s.clipStarted = true
			s.since = time.Now()
		}
		return Source{Path: s.clipPath, Name: filepath.Base(s.clipPath)}
	}

	return Source{Path: s.background, Name: filepath.Base(s.background), Loop: true}
}

// OnClipFinished transitions out of PlayingClip: back to Looping, or
// straight into the queued clip when one is pending.
func (s *Sequencer) OnClipFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != StatePlayingClip {
		return
	}

	if s.pendingPath != "" {
		s.clipPath = s.pendingPath
		s.pendingPath = ""
		s.clipStarted = false
		s.since = time.Now()
		s.logger.Info().Str("clip", s.clipPath).Msg("queued clip promoted")
		return
	}

	s.kind = StateLooping
	s.clipPath = ""
	s.clipStarted = false
	s.since = time.Now()
	s.logger.Info().Msg("clip finished, back to background loop")
}

// Snapshot returns a copy of the authoritative playback state for status
// readers. It never mutates.
func (s *Sequencer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	track := filepath.Base(s.background)
	if s.kind == StatePlayingClip {
		track = filepath.Base(s.clipPath)
	}

	return State{Kind: s.kind, Track: track, Since: s.since}
}

// SourceChanged reports whether the descriptor the control loop is feeding
// no longer matches the authoritative state. The control loop checks this
// at chunk boundaries to pick up injections mid-loop.
func (s *Sequencer) SourceChanged(current Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == StatePlayingClip {
		return current.Loop || current.Path != s.clipPath
	}
	return !current.Loop
}
