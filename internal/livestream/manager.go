/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package livestream ties the playback state machine, the encoder process
// and the listener fan-out together into one continuously running stream.
package livestream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/broadcast"
	"github.com/dusanmitrovic98/play-radio-tts/internal/encoder"
	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
	"github.com/dusanmitrovic98/play-radio-tts/internal/playlist"
	"github.com/dusanmitrovic98/play-radio-tts/internal/telemetry"
)

// ErrStreamUnavailable is returned by Inject once the encoder has failed
// permanently and no stream is being produced.
var ErrStreamUnavailable = errors.New("stream unavailable")

// Encoder is the slice of the encoder manager the control loop needs.
type Encoder interface {
	Start(ctx context.Context, initial playlist.Source) error
	Stop()
	SyncSource()
	ReadChunk(ctx context.Context) ([]byte, error)
}

// Status is the public view of the stream for the status endpoint.
type Status struct {
	State     playlist.StateKind `json:"state"`
	Track     string             `json:"track"`
	Since     time.Time          `json:"since"`
	Listeners int                `json:"listeners"`
	Available bool               `json:"available"`
}

// Manager runs the single shared radio stream: one sequencer, one encoder
// process, one fan-out hub. All exported methods are safe for concurrent
// use.
type Manager struct {
	seq    *playlist.Sequencer
	enc    Encoder
	hub    *broadcast.Hub
	bus    *events.Bus
	logger zerolog.Logger

	mu        sync.Mutex
	available bool
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager wires the stream components together.
func NewManager(seq *playlist.Sequencer, enc Encoder, hub *broadcast.Hub, bus *events.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		seq:    seq,
		enc:    enc,
		hub:    hub,
		bus:    bus,
		logger: logger.With().Str("component", "livestream").Logger(),
	}
}

// Start launches the encoder on the current source and begins pumping
// encoded chunks to listeners.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("livestream already started")
	}
	m.started = true
	m.available = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	initial := m.seq.CurrentSource()
	if err := m.enc.Start(runCtx, initial); err != nil {
		cancel()
		return err
	}

	m.logger.Info().Str("source", initial.Name).Msg("livestream started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx)
	}()
	return nil
}

// Stop shuts the stream down and disconnects all listeners.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.enc.Stop()
	m.wg.Wait()
	m.hub.Close()
}

// run is the control loop: move encoded chunks to the hub and surface
// playback transitions as events.
func (m *Manager) run(ctx context.Context) {
	lastTrack := ""
	for {
		chunk, err := m.enc.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, encoder.ErrEncoderUnavailable) {
				m.mu.Lock()
				m.available = false
				m.mu.Unlock()
				m.logger.Error().Msg("encoder permanently failed, stream is down")
				return
			}
			m.logger.Error().Err(err).Msg("read chunk failed")
			return
		}

		m.hub.Push(chunk)

		if snap := m.seq.Snapshot(); snap.Track != lastTrack {
			lastTrack = snap.Track
			m.publishNowPlaying(snap)
		}
	}
}

// Inject asks the sequencer to play a clip and nudges the encoder to pick
// it up at the next chunk boundary. The background loop resumes by itself
// when the clip ends.
func (m *Manager) Inject(clipPath string) (playlist.Decision, error) {
	m.mu.Lock()
	available := m.available && m.started
	m.mu.Unlock()
	if !available {
		telemetry.InjectionsTotal.WithLabelValues("unavailable").Inc()
		return playlist.DecisionRejected, ErrStreamUnavailable
	}

	decision, err := m.seq.RequestInjection(clipPath)
	if err != nil {
		telemetry.InjectionsTotal.WithLabelValues("rejected").Inc()
		m.publishInjection(events.EventInjectionRejected, clipPath)
		return decision, err
	}

	m.enc.SyncSource()

	switch decision {
	case playlist.DecisionSuperseded:
		telemetry.InjectionsTotal.WithLabelValues("superseded").Inc()
		m.publishInjection(events.EventInjectionSuperseded, clipPath)
	default:
		telemetry.InjectionsTotal.WithLabelValues("accepted").Inc()
		m.publishInjection(events.EventInjectionAccepted, clipPath)
	}
	return decision, nil
}

// Status reports what is playing, since when, and how many listeners are
// attached.
func (m *Manager) Status() Status {
	snap := m.seq.Snapshot()

	m.mu.Lock()
	available := m.available
	m.mu.Unlock()

	return Status{
		State:     snap.Kind,
		Track:     snap.Track,
		Since:     snap.Since,
		Listeners: m.hub.ListenerCount(),
		Available: available,
	}
}

func (m *Manager) publishNowPlaying(snap playlist.State) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.EventNowPlaying, events.Payload{
		"state": string(snap.Kind),
		"track": snap.Track,
		"since": snap.Since,
	})
}

func (m *Manager) publishInjection(eventType events.EventType, clipPath string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventType, events.Payload{"clip": clipPath})
}
