/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package encoder

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
	"github.com/dusanmitrovic98/play-radio-tts/internal/playlist"
	"github.com/dusanmitrovic98/play-radio-tts/internal/telemetry"
)

// ErrEncoderUnavailable is returned once the encoding process has failed to
// restart repeatedly and the stream can no longer be produced.
var ErrEncoderUnavailable = errors.New("encoder unavailable")

const (
	feedChunkSize = 4096
	outChunkSize  = 4096

	// A process that dies this many times in a row, without ever running
	// long enough to reset the counter, takes the stream down.
	maxConsecutiveFails = 3
	failureResetAfter   = 30 * time.Second

	restartBackoff = 500 * time.Millisecond
)

// Callbacks connect the manager to the playback state machine. The manager
// reports natural clip boundaries and asks what to feed next.
type Callbacks struct {
	// OnClipFinished is invoked when a one-shot source reaches EOF, before
	// the next source is requested.
	OnClipFinished func()

	// CurrentSource returns the descriptor the feeder should play now. It
	// is consulted after a clip finishes and when a crashed process is
	// restarted from the beginning of the current source.
	CurrentSource func() playlist.Source
}

// Manager owns exactly one external encoding process at a time. It feeds
// source audio on the process stdin without ever restarting the process for
// an ordinary source switch, and supervises unexpected exits.
type Manager struct {
	factory RunnerFactory
	open    Opener
	cb      Callbacks
	bus     *events.Bus
	logger  zerolog.Logger

	startupTimeout time.Duration

	out     chan []byte
	fatalCh chan error
	recheck chan struct{}

	mu       sync.Mutex
	fatalErr error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures optional manager behavior.
type Option func(*Manager)

// WithOpener replaces the file-backed source opener.
func WithOpener(open Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithEventBus publishes restart and stream-unavailable events.
func WithEventBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithStartupTimeout bounds how long a freshly started process may stay
// silent before it is considered wedged and killed.
func WithStartupTimeout(d time.Duration) Option {
	return func(m *Manager) { m.startupTimeout = d }
}

// NewManager creates a Manager. Start must be called before ReadChunk.
func NewManager(factory RunnerFactory, cb Callbacks, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		factory:        factory,
		open:           OpenFile,
		cb:             cb,
		logger:         logger.With().Str("component", "encoder").Logger(),
		startupTimeout: 10 * time.Second,
		out:            make(chan []byte, 8),
		fatalCh:        make(chan error, 1),
		recheck:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the encoding process and its supervision loop, feeding it
// the given initial source.
func (m *Manager) Start(ctx context.Context, initial playlist.Source) error {
	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		cancel()
		return errors.New("encoder manager already started")
	}
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.supervise(runCtx, initial)
	}()
	return nil
}

// Stop tears down the process and waits for the supervision loop to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// SyncSource tells the feeder to re-consult the authoritative source at
// the next feed boundary and switch its input if it changed. The process
// keeps running; only its input changes. The call never blocks.
func (m *Manager) SyncSource() {
	select {
	case m.recheck <- struct{}{}:
	default:
	}
}

// ReadChunk returns the next encoded chunk from the process. It blocks
// until a chunk is available, the context ends, or the encoder becomes
// permanently unavailable.
func (m *Manager) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := m.fatal(); err != nil {
		return nil, err
	}
	select {
	case chunk := <-m.out:
		return chunk, nil
	case err := <-m.fatalCh:
		m.setFatal(err)
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) fatal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatalErr
}

func (m *Manager) setFatal(err error) {
	m.mu.Lock()
	if m.fatalErr == nil {
		m.fatalErr = err
	}
	m.mu.Unlock()
}

// supervise runs one process at a time, restarting on unexpected exit.
// Each restart resumes the current source from its beginning; enough
// consecutive quick failures mark the stream unavailable.
func (m *Manager) supervise(ctx context.Context, initial playlist.Source) {
	src := initial
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := m.runProcess(ctx, src)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > failureResetAfter {
			failures = 0
		}
		failures++

		if failures >= maxConsecutiveFails {
			m.logger.Error().Err(err).Int("failures", failures).Msg("encoder failed repeatedly, stream unavailable")
			m.publish(events.EventStreamUnavailable, events.Payload{"failures": failures})
			select {
			case m.fatalCh <- ErrEncoderUnavailable:
			default:
			}
			m.setFatal(ErrEncoderUnavailable)
			return
		}

		// A pending recheck is stale: the restart consults the
		// authoritative source anyway.
		select {
		case <-m.recheck:
		default:
		}
		if m.cb.CurrentSource != nil {
			src = m.cb.CurrentSource()
		}

		m.logger.Warn().Err(err).Int("failures", failures).Str("source", src.Name).Msg("encoder exited, restarting")
		telemetry.EncoderRestartsTotal.Inc()
		m.publish(events.EventEncoderRestart, events.Payload{"failures": failures, "source": src.Name})

		select {
		case <-time.After(restartBackoff):
		case <-ctx.Done():
			return
		}
	}
}

// runProcess starts one process, feeds it, pumps its output, and returns
// when the process exits. The returned error describes the exit.
func (m *Manager) runProcess(ctx context.Context, src playlist.Source) error {
	runner := m.factory()
	if err := runner.Start(ctx); err != nil {
		return err
	}

	procDone := make(chan struct{})
	firstChunk := make(chan struct{}, 1)

	go m.feed(ctx, runner.Stdin(), src, procDone)
	go m.pump(ctx, runner.Stdout(), firstChunk)
	go m.watchStartup(runner, firstChunk, procDone)

	go func() {
		select {
		case <-ctx.Done():
			_ = runner.Stop()
		case <-procDone:
		}
	}()

	err := runner.Wait()
	close(procDone)
	return err
}

// watchStartup kills a process that produces no output within the startup
// timeout, turning a silent hang into an ordinary restartable exit.
func (m *Manager) watchStartup(runner Runner, firstChunk, procDone <-chan struct{}) {
	timer := time.NewTimer(m.startupTimeout)
	defer timer.Stop()
	select {
	case <-firstChunk:
	case <-procDone:
	case <-timer.C:
		m.logger.Warn().Dur("timeout", m.startupTimeout).Msg("encoder produced no output, killing")
		_ = runner.Stop()
	}
}

// feed owns the process stdin. It copies the current source into the
// process, honoring switch requests at chunk boundaries so a source change
// never restarts the process, and rolls one-shot sources over at EOF.
func (m *Manager) feed(ctx context.Context, stdin io.WriteCloser, src playlist.Source, procDone <-chan struct{}) {
	defer stdin.Close()

	reader, err := m.open(src)
	if err != nil {
		m.logger.Error().Err(err).Str("source", src.Name).Msg("failed to open source")
		return
	}
	defer func() {
		if reader != nil {
			_ = reader.Close()
		}
	}()

	buf := make([]byte, feedChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-procDone:
			return
		case <-m.recheck:
			next := src
			if m.cb.CurrentSource != nil {
				next = m.cb.CurrentSource()
			}
			if next == src {
				continue
			}
			_ = reader.Close()
			reader, err = m.open(next)
			if err != nil {
				m.logger.Error().Err(err).Str("source", next.Name).Msg("failed to open switched source")
				return
			}
			src = next
			m.logger.Info().Str("source", src.Name).Bool("loop", src.Loop).Msg("feeder switched source")
			continue
		default:
		}

		n, rerr := reader.Read(buf)
		if n > 0 {
			if _, werr := stdin.Write(buf[:n]); werr != nil {
				// Process went away; the supervisor handles it.
				return
			}
		}
		if rerr == nil {
			continue
		}

		if rerr == io.EOF && !src.Loop {
			if m.cb.OnClipFinished != nil {
				m.cb.OnClipFinished()
			}
			next := src
			if m.cb.CurrentSource != nil {
				next = m.cb.CurrentSource()
			}
			_ = reader.Close()
			reader, err = m.open(next)
			if err != nil {
				m.logger.Error().Err(err).Str("source", next.Name).Msg("failed to open next source")
				return
			}
			src = next
			continue
		}

		m.logger.Error().Err(rerr).Str("source", src.Name).Msg("source read failed")
		return
	}
}

// pump owns the process stdout, forwarding encoded chunks to ReadChunk.
func (m *Manager) pump(ctx context.Context, stdout io.Reader, firstChunk chan<- struct{}) {
	buf := make([]byte, outChunkSize)
	signaled := false
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if !signaled {
				signaled = true
				select {
				case firstChunk <- struct{}{}:
				default:
				}
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case m.out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) publish(eventType events.EventType, payload events.Payload) {
	if m.bus != nil {
		m.bus.Publish(eventType, payload)
	}
}
