/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package encoder owns the external audio-encoding process: it feeds the
// process a gapless sequence of source bytes on stdin and hands the encoded
// output stream to the livestream control loop.
package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/config"
)

// Runner abstracts the external encoding process so a test double can
// substitute a deterministic byte generator.
type Runner interface {
	Start(ctx context.Context) error
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Wait() error
	Stop() error
}

// RunnerFactory produces a fresh Runner for each (re)start.
type RunnerFactory func() Runner

// BuildArgs assembles the ffmpeg command line for the configured output.
// Input is consumed from stdin at realtime pace; encoded audio goes to
// stdout.
func BuildArgs(cfg *config.Config) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-re",
		"-i", "pipe:0",
		"-vn",
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-ac", fmt.Sprintf("%d", cfg.Channels),
		"-b:a", fmt.Sprintf("%dk", cfg.BitrateKbps),
	}

	switch cfg.Codec {
	case config.CodecAAC:
		args = append(args, "-c:a", "aac", "-f", "adts")
	case config.CodecOpus:
		args = append(args, "-c:a", "libopus", "-f", "ogg")
	default:
		args = append(args, "-c:a", "libmp3lame", "-f", "mp3")
	}

	return append(args, "pipe:1")
}

// ffmpegRunner runs one ffmpeg process with piped stdin/stdout.
type ffmpegRunner struct {
	bin    string
	args   []string
	logger zerolog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// NewFFmpegFactory returns a factory producing ffmpeg runners for the
// configured codec, bitrate and sample rate.
func NewFFmpegFactory(cfg *config.Config, logger zerolog.Logger) RunnerFactory {
	args := BuildArgs(cfg)
	return func() Runner {
		return &ffmpegRunner{
			bin:    cfg.FFmpegBin,
			args:   args,
			logger: logger.With().Str("component", "ffmpeg").Logger(),
		}
	}
}

func (r *ffmpegRunner) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.bin, r.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.bin, err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.stdout = stdout

	go r.drainStderr(stderr)

	r.logger.Info().Int("pid", cmd.Process.Pid).Strs("args", r.args).Msg("encoder process started")
	return nil
}

func (r *ffmpegRunner) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		r.logger.Debug().Str("line", scanner.Text()).Msg("encoder stderr")
	}
}

func (r *ffmpegRunner) Stdin() io.WriteCloser { return r.stdin }
func (r *ffmpegRunner) Stdout() io.Reader     { return r.stdout }

func (r *ffmpegRunner) Wait() error {
	return r.cmd.Wait()
}

// Stop asks the process to terminate, escalating to SIGKILL after a grace
// period. Wait (in the supervising goroutine) observes the exit.
func (r *ffmpegRunner) Stop() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}

	if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
		r.logger.Warn().Err(err).Msg("failed to send interrupt, killing")
		return r.cmd.Process.Kill()
	}

	proc := r.cmd.Process
	time.AfterFunc(3*time.Second, func() {
		_ = proc.Kill()
	})

	return nil
}
