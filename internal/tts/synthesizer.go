/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tts synthesizes speech clips through the edge-tts command line
// tool.
package tts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/telemetry"
)

// ErrSynthesisFailed wraps engine failures.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// VoiceInfo describes one voice the engine offers.
type VoiceInfo struct {
	ShortName string
	Locale    string
	Gender    string
}

// Synthesizer turns text into an audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error)
	ListVoices(ctx context.Context) ([]VoiceInfo, error)
}

// EdgeTTS runs the edge-tts CLI for each synthesis request.
type EdgeTTS struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewEdgeTTS creates a CLI-backed synthesizer.
func NewEdgeTTS(bin string, timeout time.Duration, logger zerolog.Logger) *EdgeTTS {
	return &EdgeTTS{
		bin:     bin,
		timeout: timeout,
		logger:  logger.With().Str("component", "tts").Logger(),
	}
}

// Synthesize renders text with the given voice and returns the audio.
// The returned reader owns a temp file and cleans it up on Close.
func (e *EdgeTTS) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	tmp, err := os.CreateTemp("", "playradio-tts-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("create temp clip: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	start := time.Now()
	cmd := exec.CommandContext(runCtx, e.bin,
		"--voice", voice,
		"--text", text,
		"--write-media", tmpPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		e.logger.Error().Err(err).Str("voice", voice).Str("stderr", stderr.String()).Msg("synthesis failed")
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	telemetry.SynthesisDuration.Observe(time.Since(start).Seconds())

	f, err := os.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("open synthesized clip: %w", err)
	}

	e.logger.Info().
		Str("voice", voice).
		Int("text_len", len(text)).
		Dur("took", time.Since(start)).
		Msg("clip synthesized")

	return &removeOnClose{File: f, path: tmpPath}, nil
}

// ListVoices asks the engine which voices it offers.
func (e *EdgeTTS) ListVoices(ctx context.Context) ([]VoiceInfo, error) {
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.bin, "--list-voices")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseVoiceList(bytes.NewReader(out)), nil
}

// parseVoiceList reads the CLI's tabular voice listing: a header row, a
// dashed separator, then "ShortName Gender ..." rows.
func parseVoiceList(r io.Reader) []VoiceInfo {
	var list []VoiceInfo
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "Name") || strings.HasPrefix(line, "-") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		short := fields[0]
		list = append(list, VoiceInfo{
			ShortName: short,
			Locale:    localeOf(short),
			Gender:    fields[1],
		})
	}
	return list
}

// localeOf extracts "en-IN" from "en-IN-PrabhatNeural".
func localeOf(shortName string) string {
	parts := strings.SplitN(shortName, "-", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}

// Alias derives the API alias from an engine voice name:
// "en-IN-PrabhatNeural" becomes "prabhat".
func Alias(shortName string) string {
	parts := strings.Split(shortName, "-")
	last := parts[len(parts)-1]
	last = strings.TrimSuffix(last, "Neural")
	return strings.ToLower(last)
}

// removeOnClose deletes the backing temp file when the reader is closed.
type removeOnClose struct {
	*os.File
	path string
}

func (r *removeOnClose) Close() error {
	err := r.File.Close()
	if rmErr := os.Remove(r.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
