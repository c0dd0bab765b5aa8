/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media stores and resolves the audio files the station plays:
// library songs, the background track, and synthesized speech clips.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/config"
)

var (
	// ErrInvalidName indicates a file name with path separators or other
	// traversal attempts.
	ErrInvalidName = errors.New("invalid media name")

	// ErrNotFound indicates the named file does not exist in storage.
	ErrNotFound = errors.New("media not found")
)

// Storage abstracts where audio files live.
type Storage interface {
	Store(ctx context.Context, name string, file io.Reader) (string, error)
	Fetch(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
	CheckAccess(ctx context.Context) error
}

// localizer is implemented by backends whose files are already on local
// disk and need no cache copy.
type localizer interface {
	LocalPath(name string) (string, error)
}

// Service manages the station's audio files on the configured backend.
type Service struct {
	storage  Storage
	cacheDir string
	logger   zerolog.Logger
}

// NewService creates a media service using filesystem or S3 storage
// depending on configuration.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	log := logger.With().Str("component", "media").Logger()

	var storage Storage
	if cfg.S3Bucket != "" {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		}
		s3Storage, err := NewS3Storage(context.Background(), s3cfg, log)
		if err != nil {
			return nil, fmt.Errorf("initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		storage = NewFilesystemStorage(cfg.MediaRoot, log)
	}

	cacheDir := cfg.ClipCacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "playradio-cache")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip cache dir: %w", err)
	}

	return &Service{storage: storage, cacheDir: cacheDir, logger: log}, nil
}

// newServiceWithStorage wires a specific backend. Used in tests.
func newServiceWithStorage(storage Storage, cacheDir string, logger zerolog.Logger) *Service {
	return &Service{storage: storage, cacheDir: cacheDir, logger: logger}
}

// ValidateName rejects names that could escape the media root.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return nil
}

// ListSongs returns the playable .mp3 files in storage, sorted by name.
func (s *Service) ListSongs(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}

	songs := make([]string, 0, len(names))
	for _, name := range names {
		if strings.EqualFold(filepath.Ext(name), ".mp3") {
			songs = append(songs, name)
		}
	}
	sort.Strings(songs)
	return songs, nil
}

// Localize returns a local filesystem path for the named file, fetching it
// into the cache when the backend is remote.
func (s *Service) Localize(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	if l, ok := s.storage.(localizer); ok {
		return l.LocalPath(name)
	}

	rc, err := s.storage.Fetch(ctx, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dest := filepath.Join(s.cacheDir, name)
	tmp, err := os.CreateTemp(s.cacheDir, name+".*")
	if err != nil {
		return "", fmt.Errorf("create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return "", fmt.Errorf("cache %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("install cached %s: %w", name, err)
	}

	s.logger.Debug().Str("name", name).Str("path", dest).Msg("media cached locally")
	return dest, nil
}

// StoreClip writes a synthesized clip to storage and returns a local path
// the encoder can play.
func (s *Service) StoreClip(ctx context.Context, name string, file io.Reader) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	if _, err := s.storage.Store(ctx, name, file); err != nil {
		return "", fmt.Errorf("store clip %s: %w", name, err)
	}
	s.logger.Info().Str("name", name).Msg("clip stored")

	return s.Localize(ctx, name)
}

// Delete removes a file from storage.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// CheckStorageAccess verifies the backend is reachable.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}
