/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FilesystemStorage keeps audio files in a local directory.
type FilesystemStorage struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{rootDir: rootDir, logger: logger}
}

// Store writes a file into the media root, replacing any previous version
// atomically.
func (fs *FilesystemStorage) Store(ctx context.Context, name string, file io.Reader) (string, error) {
	if err := os.MkdirAll(fs.rootDir, 0o755); err != nil {
		return "", fmt.Errorf("create media root: %w", err)
	}

	fullPath := filepath.Join(fs.rootDir, name)
	tmp, err := os.CreateTemp(fs.rootDir, name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("install file: %w", err)
	}

	fs.logger.Debug().Str("path", fullPath).Msg("filesystem storage: file stored")
	return name, nil
}

// Fetch opens a stored file.
func (fs *FilesystemStorage) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(fs.rootDir, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Delete removes a file. Deleting a missing file is not an error.
func (fs *FilesystemStorage) Delete(ctx context.Context, name string) error {
	fullPath := filepath.Join(fs.rootDir, name)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// List returns the regular files in the media root.
func (fs *FilesystemStorage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.rootDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read media root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// LocalPath resolves a name to its on-disk path, verifying it exists.
func (fs *FilesystemStorage) LocalPath(name string) (string, error) {
	fullPath := filepath.Join(fs.rootDir, name)
	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidName, name)
	}
	return fullPath, nil
}

// CheckAccess verifies the media root exists and is a directory.
func (fs *FilesystemStorage) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("media root does not exist: %s", fs.rootDir)
		}
		return fmt.Errorf("cannot access media root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media root is not a directory: %s", fs.rootDir)
	}
	return nil
}
