/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package encoder

import (
	"fmt"
	"io"
	"os"

	"github.com/dusanmitrovic98/play-radio-tts/internal/playlist"
)

// Opener turns a playback source descriptor into a byte stream. Tests swap
// it for an in-memory implementation.
type Opener func(src playlist.Source) (io.ReadCloser, error)

// OpenFile is the default Opener: a looping source re-opens its file at EOF
// forever, a clip source plays through exactly once.
func OpenFile(src playlist.Source) (io.ReadCloser, error) {
	if src.Loop {
		return newLoopReader(src.Path)
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("open clip %s: %w", src.Path, err)
	}
	return f, nil
}

// loopReader re-opens the underlying file whenever it reaches EOF, so the
// background track repeats seamlessly from the feeder's point of view.
type loopReader struct {
	path string
	f    *os.File
}

func newLoopReader(path string) (*loopReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open loop source %s: %w", path, err)
	}
	return &loopReader{path: path, f: f}, nil
}

func (l *loopReader) Read(p []byte) (int, error) {
	n, err := l.f.Read(p)
	if err == io.EOF {
		if cerr := l.f.Close(); cerr != nil {
			return n, cerr
		}
		f, oerr := os.Open(l.path)
		if oerr != nil {
			return n, fmt.Errorf("reopen loop source %s: %w", l.path, oerr)
		}
		l.f = f
		if n > 0 {
			return n, nil
		}
		return l.f.Read(p)
	}
	return n, err
}

func (l *loopReader) Close() error {
	return l.f.Close()
}
