/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package watcher injects audio clips dropped into a watched directory.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors a directory and reports settled new audio files.
type Watcher struct {
	dir    string
	settle time.Duration
	ignore map[string]struct{}
	notify func(path string)
	logger zerolog.Logger

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// New creates a watcher for dir. notify is called with the full path of a
// new .mp3 once writes to it have settled. Names in ignore are skipped.
func New(dir string, settle time.Duration, ignore []string, notify func(path string), logger zerolog.Logger) *Watcher {
	ignored := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		ignored[name] = struct{}{}
	}
	return &Watcher{
		dir:    dir,
		settle: settle,
		ignore: ignored,
		notify: notify,
		logger: logger.With().Str("component", "watcher").Logger(),
		timers: make(map[string]*time.Timer),
	}
}

// Start begins watching. It returns after the watch is registered; events
// are handled in the background until the context ends.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.fsw = fsw

	w.logger.Info().Str("dir", w.dir).Dur("settle", w.settle).Msg("watching for new clips")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	err := w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.mu.Unlock()
	return err
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handle(event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

// handle debounces per file: each write resets the settle timer so the
// clip is only reported once it stops growing.
func (w *Watcher) handle(path string) {
	name := filepath.Base(path)
	if !strings.EqualFold(filepath.Ext(name), ".mp3") {
		return
	}
	if _, skip := w.ignore[name]; skip {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		w.logger.Info().Str("path", path).Msg("new clip settled")
		w.notify(path)
	})
}
