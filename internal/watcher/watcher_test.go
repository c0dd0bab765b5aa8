/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNotifiesOnSettledClip(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 4)

	w := New(dir, 50*time.Millisecond, []string{"background.mp3"}, func(path string) {
		got <- path
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()

	path := filepath.Join(dir, "drop.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-got:
		if p != path {
			t.Errorf("notified path = %q, want %q", p, path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("clip never reported")
	}
}

func TestIgnoresConfiguredAndNonAudioFiles(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 4)

	w := New(dir, 50*time.Millisecond, []string{"background.mp3"}, func(path string) {
		got <- path
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Close()

	for _, name := range []string{"background.mp3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case p := <-got:
		t.Fatalf("unexpected notification for %q", p)
	case <-time.After(300 * time.Millisecond):
	}
}
