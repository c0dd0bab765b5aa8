/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newFSService(t *testing.T) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	storage := NewFilesystemStorage(root, zerolog.Nop())
	return newServiceWithStorage(storage, t.TempDir(), zerolog.Nop()), root
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"song.mp3", true},
		{"tts-latest.mp3", true},
		{"", false},
		{"../etc/passwd", false},
		{"a/b.mp3", false},
		{`a\b.mp3`, false},
		{".hidden.mp3", false},
	}
	for _, tc := range tests {
		err := ValidateName(tc.name)
		if tc.ok && err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", tc.name, err)
		}
	}
}

func TestListSongsFiltersNonAudio(t *testing.T) {
	svc, root := newFSService(t)

	for _, name := range []string{"b.mp3", "a.mp3", "notes.txt", "cover.jpg"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	songs, err := svc.ListSongs(context.Background())
	if err != nil {
		t.Fatalf("ListSongs failed: %v", err)
	}
	if len(songs) != 2 || songs[0] != "a.mp3" || songs[1] != "b.mp3" {
		t.Errorf("songs = %v, want [a.mp3 b.mp3]", songs)
	}
}

func TestLocalizeResolvesExistingFile(t *testing.T) {
	svc, root := newFSService(t)

	if err := os.WriteFile(filepath.Join(root, "song.mp3"), []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := svc.Localize(context.Background(), "song.mp3")
	if err != nil {
		t.Fatalf("Localize failed: %v", err)
	}
	if filepath.Dir(path) != root {
		t.Errorf("localized path %q outside media root %q", path, root)
	}

	if _, err := svc.Localize(context.Background(), "absent.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Localize(context.Background(), "../song.mp3"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v, want ErrInvalidName", err)
	}
}

func TestStoreClipRoundTrip(t *testing.T) {
	svc, _ := newFSService(t)

	path, err := svc.StoreClip(context.Background(), "tts-latest.mp3", strings.NewReader("synthesized"))
	if err != nil {
		t.Fatalf("StoreClip failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stored clip: %v", err)
	}
	if string(data) != "synthesized" {
		t.Errorf("clip content = %q", data)
	}

	// Overwrite replaces the content.
	path, err = svc.StoreClip(context.Background(), "tts-latest.mp3", strings.NewReader("newer"))
	if err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "newer" {
		t.Errorf("clip content after overwrite = %q", data)
	}
}
