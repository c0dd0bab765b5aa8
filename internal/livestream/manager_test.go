/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/broadcast"
	"github.com/dusanmitrovic98/play-radio-tts/internal/encoder"
	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
	"github.com/dusanmitrovic98/play-radio-tts/internal/playlist"
)

// fakeEncoder emits whatever the test feeds it and records source syncs.
type fakeEncoder struct {
	out   chan []byte
	errCh chan error
	syncs int32
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{
		out:   make(chan []byte, 16),
		errCh: make(chan error, 1),
	}
}

func (f *fakeEncoder) Start(ctx context.Context, initial playlist.Source) error { return nil }
func (f *fakeEncoder) Stop()                                                    {}
func (f *fakeEncoder) SyncSource()                                              { atomic.AddInt32(&f.syncs, 1) }

func (f *fakeEncoder) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-f.out:
		return chunk, nil
	case err := <-f.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeEncoder, *broadcast.Hub, string) {
	t.Helper()

	dir := t.TempDir()
	background := filepath.Join(dir, "background.mp3")
	if err := os.WriteFile(background, []byte("bg"), 0o644); err != nil {
		t.Fatal(err)
	}

	seq := playlist.New(background, zerolog.Nop())
	enc := newFakeEncoder()
	bus := events.NewBus()
	hub := broadcast.NewHub("audio/mpeg", 16, time.Second, zerolog.Nop(), bus)
	return NewManager(seq, enc, hub, bus, zerolog.Nop()), enc, hub, dir
}

func TestStreamFlowsToListeners(t *testing.T) {
	m, enc, hub, _ := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	reqCtx, reqCancel := context.WithCancel(ctx)
	defer reqCancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ListenerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	enc.out <- []byte("encoded-audio")

	buf := make([]byte, 13)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(buf) != "encoded-audio" {
		t.Errorf("stream bytes = %q", buf)
	}
}

func TestInjectTransitionsStateAndSyncsEncoder(t *testing.T) {
	m, enc, _, dir := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if st := m.Status(); st.State != playlist.StateLooping || !st.Available {
		t.Fatalf("initial status = %+v", st)
	}

	clip := filepath.Join(dir, "announcement.mp3")
	if err := os.WriteFile(clip, []byte("clip"), 0o644); err != nil {
		t.Fatal(err)
	}

	decision, err := m.Inject(clip)
	if err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if decision != playlist.DecisionAccepted {
		t.Errorf("decision = %s, want accepted", decision)
	}
	if atomic.LoadInt32(&enc.syncs) == 0 {
		t.Error("injection did not nudge the encoder")
	}

	st := m.Status()
	if st.State != playlist.StatePlayingClip {
		t.Errorf("state = %s, want playing_clip", st.State)
	}
	if st.Track != "announcement.mp3" {
		t.Errorf("track = %q, want announcement.mp3", st.Track)
	}
}

func TestInjectMissingClipLeavesStateUntouched(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	decision, err := m.Inject("/nonexistent/clip.mp3")
	if !errors.Is(err, playlist.ErrClipNotFound) {
		t.Fatalf("err = %v, want ErrClipNotFound", err)
	}
	if decision != playlist.DecisionRejected {
		t.Errorf("decision = %s, want rejected", decision)
	}
	if st := m.Status(); st.State != playlist.StateLooping {
		t.Errorf("state = %s, want looping", st.State)
	}
}

func TestEncoderFailureMakesStreamUnavailable(t *testing.T) {
	m, enc, _, dir := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	enc.errCh <- encoder.ErrEncoderUnavailable

	deadline := time.Now().Add(2 * time.Second)
	for m.Status().Available {
		if time.Now().After(deadline) {
			t.Fatal("stream never became unavailable")
		}
		time.Sleep(5 * time.Millisecond)
	}

	clip := filepath.Join(dir, "clip.mp3")
	if err := os.WriteFile(clip, []byte("clip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Inject(clip); !errors.Is(err, ErrStreamUnavailable) {
		t.Errorf("Inject err = %v, want ErrStreamUnavailable", err)
	}
}
