/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dusanmitrovic98/play-radio-tts/internal/auth"
	"github.com/dusanmitrovic98/play-radio-tts/internal/broadcast"
	"github.com/dusanmitrovic98/play-radio-tts/internal/config"
	"github.com/dusanmitrovic98/play-radio-tts/internal/encoder"
	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
	"github.com/dusanmitrovic98/play-radio-tts/internal/livestream"
	"github.com/dusanmitrovic98/play-radio-tts/internal/logbuffer"
	"github.com/dusanmitrovic98/play-radio-tts/internal/media"
	"github.com/dusanmitrovic98/play-radio-tts/internal/playlist"
	"github.com/dusanmitrovic98/play-radio-tts/internal/tts"
	"github.com/dusanmitrovic98/play-radio-tts/internal/voices"
)

type fakeEncoder struct {
	out   chan []byte
	errCh chan error
	syncs int32
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{out: make(chan []byte, 16), errCh: make(chan error, 1)}
}

func (f *fakeEncoder) Start(ctx context.Context, initial playlist.Source) error { return nil }
func (f *fakeEncoder) Stop()                                                    {}
func (f *fakeEncoder) SyncSource()                                              { atomic.AddInt32(&f.syncs, 1) }

func (f *fakeEncoder) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-f.errCh:
		return nil, err
	case chunk := <-f.out:
		return chunk, nil
	}
}

type fakeSynth struct {
	lastText  string
	lastVoice string
	fail      bool
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	f.lastText = text
	f.lastVoice = voice
	if f.fail {
		return nil, tts.ErrSynthesisFailed
	}
	return io.NopCloser(strings.NewReader("FAKEAUDIO")), nil
}

func (f *fakeSynth) ListVoices(ctx context.Context) ([]tts.VoiceInfo, error) {
	return nil, nil
}

type testServer struct {
	srv    *Server
	cfg    *config.Config
	enc    *fakeEncoder
	synth  *fakeSynth
	voices *voices.Store
	logBuf *logbuffer.Buffer
	media  string
}

const testDefaultVoice = "en-IN-PrabhatNeural"

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	mediaRoot := t.TempDir()
	for name, body := range map[string]string{
		"background.mp3": "LOOPDATA",
		"song.mp3":       "SONGDATA",
		"notes.txt":      "not audio",
	} {
		if err := os.WriteFile(filepath.Join(mediaRoot, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := &config.Config{
		MediaRoot:       mediaRoot,
		ClipCacheDir:    mediaRoot,
		BackgroundTrack: "background.mp3",
		Codec:           config.CodecMP3,
		ListenerQueue:   8,
		ListenerTimeout: time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	mediaSvc, err := media.NewService(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}

	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "voices.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := database.AutoMigrate(&voices.Voice{}); err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus()
	voiceStore := voices.NewStore(database, testDefaultVoice, bus, logger)

	seq := playlist.New(filepath.Join(mediaRoot, "background.mp3"), logger)
	enc := newFakeEncoder()
	hub := broadcast.NewHub(cfg.ContentType(), cfg.ListenerQueue, cfg.ListenerTimeout, logger, bus)
	stream := livestream.NewManager(seq, enc, hub, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	if err := stream.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		stream.Stop()
	})

	synth := &fakeSynth{}
	logBuf := logbuffer.New(128)

	srv := New(cfg, Deps{
		Stream:    stream,
		Hub:       hub,
		Media:     mediaSvc,
		Voices:    voiceStore,
		Synth:     synth,
		Bus:       bus,
		Publisher: bus,
		LogBuffer: logBuf,
	}, logger)

	return &testServer{
		srv:    srv,
		cfg:    cfg,
		enc:    enc,
		synth:  synth,
		voices: voiceStore,
		logBuf: logBuf,
		media:  mediaRoot,
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCurrentReportsLoopingState(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/current", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["state"] != string(playlist.StateLooping) {
		t.Errorf("state = %v, want looping", body["state"])
	}
	if body["available"] != true {
		t.Errorf("available = %v, want true", body["available"])
	}
}

func TestSongsListsOnlyAudio(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/songs", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	songs, ok := body["songs"].([]any)
	if !ok {
		t.Fatalf("songs missing in %v", body)
	}
	for _, s := range songs {
		if s == "notes.txt" {
			t.Errorf("non-audio file leaked into songs: %v", songs)
		}
	}
}

func TestPlayInjectsExistingSong(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/play/song.mp3", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["decision"] != string(playlist.DecisionAccepted) {
		t.Errorf("decision = %v, want accepted", body["decision"])
	}
	if atomic.LoadInt32(&ts.enc.syncs) == 0 {
		t.Error("encoder was not nudged after injection")
	}

	rec = ts.do(t, http.MethodGet, "/current", nil, nil)
	now := decodeBody(t, rec)
	if now["state"] != string(playlist.StatePlayingClip) {
		t.Errorf("state after play = %v, want playing_clip", now["state"])
	}
}

func TestPlayMissingSongReturns404(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/play/nope.mp3", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPlayRejectsDotfileName(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/play/.hidden.mp3", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSaySynthesizesStoresAndInjects(t *testing.T) {
	ts := newTestServer(t, nil)

	payload := bytes.NewBufferString(`{"text":"hello listeners"}`)
	rec := ts.do(t, http.MethodPost, "/say", payload, map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if ts.synth.lastText != "hello listeners" {
		t.Errorf("synthesized text = %q", ts.synth.lastText)
	}
	if ts.synth.lastVoice != testDefaultVoice {
		t.Errorf("voice = %q, want default %q", ts.synth.lastVoice, testDefaultVoice)
	}

	clip, err := os.ReadFile(filepath.Join(ts.media, latestClipName))
	if err != nil {
		t.Fatalf("stored clip missing: %v", err)
	}
	if string(clip) != "FAKEAUDIO" {
		t.Errorf("clip content = %q", clip)
	}

	body := decodeBody(t, rec)
	if body["decision"] != string(playlist.DecisionAccepted) {
		t.Errorf("decision = %v, want accepted", body["decision"])
	}
}

func TestSayRequiresText(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/say", bytes.NewBufferString(`{"text":"  "}`), map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSayUnknownVoiceReturns404(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/say?text=hi&voice=nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSayReportsSynthesisFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.synth.fail = true

	rec := ts.do(t, http.MethodGet, "/say?text=hi", nil, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestVoiceSelectionFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := ts.voices.Import(context.Background(), []voices.Voice{
		{Name: "prabhat", ShortName: "en-IN-PrabhatNeural", Locale: "en-IN", Gender: "Male"},
		{Name: "jenny", ShortName: "en-US-JennyNeural", Locale: "en-US", Gender: "Female"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := ts.do(t, http.MethodGet, "/voices", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if list, ok := body["voices"].([]any); !ok || len(list) != 2 {
		t.Fatalf("voices = %v, want 2 entries", body["voices"])
	}

	rec = ts.do(t, http.MethodPost, "/use/jenny", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("use status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/voice", nil, nil)
	current := decodeBody(t, rec)
	if current["short_name"] != "en-US-JennyNeural" {
		t.Errorf("current voice = %v, want en-US-JennyNeural", current["short_name"])
	}
}

func TestAddVoiceCreatesCatalogEntry(t *testing.T) {
	ts := newTestServer(t, nil)

	payload := bytes.NewBufferString(`{"name":"aria","short_name":"en-US-AriaNeural","locale":"en-US","gender":"Female"}`)
	rec := ts.do(t, http.MethodPost, "/voice", payload, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["short_name"] != "en-US-AriaNeural" {
		t.Errorf("created voice = %v", body)
	}

	rec = ts.do(t, http.MethodPost, "/voice", bytes.NewBufferString(`{"name":"","short_name":""}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty voice status = %d, want 400", rec.Code)
	}
}

func TestUseUnknownVoiceReturns404(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/use/nobody", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealthzDegradesWhenEncoderDies(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d, want 200", rec.Code)
	}

	ts.enc.errCh <- encoder.ErrEncoderUnavailable

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = ts.do(t, http.MethodGet, "/healthz", nil, nil)
		if rec.Code == http.StatusServiceUnavailable {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("healthz never degraded, last status %d", rec.Code)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = ts.do(t, http.MethodPost, "/play/song.mp3", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("inject on dead stream status = %d, want 503", rec.Code)
	}
}

func TestLogsEndpointFiltersByLevel(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.logBuf.Add(logbuffer.LogEntry{Timestamp: time.Now(), Level: "info", Message: "started", Component: "server"})
	ts.logBuf.Add(logbuffer.LogEntry{Timestamp: time.Now(), Level: "error", Message: "boom", Component: "encoder"})

	rec := ts.do(t, http.MethodGet, "/api/logs?level=error", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	entries, ok := body["entries"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("entries = %v, want exactly the error entry", body["entries"])
	}
}

func TestTokenEndpointAndGuardedRoutes(t *testing.T) {
	hash, err := auth.HashPassword("open sesame")
	if err != nil {
		t.Fatal(err)
	}
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.JWTSigningKey = "test-signing-key"
		cfg.AdminPasswordHash = hash
	})

	// Guarded route rejects anonymous callers.
	rec := ts.do(t, http.MethodPost, "/play/song.mp3", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous play status = %d, want 401", rec.Code)
	}

	// Wrong password is rejected.
	rec = ts.do(t, http.MethodPost, "/api/token", bytes.NewBufferString(`{"password":"wrong"}`), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/token", bytes.NewBufferString(`{"password":"open sesame"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", rec.Code, rec.Body.String())
	}
	token, _ := decodeBody(t, rec)["token"].(string)
	if token == "" {
		t.Fatal("no token in response")
	}

	rec = ts.do(t, http.MethodPost, "/play/song.mp3", nil, map[string]string{"Authorization": "Bearer " + token})
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized play status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestTokenEndpointDisabledWithoutHash(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/token", bytes.NewBufferString(`{"password":"x"}`), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
