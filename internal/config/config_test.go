/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Codec != CodecMP3 {
		t.Fatalf("unexpected default codec: %q", cfg.Codec)
	}
	if cfg.BitrateKbps != 128 {
		t.Fatalf("unexpected default bitrate: %d", cfg.BitrateKbps)
	}
	if cfg.ClipCacheDir != cfg.MediaRoot {
		t.Fatalf("clip cache dir should default to media root, got %q", cfg.ClipCacheDir)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected default db backend: %q", cfg.DBBackend)
	}
}

func TestLoadRejectsUnrecognizedEncoderOptions(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad codec", "PLAYRADIO_CODEC", "flac"},
		{"bad bitrate", "PLAYRADIO_BITRATE_KBPS", "113"},
		{"bad sample rate", "PLAYRADIO_SAMPLE_RATE", "8000"},
		{"bad channels", "PLAYRADIO_CHANNELS", "6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected load to reject %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadRejectsOpusAtNon48k(t *testing.T) {
	t.Setenv("PLAYRADIO_CODEC", "opus")
	t.Setenv("PLAYRADIO_SAMPLE_RATE", "44100")
	if _, err := Load(); err == nil {
		t.Fatal("expected opus at 44100 Hz to be rejected")
	}

	t.Setenv("PLAYRADIO_SAMPLE_RATE", "48000")
	if _, err := Load(); err != nil {
		t.Fatalf("expected opus at 48000 Hz to load: %v", err)
	}
}

func TestLoadProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("PLAYRADIO_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a signing key")
	}

	t.Setenv("PLAYRADIO_JWT_SIGNING_KEY", "supersecret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected production config load with signing key to succeed: %v", err)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
}
