/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Codec enumerates the recognized encoder output codecs.
type Codec string

const (
	CodecMP3  Codec = "mp3"
	CodecAAC  Codec = "aac"
	CodecOpus Codec = "opus"
)

var (
	recognizedBitrates    = []int{64, 96, 128, 192, 256}
	recognizedSampleRates = []int{22050, 44100, 48000}
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Media library
	MediaRoot       string // directory holding clips and the background track
	BackgroundTrack string // filename of the looping background track, relative to MediaRoot
	ClipCacheDir    string // local cache for clips fetched from object storage

	// Encoder
	FFmpegBin       string
	Codec           Codec
	BitrateKbps     int
	SampleRate      int
	Channels        int
	EncoderStartup  time.Duration // startup timeout before a restart is forced
	ListenerQueue   int           // per-session queue capacity in chunks
	ListenerTimeout time.Duration // stalled send before a session is evicted

	// Database (voice catalog)
	DBBackend DatabaseBackend
	DBDSN     string

	// Auth
	JWTSigningKey     string
	AdminPasswordHash string // bcrypt hash; empty disables the token endpoint

	// TTS
	TTSBin         string
	DefaultVoice   string
	TTSTimeout     time.Duration
	VoicesSeedFile string

	// Clip watcher
	WatcherEnabled bool
	WatcherSettle  time.Duration

	// Events
	NATSURL string // empty disables the NATS bridge

	// S3 object storage (optional clip source)
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("PLAYRADIO_ENV", "development"),
		HTTPBind:    getEnv("PLAYRADIO_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("PLAYRADIO_HTTP_PORT", 5002),
		MetricsBind: getEnv("PLAYRADIO_METRICS_BIND", "127.0.0.1:9000"),

		MediaRoot:       getEnv("PLAYRADIO_MEDIA_ROOT", "./tts"),
		BackgroundTrack: getEnv("PLAYRADIO_BACKGROUND_TRACK", "background.mp3"),
		ClipCacheDir:    getEnv("PLAYRADIO_CLIP_CACHE_DIR", ""),

		FFmpegBin:       getEnv("PLAYRADIO_FFMPEG_BIN", "ffmpeg"),
		Codec:           Codec(getEnv("PLAYRADIO_CODEC", string(CodecMP3))),
		BitrateKbps:     getEnvInt("PLAYRADIO_BITRATE_KBPS", 128),
		SampleRate:      getEnvInt("PLAYRADIO_SAMPLE_RATE", 44100),
		Channels:        getEnvInt("PLAYRADIO_CHANNELS", 2),
		EncoderStartup:  getEnvDuration("PLAYRADIO_ENCODER_STARTUP_TIMEOUT", 10*time.Second),
		ListenerQueue:   getEnvInt("PLAYRADIO_LISTENER_QUEUE_CHUNKS", 256),
		ListenerTimeout: getEnvDuration("PLAYRADIO_LISTENER_TIMEOUT", 15*time.Second),

		DBBackend: DatabaseBackend(getEnv("PLAYRADIO_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("PLAYRADIO_DB_DSN", "playradio.db"),

		JWTSigningKey:     getEnv("PLAYRADIO_JWT_SIGNING_KEY", ""),
		AdminPasswordHash: getEnv("PLAYRADIO_ADMIN_PASSWORD_HASH", ""),

		TTSBin:         getEnv("PLAYRADIO_TTS_BIN", "edge-tts"),
		DefaultVoice:   getEnv("PLAYRADIO_DEFAULT_VOICE", "en-IN-PrabhatNeural"),
		TTSTimeout:     getEnvDuration("PLAYRADIO_TTS_TIMEOUT", 30*time.Second),
		VoicesSeedFile: getEnv("PLAYRADIO_VOICES_SEED_FILE", ""),

		WatcherEnabled: getEnvBool("PLAYRADIO_WATCHER_ENABLED", true),
		WatcherSettle:  getEnvDuration("PLAYRADIO_WATCHER_SETTLE", 500*time.Millisecond),

		NATSURL: getEnv("PLAYRADIO_NATS_URL", ""),

		S3Bucket:          getEnv("PLAYRADIO_S3_BUCKET", ""),
		S3Region:          getEnvAny([]string{"PLAYRADIO_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:        getEnv("PLAYRADIO_S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnvAny([]string{"PLAYRADIO_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"PLAYRADIO_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3UsePathStyle:    getEnvBool("PLAYRADIO_S3_USE_PATH_STYLE", false),

		TracingEnabled:    getEnvBool("PLAYRADIO_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("PLAYRADIO_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("PLAYRADIO_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.ClipCacheDir == "" {
		cfg.ClipCacheDir = cfg.MediaRoot
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if err := cfg.validateEncoderOptions(); err != nil {
		return nil, err
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("PLAYRADIO_JWT_SIGNING_KEY must be provided in production")
	}

	return cfg, nil
}

// validateEncoderOptions rejects unrecognized encoder combinations at startup
// rather than letting them fail mid-stream.
func (c *Config) validateEncoderOptions() error {
	switch c.Codec {
	case CodecMP3, CodecAAC, CodecOpus:
	default:
		return fmt.Errorf("unrecognized codec %q (want mp3, aac or opus)", c.Codec)
	}

	if !containsInt(recognizedBitrates, c.BitrateKbps) {
		return fmt.Errorf("unrecognized bitrate %d kbps (want one of %v)", c.BitrateKbps, recognizedBitrates)
	}

	if !containsInt(recognizedSampleRates, c.SampleRate) {
		return fmt.Errorf("unrecognized sample rate %d Hz (want one of %v)", c.SampleRate, recognizedSampleRates)
	}

	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("unrecognized channel count %d (want 1 or 2)", c.Channels)
	}

	// Opus output is only produced at 48kHz.
	if c.Codec == CodecOpus && c.SampleRate != 48000 {
		return fmt.Errorf("opus output requires a 48000 Hz sample rate, got %d", c.SampleRate)
	}

	return nil
}

// ContentType returns the stream MIME type for the configured codec.
func (c *Config) ContentType() string {
	switch c.Codec {
	case CodecAAC:
		return "audio/aac"
	case CodecOpus:
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}

func containsInt(values []int, v int) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
