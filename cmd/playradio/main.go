/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/dusanmitrovic98/play-radio-tts/internal/broadcast"
	"github.com/dusanmitrovic98/play-radio-tts/internal/config"
	"github.com/dusanmitrovic98/play-radio-tts/internal/db"
	"github.com/dusanmitrovic98/play-radio-tts/internal/encoder"
	"github.com/dusanmitrovic98/play-radio-tts/internal/eventbus"
	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
	"github.com/dusanmitrovic98/play-radio-tts/internal/livestream"
	"github.com/dusanmitrovic98/play-radio-tts/internal/logbuffer"
	"github.com/dusanmitrovic98/play-radio-tts/internal/logging"
	"github.com/dusanmitrovic98/play-radio-tts/internal/media"
	"github.com/dusanmitrovic98/play-radio-tts/internal/playlist"
	"github.com/dusanmitrovic98/play-radio-tts/internal/server"
	"github.com/dusanmitrovic98/play-radio-tts/internal/telemetry"
	"github.com/dusanmitrovic98/play-radio-tts/internal/tts"
	"github.com/dusanmitrovic98/play-radio-tts/internal/version"
	"github.com/dusanmitrovic98/play-radio-tts/internal/voices"
	"github.com/dusanmitrovic98/play-radio-tts/internal/watcher"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the PlayRadio version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "playradio",
	Short: "PlayRadio - continuous web radio with TTS announcements",
	Long:  "PlayRadio runs a single continuous audio stream: a looping background track that can be interrupted by uploaded songs or synthesized speech clips.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the PlayRadio station",
	Long:  "Start the encoder, the listener fan-out and the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(1000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Msg("PlayRadio starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "playradio",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	bus := events.NewBus()
	bridge := eventbus.NewBridge(cfg.NATSURL, bus, logger)
	defer bridge.Close()

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Error().Err(err).Msg("closing database failed")
		}
	}()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	voiceStore := voices.NewStore(database, cfg.DefaultVoice, bus, logger)
	if cfg.VoicesSeedFile != "" {
		if err := voiceStore.SeedFromFile(ctx, cfg.VoicesSeedFile); err != nil {
			logger.Warn().Err(err).Str("file", cfg.VoicesSeedFile).Msg("seeding voices failed")
		}
	}

	mediaSvc, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize media service: %w", err)
	}

	synth := tts.NewEdgeTTS(cfg.TTSBin, cfg.TTSTimeout, logger)

	background, err := mediaSvc.Localize(ctx, cfg.BackgroundTrack)
	if err != nil {
		return fmt.Errorf("resolve background track %q: %w", cfg.BackgroundTrack, err)
	}

	seq := playlist.New(background, logger)
	enc := encoder.NewManager(
		encoder.NewFFmpegFactory(cfg, logger),
		encoder.Callbacks{
			OnClipFinished: seq.OnClipFinished,
			CurrentSource:  seq.CurrentSource,
		},
		logger,
		encoder.WithEventBus(bus),
		encoder.WithStartupTimeout(cfg.EncoderStartup),
	)
	hub := broadcast.NewHub(cfg.ContentType(), cfg.ListenerQueue, cfg.ListenerTimeout, logger, bus)
	stream := livestream.NewManager(seq, enc, hub, bus, logger)

	if err := stream.Start(ctx); err != nil {
		return fmt.Errorf("start livestream: %w", err)
	}
	defer stream.Stop()

	if cfg.WatcherEnabled {
		ignore := []string{cfg.BackgroundTrack, "tts-latest.mp3"}
		clipWatcher := watcher.New(cfg.MediaRoot, cfg.WatcherSettle, ignore, func(path string) {
			name := filepath.Base(path)
			if _, err := stream.Inject(path); err != nil {
				logger.Warn().Err(err).Str("clip", name).Msg("watcher injection failed")
				return
			}
			logger.Info().Str("clip", name).Msg("injected dropped-in clip")
		}, logger)
		if err := clipWatcher.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("clip watcher disabled")
		} else {
			defer clipWatcher.Close()
		}
	}

	metricsServer := startMetricsServer(ctx, database)
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	srv := server.New(cfg, server.Deps{
		Stream:    stream,
		Hub:       hub,
		Media:     mediaSvc,
		Voices:    voiceStore,
		Synth:     synth,
		Bus:       bus,
		Publisher: bridge,
		LogBuffer: logBuf,
	}, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("PlayRadio stopped")
	return nil
}

// startMetricsServer serves Prometheus metrics on the internal bind address
// and keeps the DB connection gauges current.
func startMetricsServer(ctx context.Context, database *gorm.DB) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())

	srv := &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.MetricsBind).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(database)
			}
		}
	}()

	return srv
}
