/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// setup shared by the HTTP layer and the streaming pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playradio_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playradio_api_request_duration_seconds",
		Help:    "HTTP API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playradio_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	StreamListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playradio_stream_listeners",
		Help: "Currently attached stream listeners.",
	})

	StreamChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playradio_stream_chunks_total",
		Help: "Encoded chunks pushed to the fan-out hub.",
	})

	StreamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playradio_stream_bytes_total",
		Help: "Encoded bytes pushed to the fan-out hub.",
	})

	StreamDroppedChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playradio_stream_dropped_chunks_total",
		Help: "Chunks discarded because a listener queue was full.",
	})

	EncoderRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playradio_encoder_restarts_total",
		Help: "Unexpected encoder process restarts.",
	})

	InjectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playradio_injections_total",
		Help: "Clip injection requests by outcome.",
	}, []string{"outcome"})

	SynthesisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playradio_tts_synthesis_duration_seconds",
		Help:    "Wall time spent synthesizing speech clips.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	})

	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playradio_db_query_duration_seconds",
		Help:    "Database operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playradio_db_errors_total",
		Help: "Database operation errors.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playradio_db_connections_active",
		Help: "Open database connections.",
	})
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
