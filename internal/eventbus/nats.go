/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to NATS so other
// instances and external consumers can follow station events.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
)

const subjectPrefix = "playradio.events."

// Bridge publishes local events to NATS and replays remote events into the
// local bus. Without a NATS URL it degrades to local-only delivery.
type Bridge struct {
	local  *events.Bus
	conn   *nats.Conn
	sub    *nats.Subscription
	nodeID string
	logger zerolog.Logger
}

type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// NewBridge connects to NATS and starts mirroring events both ways. A
// connection failure is logged, not fatal: the station keeps running on the
// in-process bus alone.
func NewBridge(natsURL string, local *events.Bus, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		local:  local,
		nodeID: nodeID(),
		logger: logger.With().Str("component", "eventbus").Logger(),
	}

	if natsURL == "" {
		return b
	}

	conn, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		b.logger.Warn().Err(err).Str("url", natsURL).Msg("NATS unavailable, events stay local")
		return b
	}
	b.conn = conn

	sub, err := conn.Subscribe(subjectPrefix+">", b.handleRemote)
	if err != nil {
		b.logger.Warn().Err(err).Msg("NATS subscribe failed, inbound events disabled")
	} else {
		b.sub = sub
	}

	b.logger.Info().Str("url", natsURL).Str("node", b.nodeID).Msg("NATS event bridge connected")
	return b
}

// Publish delivers locally and mirrors to NATS when connected.
func (b *Bridge) Publish(eventType events.EventType, payload events.Payload) {
	b.local.Publish(eventType, payload)

	if b.conn == nil {
		return
	}

	data, err := json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    b.nodeID,
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("event", string(eventType)).Msg("marshal event failed")
		return
	}
	if err := b.conn.Publish(subjectPrefix+string(eventType), data); err != nil {
		b.logger.Warn().Err(err).Str("event", string(eventType)).Msg("NATS publish failed")
	}
}

func (b *Bridge) handleRemote(m *nats.Msg) {
	b.handleRemoteData(m.Data)
}

// handleRemoteData replays events from other nodes into the local bus.
func (b *Bridge) handleRemoteData(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Debug().Err(err).Msg("bad remote event")
		return
	}
	if msg.NodeID == b.nodeID {
		return
	}
	b.local.Publish(msg.EventType, msg.Payload)
}

// Close drains the NATS connection.
func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	}
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "playradio"
	}
	return fmt.Sprintf("%s-%s", strings.ToLower(host), uuid.NewString()[:8])
}
