/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"
	"sync"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dusanmitrovic98/play-radio-tts/internal/events"
)

// wsEventTypes lists the event categories forwarded to websocket clients.
var wsEventTypes = []events.EventType{
	events.EventNowPlaying,
	events.EventListenerStats,
	events.EventInjectionAccepted,
	events.EventInjectionSuperseded,
	events.EventInjectionRejected,
	events.EventEncoderRestart,
	events.EventStreamUnavailable,
	events.EventVoiceChanged,
	events.EventClipSynthesized,
}

type eventFrame struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handleEvents streams bus events to a websocket client as JSON frames.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	ctx := r.Context()
	frames := make(chan eventFrame, 32)

	var wg sync.WaitGroup
	subs := make(map[events.EventType]events.Subscriber, len(wsEventTypes))
	for _, eventType := range wsEventTypes {
		sub := s.deps.Bus.Subscribe(eventType)
		subs[eventType] = sub
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			for payload := range sub {
				select {
				case frames <- eventFrame{Type: eventType, Payload: payload}:
				default:
				}
			}
		}(eventType, sub)
	}
	defer func() {
		for eventType, sub := range subs {
			s.deps.Bus.Unsubscribe(eventType, sub)
		}
		wg.Wait()
	}()

	// Drain incoming messages so pings are answered and close frames seen.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case frame := <-frames:
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed, client disconnected")
				return
			}
		case <-keepalive.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}
