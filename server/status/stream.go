// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// Stream event types.
const (
	EventPhase       = "phase"
	EventSnapshot    = "snapshot"
	EventSampleError = "sample_error"
)

// StreamEvent is one JSON text frame pushed on /run/stream.
type StreamEvent struct {
	Type     string            `json:"type"`
	RunID    string            `json:"run_id"`
	Phase    string            `json:"phase,omitempty"`
	Snapshot *SnapshotResponse `json:"snapshot,omitempty"`
	Tick     int               `json:"tick,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type subscriber struct {
	frames chan []byte
}

// hub fans events out to stream subscribers. A subscriber whose buffer is
// full is dropped rather than stalling the sampler.
type hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]struct{})}
}

// subscribe registers a subscriber and queues initial before any later event.
func (h *hub) subscribe(initial ...[]byte) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{frames: make(chan []byte, streamBuffer)}
	for _, f := range initial {
		sub.frames <- f
	}
	h.subs[sub] = struct{}{}
	return sub, true
}

func (h *hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.frames)
	}
}

func (h *hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.frames <- frame:
		default:
			delete(h.subs, sub)
			close(sub.frames)
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close ends every stream; later subscribers are refused.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.frames)
	}
}

func (s *Server) publish(ev StreamEvent) {
	ev.RunID = s.runID
	frame, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to encode stream event", "type", ev.Type, "error", err)
		return
	}
	s.hub.broadcast(frame)
}

func (s *Server) initialFrames() [][]byte {
	s.mu.RLock()
	events := []StreamEvent{{Type: EventPhase, RunID: s.runID, Phase: s.phase.String()}}
	if s.last != nil {
		events = append(events, StreamEvent{Type: EventSnapshot, RunID: s.runID, Snapshot: snapshotResponse(*s.last)})
	}
	s.mu.RUnlock()

	frames := make([][]byte, 0, len(events))
	for _, ev := range events {
		if frame, err := json.Marshal(ev); err == nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

// handleStream upgrades to a websocket and pushes the current phase, the
// latest snapshot and then every later event as JSON text frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Stream upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	sub, ok := s.hub.subscribe(s.initialFrames()...)
	if !ok {
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "run finished"))
		return
	}
	defer s.hub.unsubscribe(sub)

	s.logger.Debug("Stream client connected", "remote_addr", r.RemoteAddr)

	// Reads only detect the peer going away; clients send nothing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadDeadline(time.Time{})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-sub.frames:
			ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("Stream write failed", "remote_addr", r.RemoteAddr, "error", err)
				return
			}
		case <-gone:
			return
		}
	}
}
