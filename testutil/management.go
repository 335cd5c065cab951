// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// Default credentials accepted by ManagementServer.
const (
	ManagementUser     = "guest"
	ManagementPassword = "guest"
)

// QueueState is one scripted response of the fake management API.
type QueueState struct {
	Messages       int64
	Ready          int64
	Unacknowledged int64
	Consumers      int64
	Processed      int64 // served on the progress endpoint

	Status int    // non-zero overrides the 200 response
	Raw    string // non-empty replaces the JSON body
}

// ManagementServer is a scripted fake of the RabbitMQ management API for a
// single queue. Each GET of the queue advances through the script; the last
// entry repeats once the script is exhausted. It also serves the processed
// count of the most recently served state on ProgressPath, the way a consumer
// under test would expose it.
type ManagementServer struct {
	*httptest.Server

	VHost string
	Queue string

	mu          sync.Mutex
	script      []QueueState
	next        int
	current     QueueState
	gets        int
	purges      int
	purgeStatus int
}

// ProgressPath is the progress endpoint served by ManagementServer.
const ProgressPath = "/progress"

// NewManagementServer starts a fake management API. It is closed on test cleanup.
func NewManagementServer(t testing.TB, vhost, queue string, script ...QueueState) *ManagementServer {
	t.Helper()

	s := &ManagementServer{VHost: vhost, Queue: queue, script: script}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// SetPurgeStatus makes purge requests answer with status.
func (s *ManagementServer) SetPurgeStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeStatus = status
}

// Gets returns the number of queue status requests served.
func (s *ManagementServer) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Purges returns the number of purge requests received.
func (s *ManagementServer) Purges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purges
}

func (s *ManagementServer) queuePath() string {
	return "/api/queues/" + url.PathEscape(s.VHost) + "/" + url.PathEscape(s.Queue)
}

func (s *ManagementServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == ProgressPath {
		s.handleProgress(w)
		return
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user != ManagementUser || pass != ManagementPassword {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.EscapedPath() == s.queuePath():
		s.handleQueue(w)
	case r.Method == http.MethodDelete && r.URL.EscapedPath() == s.queuePath()+"/contents":
		s.handlePurge(w)
	default:
		http.NotFound(w, r)
	}
}

func (s *ManagementServer) handleQueue(w http.ResponseWriter) {
	s.mu.Lock()
	s.gets++
	st := QueueState{}
	if len(s.script) > 0 {
		st = s.script[s.next]
		if s.next < len(s.script)-1 {
			s.next++
		}
	}
	if st.Status == 0 && st.Raw == "" {
		s.current = st
	}
	s.mu.Unlock()

	if st.Status != 0 {
		w.WriteHeader(st.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if st.Raw != "" {
		_, _ = w.Write([]byte(st.Raw))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":                    s.Queue,
		"vhost":                   s.VHost,
		"messages":                st.Messages,
		"messages_ready":          st.Ready,
		"messages_unacknowledged": st.Unacknowledged,
		"consumers":               st.Consumers,
	})
}

func (s *ManagementServer) handlePurge(w http.ResponseWriter) {
	s.mu.Lock()
	s.purges++
	status := s.purgeStatus
	s.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (s *ManagementServer) handleProgress(w http.ResponseWriter) {
	s.mu.Lock()
	processed := s.current.Processed
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"consumer": map[string]any{"processed": processed},
	})
}
