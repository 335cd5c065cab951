// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package status serves liveness, readiness and live run progress while a
// load run is in flight: a polled status document, a websocket event stream
// and the run gauges in Prometheus format.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/loadprobe/coordinator"
	"github.com/absmach/loadprobe/snapshot"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds status server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Server exposes the state of the current run over HTTP.
type Server struct {
	config   Config
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	started  chan struct{}
	hub      *hub
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	runID    string
	phase    coordinator.Phase
	last     *snapshot.Snapshot
	peak     int64
	samples  int
	failures int

	total       prometheus.Gauge
	readyMsgs   prometheus.Gauge
	unacked     prometheus.Gauge
	consumers   prometheus.Gauge
	processed   prometheus.Gauge
	sampleErrs  prometheus.Counter
	phaseGauge  prometheus.Gauge
	peakUnacked prometheus.Gauge
}

// New creates a status server for runID. Metrics are registered on a private
// registry so several servers can coexist in one process.
func New(cfg Config, runID string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID}

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "loadprobe",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	s := &Server{
		config:      cfg,
		logger:      logger,
		started:     make(chan struct{}),
		hub:         newHub(),
		upgrader:    websocket.Upgrader{CheckOrigin: anyOrigin},
		runID:       runID,
		total:       gauge("queue_messages", "Messages in the queue at the last sample."),
		readyMsgs:   gauge("queue_messages_ready", "Messages ready for delivery at the last sample."),
		unacked:     gauge("queue_messages_unacknowledged", "Messages delivered but not yet acknowledged at the last sample."),
		consumers:   gauge("queue_consumers", "Consumers attached to the queue at the last sample."),
		processed:   gauge("processed_messages", "Messages reported processed by the consumer."),
		phaseGauge:  gauge("run_phase", "Run lifecycle phase: 0 idle, 1 starting, 2 running, 3 finished."),
		peakUnacked: gauge("peak_messages_unacknowledged", "Highest unacknowledged count observed so far."),
		sampleErrs: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "loadprobe",
			Name:        "sample_errors_total",
			Help:        "Ticks skipped because the broker could not be sampled.",
			ConstLabels: labels,
		}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/run/status", s.handleRunStatus)
	mux.HandleFunc("/run/stream", s.handleStream)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func anyOrigin(*http.Request) bool {
	return true
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Started is closed once the server is accepting connections.
func (s *Server) Started() <-chan struct{} {
	return s.started
}

// Addr returns the listener's network address, or "" before Listen.
func (s *Server) Addr() string {
	select {
	case <-s.started:
		return s.listener.Addr().String()
	default:
		return ""
	}
}

// Listen serves until ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.listener = listener
	close(s.started)

	s.logger.Info("Starting status server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		// Shutdown does not track hijacked stream connections.
		s.hub.close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Status server shutdown error", "error", err)
			return err
		}

		s.logger.Info("Status server stopped")
		return nil
	}
}

// OnSnapshot records the latest snapshot.
func (s *Server) OnSnapshot(snap snapshot.Snapshot) {
	s.mu.Lock()
	s.last = &snap
	s.samples++
	if snap.Unacknowledged > s.peak {
		s.peak = snap.Unacknowledged
	}
	peak := s.peak
	s.mu.Unlock()

	s.total.Set(float64(snap.Total))
	s.readyMsgs.Set(float64(snap.Ready))
	s.unacked.Set(float64(snap.Unacknowledged))
	s.consumers.Set(float64(snap.Consumers))
	s.processed.Set(float64(snap.Processed))
	s.peakUnacked.Set(float64(peak))

	s.publish(StreamEvent{Type: EventSnapshot, Snapshot: snapshotResponse(snap)})
}

// OnSampleError counts a skipped tick.
func (s *Server) OnSampleError(tick int, err error) {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
	s.sampleErrs.Inc()

	s.publish(StreamEvent{Type: EventSampleError, Tick: tick, Error: err.Error()})
}

// OnPhase records a lifecycle transition.
func (s *Server) OnPhase(p coordinator.Phase) {
	s.SetPhase(p)
}

// SetPhase sets the reported lifecycle phase.
func (s *Server) SetPhase(p coordinator.Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.phaseGauge.Set(float64(p))

	s.publish(StreamEvent{Type: EventPhase, Phase: p.String()})
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// handleReady reports ready once the first snapshot has been taken.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	sampled := s.last != nil
	phase := s.phase
	s.mu.RUnlock()

	if !sampled {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status:  "not_ready",
			Details: "no snapshot taken yet, phase " + phase.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready"})
}

// SnapshotResponse is the JSON form of a snapshot.
type SnapshotResponse struct {
	Sequence       int       `json:"snapshot"`
	Timestamp      time.Time `json:"timestamp"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	Total          int64     `json:"messages_total"`
	Ready          int64     `json:"messages_ready"`
	Unacknowledged int64     `json:"messages_unacknowledged"`
	Consumers      int64     `json:"consumers"`
	Processed      int64     `json:"processed_count"`
}

func snapshotResponse(snap snapshot.Snapshot) *SnapshotResponse {
	return &SnapshotResponse{
		Sequence:       snap.Sequence,
		Timestamp:      snap.WallTime,
		ElapsedSeconds: snap.Elapsed.Seconds(),
		Total:          snap.Total,
		Ready:          snap.Ready,
		Unacknowledged: snap.Unacknowledged,
		Consumers:      snap.Consumers,
		Processed:      snap.Processed,
	}
}

// RunStatusResponse describes the run in flight.
type RunStatusResponse struct {
	RunID              string            `json:"run_id"`
	Phase              string            `json:"phase"`
	Samples            int               `json:"samples"`
	Failures           int               `json:"failures"`
	PeakUnacknowledged int64             `json:"peak_messages_unacknowledged"`
	Latest             *SnapshotResponse `json:"latest,omitempty"`
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	resp := RunStatusResponse{
		RunID:    s.runID,
		Phase:    s.phase.String(),
		Samples:  s.samples,
		Failures: s.failures,

		PeakUnacknowledged: s.peak,
	}
	if s.last != nil {
		resp.Latest = snapshotResponse(*s.last)
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
