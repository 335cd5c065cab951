// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/loadprobe/management"
	"github.com/absmach/loadprobe/snapshot"
	"golang.org/x/time/rate"
)

// Inspector reports the current state of the queue under load.
type Inspector interface {
	QueueStats(ctx context.Context) (management.QueueStats, error)
}

// ProgressReporter estimates the number of fully processed messages.
// It never fails; an unknown count is 0.
type ProgressReporter interface {
	Processed(ctx context.Context) int64
}

// Observer is notified from the sampler goroutine after every tick.
// Implementations must not block.
type Observer interface {
	OnSnapshot(s snapshot.Snapshot)
	OnSampleError(tick int, err error)
}

// Config holds sampling loop settings.
type Config struct {
	Interval    time.Duration
	TickTimeout time.Duration // bound on a single broker query; 0 disables
}

// Sampler polls the broker and the progress reporter on a fixed interval and
// appends one snapshot per successful tick to the store.
type Sampler struct {
	cfg       Config
	inspector Inspector
	progress  ProgressReporter
	store     *snapshot.Store
	detector  *Detector
	observers []Observer
	logger    *slog.Logger

	ticks    atomic.Int64
	failures atomic.Int64
}

// New creates a sampler. progress may be nil, in which case processed stays 0.
func New(cfg Config, inspector Inspector, progress ProgressReporter, store *snapshot.Store, detector *Detector, logger *slog.Logger, observers ...Observer) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		cfg:       cfg,
		inspector: inspector,
		progress:  progress,
		store:     store,
		detector:  detector,
		observers: observers,
		logger:    logger,
	}
}

// Ticks returns the number of ticks taken so far.
func (s *Sampler) Ticks() int {
	return int(s.ticks.Load())
}

// Failures returns the number of ticks skipped because of sampling errors.
func (s *Sampler) Failures() int {
	return int(s.failures.Load())
}

// Run samples until the detector stops it or ctx is cancelled. Sampling
// errors are logged and the tick is skipped; Run never fails.
func (s *Sampler) Run(ctx context.Context) StopReason {
	limiter := rate.NewLimiter(rate.Every(s.cfg.Interval), 1)
	start := time.Now()
	var processed int64

	s.logger.Info("sampling started", slog.Duration("interval", s.cfg.Interval))

	for tick := 1; ; tick++ {
		if err := limiter.Wait(ctx); err != nil {
			return s.stop(StopCancelled, tick-1)
		}
		s.ticks.Store(int64(tick))

		snap, err := s.sample(ctx, tick, start, processed)
		if err != nil && ctx.Err() != nil {
			return s.stop(StopCancelled, tick)
		}

		var taken *snapshot.Snapshot
		if err != nil {
			s.failures.Add(1)
			s.logger.Warn("sample skipped", slog.Int("tick", tick), slog.String("error", err.Error()))
			for _, o := range s.observers {
				o.OnSampleError(tick, err)
			}
		} else {
			processed = snap.Processed
			if err := s.store.Append(snap); err != nil {
				s.logger.Error("failed to persist snapshot", slog.Int("tick", tick), slog.String("error", err.Error()))
			}
			for _, o := range s.observers {
				o.OnSnapshot(snap)
			}
			taken = &snap
		}

		// A snapshot answered before cancellation is kept.
		if ctx.Err() != nil {
			return s.stop(StopCancelled, tick)
		}
		if reason, done := s.detector.Evaluate(tick, taken); done {
			return s.stop(reason, tick)
		}
	}
}

func (s *Sampler) sample(ctx context.Context, tick int, start time.Time, prevProcessed int64) (snapshot.Snapshot, error) {
	now := time.Now()
	elapsed := now.Sub(start)

	qctx := ctx
	if s.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}

	stats, err := s.inspector.QueueStats(qctx)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("failed to query queue: %w", err)
	}

	processed := prevProcessed
	if s.progress != nil {
		if n := s.progress.Processed(ctx); n > processed {
			processed = n
		}
	}

	return snapshot.Snapshot{
		Sequence:       tick,
		WallTime:       now,
		Elapsed:        elapsed,
		Total:          stats.Messages,
		Ready:          stats.Ready,
		Unacknowledged: stats.Unacknowledged,
		Consumers:      stats.Consumers,
		Processed:      processed,
	}, nil
}

func (s *Sampler) stop(reason StopReason, ticks int) StopReason {
	s.logger.Info("sampling stopped",
		slog.String("reason", string(reason)),
		slog.Int("ticks", ticks),
		slog.Int("failures", s.Failures()),
		slog.Int("snapshots", s.store.Len()))
	return reason
}
