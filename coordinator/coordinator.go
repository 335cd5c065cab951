// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coordinator drives a load run: it samples the queue in the
// background while the producer generates load, then analyses the history.
package coordinator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/loadprobe/analysis"
	"github.com/absmach/loadprobe/producer"
	"github.com/absmach/loadprobe/sampler"
	"github.com/absmach/loadprobe/snapshot"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/absmach/loadprobe/coordinator"

// Purger empties the queue before a run.
type Purger interface {
	Purge(ctx context.Context) error
}

// Config holds the run lifecycle settings.
type Config struct {
	RunID      string // generated when empty
	Target     int64
	Bound      int64
	Margin     float64
	MaxSamples int

	Sampler sampler.Config

	Purge       bool
	PurgeSettle time.Duration

	// GracePeriod lets the first sample land before load starts.
	GracePeriod time.Duration
	// JoinTimeout bounds the wait for the sampler once the producer is done.
	JoinTimeout time.Duration
	// ProducerTimeout bounds the producer; 0 waits indefinitely.
	ProducerTimeout time.Duration
}

// Coordinator owns a single load run.
type Coordinator struct {
	cfg       Config
	inspector sampler.Inspector
	purger    Purger
	progress  sampler.ProgressReporter
	producer  producer.Producer
	store     *snapshot.Store
	observers []sampler.Observer
	logger    *slog.Logger
	tracer    trace.Tracer

	phase atomic.Int32
}

// New creates a coordinator. purger and progress may be nil.
func New(cfg Config, inspector sampler.Inspector, purger Purger, progress sampler.ProgressReporter, prod producer.Producer, store *snapshot.Store, logger *slog.Logger, observers ...sampler.Observer) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:       cfg,
		inspector: inspector,
		purger:    purger,
		progress:  progress,
		producer:  prod,
		store:     store,
		observers: observers,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// Run executes the full lifecycle and returns once the history is analysed.
// Cancelling ctx stops the producer and the sampler; the partial history is
// still analysed.
func (c *Coordinator) Run(ctx context.Context) Result {
	res := Result{
		RunID:     c.cfg.RunID,
		StartedAt: time.Now(),
	}
	if res.RunID == "" {
		res.RunID = uuid.New().String()
	}

	ctx, span := c.tracer.Start(ctx, "probe.run", trace.WithAttributes(
		attribute.String("run.id", res.RunID),
		attribute.Int64("run.target", c.cfg.Target),
		attribute.Int64("run.bound", c.cfg.Bound),
	))
	defer span.End()

	logger := c.logger.With(slog.String("run_id", res.RunID))

	if c.cfg.Purge && c.purger != nil {
		res.Purged, res.PurgeErr = c.purge(ctx, logger)
	}

	// Written once by this goroutine, read by the sampler's detector.
	var producerDone atomic.Bool

	c.setPhase(PhaseStarting, logger)
	detector := sampler.NewDetector(c.cfg.MaxSamples, c.cfg.Target, producerDone.Load)
	smp := sampler.New(c.cfg.Sampler, c.inspector, c.progress, c.store, detector, logger, c.observers...)

	sctx, stopSampler := context.WithCancel(ctx)
	defer stopSampler()

	stopped := make(chan sampler.StopReason, 1)
	go func() {
		stopped <- smp.Run(sctx)
	}()

	if wait(ctx, c.cfg.GracePeriod) {
		c.setPhase(PhaseRunning, logger)
		res.Producer = c.runProducer(ctx, logger)
	} else {
		res.Producer = producer.Result{Status: producer.StatusCancelled, ExitCode: -1, Err: ctx.Err()}
	}
	producerDone.Store(true)

	c.setPhase(PhaseFinished, logger)
	res.Stop, res.JoinTimedOut = c.join(stopped, stopSampler, logger)
	res.Ticks = smp.Ticks()
	res.Failures = smp.Failures()

	res.History = c.store.All()
	res.Analysis = analysis.Analyze(res.History, analysis.Config{
		Target: c.cfg.Target,
		Bound:  c.cfg.Bound,
		Margin: c.cfg.Margin,
	})
	res.FinishedAt = time.Now()

	outcome := res.Outcome()
	span.SetAttributes(
		attribute.String("run.outcome", string(outcome)),
		attribute.Int64("run.peak_unacknowledged", res.Analysis.PeakUnacknowledged),
	)
	if !outcome.Pass() {
		span.SetStatus(codes.Error, string(outcome))
	}

	logger.Info("run finished",
		slog.String("outcome", string(outcome)),
		slog.String("stop", string(res.Stop)),
		slog.String("producer", res.Producer.String()),
		slog.Int("snapshots", res.Analysis.Samples),
		slog.Int64("peak_unacknowledged", res.Analysis.PeakUnacknowledged))
	return res
}

func (c *Coordinator) purge(ctx context.Context, logger *slog.Logger) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "probe.purge")
	defer span.End()

	if err := c.purger.Purge(ctx); err != nil {
		span.RecordError(err)
		logger.Warn("queue purge failed, continuing with current queue state", slog.String("error", err.Error()))
		return false, err
	}
	logger.Info("queue purged")
	wait(ctx, c.cfg.PurgeSettle)
	return true, nil
}

func (c *Coordinator) runProducer(ctx context.Context, logger *slog.Logger) producer.Result {
	ctx, span := c.tracer.Start(ctx, "probe.producer", trace.WithAttributes(
		attribute.Int64("producer.count", c.cfg.Target),
	))
	defer span.End()

	if c.cfg.ProducerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ProducerTimeout)
		defer cancel()
	}

	logger.Info("load phase started", slog.Int64("count", c.cfg.Target))
	res := c.producer.Run(ctx, c.cfg.Target)

	span.SetAttributes(attribute.String("producer.status", res.String()))
	if !res.Succeeded() {
		span.SetStatus(codes.Error, res.String())
		logger.Warn("producer did not succeed",
			slog.String("status", res.String()),
			slog.Duration("duration", res.Duration))
	} else {
		logger.Info("producer finished", slog.Duration("duration", res.Duration))
	}
	return res
}

// join waits for the sampler up to the join timeout. On timeout the sampler
// is cancelled and given one more tick timeout to return.
func (c *Coordinator) join(stopped <-chan sampler.StopReason, cancel context.CancelFunc, logger *slog.Logger) (sampler.StopReason, bool) {
	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case reason := <-stopped:
		return reason, false
	case <-timer.C:
	}

	logger.Warn("sampler still running after join timeout, proceeding with collected history",
		slog.Duration("join_timeout", c.cfg.JoinTimeout))
	cancel()

	drain := time.NewTimer(c.cfg.Sampler.TickTimeout + time.Second)
	defer drain.Stop()
	select {
	case reason := <-stopped:
		return reason, true
	case <-drain.C:
		return sampler.StopNone, true
	}
}

func (c *Coordinator) setPhase(p Phase, logger *slog.Logger) {
	c.phase.Store(int32(p))
	logger.Debug("run phase changed", slog.String("phase", p.String()))
	for _, o := range c.observers {
		if po, ok := o.(PhaseObserver); ok {
			po.OnPhase(p)
		}
	}
}

// wait sleeps for d and reports false if ctx was cancelled first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
