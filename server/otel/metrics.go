// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/loadprobe/snapshot"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry instruments for a load run.
type Metrics struct {
	meter metric.Meter
	attrs metric.MeasurementOption

	// Counters
	samplesTotal metric.Int64Counter
	sampleErrors metric.Int64Counter
	runsTotal    metric.Int64Counter

	// Gauges
	queueMessages  metric.Int64Gauge
	queueReady     metric.Int64Gauge
	queueUnacked   metric.Int64Gauge
	queueConsumers metric.Int64Gauge
	processed      metric.Int64Gauge

	// Histograms
	producerDuration metric.Float64Histogram
}

// NewMetrics creates the run instruments on mp, or on the global provider
// when mp is nil. attrs are attached to every measurement.
func NewMetrics(mp metric.MeterProvider, attrs ...attribute.KeyValue) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := &Metrics{
		meter: mp.Meter("loadprobe"),
		attrs: metric.WithAttributes(attrs...),
	}

	var err error

	m.samplesTotal, err = m.meter.Int64Counter(
		"loadprobe.samples.total",
		metric.WithDescription("Snapshots taken of the queue under test"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create samplesTotal counter: %w", err)
	}

	m.sampleErrors, err = m.meter.Int64Counter(
		"loadprobe.sample.errors.total",
		metric.WithDescription("Ticks skipped because the broker could not be sampled"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampleErrors counter: %w", err)
	}

	m.runsTotal, err = m.meter.Int64Counter(
		"loadprobe.runs.total",
		metric.WithDescription("Finished load runs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runsTotal counter: %w", err)
	}

	gauges := []struct {
		dst  *metric.Int64Gauge
		name string
		desc string
	}{
		{&m.queueMessages, "loadprobe.queue.messages", "Messages in the queue"},
		{&m.queueReady, "loadprobe.queue.messages.ready", "Messages ready for delivery"},
		{&m.queueUnacked, "loadprobe.queue.messages.unacknowledged", "Messages delivered and not yet acknowledged"},
		{&m.queueConsumers, "loadprobe.queue.consumers", "Consumers attached to the queue"},
		{&m.processed, "loadprobe.consumer.processed", "Messages reported processed by the consumer"},
	}
	for _, g := range gauges {
		*g.dst, err = m.meter.Int64Gauge(g.name, metric.WithDescription(g.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
	}

	m.producerDuration, err = m.meter.Float64Histogram(
		"loadprobe.producer.duration",
		metric.WithDescription("Producer run time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create producerDuration histogram: %w", err)
	}

	return m, nil
}

// OnSnapshot records the queue state of a snapshot.
func (m *Metrics) OnSnapshot(s snapshot.Snapshot) {
	ctx := context.Background()
	m.samplesTotal.Add(ctx, 1, m.attrs)
	m.queueMessages.Record(ctx, s.Total, m.attrs)
	m.queueReady.Record(ctx, s.Ready, m.attrs)
	m.queueUnacked.Record(ctx, s.Unacknowledged, m.attrs)
	m.queueConsumers.Record(ctx, s.Consumers, m.attrs)
	m.processed.Record(ctx, s.Processed, m.attrs)
}

// OnSampleError records a skipped tick.
func (m *Metrics) OnSampleError(int, error) {
	m.sampleErrors.Add(context.Background(), 1, m.attrs)
}

// RecordProducer records how long the producer ran and how it ended.
func (m *Metrics) RecordProducer(status string, d time.Duration) {
	m.producerDuration.Record(context.Background(), d.Seconds(), m.attrs,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(outcome string) {
	m.runsTotal.Add(context.Background(), 1, m.attrs,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}
