// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package otel exports run metrics and traces over OTLP.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/loadprobe/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const exportTimeout = 10 * time.Second

// Provider owns the SDK providers of one run. Traces are optional; metrics
// are always exported once the provider exists.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// New builds OTLP/gRPC exporters for cfg, tags everything with runID and
// installs the providers globally.
func New(ctx context.Context, cfg config.OtelConfig, runID string) (*Provider, error) {
	res, err := runResource(ctx, cfg, runID)
	if err != nil {
		return nil, err
	}

	p := &Provider{}
	if cfg.TracesEnabled {
		exp, err := otlptracegrpc.New(ctx, traceOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		p.tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRate))),
			sdktrace.WithBatcher(exp),
		)
		otel.SetTracerProvider(p.tp)
	} else {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	}

	exp, err := otlpmetricgrpc.New(ctx, metricOptions(cfg)...)
	if err != nil {
		if p.tp != nil {
			_ = p.tp.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	p.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval(cfg)))),
	)
	otel.SetMeterProvider(p.mp)

	return p, nil
}

// MeterProvider returns the provider run metrics are recorded on.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.mp
}

// TracesEnabled reports whether spans are exported.
func (p *Provider) TracesEnabled() bool {
	return p.tp != nil
}

// Shutdown flushes pending data and stops both providers. Call it before
// exit so the final snapshot and run outcome are exported.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.mp != nil {
		errs = append(errs, p.mp.Shutdown(ctx))
	}
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func runResource(ctx context.Context, cfg config.OtelConfig, runID string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.ServiceInstanceIDKey.String(runID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func traceOptions(cfg config.OtelConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(exportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func metricOptions(cfg config.OtelConfig) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithTimeout(exportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

// exportInterval defaults to five seconds, in step with sampling.
func exportInterval(cfg config.OtelConfig) time.Duration {
	if cfg.ExportInterval > 0 {
		return cfg.ExportInterval
	}
	return 5 * time.Second
}
