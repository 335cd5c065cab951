// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package progress estimates how many messages the consumer under test has
// fully processed. Every source is best effort: failures degrade to "no
// progress observed" and never abort sampling.
package progress

import (
	"context"
	"errors"
	"log/slog"
)

// ErrMarkerNotFound is returned when a source holds no progress record.
var ErrMarkerNotFound = errors.New("no progress record found")

// Source reports a processed-message count from one external artifact.
type Source interface {
	Name() string
	Processed(ctx context.Context) (int64, error)
}

// Oracle queries its sources in priority order and returns the first
// positive count.
type Oracle struct {
	sources []Source
	logger  *slog.Logger
}

// NewOracle creates an oracle over sources, highest priority first.
func NewOracle(logger *slog.Logger, sources ...Source) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{sources: sources, logger: logger}
}

// Processed returns the most recent processed count, or 0 if no source
// yields a positive value.
func (o *Oracle) Processed(ctx context.Context) int64 {
	for _, src := range o.sources {
		n, err := src.Processed(ctx)
		if err != nil {
			o.logger.Debug("progress source unavailable",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()))
			continue
		}
		if n > 0 {
			return n
		}
	}
	return 0
}

// Sources returns the number of configured sources.
func (o *Oracle) Sources() int {
	return len(o.sources)
}
