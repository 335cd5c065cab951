// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package analysis derives peak concurrency, throughput and a compliance
// verdict from a finished snapshot history.
package analysis

import (
	"time"

	"github.com/absmach/loadprobe/snapshot"
)

// DefaultMargin is the overhead tolerated above the bound before a run is a
// violation.
const DefaultMargin = 0.10

// Verdict classifies the observed peak concurrency against the bound.
type Verdict string

const (
	VerdictCompliant    Verdict = "compliant"    // peak <= bound
	VerdictMargin       Verdict = "margin"       // bound < peak <= bound * (1 + margin)
	VerdictViolation    Verdict = "violation"    // peak > bound * (1 + margin)
	VerdictInconclusive Verdict = "inconclusive" // nothing was ever in flight
)

// Config holds the run parameters the analysis depends on.
type Config struct {
	Target int64
	Bound  int64
	Margin float64 // fraction above Bound; 0 means DefaultMargin
}

// Report is the result of analysing a run.
type Report struct {
	Samples            int
	PeakTotal          int64
	PeakReady          int64
	PeakUnacknowledged int64

	// Peak is the first snapshot reaching PeakUnacknowledged.
	Peak    snapshot.Snapshot
	HasPeak bool

	Processed        int64
	ProgressObserved bool
	SuccessRate      float64 // processed / target, may exceed 1
	Throughput       float64 // messages per second
	Duration         time.Duration
	Efficiency       float64 // peak / bound

	Bound   int64
	Limit   float64 // bound including margin
	Verdict Verdict
}

// Analyze computes the run report. It is pure and safe on an empty history.
func Analyze(h snapshot.History, cfg Config) Report {
	margin := cfg.Margin
	if margin <= 0 {
		margin = DefaultMargin
	}

	r := Report{
		Samples: len(h),
		Bound:   cfg.Bound,
		Limit:   float64(cfg.Bound) * (1 + margin),
	}

	for i, s := range h {
		r.PeakTotal = max(r.PeakTotal, s.Total)
		r.PeakReady = max(r.PeakReady, s.Ready)
		if i == 0 || s.Unacknowledged > r.PeakUnacknowledged {
			r.PeakUnacknowledged = s.Unacknowledged
			r.Peak = s
			r.HasPeak = true
		}
		if s.Processed > 0 {
			r.ProgressObserved = true
		}
	}

	if last, ok := h.Last(); ok {
		r.Processed = last.Processed
		r.Duration = last.Elapsed
		if cfg.Target > 0 {
			r.SuccessRate = float64(last.Processed) / float64(cfg.Target)
		}
		if secs := last.Elapsed.Seconds(); secs > 0 {
			r.Throughput = float64(last.Processed) / secs
		}
	}

	if cfg.Bound > 0 {
		r.Efficiency = float64(r.PeakUnacknowledged) / float64(cfg.Bound)
	}
	r.Verdict = Classify(r.PeakUnacknowledged, cfg.Bound, margin)
	return r
}

// Classify returns the verdict for an observed peak against bound.
func Classify(peak, bound int64, margin float64) Verdict {
	switch {
	case peak <= 0:
		return VerdictInconclusive
	case peak <= bound:
		return VerdictCompliant
	case float64(peak) <= float64(bound)*(1+margin):
		return VerdictMargin
	default:
		return VerdictViolation
	}
}
