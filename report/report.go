// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package report renders a load run for the operator: a banner before the
// run, one table row per tick while sampling, and a summary at the end.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/absmach/loadprobe/analysis"
	"github.com/absmach/loadprobe/coordinator"
	"github.com/absmach/loadprobe/snapshot"
)

const rule = 80

// Params describes the run being reported.
type Params struct {
	Queue              string
	Target             int64
	Bound              int64
	ExpectedThroughput float64
	Interval           time.Duration
	MaxSamples         int
	CSVPath            string
}

// EstimatedDuration is target / expected throughput, or 0 when no throughput
// is expected.
func (p Params) EstimatedDuration() time.Duration {
	if p.ExpectedThroughput <= 0 {
		return 0
	}
	return time.Duration(float64(p.Target) / p.ExpectedThroughput * float64(time.Second))
}

// PrintBanner writes the run header.
func PrintBanner(w io.Writer, p Params) {
	fmt.Fprintln(w, strings.Repeat("=", rule))
	fmt.Fprintln(w, "LOAD TEST: concurrency bound validation")
	fmt.Fprintln(w, strings.Repeat("=", rule))

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "Queue:\t%s\n", p.Queue)
	fmt.Fprintf(tw, "Messages:\t%d\n", p.Target)
	fmt.Fprintf(tw, "Concurrency bound:\t%d\n", p.Bound)
	if p.ExpectedThroughput > 0 {
		fmt.Fprintf(tw, "Expected throughput:\t%.0f msg/s\n", p.ExpectedThroughput)
		fmt.Fprintf(tw, "Estimated time:\t%.0fs\n", p.EstimatedDuration().Seconds())
	}
	fmt.Fprintf(tw, "Sampling:\tevery %s, at most %d samples\n", p.Interval, p.MaxSamples)
	tw.Flush()

	fmt.Fprintln(w, strings.Repeat("=", rule))
	fmt.Fprintln(w)
}

// TickPrinter writes one table row per tick. It is a sampler observer.
type TickPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	header bool
}

// NewTickPrinter creates a tick printer writing to w.
func NewTickPrinter(w io.Writer) *TickPrinter {
	return &TickPrinter{w: w}
}

func (p *TickPrinter) writeHeader() {
	if p.header {
		return
	}
	p.header = true
	fmt.Fprintf(p.w, "%4s | %8s | %7s | %6s | %6s | %6s | %9s\n",
		"#", "Time", "Elapsed", "Total", "Ready", "Unack", "Processed")
	fmt.Fprintln(p.w, strings.Repeat("-", rule))
}

// OnSnapshot prints the snapshot row.
func (p *TickPrinter) OnSnapshot(s snapshot.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeHeader()
	fmt.Fprintf(p.w, "%4d | %8s | %6.1fs | %6d | %6d | %6d | %9d\n",
		s.Sequence, s.WallTime.Format("15:04:05"), s.Elapsed.Seconds(),
		s.Total, s.Ready, s.Unacknowledged, s.Processed)
}

// OnSampleError prints a row for a skipped tick.
func (p *TickPrinter) OnSampleError(tick int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeHeader()
	fmt.Fprintf(p.w, "%4d | sample failed: %v\n", tick, err)
}

// PrintSummary writes the final report of a run.
func PrintSummary(w io.Writer, p Params, res coordinator.Result) {
	a := res.Analysis
	outcome := res.Outcome()

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", rule))
	fmt.Fprintln(w, "RESULTS")
	fmt.Fprintln(w, strings.Repeat("=", rule))

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", res.RunID)
	fmt.Fprintf(tw, "Producer:\t%s in %.1fs\n", res.Producer.String(), res.Producer.Duration.Seconds())
	fmt.Fprintf(tw, "Stop reason:\t%s\n", stopReason(res))
	fmt.Fprintf(tw, "Snapshots:\t%d of %d ticks (%d failed)\n", a.Samples, res.Ticks, res.Failures)
	tw.Flush()
	fmt.Fprintln(w)

	if a.Samples == 0 {
		fmt.Fprintln(w, "No snapshots captured.")
	} else {
		tw = tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
		fmt.Fprintf(tw, "Messages sent:\t%d\n", p.Target)
		fmt.Fprintf(tw, "Messages processed:\t%d\n", a.Processed)
		fmt.Fprintf(tw, "Success rate:\t%.1f%%\n", a.SuccessRate*100)
		fmt.Fprintln(tw, "\t")
		fmt.Fprintf(tw, "Peak total:\t%d\n", a.PeakTotal)
		fmt.Fprintf(tw, "Peak ready:\t%d\n", a.PeakReady)
		fmt.Fprintf(tw, "Peak unacknowledged:\t%d\n", a.PeakUnacknowledged)
		if a.HasPeak {
			fmt.Fprintf(tw, "  at:\t%s (elapsed %.1fs)\n", a.Peak.WallTime.Format(snapshot.TimestampLayout), a.Peak.Elapsed.Seconds())
		}
		tw.Flush()
		fmt.Fprintln(w)

		fmt.Fprintln(w, "BOUND VALIDATION:")
		switch a.Verdict {
		case analysis.VerdictCompliant:
			fmt.Fprintf(w, "  within bound: peak %d <= %d (%.1f%% of bound)\n", a.PeakUnacknowledged, a.Bound, a.Efficiency*100)
		case analysis.VerdictMargin:
			fmt.Fprintf(w, "  near bound: peak %d within tolerated overhead (<= %.0f)\n", a.PeakUnacknowledged, a.Limit)
		case analysis.VerdictViolation:
			fmt.Fprintf(w, "  VIOLATION: peak %d exceeds %d and the tolerated overhead (%.0f)\n", a.PeakUnacknowledged, a.Bound, a.Limit)
		default:
			fmt.Fprintln(w, "  bound never observed active, nothing was in flight")
		}
		fmt.Fprintln(w)

		tw = tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
		fmt.Fprintf(tw, "Total processing time:\t%.1fs\n", a.Duration.Seconds())
		fmt.Fprintf(tw, "Average throughput:\t%.2f msg/s\n", a.Throughput)
		tw.Flush()
	}

	if p.CSVPath != "" {
		fmt.Fprintf(w, "\nData saved to: %s\n", p.CSVPath)
	}

	if notes := res.Notes(); len(notes) > 0 {
		fmt.Fprintln(w)
		for _, n := range notes {
			fmt.Fprintf(w, "note: %s\n", n)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "OUTCOME: %s\n", strings.ToUpper(string(outcome)))
	fmt.Fprintln(w, strings.Repeat("=", rule))
}

func stopReason(res coordinator.Result) string {
	reason := string(res.Stop)
	if reason == "" {
		reason = "unknown"
	}
	if res.JoinTimedOut {
		reason += " (join timeout)"
	}
	return reason
}
