// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/absmach/loadprobe/coordinator"
)

// Line is the machine-readable result of one run, one JSON object per line.
type Line struct {
	RunID              string  `json:"run_id"`
	Timestamp          string  `json:"timestamp"`
	Queue              string  `json:"queue"`
	Target             int64   `json:"target"`
	Bound              int64   `json:"bound"`
	Processed          int64   `json:"processed"`
	SuccessRate        float64 `json:"success_rate"`
	PeakTotal          int64   `json:"peak_total"`
	PeakReady          int64   `json:"peak_ready"`
	PeakUnacknowledged int64   `json:"peak_unacknowledged"`
	ThroughputMPS      float64 `json:"throughput_mps"`
	DurationMS         int64   `json:"duration_ms"`
	Samples            int     `json:"samples"`
	Ticks              int     `json:"ticks"`
	SampleErrors       int     `json:"sample_errors"`
	Producer           string  `json:"producer"`
	Stop               string  `json:"stop"`
	Verdict            string  `json:"verdict"`
	Outcome            string  `json:"outcome"`
	Pass               bool    `json:"pass"`
	CSV                string  `json:"csv,omitempty"`
	Notes              string  `json:"notes,omitempty"`
}

// NewLine builds the result line of a finished run.
func NewLine(p Params, res coordinator.Result) Line {
	a := res.Analysis
	outcome := res.Outcome()
	return Line{
		RunID:              res.RunID,
		Timestamp:          res.FinishedAt.UTC().Format(time.RFC3339),
		Queue:              p.Queue,
		Target:             p.Target,
		Bound:              p.Bound,
		Processed:          a.Processed,
		SuccessRate:        a.SuccessRate,
		PeakTotal:          a.PeakTotal,
		PeakReady:          a.PeakReady,
		PeakUnacknowledged: a.PeakUnacknowledged,
		ThroughputMPS:      a.Throughput,
		DurationMS:         res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
		Samples:            a.Samples,
		Ticks:              res.Ticks,
		SampleErrors:       res.Failures,
		Producer:           res.Producer.String(),
		Stop:               string(res.Stop),
		Verdict:            string(a.Verdict),
		Outcome:            string(outcome),
		Pass:               outcome.Pass(),
		CSV:                p.CSVPath,
		Notes:              strings.Join(res.Notes(), "; "),
	}
}

// AppendJSONLine appends line and a newline to the file at path.
func AppendJSONLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open json output %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write json line: %w", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}
