// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"testing"
	"time"

	"github.com/absmach/loadprobe/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyFromUnacked(values ...int64) snapshot.History {
	h := make(snapshot.History, 0, len(values))
	for i, v := range values {
		h = append(h, snapshot.Snapshot{
			Sequence:       i + 1,
			Elapsed:        time.Duration(i) * 2 * time.Second,
			Total:          v + 10,
			Ready:          10,
			Unacknowledged: v,
			Processed:      int64(i * 100),
		})
	}
	return h
}

func TestAnalyze_Verdicts(t *testing.T) {
	h := historyFromUnacked(0, 50, 180, 210, 40, 0)

	tests := []struct {
		bound int64
		want  Verdict
	}{
		{bound: 200, want: VerdictMargin},
		{bound: 150, want: VerdictViolation},
		{bound: 250, want: VerdictCompliant},
		{bound: 210, want: VerdictCompliant},
	}

	for _, tt := range tests {
		r := Analyze(h, Config{Target: 500, Bound: tt.bound})
		assert.Equal(t, int64(210), r.PeakUnacknowledged)
		assert.Equal(t, tt.want, r.Verdict, "bound %d", tt.bound)
	}
}

func TestAnalyze_Peaks(t *testing.T) {
	h := snapshot.History{
		{Sequence: 1, Total: 500, Ready: 480, Unacknowledged: 20},
		{Sequence: 2, Total: 300, Ready: 100, Unacknowledged: 200},
		{Sequence: 3, Total: 250, Ready: 50, Unacknowledged: 200},
		{Sequence: 4, Total: 40, Ready: 0, Unacknowledged: 40, Processed: 460, Elapsed: 4 * time.Second},
	}

	r := Analyze(h, Config{Target: 500, Bound: 200})
	assert.Equal(t, 4, r.Samples)
	assert.Equal(t, int64(500), r.PeakTotal)
	assert.Equal(t, int64(480), r.PeakReady)
	assert.Equal(t, int64(200), r.PeakUnacknowledged)
	require.True(t, r.HasPeak)
	assert.Equal(t, 2, r.Peak.Sequence, "ties resolve to the earliest snapshot")
	assert.Equal(t, VerdictCompliant, r.Verdict)
	assert.InDelta(t, 1.0, r.Efficiency, 1e-9)
	assert.InDelta(t, 0.92, r.SuccessRate, 1e-9)
	assert.InDelta(t, 115.0, r.Throughput, 1e-9)
	assert.Equal(t, int64(460), r.Processed)
	assert.Equal(t, 4*time.Second, r.Duration)
	assert.True(t, r.ProgressObserved)
	assert.InDelta(t, 220.0, r.Limit, 1e-9)
}

func TestAnalyze_EmptyHistory(t *testing.T) {
	r := Analyze(nil, Config{Target: 100, Bound: 10})
	assert.Zero(t, r.Samples)
	assert.Zero(t, r.SuccessRate)
	assert.Zero(t, r.Throughput)
	assert.False(t, r.HasPeak)
	assert.Equal(t, VerdictInconclusive, r.Verdict)
}

func TestAnalyze_ZeroElapsedAndZeroTarget(t *testing.T) {
	h := snapshot.History{{Sequence: 1, Unacknowledged: 3, Processed: 5}}

	r := Analyze(h, Config{Target: 0, Bound: 10})
	assert.Zero(t, r.Throughput)
	assert.Zero(t, r.SuccessRate)
	assert.Equal(t, VerdictCompliant, r.Verdict)
}

func TestAnalyze_SuccessRateMayExceedOne(t *testing.T) {
	h := snapshot.History{{Sequence: 1, Processed: 150, Elapsed: time.Second}}

	r := Analyze(h, Config{Target: 100, Bound: 10})
	assert.InDelta(t, 1.5, r.SuccessRate, 1e-9)
}

func TestAnalyze_NeverActive(t *testing.T) {
	r := Analyze(historyFromUnacked(0, 0, 0), Config{Target: 100, Bound: 10})
	assert.Equal(t, VerdictInconclusive, r.Verdict)
	assert.Zero(t, r.PeakUnacknowledged)
}

func TestAnalyze_NoProgressObserved(t *testing.T) {
	h := snapshot.History{{Sequence: 1, Unacknowledged: 4}, {Sequence: 2, Unacknowledged: 2, Elapsed: time.Second}}
	r := Analyze(h, Config{Target: 100, Bound: 10})
	assert.False(t, r.ProgressObserved)
	assert.Zero(t, r.Throughput)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		peak   int64
		bound  int64
		margin float64
		want   Verdict
	}{
		{name: "zero peak", peak: 0, bound: 200, margin: 0.1, want: VerdictInconclusive},
		{name: "below bound", peak: 199, bound: 200, margin: 0.1, want: VerdictCompliant},
		{name: "at bound", peak: 200, bound: 200, margin: 0.1, want: VerdictCompliant},
		{name: "just above bound", peak: 201, bound: 200, margin: 0.1, want: VerdictMargin},
		{name: "at margin", peak: 220, bound: 200, margin: 0.1, want: VerdictMargin},
		{name: "above margin", peak: 221, bound: 200, margin: 0.1, want: VerdictViolation},
		{name: "custom margin", peak: 221, bound: 200, margin: 0.2, want: VerdictMargin},
		{name: "zero bound", peak: 1, bound: 0, margin: 0.1, want: VerdictViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.peak, tt.bound, tt.margin))
		})
	}
}
