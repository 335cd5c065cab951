// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"testing"

	"github.com/absmach/loadprobe/analysis"
	"github.com/absmach/loadprobe/producer"
	"github.com/absmach/loadprobe/sampler"
	"github.com/stretchr/testify/assert"
)

func TestResult_Outcome(t *testing.T) {
	ok := producer.Result{Status: producer.StatusSucceeded}

	tests := []struct {
		name string
		res  Result
		want Outcome
	}{
		{
			name: "completed compliant",
			res:  Result{Producer: ok, Stop: sampler.StopCompleted, Analysis: analysis.Report{Verdict: analysis.VerdictCompliant}},
			want: OutcomeCompliant,
		},
		{
			name: "completed within margin",
			res:  Result{Producer: ok, Stop: sampler.StopCompleted, Analysis: analysis.Report{Verdict: analysis.VerdictMargin}},
			want: OutcomeMargin,
		},
		{
			name: "completed inconclusive",
			res:  Result{Producer: ok, Stop: sampler.StopCompleted, Analysis: analysis.Report{Verdict: analysis.VerdictInconclusive}},
			want: OutcomeInconclusive,
		},
		{
			name: "violation wins over incomplete run",
			res:  Result{Producer: producer.Result{Status: producer.StatusFailed}, Stop: sampler.StopBudgetExhausted, Analysis: analysis.Report{Verdict: analysis.VerdictViolation}},
			want: OutcomeViolation,
		},
		{
			name: "producer failed",
			res:  Result{Producer: producer.Result{Status: producer.StatusFailed, ExitCode: 2}, Stop: sampler.StopCompleted, Analysis: analysis.Report{Verdict: analysis.VerdictCompliant}},
			want: OutcomeProducerFailed,
		},
		{
			name: "producer timed out",
			res:  Result{Producer: producer.Result{Status: producer.StatusTimedOut}, Stop: sampler.StopBudgetExhausted},
			want: OutcomeProducerTimedOut,
		},
		{
			name: "producer cancelled",
			res:  Result{Producer: producer.Result{Status: producer.StatusCancelled}, Stop: sampler.StopCancelled},
			want: OutcomeCancelled,
		},
		{
			name: "sampler cancelled",
			res:  Result{Producer: ok, Stop: sampler.StopCancelled, Analysis: analysis.Report{Verdict: analysis.VerdictCompliant}},
			want: OutcomeCancelled,
		},
		{
			name: "join timed out",
			res:  Result{Producer: ok, Stop: sampler.StopCancelled, JoinTimedOut: true, Analysis: analysis.Report{Verdict: analysis.VerdictCompliant}},
			want: OutcomeIncomplete,
		},
		{
			name: "budget exhausted",
			res:  Result{Producer: ok, Stop: sampler.StopBudgetExhausted, Analysis: analysis.Report{Verdict: analysis.VerdictCompliant}},
			want: OutcomeIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Outcome())
		})
	}
}

func TestOutcome_Pass(t *testing.T) {
	assert.True(t, OutcomeCompliant.Pass())
	assert.True(t, OutcomeMargin.Pass())
	for _, o := range []Outcome{OutcomeViolation, OutcomeInconclusive, OutcomeIncomplete, OutcomeProducerFailed, OutcomeProducerTimedOut, OutcomeCancelled} {
		assert.False(t, o.Pass(), o)
	}
}

func TestResult_NotesForEmptyRun(t *testing.T) {
	res := Result{Stop: sampler.StopBudgetExhausted}
	assert.Contains(t, res.Notes(), "no snapshots were captured")
	assert.NotContains(t, res.Notes(), "bound never observed active")
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "starting", PhaseStarting.String())
	assert.Equal(t, "running", PhaseRunning.String())
	assert.Equal(t, "finished", PhaseFinished.String())
}
