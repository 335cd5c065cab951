// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"time"

	"github.com/absmach/loadprobe/analysis"
	"github.com/absmach/loadprobe/producer"
	"github.com/absmach/loadprobe/sampler"
	"github.com/absmach/loadprobe/snapshot"
)

// Outcome is the single verdict surfaced to the operator.
type Outcome string

const (
	OutcomeCompliant        Outcome = "compliant"
	OutcomeMargin           Outcome = "margin"
	OutcomeViolation        Outcome = "violation"
	OutcomeInconclusive     Outcome = "inconclusive"
	OutcomeIncomplete       Outcome = "incomplete"
	OutcomeProducerFailed   Outcome = "producer_failed"
	OutcomeProducerTimedOut Outcome = "producer_timed_out"
	OutcomeCancelled        Outcome = "cancelled"
)

// Pass reports whether the bound was shown to hold.
func (o Outcome) Pass() bool {
	return o == OutcomeCompliant || o == OutcomeMargin
}

// Result is everything a finished run produced.
type Result struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Purged       bool
	PurgeErr     error
	Producer     producer.Result
	Stop         sampler.StopReason
	JoinTimedOut bool
	Ticks        int
	Failures     int
	History      snapshot.History
	Analysis     analysis.Report
}

// Outcome folds the stop reason, producer result and analysis verdict into one
// outcome. An observed violation is reported even when the run did not
// complete, since more samples cannot undo it.
func (r Result) Outcome() Outcome {
	if r.Analysis.Verdict == analysis.VerdictViolation {
		return OutcomeViolation
	}

	switch r.Producer.Status {
	case producer.StatusFailed:
		return OutcomeProducerFailed
	case producer.StatusTimedOut:
		return OutcomeProducerTimedOut
	case producer.StatusCancelled:
		return OutcomeCancelled
	}

	if r.Stop == sampler.StopCancelled && !r.JoinTimedOut {
		return OutcomeCancelled
	}
	if r.Stop != sampler.StopCompleted {
		return OutcomeIncomplete
	}

	switch r.Analysis.Verdict {
	case analysis.VerdictCompliant:
		return OutcomeCompliant
	case analysis.VerdictMargin:
		return OutcomeMargin
	default:
		return OutcomeInconclusive
	}
}

// Notes explains outcomes that are not self-describing.
func (r Result) Notes() []string {
	var notes []string
	if r.PurgeErr != nil {
		notes = append(notes, "queue purge failed: "+r.PurgeErr.Error())
	}
	if r.Producer.Err != nil && !r.Producer.Succeeded() {
		notes = append(notes, "producer: "+r.Producer.Err.Error())
	}
	if r.Stop == sampler.StopBudgetExhausted {
		notes = append(notes, "run stopped on the sampling safety bound, completion not confirmed")
	}
	if r.JoinTimedOut {
		notes = append(notes, "sampler did not stop within the join timeout")
	}
	if r.Analysis.Samples > 0 && !r.Analysis.ProgressObserved {
		notes = append(notes, "no progress source reported a processed count")
	}
	if r.Analysis.Samples == 0 {
		notes = append(notes, "no snapshots were captured")
	}
	if r.Analysis.Samples > 0 && r.Analysis.Verdict == analysis.VerdictInconclusive {
		notes = append(notes, "bound never observed active")
	}
	return notes
}
