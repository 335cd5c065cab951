// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sampler

import "github.com/absmach/loadprobe/snapshot"

// StopReason tells why a sampling loop ended.
type StopReason string

const (
	StopNone            StopReason = ""
	StopCompleted       StopReason = "completed"        // producer done, queue empty, target processed
	StopBudgetExhausted StopReason = "budget_exhausted" // safety bound on ticks reached
	StopCancelled       StopReason = "cancelled"        // context cancelled by the coordinator or operator
)

// Detector decides after every tick whether sampling should stop.
type Detector struct {
	maxSamples   int
	target       int64
	producerDone func() bool
}

// NewDetector creates a detector stopping after maxSamples ticks, or earlier
// once producerDone reports true, the queue is empty and target messages
// were processed.
func NewDetector(maxSamples int, target int64, producerDone func() bool) *Detector {
	return &Detector{
		maxSamples:   maxSamples,
		target:       target,
		producerDone: producerDone,
	}
}

// Evaluate is called once per tick, after the tick's snapshot (nil when the
// tick failed) has been stored.
func (d *Detector) Evaluate(tick int, snap *snapshot.Snapshot) (StopReason, bool) {
	if snap != nil && d.complete(*snap) {
		return StopCompleted, true
	}
	if tick >= d.maxSamples {
		return StopBudgetExhausted, true
	}
	return StopNone, false
}

// An empty queue alone is not enough: between deliveries the broker can
// briefly report zero messages while work is still outstanding.
func (d *Detector) complete(s snapshot.Snapshot) bool {
	if d.producerDone == nil || !d.producerDone() {
		return false
	}
	return s.Total == 0 && s.Processed >= d.target
}
