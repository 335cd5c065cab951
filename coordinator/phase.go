// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coordinator

// Phase is the lifecycle state of a run.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return "idle"
	}
}

// PhaseObserver is implemented by sampler observers that also track the run
// lifecycle.
type PhaseObserver interface {
	OnPhase(p Phase)
}
