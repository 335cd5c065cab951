// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package producer generates the load a load run observes.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the tagged outcome of a producer run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Result describes how the producer finished.
type Result struct {
	Status   Status
	ExitCode int // process exit code; -1 when there is none
	Err      error
	Duration time.Duration

	// Message counters, known only to the built-in producer.
	Published int64
	Failed    int64

	// Tail of the captured process output.
	Output string
}

// Succeeded reports whether the producer finished cleanly.
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}

func (r Result) String() string {
	switch r.Status {
	case StatusFailed:
		if r.ExitCode >= 0 {
			return fmt.Sprintf("failed(%d)", r.ExitCode)
		}
		return "failed"
	case "":
		return "unknown"
	default:
		return string(r.Status)
	}
}

// Producer publishes count messages to the queue under test and blocks until
// it is done. Run never returns a zero Result.
type Producer interface {
	Run(ctx context.Context, count int64) Result
}

// statusFromContext maps an interrupted run to timed-out or cancelled.
func statusFromContext(ctx context.Context) (Status, bool) {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimedOut, true
	case errors.Is(err, context.Canceled):
		return StatusCancelled, true
	default:
		return "", false
	}
}
