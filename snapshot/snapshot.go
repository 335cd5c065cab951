// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package snapshot

import "time"

// Snapshot is one observation of queue state and processing progress.
type Snapshot struct {
	WallTime       time.Time
	Elapsed        time.Duration
	Sequence       int
	Total          int64 // ready + unacknowledged as reported by the broker
	Ready          int64
	Unacknowledged int64 // in-flight messages, the observed concurrency level
	Consumers      int64
	Processed      int64
}

// History is an ordered, append-only sequence of snapshots.
type History []Snapshot

// Last returns the most recent snapshot and false if the history is empty.
func (h History) Last() (Snapshot, bool) {
	if len(h) == 0 {
		return Snapshot{}, false
	}
	return h[len(h)-1], true
}
