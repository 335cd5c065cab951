// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfOrder is returned when a snapshot does not advance the sequence.
var ErrOutOfOrder = errors.New("snapshot sequence must be strictly increasing")

// Recorder persists snapshots to a durable record as they are appended.
type Recorder interface {
	Record(s Snapshot) error
	Close() error
}

// Store holds the snapshot history of a single run.
// Append is called only by the sampler goroutine. All returns a copy, so it
// never observes a half-written entry even if the sampler is still running.
type Store struct {
	mu       sync.RWMutex
	history  History
	recorder Recorder
}

// NewStore creates a store mirroring every appended snapshot to rec.
// A nil recorder keeps the history in memory only.
func NewStore(rec Recorder) *Store {
	return &Store{recorder: rec}
}

// Append adds s to the history and writes it to the recorder.
// The snapshot is kept in memory even when the record write fails.
func (s *Store) Append(snap Snapshot) error {
	s.mu.Lock()
	if n := len(s.history); n > 0 && snap.Sequence <= s.history[n-1].Sequence {
		s.mu.Unlock()
		return fmt.Errorf("%w: got %d after %d", ErrOutOfOrder, snap.Sequence, s.history[n-1].Sequence)
	}
	s.history = append(s.history, snap)
	s.mu.Unlock()

	if s.recorder == nil {
		return nil
	}
	if err := s.recorder.Record(snap); err != nil {
		return fmt.Errorf("failed to record snapshot %d: %w", snap.Sequence, err)
	}
	return nil
}

// All returns a copy of the full ordered history.
func (s *Store) All() History {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(History, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Last returns the most recent snapshot.
func (s *Store) Last() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Last()
}

// Close closes the underlying recorder.
func (s *Store) Close() error {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Close()
}
