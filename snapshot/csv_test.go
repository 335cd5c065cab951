// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "test_results_20260304_050607_000.csv", FileName(ts))

	later := ts.Add(42*time.Millisecond + 999*time.Microsecond)
	assert.Equal(t, "test_results_20260304_050607_042.csv", FileName(later))
	assert.NotEqual(t, FileName(ts), FileName(later))
}

func TestCSVRecorder_RefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(time.Now()))
	first, err := NewCSVRecorder(path)
	require.NoError(t, err)
	require.NoError(t, first.Record(Snapshot{Sequence: 1, WallTime: time.Now(), Total: 3}))
	require.NoError(t, first.Close())

	_, err = NewCSVRecorder(path)
	assert.ErrorIs(t, err, os.ErrExist)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	h, err := ReadCSV(f)
	require.NoError(t, err)
	assert.Len(t, h, 1)
}

func TestCSVRecorder_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", FileName(time.Now()))
	rec, err := NewCSVRecorder(path)
	require.NoError(t, err)
	assert.Equal(t, path, rec.Path())

	store := NewStore(rec)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Append(Snapshot{
			Sequence:       i * 2,
			WallTime:       start.Add(time.Duration(i) * 1500 * time.Millisecond),
			Elapsed:        time.Duration(i) * 1500 * time.Millisecond,
			Total:          int64(100 - i),
			Ready:          int64(90 - i),
			Unacknowledged: int64(10),
			Consumers:      1,
			Processed:      int64(i * 7),
		}))
	}
	require.NoError(t, store.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := ReadCSV(f)
	require.NoError(t, err)

	want := store.All()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Sequence, got[i].Sequence)
		assert.True(t, want[i].WallTime.Equal(got[i].WallTime), "row %d timestamp", i)
		assert.Equal(t, want[i].Elapsed, got[i].Elapsed)
		assert.Equal(t, want[i].Total, got[i].Total)
		assert.Equal(t, want[i].Ready, got[i].Ready)
		assert.Equal(t, want[i].Unacknowledged, got[i].Unacknowledged)
		assert.Equal(t, want[i].Consumers, got[i].Consumers)
		assert.Equal(t, want[i].Processed, got[i].Processed)
	}
}

func TestCSVRecorder_FlushesEveryRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	rec, err := NewCSVRecorder(path)
	require.NoError(t, err)
	defer rec.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(Header, ",")+"\n", string(data))

	require.NoError(t, rec.Record(Snapshot{Sequence: 1, WallTime: time.Now(), Total: 3}))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "1,"))
}

func TestCSVRecorder_WriteAfterClose(t *testing.T) {
	rec, err := NewCSVRecorder(filepath.Join(t.TempDir(), "run.csv"))
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.ErrorIs(t, rec.Record(Snapshot{Sequence: 1}), os.ErrClosed)
}

func TestReadCSV_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "wrong header",
			input: "a,b,c,d,e,f,g,h\n",
		},
		{
			name:  "bad integer",
			input: strings.Join(Header, ",") + "\n1,2026-01-02T03:04:05.000Z,1.000,x,0,0,0,0\n",
		},
		{
			name:  "bad timestamp",
			input: strings.Join(Header, ",") + "\n1,yesterday,1.000,0,0,0,0,0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, ErrMalformedRow)
		})
	}
}
