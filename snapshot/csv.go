// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// TimestampLayout is the wall-clock format used in the CSV record.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Header is the column layout of the durable run record.
var Header = []string{
	"snapshot",
	"timestamp",
	"elapsed_seconds",
	"messages_total",
	"messages_ready",
	"messages_unacknowledged",
	"consumers",
	"processed_count",
}

// ErrMalformedRow is returned by ReadCSV for rows that do not match Header.
var ErrMalformedRow = errors.New("malformed snapshot row")

// FileName returns the record file name for a run started at t, at
// millisecond resolution.
func FileName(t time.Time) string {
	return fmt.Sprintf("test_results_%s_%03d.csv", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}

// CSVRecorder writes one row per snapshot and flushes after every write, so a
// crash loses at most the row being written.
type CSVRecorder struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// NewCSVRecorder creates the file at path, writes the header and flushes it.
// An existing file is never overwritten: the error then wraps os.ErrExist.
func NewCSVRecorder(path string) (*CSVRecorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot record %s: %w", path, err)
	}

	r := &CSVRecorder{path: path, file: f, w: csv.NewWriter(f)}
	if err := r.write(Header); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the record's file path.
func (r *CSVRecorder) Path() string {
	return r.path
}

// Record appends s as a row.
func (r *CSVRecorder) Record(s Snapshot) error {
	return r.write(encodeRow(s))
}

// Close flushes and closes the file.
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	r.w.Flush()
	werr := r.w.Error()
	cerr := r.file.Close()
	r.file = nil
	return errors.Join(werr, cerr)
}

func (r *CSVRecorder) write(row []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return os.ErrClosed
	}
	if err := r.w.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("failed to flush row: %w", err)
	}
	return nil
}

func encodeRow(s Snapshot) []string {
	return []string{
		strconv.Itoa(s.Sequence),
		s.WallTime.Format(TimestampLayout),
		strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 3, 64),
		strconv.FormatInt(s.Total, 10),
		strconv.FormatInt(s.Ready, 10),
		strconv.FormatInt(s.Unacknowledged, 10),
		strconv.FormatInt(s.Consumers, 10),
		strconv.FormatInt(s.Processed, 10),
	}
}

// ReadCSV parses a record written by CSVRecorder back into a history.
func ReadCSV(r io.Reader) (History, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range Header {
		if head[i] != col {
			return nil, fmt.Errorf("%w: header column %d is %q, want %q", ErrMalformedRow, i, head[i], col)
		}
	}

	var h History
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return h, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		s, err := decodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		h = append(h, s)
	}
}

func decodeRow(row []string) (Snapshot, error) {
	var s Snapshot
	var err error

	if s.Sequence, err = strconv.Atoi(row[0]); err != nil {
		return s, fmt.Errorf("%w: snapshot: %v", ErrMalformedRow, err)
	}
	if s.WallTime, err = time.Parse(TimestampLayout, row[1]); err != nil {
		return s, fmt.Errorf("%w: timestamp: %v", ErrMalformedRow, err)
	}
	secs, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return s, fmt.Errorf("%w: elapsed_seconds: %v", ErrMalformedRow, err)
	}
	s.Elapsed = time.Duration(math.Round(secs*1e3)) * time.Millisecond

	ints := []*int64{&s.Total, &s.Ready, &s.Unacknowledged, &s.Consumers, &s.Processed}
	for i, dst := range ints {
		v, err := strconv.ParseInt(row[3+i], 10, 64)
		if err != nil {
			return s, fmt.Errorf("%w: %s: %v", ErrMalformedRow, Header[3+i], err)
		}
		*dst = v
	}
	return s, nil
}
