// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const scanChunk = 64 * 1024

// LogSource scrapes a consumer log file for the most recent progress line,
// e.g. "... Processed: 4321, Errors: 0".
type LogSource struct {
	path      string
	marker    string
	delimiter string
}

// NewLogSource creates a source reading path. The count is the integer
// following marker, terminated by delimiter or end of line.
func NewLogSource(path, marker, delimiter string) *LogSource {
	return &LogSource{path: path, marker: marker, delimiter: delimiter}
}

// Name returns the log path.
func (s *LogSource) Name() string {
	return s.path
}

// Processed scans the file from its end and parses the last line that
// contains the marker.
func (s *LogSource) Processed(_ context.Context) (int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	line, err := lastLineContaining(f, []byte(s.marker))
	if err != nil {
		return 0, err
	}
	return ParseCount(line, s.marker, s.delimiter)
}

// ParseCount extracts the integer following marker in line.
func ParseCount(line, marker, delimiter string) (int64, error) {
	_, rest, ok := strings.Cut(line, marker)
	if !ok {
		return 0, ErrMarkerNotFound
	}
	if delimiter != "" {
		rest, _, _ = strings.Cut(rest, delimiter)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid progress count %q: %w", strings.TrimSpace(rest), err)
	}
	return n, nil
}

// lastLineContaining reads f backwards in chunks and returns the last line
// containing marker.
func lastLineContaining(f *os.File, marker []byte) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	var carry []byte
	for off := info.Size(); off > 0; {
		n := int64(scanChunk)
		if off < n {
			n = off
		}
		off -= n

		buf := make([]byte, n, n+int64(len(carry)))
		if _, err := f.ReadAt(buf, off); err != nil {
			return "", fmt.Errorf("failed to read %s: %w", f.Name(), err)
		}
		buf = append(buf, carry...)

		for {
			i := bytes.LastIndexByte(buf, '\n')
			if i < 0 {
				break
			}
			if line := buf[i+1:]; bytes.Contains(line, marker) {
				return string(bytes.TrimRight(line, "\r")), nil
			}
			buf = buf[:i]
		}
		carry = buf
	}

	if bytes.Contains(carry, marker) {
		return string(bytes.TrimRight(carry, "\r")), nil
	}
	return "", ErrMarkerNotFound
}
