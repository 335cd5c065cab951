// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	name string
	n    int64
	err  error
	hits int
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Processed(context.Context) (int64, error) {
	s.hits++
	return s.n, s.err
}

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "consumer.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		delimiter string
		want      int64
		wantErr   bool
	}{
		{name: "delimited", line: "[Consumer] INFO: Processed: 4321, Errors: 0", delimiter: ",", want: 4321},
		{name: "end of line", line: "Processed: 17", delimiter: ",", want: 17},
		{name: "no delimiter configured", line: "Processed:   99  ", want: 99},
		{name: "first marker wins", line: "Processed: 5, Processed: 6", delimiter: ",", want: 5},
		{name: "not a number", line: "Processed: many, Errors: 0", delimiter: ",", wantErr: true},
		{name: "missing marker", line: "Errors: 0", delimiter: ",", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCount(tt.line, "Processed:", tt.delimiter)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogSource_LastMatchingLine(t *testing.T) {
	path := writeLog(t, strings.Join([]string{
		"[Consumer] INFO: All services connected",
		"[Consumer] INFO: Processed: 10, Errors: 0",
		"[Consumer] INFO: Message abc acked",
		"[Consumer] INFO: Processed: 250, Errors: 1",
		"[Consumer] INFO: Message def acked",
		"",
	}, "\n"))

	n, err := NewLogSource(path, "Processed:", ",").Processed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(250), n)
}

func TestLogSource_WindowsLineEndings(t *testing.T) {
	path := writeLog(t, "Processed: 3\r\nProcessed: 8\r\n")

	n, err := NewLogSource(path, "Processed:", ",").Processed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestLogSource_SpansChunks(t *testing.T) {
	var b strings.Builder
	b.WriteString("Processed: 1, Errors: 0\n")
	filler := strings.Repeat("x", 1000)
	for b.Len() < 3*scanChunk {
		b.WriteString(filler)
		b.WriteByte('\n')
	}
	// No trailing newline; the match straddles the last chunk boundary.
	b.WriteString(strings.Repeat("y", scanChunk-10))
	b.WriteString(" Processed: 777, Errors: 0")
	path := writeLog(t, b.String())

	n, err := NewLogSource(path, "Processed:", ",").Processed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(777), n)
}

func TestLogSource_OnlyFirstLineMatches(t *testing.T) {
	var b strings.Builder
	b.WriteString("Processed: 42\n")
	for b.Len() < 2*scanChunk {
		b.WriteString("noise\n")
	}
	path := writeLog(t, b.String())

	n, err := NewLogSource(path, "Processed:", ",").Processed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestLogSource_Errors(t *testing.T) {
	_, err := NewLogSource(filepath.Join(t.TempDir(), "missing.log"), "Processed:", ",").Processed(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := writeLog(t, "nothing to see\n")
	_, err = NewLogSource(path, "Processed:", ",").Processed(context.Background())
	assert.ErrorIs(t, err, ErrMarkerNotFound)

	empty := writeLog(t, "")
	_, err = NewLogSource(empty, "Processed:", ",").Processed(context.Background())
	assert.ErrorIs(t, err, ErrMarkerNotFound)
}

func TestOracle_FirstSourceAbsentSecondMatches(t *testing.T) {
	dir := t.TempDir()
	second := filepath.Join(dir, "consumer-5k.log")
	require.NoError(t, os.WriteFile(second, []byte("[Consumer] INFO: Processed: 4321, Errors: 0\n"), 0o644))

	oracle := NewOracle(nil,
		NewLogSource(filepath.Join(dir, "consumer-50k.log"), "Processed:", ","),
		NewLogSource(second, "Processed:", ","),
	)
	assert.Equal(t, int64(4321), oracle.Processed(context.Background()))
	assert.Equal(t, 2, oracle.Sources())
}

func TestOracle_StopsAtFirstPositive(t *testing.T) {
	zero := &staticSource{name: "zero"}
	failing := &staticSource{name: "failing", err: errors.New("boom")}
	hit := &staticSource{name: "hit", n: 12}
	never := &staticSource{name: "never", n: 99}

	oracle := NewOracle(nil, zero, failing, hit, never)
	assert.Equal(t, int64(12), oracle.Processed(context.Background()))
	assert.Equal(t, 1, zero.hits)
	assert.Equal(t, 1, failing.hits)
	assert.Equal(t, 0, never.hits)
}

func TestOracle_NothingFound(t *testing.T) {
	assert.Equal(t, int64(0), NewOracle(nil).Processed(context.Background()))

	oracle := NewOracle(nil, &staticSource{name: "a", err: ErrMarkerNotFound}, &staticSource{name: "b"})
	assert.Equal(t, int64(0), oracle.Processed(context.Background()))
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			fmt.Fprint(w, `{"consumer":{"processed":4321,"errors":0}}`)
		case "/missing":
			fmt.Fprint(w, `{"consumer":{}}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	n, err := NewHTTPSource(srv.URL+"/ok", "consumer.processed", time.Second).Processed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4321), n)

	_, err = NewHTTPSource(srv.URL+"/missing", "consumer.processed", time.Second).Processed(ctx)
	assert.ErrorIs(t, err, ErrMarkerNotFound)

	_, err = NewHTTPSource(srv.URL+"/fail", "consumer.processed", time.Second).Processed(ctx)
	assert.Error(t, err)
}
