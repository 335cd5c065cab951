// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package progress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPSource reads the processed count from a JSON progress endpoint exposed
// by the consumer, e.g. {"consumer":{"processed":4321}} with path
// "consumer.processed".
type HTTPSource struct {
	url    string
	path   string
	client *http.Client
}

// NewHTTPSource creates a source polling url and extracting the gjson path.
func NewHTTPSource(url, path string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPSource{
		url:    url,
		path:   path,
		client: &http.Client{Timeout: timeout},
	}
}

// Name returns the endpoint URL.
func (s *HTTPSource) Name() string {
	return s.url
}

// Processed fetches the endpoint and returns the value at the configured path.
func (s *HTTPSource) Processed(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("progress endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	v := gjson.GetBytes(body, s.path)
	if !v.Exists() {
		return 0, fmt.Errorf("%w: %s has no %q", ErrMarkerNotFound, s.url, s.path)
	}
	return v.Int(), nil
}
