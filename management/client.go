// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package management

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
)

// Common errors.
var (
	ErrMalformedPayload = errors.New("malformed queue status payload")
	ErrUnexpectedStatus = errors.New("unexpected management API status")
)

const maxBodySize = 1 << 20

// StatusError reports a non-2xx management API response.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s %s returned %d", ErrUnexpectedStatus, e.Method, e.URL, e.Code)
}

// Is reports StatusError as ErrUnexpectedStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Config holds the management API connection settings.
type Config struct {
	URL            string // base URL, e.g. http://localhost:15672
	VHost          string
	Queue          string
	Username       string
	Password       string
	RequestTimeout time.Duration

	// Purge retries, including the first attempt.
	PurgeAttempts int

	// Consecutive failures that open the breaker, and how long it stays open.
	BreakerFailures     int
	BreakerResetTimeout time.Duration
}

// QueueStats is the subset of the queue status payload the probe consumes.
type QueueStats struct {
	Messages       int64
	Ready          int64
	Unacknowledged int64
	Consumers      int64
}

// Client queries and purges a single queue through the RabbitMQ management API.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a management API client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.PurgeAttempts < 1 {
		cfg.PurgeAttempts = 1
	}
	if cfg.BreakerFailures < 1 {
		cfg.BreakerFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "management:" + cfg.Queue,
		MaxRequests: 1,
		Timeout:     cfg.BreakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("management circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: breaker,
		logger:  logger,
	}
}

// QueueURL returns the queue status endpoint.
func (c *Client) QueueURL() string {
	return strings.TrimRight(c.cfg.URL, "/") + "/api/queues/" + url.PathEscape(c.cfg.VHost) + "/" + url.PathEscape(c.cfg.Queue)
}

// QueueStats fetches the current queue depth, in-flight count and consumers.
// Missing fields in the payload are reported as zero.
func (c *Client) QueueStats(ctx context.Context) (QueueStats, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, http.MethodGet, c.QueueURL())
	})
	if err != nil {
		return QueueStats{}, err
	}
	return parseQueueStats(res.([]byte))
}

// Purge deletes every message currently held by the queue, retrying with
// exponential backoff. A missing queue is not retried.
func (c *Client) Purge(ctx context.Context) error {
	endpoint := c.QueueURL() + "/contents"
	attempt := 0

	op := func() error {
		attempt++
		_, err := c.do(ctx, http.MethodDelete, endpoint)
		if err == nil {
			return nil
		}
		c.logger.Debug("queue purge attempt failed",
			slog.String("queue", c.cfg.Queue),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.PurgeAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("failed to purge queue %q after %d attempts: %w", c.cfg.Queue, attempt, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Absmach-Loadprobe/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, URL: endpoint, Code: resp.StatusCode}
	}
	return body, nil
}

func parseQueueStats(body []byte) (QueueStats, error) {
	if !gjson.ValidBytes(body) {
		return QueueStats{}, ErrMalformedPayload
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return QueueStats{}, fmt.Errorf("%w: expected an object, got %s", ErrMalformedPayload, doc.Type)
	}

	return QueueStats{
		Messages:       doc.Get("messages").Int(),
		Ready:          doc.Get("messages_ready").Int(),
		Unacknowledged: doc.Get("messages_unacknowledged").Int(),
		Consumers:      doc.Get("consumers").Int(),
	}, nil
}
