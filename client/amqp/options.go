// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import "time"

// Default values.
const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultHeartbeat      = 10 * time.Second
	DefaultConfirmTimeout = 5 * time.Second
)

// Options configures the publishing client.
type Options struct {
	URL            string
	DialTimeout    time.Duration
	Heartbeat      time.Duration
	ConfirmTimeout time.Duration // how long a publish waits for its ack
}

// NewOptions returns Options for url with default timeouts.
func NewOptions(url string) *Options {
	return &Options{
		URL:            url,
		DialTimeout:    DefaultDialTimeout,
		Heartbeat:      DefaultHeartbeat,
		ConfirmTimeout: DefaultConfirmTimeout,
	}
}

// SetConfirmTimeout sets the per-message confirm wait. Zero keeps the default.
func (o *Options) SetConfirmTimeout(d time.Duration) *Options {
	if d > 0 {
		o.ConfirmTimeout = d
	}
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.URL == "" {
		return ErrNoURL
	}
	return nil
}
