// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package amqp is a small AMQP 0.9.1 publishing client: one connection,
// one channel, topology declaration and confirm-mode publishing.
package amqp

import (
	"sync"
	"sync/atomic"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Client owns a single broker connection and channel.
type Client struct {
	opts *Options

	mu   sync.Mutex // serializes channel use
	conn *amqp091.Connection
	ch   *amqp091.Channel

	confirming bool // channel is in confirm mode; guarded by mu
	connected  atomic.Bool
}

// New creates a client with the given options.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		return nil, ErrNoURL
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Client{opts: opts}, nil
}

// Connect dials the broker and opens the publishing channel.
func (c *Client) Connect() error {
	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	conn, err := amqp091.DialConfig(c.opts.URL, amqp091.Config{
		Heartbeat: c.opts.Heartbeat,
		Dial:      amqp091.DefaultDial(c.opts.DialTimeout),
	})
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn, c.ch = conn, ch
	c.confirming = false
	c.mu.Unlock()
	c.connected.Store(true)
	return nil
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if !c.connected.Swap(false) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// withChannel runs fn with the channel while holding the client lock.
func (c *Client) withChannel(fn func(ch *amqp091.Channel) error) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return ErrNotConnected
	}
	return fn(c.ch)
}
