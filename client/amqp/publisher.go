// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"context"
	"errors"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

// EnableConfirms puts the channel into confirm mode.
func (c *Client) EnableConfirms() error {
	return c.withChannel(func(ch *amqp091.Channel) error {
		if err := ch.Confirm(false); err != nil {
			return err
		}
		c.confirming = true
		return nil
	})
}

// PublishWithConfirm publishes msg and blocks until the broker acks it.
// A nack returns ErrNacked and no answer within the confirm timeout returns
// ErrConfirmTimeout. Publishes on one client are serialized, so at most one
// message is unconfirmed at a time.
func (c *Client) PublishWithConfirm(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
	return c.withChannel(func(ch *amqp091.Channel) error {
		if !c.confirming {
			return ErrConfirmsDisabled
		}
		dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
		if err != nil {
			return err
		}
		if dc == nil {
			return ErrConfirmsDisabled
		}
		return awaitConfirm(ctx, dc, c.opts.ConfirmTimeout)
	})
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func awaitConfirm(ctx context.Context, dc confirmation, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ack, err := dc.WaitContext(wctx)
	switch {
	case err == nil && ack:
		return nil
	case err == nil:
		return ErrNacked
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return ErrConfirmTimeout
	default:
		return err
	}
}
