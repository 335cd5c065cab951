// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import amqp091 "github.com/rabbitmq/amqp091-go"

// DeclareDurableQueue declares a durable, non-exclusive queue.
func (c *Client) DeclareDurableQueue(name string) error {
	if name == "" {
		return ErrInvalidQueueName
	}
	return c.withChannel(func(ch *amqp091.Channel) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, nil)
		return err
	})
}

// DeclareTopicExchange declares a durable topic exchange.
func (c *Client) DeclareTopicExchange(name string) error {
	if name == "" {
		return ErrInvalidExchange
	}
	return c.withChannel(func(ch *amqp091.Channel) error {
		return ch.ExchangeDeclare(name, amqp091.ExchangeTopic, true, false, false, false, nil)
	})
}

// BindQueue binds queue to exchange under key.
func (c *Client) BindQueue(queue, key, exchange string) error {
	if queue == "" {
		return ErrInvalidQueueName
	}
	if exchange == "" {
		return ErrInvalidExchange
	}
	return c.withChannel(func(ch *amqp091.Channel) error {
		return ch.QueueBind(queue, key, exchange, false, nil)
	})
}
