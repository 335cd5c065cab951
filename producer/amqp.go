// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/absmach/loadprobe/client/amqp"
	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig configures the built-in producer.
type AMQPConfig struct {
	URL            string
	Queue          string
	Exchange       string        // optional; publishes to Queue directly when empty
	RoutingKey     string
	Interval       time.Duration // pause between messages
	ConfirmTimeout time.Duration // wait for each broker confirm
}

// Message is the JSON body published by the built-in producer.
type Message struct {
	ID        string         `json:"id"`
	Payload   Payload        `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Payload is the body of a generated message.
type Payload struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"`
}

// NewMessage generates a test message.
func NewMessage(rng *rand.Rand) Message {
	return Message{
		ID:        uuid.New().String(),
		Payload:   Payload{Text: "Test message", Value: rng.Float64()},
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// Publisher is the broker session the AMQP producer publishes through.
// *amqp.Client satisfies it.
type Publisher interface {
	DeclareDurableQueue(name string) error
	DeclareTopicExchange(name string) error
	BindQueue(queue, key, exchange string) error
	EnableConfirms() error
	PublishWithConfirm(ctx context.Context, exchange, key string, msg amqp091.Publishing) error
	Close() error
}

// AMQP publishes generated messages over AMQP 0.9.1 in confirm mode.
type AMQP struct {
	cfg     AMQPConfig
	logger  *slog.Logger
	connect func(AMQPConfig) (Publisher, error)
}

// NewAMQP creates a built-in AMQP producer.
func NewAMQP(cfg AMQPConfig, logger *slog.Logger) *AMQP {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQP{cfg: cfg, logger: logger, connect: dialPublisher}
}

func dialPublisher(cfg AMQPConfig) (Publisher, error) {
	c, err := amqp.New(amqp.NewOptions(cfg.URL).SetConfirmTimeout(cfg.ConfirmTimeout))
	if err != nil {
		return nil, err
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Run connects, declares the durable queue and publishes count persistent
// messages, waiting for a broker confirm on each. Nacked or unconfirmed
// messages count as failed and make the run failed.
func (p *AMQP) Run(ctx context.Context, count int64) Result {
	start := time.Now()
	res := Result{Status: StatusSucceeded, ExitCode: -1}

	finish := func(err error) Result {
		res.Duration = time.Since(start)
		res.Err = err
		if st, interrupted := statusFromContext(ctx); interrupted {
			res.Status = st
		} else if err != nil || res.Failed > 0 {
			res.Status = StatusFailed
		}
		p.logger.Info("finished sending messages",
			slog.String("status", res.String()),
			slog.Int64("published", res.Published),
			slog.Int64("failed", res.Failed),
			slog.Int64("total", count),
			slog.Duration("duration", res.Duration))
		return res
	}

	pub, err := p.connect(p.cfg)
	if err != nil {
		return finish(fmt.Errorf("amqp: connect failed: %w", err))
	}
	defer pub.Close()

	if err := pub.DeclareDurableQueue(p.cfg.Queue); err != nil {
		return finish(fmt.Errorf("amqp: declare queue %q failed: %w", p.cfg.Queue, err))
	}

	exchange, key := "", p.cfg.Queue
	if p.cfg.Exchange != "" && p.cfg.RoutingKey != "" {
		if err := pub.DeclareTopicExchange(p.cfg.Exchange); err != nil {
			return finish(fmt.Errorf("amqp: declare exchange %q failed: %w", p.cfg.Exchange, err))
		}
		if err := pub.BindQueue(p.cfg.Queue, p.cfg.RoutingKey, p.cfg.Exchange); err != nil {
			return finish(fmt.Errorf("amqp: bind queue %q failed: %w", p.cfg.Queue, err))
		}
		exchange, key = p.cfg.Exchange, p.cfg.RoutingKey
	}

	if err := pub.EnableConfirms(); err != nil {
		return finish(fmt.Errorf("amqp: enable confirms failed: %w", err))
	}

	p.logger.Info("starting to send messages",
		slog.Int64("count", count),
		slog.Duration("interval", p.cfg.Interval),
		slog.String("queue", p.cfg.Queue))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := int64(0); i < count; i++ {
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}

		msg := NewMessage(rng)
		body, err := json.Marshal(msg)
		if err != nil {
			res.Failed++
			continue
		}

		err = pub.PublishWithConfirm(ctx, exchange, key, amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			res.Failed++
			p.logger.Error("failed to send message",
				slog.Int64("index", i+1),
				slog.String("error", err.Error()))
			continue
		}
		res.Published++

		if p.cfg.Interval > 0 && i < count-1 {
			select {
			case <-ctx.Done():
				return finish(ctx.Err())
			case <-time.After(p.cfg.Interval):
			}
		}
	}

	return finish(nil)
}
