// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/absmach/loadprobe/client/amqp"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher answers each publish with the next scripted error.
type fakePublisher struct {
	answers    []error
	published  []amqp091.Publishing
	keys       []string
	bindings   []string
	confirming bool
	closed     bool
	cancelAt   int
	cancel     context.CancelFunc
}

func (f *fakePublisher) DeclareDurableQueue(string) error { return nil }

func (f *fakePublisher) DeclareTopicExchange(string) error { return nil }

func (f *fakePublisher) BindQueue(queue, key, exchange string) error {
	f.bindings = append(f.bindings, exchange+"/"+key+"->"+queue)
	return nil
}

func (f *fakePublisher) EnableConfirms() error {
	f.confirming = true
	return nil
}

func (f *fakePublisher) PublishWithConfirm(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
	n := len(f.published)
	f.published = append(f.published, msg)
	f.keys = append(f.keys, exchange+"/"+key)
	if f.cancel != nil && n == f.cancelAt {
		f.cancel()
		return ctx.Err()
	}
	if n < len(f.answers) {
		return f.answers[n]
	}
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func newFakeAMQP(cfg AMQPConfig, pub *fakePublisher) *AMQP {
	p := NewAMQP(cfg, nil)
	p.connect = func(AMQPConfig) (Publisher, error) { return pub, nil }
	return p
}

func TestAMQP_AllConfirmed(t *testing.T) {
	pub := &fakePublisher{}
	p := newFakeAMQP(AMQPConfig{Queue: "bottleneck-queue"}, pub)

	res := p.Run(context.Background(), 3)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, int64(3), res.Published)
	assert.Zero(t, res.Failed)
	assert.True(t, pub.confirming)
	assert.True(t, pub.closed)
	assert.Equal(t, []string{"/bottleneck-queue", "/bottleneck-queue", "/bottleneck-queue"}, pub.keys)

	msg := pub.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp091.Persistent, msg.DeliveryMode)
	var body Message
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, msg.MessageId, body.ID)
}

func TestAMQP_NacksAndTimeoutsCountAsFailed(t *testing.T) {
	pub := &fakePublisher{answers: []error{nil, amqp.ErrNacked, nil, amqp.ErrConfirmTimeout, nil}}
	p := newFakeAMQP(AMQPConfig{Queue: "bottleneck-queue"}, pub)

	res := p.Run(context.Background(), 5)
	assert.Equal(t, StatusFailed, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, int64(3), res.Published)
	assert.Equal(t, int64(2), res.Failed)
	assert.Len(t, pub.published, 5)
}

func TestAMQP_ExchangeRouting(t *testing.T) {
	pub := &fakePublisher{}
	p := newFakeAMQP(AMQPConfig{Queue: "q", Exchange: "load", RoutingKey: "load.test"}, pub)

	res := p.Run(context.Background(), 1)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, []string{"load/load.test->q"}, pub.bindings)
	assert.Equal(t, []string{"load/load.test"}, pub.keys)
}

func TestAMQP_CancelledWhileAwaitingConfirm(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := &fakePublisher{cancelAt: 1, cancel: cancel}
	p := newFakeAMQP(AMQPConfig{Queue: "q"}, pub)

	res := p.Run(ctx, 5)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, int64(1), res.Published)
	assert.Zero(t, res.Failed)
}

func TestAMQP_EnableConfirmsFailure(t *testing.T) {
	p := NewAMQP(AMQPConfig{Queue: "q"}, nil)
	p.connect = func(AMQPConfig) (Publisher, error) { return confirmlessPublisher{&fakePublisher{}}, nil }

	res := p.Run(context.Background(), 1)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, amqp.ErrConfirmsDisabled)
	assert.Zero(t, res.Published)
}

type confirmlessPublisher struct{ *fakePublisher }

func (confirmlessPublisher) EnableConfirms() error { return amqp.ErrConfirmsDisabled }

var _ Publisher = (*amqp.Client)(nil)

func TestAMQP_ConnectError(t *testing.T) {
	p := NewAMQP(AMQPConfig{Queue: "q"}, nil)
	p.connect = func(AMQPConfig) (Publisher, error) { return nil, errors.New("refused") }

	res := p.Run(context.Background(), 1)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Err, "refused")
}
