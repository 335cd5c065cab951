// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import "errors"

// Client errors.
var (
	ErrNoURL            = errors.New("no broker URL configured")
	ErrNotConnected     = errors.New("client not connected")
	ErrAlreadyConnected = errors.New("client already connected")
	ErrConfirmsDisabled = errors.New("publisher confirms not enabled")
	ErrNacked           = errors.New("publish nacked by broker")
	ErrConfirmTimeout   = errors.New("publisher confirm timed out")
	ErrInvalidQueueName = errors.New("queue name cannot be empty")
	ErrInvalidExchange  = errors.New("exchange name cannot be empty")
)
