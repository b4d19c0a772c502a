// Package queue defines the at-least-once message queue contract between the
// order orchestrator and the async worker. Drivers live in the subpackages
// rabbit and memory.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueUnavailable wraps driver connectivity failures.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrUnknownReceipt is returned for receipts that are no longer in
	// flight, for example after a visibility timeout redelivered the
	// message.
	ErrUnknownReceipt = errors.New("unknown receipt")
)

// Message is one received delivery. Receipt identifies this delivery for
// Delete and Release; it is not stable across redeliveries.
type Message struct {
	ID            string
	Body          []byte
	Receipt       string
	DeliveryCount int
}

// Queue is an at-least-once queue with visibility-timeout redelivery.
// Consumers must be idempotent. Messages that keep failing past the driver's
// delivery limit are redirected to a dead-letter queue.
type Queue interface {
	// Send enqueues one message.
	Send(ctx context.Context, body []byte) error

	// Receive returns up to max messages, waiting up to wait for the first
	// one. Received messages stay invisible until deleted, released or timed
	// out.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Delete acknowledges a delivery, removing the message for good.
	Delete(ctx context.Context, receipt string) error

	// Release gives up on a delivery, making the message immediately
	// eligible for redelivery.
	Release(ctx context.Context, receipt string) error
}
