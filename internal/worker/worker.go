// Package worker consumes the order-processing queue: each message names one
// order to move from AVAILABLE to RESERVED. Delivery is at-least-once; the
// transition itself is idempotent, so redeliveries ack as no-ops.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ticketops/boxoffice/internal/queue"
	"github.com/ticketops/boxoffice/internal/service/orders"
)

type Config struct {
	// PollBatchSize is the maximum number of messages fetched per receive.
	PollBatchSize int
	// WaitTime is the long-poll window of an empty receive.
	WaitTime time.Duration
	// Parallelism bounds the number of messages handled concurrently.
	Parallelism int
}

type Worker struct {
	queue  queue.Queue
	orders *orders.Service
	logger *slog.Logger
	cfg    Config
}

func New(q queue.Queue, svc *orders.Service, logger *slog.Logger, cfg Config) *Worker {
	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = 10
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 5 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}

	return &Worker{
		queue:  q,
		orders: svc,
		logger: logger,
		cfg:    cfg,
	}
}

// Run pulls and handles messages until ctx is canceled, then waits for the
// in-flight handlers to drain. It always returns nil after a clean shutdown;
// message-level failures are nacked for redelivery, never propagated.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Parallelism)

	for gctx.Err() == nil {
		msgs, err := w.queue.Receive(gctx, w.cfg.PollBatchSize, w.cfg.WaitTime)
		if err != nil {
			if gctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			w.logger.Error("queue receive failed", "error", err)

			// Pause so a broken broker does not spin the loop.
			select {
			case <-gctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			msg := msg
			g.Go(func() error {
				w.handle(gctx, msg)
				return nil
			})
		}
	}

	return g.Wait()
}

// handle processes one delivery. Success and no-op redeliveries ack; every
// failure nacks and leaves retry exhaustion to the queue's delivery limit.
func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	var task orders.Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		w.logger.Error("undecodable task",
			"message_id", msg.ID,
			"delivery_count", msg.DeliveryCount,
			"error", err)
		w.release(ctx, msg)
		return
	}

	if err := w.orders.ProcessAsync(ctx, task.OrderID); err != nil {
		w.logger.Warn("order processing failed",
			"order_id", task.OrderID,
			"delivery_count", msg.DeliveryCount,
			"error", err)
		w.release(ctx, msg)
		return
	}

	if err := w.queue.Delete(ctx, msg.Receipt); err != nil {
		// The redelivery will no-op against the already-moved order.
		w.logger.Warn("ack failed", "message_id", msg.ID, "error", err)
	}
}

func (w *Worker) release(ctx context.Context, msg queue.Message) {
	if err := w.queue.Release(ctx, msg.Receipt); err != nil {
		w.logger.Warn("nack failed", "message_id", msg.ID, "error", err)
	}
}
