// Package rabbit implements queue.Queue on RabbitMQ. The work queue is
// declared as a quorum queue with a delivery limit; deliveries past the limit
// are dead-lettered by the broker into <queue>.dead, so poison handling never
// reaches the consumer.
package rabbit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ticketops/boxoffice/internal/queue"
)

type Config struct {
	Queue string
	// Dead is the dead-letter queue name; defaults to Queue + ".dead".
	Dead string
	// DeliveryLimit is the number of deliveries after which the broker
	// dead-letters a message.
	DeliveryLimit int
	// Prefetch bounds the unacked deliveries buffered per consumer channel.
	Prefetch int
}

type Queue struct {
	cfg  Config
	conn *amqp.Connection

	pubMu sync.Mutex
	pub   *amqp.Channel

	conMu      sync.Mutex
	con        *amqp.Channel
	deliveries <-chan amqp.Delivery

	mu       sync.Mutex
	inflight map[string]amqp.Delivery
}

// New declares the work and dead-letter queues over an existing connection
// and opens the publish and consume channels. The caller keeps ownership of
// the connection; Close releases only the channels.
func New(conn *amqp.Connection, cfg Config) (*Queue, error) {
	const op = "queue.rabbit.New"

	if cfg.Queue == "" {
		cfg.Queue = "orders.process"
	}
	if cfg.Dead == "" {
		cfg.Dead = cfg.Queue + ".dead"
	}
	if cfg.DeliveryLimit <= 0 {
		cfg.DeliveryLimit = 3
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}

	q := &Queue{
		cfg:      cfg,
		conn:     conn,
		inflight: make(map[string]amqp.Delivery),
	}

	var err error
	if q.pub, err = conn.Channel(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, queue.ErrQueueUnavailable, err)
	}
	if err := q.declare(q.pub); err != nil {
		_ = q.pub.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := q.consumer(); err != nil {
		_ = q.pub.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return q, nil
}

func (q *Queue) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(q.cfg.Dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", q.cfg.Dead, err)
	}

	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-delivery-limit":          int32(q.cfg.DeliveryLimit),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.cfg.Dead,
	}
	if _, err := ch.QueueDeclare(q.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare %s: %w", q.cfg.Queue, err)
	}
	return nil
}

// consumer returns the live delivery stream, opening a fresh channel after
// the previous one died. Unacked deliveries of a dead channel are requeued by
// the broker.
func (q *Queue) consumer() (<-chan amqp.Delivery, error) {
	q.conMu.Lock()
	defer q.conMu.Unlock()

	if q.deliveries != nil {
		return q.deliveries, nil
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", queue.ErrQueueUnavailable, err)
	}
	if err := ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	msgs, err := ch.Consume(q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	q.con, q.deliveries = ch, msgs
	return msgs, nil
}

func (q *Queue) resetConsumer() {
	q.conMu.Lock()
	defer q.conMu.Unlock()
	if q.con != nil {
		_ = q.con.Close()
	}
	q.con, q.deliveries = nil, nil
}

func (q *Queue) Send(ctx context.Context, body []byte) error {
	const op = "queue.rabbit.Send"

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	err := q.pub.PublishWithContext(ctx, "", q.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, queue.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	const op = "queue.rabbit.Receive"

	if max <= 0 {
		max = 1
	}
	stream, err := q.consumer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	timeout := time.NewTimer(wait)
	defer timeout.Stop()

	var out []queue.Message
	for len(out) < max {
		if len(out) > 0 {
			// The first delivery is worth waiting for; after it, only drain
			// what is already buffered.
			select {
			case d, ok := <-stream:
				if !ok {
					q.resetConsumer()
					return out, nil
				}
				out = append(out, q.track(d))
			default:
				return out, nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, nil
		case d, ok := <-stream:
			if !ok {
				q.resetConsumer()
				return nil, fmt.Errorf("%s: %w: consumer channel closed", op, queue.ErrQueueUnavailable)
			}
			out = append(out, q.track(d))
		}
	}
	return out, nil
}

func (q *Queue) track(d amqp.Delivery) queue.Message {
	receipt := strconv.FormatUint(d.DeliveryTag, 10)

	q.mu.Lock()
	q.inflight[receipt] = d
	q.mu.Unlock()

	return queue.Message{
		ID:            d.MessageId,
		Body:          d.Body,
		Receipt:       receipt,
		DeliveryCount: deliveryCount(d),
	}
}

// deliveryCount derives the 1-based delivery number. Quorum queues stamp
// redeliveries with an x-delivery-count header; its absence means the first
// delivery.
func deliveryCount(d amqp.Delivery) int {
	switch n := d.Headers["x-delivery-count"].(type) {
	case int32:
		return int(n) + 1
	case int64:
		return int(n) + 1
	}
	return 1
}

func (q *Queue) Delete(ctx context.Context, receipt string) error {
	const op = "queue.rabbit.Delete"

	d, ok := q.pop(receipt)
	if !ok {
		return fmt.Errorf("%s: %w", op, queue.ErrUnknownReceipt)
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("%s: %w: %v", op, queue.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *Queue) Release(ctx context.Context, receipt string) error {
	const op = "queue.rabbit.Release"

	d, ok := q.pop(receipt)
	if !ok {
		return fmt.Errorf("%s: %w", op, queue.ErrUnknownReceipt)
	}
	if err := d.Nack(false, true); err != nil {
		return fmt.Errorf("%s: %w: %v", op, queue.ErrQueueUnavailable, err)
	}
	return nil
}

func (q *Queue) pop(receipt string) (amqp.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.inflight[receipt]
	if ok {
		delete(q.inflight, receipt)
	}
	return d, ok
}

func (q *Queue) Close() error {
	q.resetConsumer()

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if q.pub != nil {
		return q.pub.Close()
	}
	return nil
}
