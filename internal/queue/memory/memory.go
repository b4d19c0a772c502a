// Package memory provides an in-process queue.Queue with visibility-timeout
// redelivery and a dead-letter queue. It backs unit tests and local runs
// without a broker.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ticketops/boxoffice/internal/queue"
)

const pollInterval = 10 * time.Millisecond

type message struct {
	id         string
	body       []byte
	deliveries int
	visibleAt  time.Time
	receipt    string
}

// Queue is a single in-memory queue. Deliveries become visible again after
// the visibility timeout; a message delivered maxDeliveries times without an
// ack moves to the dead-letter list instead of being delivered again.
type Queue struct {
	mu            sync.Mutex
	visibility    time.Duration
	maxDeliveries int
	messages      []*message
	inflight      map[string]*message
	dead          []queue.Message
}

// New creates a queue with the given visibility timeout and delivery limit.
func New(visibility time.Duration, maxDeliveries int) *Queue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 3
	}
	return &Queue{
		visibility:    visibility,
		maxDeliveries: maxDeliveries,
		inflight:      make(map[string]*message),
	}
}

func (q *Queue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	b := make([]byte, len(body))
	copy(b, body)
	q.messages = append(q.messages, &message{id: uuid.NewString(), body: b})
	return nil
}

func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if out := q.take(max); len(out) > 0 {
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		pause := pollInterval
		if remaining < pause {
			pause = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
	}
}

func (q *Queue) take(max int) []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var out []queue.Message

	kept := q.messages[:0]
	for _, m := range q.messages {
		if len(out) >= max || now.Before(m.visibleAt) {
			kept = append(kept, m)
			continue
		}

		// A redelivery candidate past the limit is poisoned.
		if m.deliveries >= q.maxDeliveries {
			delete(q.inflight, m.receipt)
			q.dead = append(q.dead, queue.Message{
				ID:            m.id,
				Body:          m.body,
				DeliveryCount: m.deliveries,
			})
			continue
		}

		m.deliveries++
		m.visibleAt = now.Add(q.visibility)
		m.receipt = m.id + ":" + strconv.Itoa(m.deliveries)
		q.inflight[m.receipt] = m
		kept = append(kept, m)

		out = append(out, queue.Message{
			ID:            m.id,
			Body:          m.body,
			Receipt:       m.receipt,
			DeliveryCount: m.deliveries,
		})
	}
	q.messages = kept
	return out
}

func (q *Queue) Delete(ctx context.Context, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.inflight[receipt]
	if !ok {
		return queue.ErrUnknownReceipt
	}
	delete(q.inflight, receipt)

	for i, cand := range q.messages {
		if cand == m {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			break
		}
	}
	return nil
}

func (q *Queue) Release(ctx context.Context, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.inflight[receipt]
	if !ok {
		return queue.ErrUnknownReceipt
	}
	delete(q.inflight, receipt)
	m.visibleAt = time.Time{}
	m.receipt = ""
	return nil
}

// DeadLetters returns the messages poisoned past the delivery limit.
func (q *Queue) DeadLetters() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]queue.Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Len reports how many messages are pending or in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
