// Package inventory maintains the counter rows under contention. Callers
// pass a pure domain mutation; the engine re-reads and re-applies it on
// optimistic-lock conflicts up to the configured attempt count.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/repository"
)

type Config struct {
	// MaxAttempts bounds the optimistic-lock retries per mutation.
	MaxAttempts int
	// RetryBaseDelay is the backoff unit between attempts; the actual pause
	// is randomized up to twice this value.
	RetryBaseDelay time.Duration
}

type Engine struct {
	store *repository.Store
	cfg   Config
}

func New(store *repository.Store, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 5 * time.Millisecond
	}
	return &Engine{store: store, cfg: cfg}
}

// Mutate loads the inventory of (eventID, ticketType), applies fn and
// persists the result under optimistic lock. On a version conflict it
// re-reads and re-applies fn against the fresh snapshot.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID, ticketType: inventory row to mutate.
//   - fn: pure counter mutation, for example TicketInventory.Reserve.
//
// Returns:
//   - domain.TicketInventory: the persisted post-mutation state.
//   - error: domain.ErrInventoryNotFound if the row does not exist.
//   - error: the untouched fn error when the mutation itself rejects
//     (domain-rule failures are not retried).
//   - error: domain.ErrOptimisticLockConflict after exhausting retries.
func (e *Engine) Mutate(
	ctx context.Context,
	eventID, ticketType string,
	fn func(domain.TicketInventory) (domain.TicketInventory, error),
) (domain.TicketInventory, error) {
	const op = "service.inventory.Mutate"

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.pause(ctx); err != nil {
				return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, err)
			}
		}

		inv, err := e.store.Inventory.Get(ctx, eventID, ticketType)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, domain.ErrInventoryNotFound)
			}
			return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, err)
		}

		next, err := fn(inv)
		if err != nil {
			return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, err)
		}

		err = e.store.Inventory.Update(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return domain.TicketInventory{}, fmt.Errorf("%s: %w", op, err)
		}
		lastErr = err
	}

	return domain.TicketInventory{}, fmt.Errorf("%s: %w: %v", op, domain.ErrOptimisticLockConflict, lastErr)
}

// MutateEvent is Mutate for the event-level aggregate counters.
//
// Returns:
//   - domain.Event: the persisted post-mutation state.
//   - error: domain.ErrEventNotFound if the event does not exist.
//   - error: the untouched fn error, or domain.ErrOptimisticLockConflict
//     after exhausting retries.
func (e *Engine) MutateEvent(
	ctx context.Context,
	eventID string,
	fn func(domain.Event) (domain.Event, error),
) (domain.Event, error) {
	const op = "service.inventory.MutateEvent"

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.pause(ctx); err != nil {
				return domain.Event{}, fmt.Errorf("%s: %w", op, err)
			}
		}

		ev, err := e.store.Events.Get(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Event{}, fmt.Errorf("%s: %w", op, domain.ErrEventNotFound)
			}
			return domain.Event{}, fmt.Errorf("%s: %w", op, err)
		}

		next, err := fn(ev)
		if err != nil {
			return domain.Event{}, fmt.Errorf("%s: %w", op, err)
		}

		err = e.store.Events.Update(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return domain.Event{}, fmt.Errorf("%s: %w", op, err)
		}
		lastErr = err
	}

	return domain.Event{}, fmt.Errorf("%s: %w: %v", op, domain.ErrOptimisticLockConflict, lastErr)
}

// pause sleeps a randomized backoff so colliding writers fan out.
func (e *Engine) pause(ctx context.Context) error {
	delay := e.cfg.RetryBaseDelay + time.Duration(rand.Int63n(int64(e.cfg.RetryBaseDelay)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
