// Package sweeper reclaims lapsed reservation holds. Each pass releases the
// held quantity from the event and inventory counters, guarded against
// underflow, and unconditionally expires the reservation so a row is never
// processed twice.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/repository"
	"github.com/ticketops/boxoffice/internal/service/inventory"
)

type Config struct {
	// Interval is the sweep cadence.
	Interval time.Duration
	// BatchSize bounds one page of the expired-reservation scan.
	BatchSize int
}

type Sweeper struct {
	store  *repository.Store
	engine *inventory.Engine
	logger *slog.Logger
	cfg    Config
}

func New(store *repository.Store, engine *inventory.Engine, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{store: store, engine: engine, logger: logger, cfg: cfg}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			count, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error("reservation sweep failed", "error", err)
				continue
			}
			if count > 0 {
				s.logger.Info("expired reservations reclaimed", "count", count)
			}
		}
	}
}

// SweepOnce reclaims every reservation that is ACTIVE past its expiry at the
// moment the pass starts.
//
// Returns:
//   - int: the number of reservations moved to EXPIRED.
//   - error: only when the expired-reservation scan itself fails; per-row
//     compensation failures are logged and the row is still expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	const op = "service.sweeper.SweepOnce"

	now := time.Now().UTC()
	total := 0
	for {
		lapsed, err := s.store.Reservations.ListExpired(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}
		if len(lapsed) == 0 {
			return total, nil
		}

		progressed := 0
		for _, res := range lapsed {
			if s.sweep(ctx, res) {
				progressed++
				total++
			}
		}
		// Rows that failed to expire stay in the scan; bail out rather than
		// spin on them, the next pass retries.
		if progressed == 0 {
			return total, nil
		}
	}
}

// sweep compensates one lapsed reservation and marks it EXPIRED. Reports
// whether the expiration was written.
func (s *Sweeper) sweep(ctx context.Context, res domain.TicketReservation) bool {
	if _, err := s.engine.MutateEvent(ctx, res.EventID, func(cur domain.Event) (domain.Event, error) {
		return cur.ReleaseReserved(res.Quantity)
	}); err != nil {
		// An underflow means a concurrent sale already consumed the hold.
		if errors.Is(err, domain.ErrCounterUnderflow) {
			s.logger.Info("event counters already settled",
				"reservation_id", res.ID, "event_id", res.EventID, "quantity", res.Quantity)
		} else {
			s.logger.Warn("event release failed",
				"reservation_id", res.ID, "event_id", res.EventID, "error", err)
		}
	}

	if _, err := s.engine.Mutate(ctx, res.EventID, res.TicketType, func(cur domain.TicketInventory) (domain.TicketInventory, error) {
		return cur.ReleaseReservation(res.Quantity)
	}); err != nil {
		if errors.Is(err, domain.ErrCounterUnderflow) {
			s.logger.Info("inventory counters already settled",
				"reservation_id", res.ID, "event_id", res.EventID, "ticket_type", res.TicketType, "quantity", res.Quantity)
		} else {
			s.logger.Warn("inventory release failed",
				"reservation_id", res.ID, "event_id", res.EventID, "ticket_type", res.TicketType, "error", err)
		}
	}

	expired, err := res.Transition(domain.ReservationStatusExpired)
	if err != nil {
		s.logger.Warn("reservation not expirable", "reservation_id", res.ID, "status", res.Status, "error", err)
		return false
	}
	if err := s.store.Reservations.Expire(ctx, expired); err != nil {
		s.logger.Warn("reservation expire write failed", "reservation_id", res.ID, "error", err)
		return false
	}
	return true
}
