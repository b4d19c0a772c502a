// Package seating implements the atomic seat-assignment protocol: pick free
// seat candidates from the occupied set, then commit seat locks and seated
// tickets in one transactional batch whose uniqueness gate is the conditional
// create on the seat key.
package seating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
	"github.com/ticketops/boxoffice/internal/repository"
)

type Config struct {
	// MaxAttempts bounds the commit retries after transaction cancellations.
	MaxAttempts int
	// MaxCandidateIterations caps the sequential candidate scan.
	MaxCandidateIterations int
}

type Assigner struct {
	store *repository.Store
	cfg   Config
}

func New(store *repository.Store, cfg Config) *Assigner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxCandidateIterations <= 0 {
		cfg.MaxCandidateIterations = 10_000
	}
	return &Assigner{store: store, cfg: cfg}
}

// Assign gives every ticket a distinct seat and moves it into the terminal
// status, atomically across all tickets of the order. Under concurrent
// identical candidate selection exactly one batch commits; the loser re-reads
// the occupied set and retries with fresh candidates.
//
// Parameters:
//   - ctx: request-scoped context.
//   - tickets: the order's tickets; all of one (event, ticket type), no
//     duplicates, none seated yet.
//   - to: the terminal status to write, SOLD or COMPLIMENTARY.
//   - by: actor recorded on the transitions.
//   - reason: free-form audit note, may be empty.
//
// Returns:
//   - []domain.TicketItem: the seated tickets in input order.
//   - error: domain.ErrSeatExhaustion when the candidate scan cap is hit.
//   - error: domain.ErrSeatAssignmentFailed after exhausting commit retries.
func (a *Assigner) Assign(
	ctx context.Context,
	tickets []domain.TicketItem,
	to domain.TicketStatus,
	by, reason string,
	now time.Time,
) ([]domain.TicketItem, error) {
	const op = "service.seating.Assign"

	if err := validate(tickets, to); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	eventID, ticketType := tickets[0].EventID, tickets[0].TicketType

	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		occupied, err := a.occupiedSet(ctx, eventID, ticketType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		seats, err := a.pickCandidates(occupied, len(tickets))
		if err != nil {
			a.auditFailure(ctx, tickets, to, by, reason, err, now)
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		seated, ops, err := a.buildBatch(tickets, seats, to, by, reason, now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		err = a.store.TransactWrite(ctx, ops...)
		if err == nil {
			return seated, nil
		}
		// A canceled batch means a concurrent claim won; anything else is
		// not recoverable by candidate reselection.
		if !errors.Is(err, kv.ErrTxCanceled) && !errors.Is(err, kv.ErrTxConflict) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		lastErr = err
	}

	err := fmt.Errorf("%s: %w: %v", op, domain.ErrSeatAssignmentFailed, lastErr)
	a.auditFailure(ctx, tickets, to, by, reason, domain.ErrSeatAssignmentFailed, now)
	return nil, err
}

func validate(tickets []domain.TicketItem, to domain.TicketStatus) error {
	if len(tickets) == 0 {
		return fmt.Errorf("no tickets to seat")
	}
	if !to.Terminal() {
		return fmt.Errorf("target status %s is not terminal", to)
	}

	eventID, ticketType := tickets[0].EventID, tickets[0].TicketType
	seen := make(map[string]struct{}, len(tickets))
	for _, t := range tickets {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate ticket %s in batch", t.ID)
		}
		seen[t.ID] = struct{}{}

		if t.EventID != eventID || t.TicketType != ticketType {
			return fmt.Errorf("ticket %s does not belong to scope %s/%s", t.ID, eventID, ticketType)
		}
		if t.SeatNumber != "" {
			return fmt.Errorf("ticket %s already seated at %s", t.ID, t.SeatNumber)
		}
	}
	return nil
}

// occupiedSet unions the authoritative seat locks with the seated-ticket
// convergence view.
func (a *Assigner) occupiedSet(ctx context.Context, eventID, ticketType string) (map[string]struct{}, error) {
	locks, err := a.store.Seats.ListScope(ctx, eventID, ticketType)
	if err != nil {
		return nil, err
	}
	seated, err := a.store.Tickets.ListSeated(ctx, eventID, ticketType)
	if err != nil {
		return nil, err
	}

	occupied := make(map[string]struct{}, len(locks)+len(seated))
	for _, l := range locks {
		occupied[l.SeatNumber] = struct{}{}
	}
	for _, t := range seated {
		occupied[t.SeatNumber] = struct{}{}
	}
	return occupied, nil
}

// pickCandidates walks seat indexes sequentially from 0, skipping occupied
// labels, until n free candidates are collected.
func (a *Assigner) pickCandidates(occupied map[string]struct{}, n int) ([]string, error) {
	seats := make([]string, 0, n)
	for i := 0; i < a.cfg.MaxCandidateIterations && len(seats) < n; i++ {
		seat := domain.SeatNumberAt(i)
		if _, taken := occupied[seat]; taken {
			continue
		}
		seats = append(seats, seat)
	}
	if len(seats) < n {
		return nil, fmt.Errorf("%w: %d candidates found, %d needed", domain.ErrSeatExhaustion, len(seats), n)
	}
	return seats, nil
}

// buildBatch pairs each ticket with its candidate seat and assembles the
// transactional ops: one conditional seat-lock create plus one guarded ticket
// update per seat, and the audit rows documenting the transitions.
func (a *Assigner) buildBatch(
	tickets []domain.TicketItem,
	seats []string,
	to domain.TicketStatus,
	by, reason string,
	now time.Time,
) ([]domain.TicketItem, []kv.Op, error) {
	seated := make([]domain.TicketItem, 0, len(tickets))
	ops := make([]kv.Op, 0, 3*len(tickets))

	for i, t := range tickets {
		lock := domain.NewSeatReservation(t.EventID, t.TicketType, seats[i], t.ID, t.OrderID, now)
		lockOp, err := a.store.Seats.CreateOp(lock)
		if err != nil {
			return nil, nil, err
		}

		next, err := t.AssignSeat(seats[i], to, now, by)
		if err != nil {
			return nil, nil, err
		}
		ticketOp, err := a.store.Tickets.AssignSeatOp(next)
		if err != nil {
			return nil, nil, err
		}

		auditOp, err := a.store.Audit.AppendOp(domain.NewTransitionAudit(t.ID, t.Status, to, by, reason, now))
		if err != nil {
			return nil, nil, err
		}

		seated = append(seated, next)
		ops = append(ops, lockOp, ticketOp, auditOp)
	}
	return seated, ops, nil
}

// auditFailure records the rejected transitions outside the canceled batch,
// best effort.
func (a *Assigner) auditFailure(ctx context.Context, tickets []domain.TicketItem, to domain.TicketStatus, by, reason string, cause error, now time.Time) {
	for _, t := range tickets {
		audit := domain.NewFailedTransitionAudit(t.ID, t.Status, to, by, reason, cause, now)
		_ = a.store.Audit.Append(ctx, audit)
	}
}
