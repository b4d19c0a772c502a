package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type TicketRepo struct {
	store kv.Store
}

// Get loads a ticket by id.
//
// Returns:
//   - error: repository.ErrNotFound if the ticket does not exist.
func (r *TicketRepo) Get(ctx context.Context, id string) (domain.TicketItem, error) {
	const op = "repository.TicketRepo.Get"

	item, err := r.store.Get(ctx, TableTickets, id)
	if err != nil {
		return domain.TicketItem{}, wrapKVErr(op, err)
	}
	t, err := decodeTicket(item.Doc)
	if err != nil {
		return domain.TicketItem{}, wrapKVErr(op, err)
	}
	return t, nil
}

// ListByOrder returns every ticket of one order.
func (r *TicketRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.TicketItem, error) {
	const op = "repository.TicketRepo.ListByOrder"
	return r.listBy(ctx, op, IndexTicketsByOrder, orderID)
}

// ListByReservation returns every ticket held by one reservation.
func (r *TicketRepo) ListByReservation(ctx context.Context, reservationID string) ([]domain.TicketItem, error) {
	const op = "repository.TicketRepo.ListByReservation"
	return r.listBy(ctx, op, IndexTicketsByReservation, reservationID)
}

// ListSeated returns the tickets of one (event, ticket type) scope that
// already carry a seat in a terminal status. This is the convergence view of
// the occupied set; the seat_reservations table is the authority.
func (r *TicketRepo) ListSeated(ctx context.Context, eventID, ticketType string) ([]domain.TicketItem, error) {
	const op = "repository.TicketRepo.ListSeated"

	all, err := r.listBy(ctx, op, IndexTicketsByScope, domain.SeatScope(eventID, ticketType))
	if err != nil {
		return nil, err
	}

	seated := all[:0]
	for _, t := range all {
		if t.SeatNumber != "" && t.Status.Terminal() {
			seated = append(seated, t)
		}
	}
	return seated, nil
}

func (r *TicketRepo) listBy(ctx context.Context, op, index, eq string) ([]domain.TicketItem, error) {
	var out []domain.TicketItem
	cursor := ""
	for {
		page, err := r.store.Query(ctx, TableTickets, index, kv.QueryOpts{Eq: eq, Cursor: cursor})
		if err != nil {
			return nil, wrapKVErr(op, err)
		}
		for _, item := range page.Items {
			t, err := decodeTicket(item.Doc)
			if err != nil {
				return nil, wrapKVErr(op, err)
			}
			out = append(out, t)
		}
		if page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// CreateOp builds the transactional op that inserts a new ticket.
func (r *TicketRepo) CreateOp(t domain.TicketItem) (kv.Op, error) {
	item, err := ticketItem(t)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{Kind: kv.OpPut, Table: TableTickets, Item: item, Cond: kv.IfAbsent()}, nil
}

// UpdateOp builds the transactional op that replaces an existing ticket.
func (r *TicketRepo) UpdateOp(t domain.TicketItem) (kv.Op, error) {
	item, err := ticketItem(t)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{Kind: kv.OpUpdate, Table: TableTickets, Item: item, Cond: kv.Condition{Exists: true}}, nil
}

// AssignSeatOp builds the transactional op that writes the seated terminal
// ticket, preconditioned on the ticket existing without a seat. Together with
// the seat-lock create in the same transaction this prevents double
// assignment on order retries.
func (r *TicketRepo) AssignSeatOp(t domain.TicketItem) (kv.Op, error) {
	item, err := ticketItem(t)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{
		Kind:  kv.OpUpdate,
		Table: TableTickets,
		Item:  item,
		Cond:  kv.Condition{Exists: true, AttrAbsent: attrSeatNumber},
	}, nil
}
