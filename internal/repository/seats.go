package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type SeatRepo struct {
	store kv.Store
}

// Get loads a seat lock by its seat key.
//
// Returns:
//   - error: repository.ErrNotFound if the seat is unclaimed.
func (r *SeatRepo) Get(ctx context.Context, seatKey string) (domain.SeatReservation, error) {
	const op = "repository.SeatRepo.Get"

	item, err := r.store.Get(ctx, TableSeats, seatKey)
	if err != nil {
		return domain.SeatReservation{}, wrapKVErr(op, err)
	}
	s, err := decodeSeat(item.Doc)
	if err != nil {
		return domain.SeatReservation{}, wrapKVErr(op, err)
	}
	return s, nil
}

// ListScope returns every claimed seat of one (event, ticket type) scope.
// This is the authoritative occupied set.
func (r *SeatRepo) ListScope(ctx context.Context, eventID, ticketType string) ([]domain.SeatReservation, error) {
	const op = "repository.SeatRepo.ListScope"

	var out []domain.SeatReservation
	cursor := ""
	for {
		page, err := r.store.Query(ctx, TableSeats, IndexSeatsByScope, kv.QueryOpts{
			Eq:     domain.SeatScope(eventID, ticketType),
			Cursor: cursor,
		})
		if err != nil {
			return nil, wrapKVErr(op, err)
		}
		for _, item := range page.Items {
			s, err := decodeSeat(item.Doc)
			if err != nil {
				return nil, wrapKVErr(op, err)
			}
			out = append(out, s)
		}
		if page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}

// CreateOp builds the transactional op that claims a seat: a conditional
// create on the seat key. The absent-key precondition is the uniqueness gate
// that serializes concurrent claims.
func (r *SeatRepo) CreateOp(s domain.SeatReservation) (kv.Op, error) {
	item, err := seatItem(s)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{Kind: kv.OpPut, Table: TableSeats, Item: item, Cond: kv.IfAbsent()}, nil
}
