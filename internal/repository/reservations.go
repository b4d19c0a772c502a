package repository

import (
	"context"
	"time"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type ReservationRepo struct {
	store kv.Store
}

// Get loads a reservation by id.
//
// Returns:
//   - error: repository.ErrNotFound if the reservation does not exist.
func (r *ReservationRepo) Get(ctx context.Context, id string) (domain.TicketReservation, error) {
	const op = "repository.ReservationRepo.Get"

	item, err := r.store.Get(ctx, TableReservations, id)
	if err != nil {
		return domain.TicketReservation{}, wrapKVErr(op, err)
	}
	res, err := decodeReservation(item.Doc)
	if err != nil {
		return domain.TicketReservation{}, wrapKVErr(op, err)
	}
	return res, nil
}

// GetByOrder loads the reservation attached to an order.
//
// Returns:
//   - error: repository.ErrNotFound if the order has no reservation.
func (r *ReservationRepo) GetByOrder(ctx context.Context, orderID string) (domain.TicketReservation, error) {
	const op = "repository.ReservationRepo.GetByOrder"

	page, err := r.store.Query(ctx, TableReservations, IndexReservationsByOrder, kv.QueryOpts{Eq: orderID, Limit: 1})
	if err != nil {
		return domain.TicketReservation{}, wrapKVErr(op, err)
	}
	if len(page.Items) == 0 {
		return domain.TicketReservation{}, wrapKVErr(op, kv.ErrItemNotFound)
	}
	res, err := decodeReservation(page.Items[0].Doc)
	if err != nil {
		return domain.TicketReservation{}, wrapKVErr(op, err)
	}
	return res, nil
}

// ListExpired returns up to limit ACTIVE reservations whose expiry lies
// strictly before now, soonest first.
func (r *ReservationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.TicketReservation, error) {
	const op = "repository.ReservationRepo.ListExpired"

	page, err := r.store.Query(ctx, TableReservations, IndexReservationsByExpiry, kv.QueryOpts{
		Eq:     string(domain.ReservationStatusActive),
		Before: formatInt(now.Unix()),
		Limit:  limit,
	})
	if err != nil {
		return nil, wrapKVErr(op, err)
	}

	out := make([]domain.TicketReservation, 0, len(page.Items))
	for _, item := range page.Items {
		res, err := decodeReservation(item.Doc)
		if err != nil {
			return nil, wrapKVErr(op, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Expire unconditionally overwrites the reservation in its EXPIRED form, so a
// sweep is never re-processed even when counter compensation failed.
func (r *ReservationRepo) Expire(ctx context.Context, res domain.TicketReservation) error {
	const op = "repository.ReservationRepo.Expire"

	item, err := reservationItem(res)
	if err != nil {
		return wrapKVErr(op, err)
	}
	return wrapKVErr(op, r.store.Put(ctx, TableReservations, item))
}

// CreateOp builds the transactional op that inserts a new reservation.
func (r *ReservationRepo) CreateOp(res domain.TicketReservation) (kv.Op, error) {
	item, err := reservationItem(res)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{Kind: kv.OpPut, Table: TableReservations, Item: item, Cond: kv.IfAbsent()}, nil
}

// TransitionOp builds the transactional op that replaces the reservation,
// preconditioned on its current stored status. Concurrent terminations (a
// sweep racing a confirmation) cancel instead of double-applying.
func (r *ReservationRepo) TransitionOp(res domain.TicketReservation, from domain.ReservationStatus) (kv.Op, error) {
	item, err := reservationItem(res)
	if err != nil {
		return kv.Op{}, err
	}
	return kv.Op{
		Kind:  kv.OpUpdate,
		Table: TableReservations,
		Item:  item,
		Cond:  kv.Condition{Exists: true, AttrEquals: map[string]string{attrStatus: string(from)}},
	}, nil
}
