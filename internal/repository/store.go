// Package repository persists the domain entities through the kv.Store
// contract and owns the stored wire format. Services never touch kv items
// directly; multi-entity commits are composed from the Op builders the
// individual repositories expose.
package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/kv"
)

// Store bundles the per-entity repositories over one kv driver.
type Store struct {
	kv kv.Store

	Events       *EventRepo
	Inventory    *InventoryRepo
	Orders       *OrderRepo
	Tickets      *TicketRepo
	Reservations *ReservationRepo
	Seats        *SeatRepo
	Customers    *CustomerRepo
	Audit        *AuditRepo
	Journal      *JournalRepo
}

// New creates the repository store on top of a kv driver. The driver must
// have been created with the schema from Tables().
func New(store kv.Store) *Store {
	return &Store{
		kv:           store,
		Events:       &EventRepo{store: store},
		Inventory:    &InventoryRepo{store: store},
		Orders:       &OrderRepo{store: store},
		Tickets:      &TicketRepo{store: store},
		Reservations: &ReservationRepo{store: store},
		Seats:        &SeatRepo{store: store},
		Customers:    &CustomerRepo{store: store},
		Audit:        &AuditRepo{store: store},
		Journal:      &JournalRepo{store: store},
	}
}

// TransactWrite commits the ops atomically. A *kv.TxCanceledError passes
// through unflattened so callers can inspect per-item reasons.
func (s *Store) TransactWrite(ctx context.Context, ops ...kv.Op) error {
	const op = "repository.Store.TransactWrite"

	if err := s.kv.TransactWrite(ctx, ops); err != nil {
		return wrapKVErr(op, err)
	}
	return nil
}
