package repository

import (
	"context"

	"github.com/ticketops/boxoffice/internal/domain"
	"github.com/ticketops/boxoffice/internal/kv"
)

type InventoryRepo struct {
	store kv.Store
}

// Create persists a new inventory row for one (event, ticket type) pair.
//
// Returns:
//   - error: repository.ErrConflict if the pair already has inventory.
func (r *InventoryRepo) Create(ctx context.Context, inv domain.TicketInventory) error {
	const op = "repository.InventoryRepo.Create"

	item, err := inventoryItem(inv)
	if err != nil {
		return wrapKVErr(op, err)
	}
	return wrapCreateErr(op, r.store.PutIf(ctx, TableInventory, item, kv.IfAbsent()))
}

// Get loads the inventory row for (eventID, ticketType).
//
// Returns:
//   - error: repository.ErrNotFound if the pair has no inventory.
func (r *InventoryRepo) Get(ctx context.Context, eventID, ticketType string) (domain.TicketInventory, error) {
	const op = "repository.InventoryRepo.Get"

	item, err := r.store.Get(ctx, TableInventory, InventoryKey(eventID, ticketType))
	if err != nil {
		return domain.TicketInventory{}, wrapKVErr(op, err)
	}
	inv, err := decodeInventory(item.Doc)
	if err != nil {
		return domain.TicketInventory{}, wrapKVErr(op, err)
	}
	return inv, nil
}

// Update persists a counter mutation under optimistic lock: the stored
// version must be exactly inv.Version-1.
//
// Returns:
//   - error: repository.ErrVersionConflict on a stale snapshot.
func (r *InventoryRepo) Update(ctx context.Context, inv domain.TicketInventory) error {
	const op = "repository.InventoryRepo.Update"

	item, err := inventoryItem(inv)
	if err != nil {
		return wrapKVErr(op, err)
	}
	return wrapVersionErr(op, r.store.UpdateIf(ctx, TableInventory, item, kv.IfVersion(inv.Version-1)))
}

// ListByEvent returns every inventory row of one event.
func (r *InventoryRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.TicketInventory, error) {
	const op = "repository.InventoryRepo.ListByEvent"

	var out []domain.TicketInventory
	cursor := ""
	for {
		page, err := r.store.Query(ctx, TableInventory, IndexInventoryByEvent, kv.QueryOpts{Eq: eventID, Cursor: cursor})
		if err != nil {
			return nil, wrapKVErr(op, err)
		}
		for _, item := range page.Items {
			inv, err := decodeInventory(item.Doc)
			if err != nil {
				return nil, wrapKVErr(op, err)
			}
			out = append(out, inv)
		}
		if page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}
